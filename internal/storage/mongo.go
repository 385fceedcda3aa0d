package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"patientchat/internal/models"
)

const usersCollection = "users"

// MongoStore keeps one document per user. Review and report payloads are
// stored as native BSON values. New records get UUID ids; records whose _id
// is an ObjectId are still found and saved by its hex form.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type mongoMessage struct {
	Role   string         `bson:"role"`
	Text   string         `bson:"text,omitempty"`
	Review *bson.RawValue `bson:"review,omitempty"`
	Report *bson.RawValue `bson:"report,omitempty"`
	Time   string         `bson:"time"`
}

type mongoUser struct {
	ID          string         `bson:"_id"`
	PatientID   string         `bson:"patientId"`
	Username    string         `bson:"username"`
	Password    string         `bson:"password"`
	Role        string         `bson:"role"`
	Age         int            `bson:"age"`
	Predictions *mongoMessage  `bson:"predictions"`
	Messages    []mongoMessage `bson:"messages"`
	CreatedAt   time.Time      `bson:"createdAt"`
}

// OpenMongo connects to the document store and pings it.
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongodb uri must be provided")
	}
	if database == "" {
		database = "patientchat"
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(usersCollection),
	}, nil
}

// Migrate creates the unique patientId index.
func (s *MongoStore) Migrate(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "patientId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_patient_id"),
	})
	if err != nil {
		return fmt.Errorf("create patientId index: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Create(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("user required")
	}
	id := user.ID
	if id == "" {
		id = uuid.NewString()
	}
	doc, err := toMongoUser(user)
	if err != nil {
		return err
	}
	doc.ID = id
	doc.CreatedAt = time.Now().UTC()
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	user.ID = id
	return nil
}

func (s *MongoStore) FindByExternalID(ctx context.Context, patientID string) (*models.User, error) {
	return s.findOne(ctx, bson.D{{Key: "patientId", Value: patientID}})
}

func (s *MongoStore) FindByOpaqueID(ctx context.Context, id string) (*models.User, error) {
	key, err := mongoID(id)
	if err != nil {
		return nil, err
	}
	return s.findOne(ctx, bson.D{{Key: "_id", Value: key}})
}

// mongoID maps an opaque id onto its _id value: UUID strings as stored,
// 24-hex ids as ObjectIds.
func mongoID(id string) (any, error) {
	if err := validateID(id); err == nil {
		return id, nil
	}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.D) (*models.User, error) {
	var doc mongoUser
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return doc.toModel()
}

func (s *MongoStore) ListAll(ctx context.Context) ([]*models.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var docs []mongoUser
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	users := make([]*models.User, 0, len(docs))
	for i := range docs {
		user, err := docs[i].toModel()
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

// Save rewrites every mutable field in one document update.
func (s *MongoStore) Save(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("user required")
	}
	key, err := mongoID(user.ID)
	if err != nil {
		return err
	}
	doc, err := toMongoUser(user)
	if err != nil {
		return err
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "username", Value: doc.Username},
		{Key: "password", Value: doc.Password},
		{Key: "role", Value: doc.Role},
		{Key: "age", Value: doc.Age},
		{Key: "predictions", Value: doc.Predictions},
		{Key: "messages", Value: doc.Messages},
	}}}
	res, err := s.coll.UpdateByID(ctx, key, update)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func toMongoUser(u *models.User) (mongoUser, error) {
	doc := mongoUser{
		ID:        u.ID,
		PatientID: u.PatientID,
		Username:  u.Username,
		Password:  u.Password,
		Role:      u.Role,
		Age:       u.Age,
		Messages:  make([]mongoMessage, 0, len(u.Messages)),
	}
	if u.Predictions != nil {
		p, err := toMongoMessage(*u.Predictions)
		if err != nil {
			return mongoUser{}, fmt.Errorf("encode predictions: %w", err)
		}
		doc.Predictions = &p
	}
	for i, m := range u.Messages {
		mm, err := toMongoMessage(m)
		if err != nil {
			return mongoUser{}, fmt.Errorf("encode message %d: %w", i, err)
		}
		doc.Messages = append(doc.Messages, mm)
	}
	return doc, nil
}

func toMongoMessage(m models.Message) (mongoMessage, error) {
	review, err := jsonToBSON(m.Review)
	if err != nil {
		return mongoMessage{}, err
	}
	report, err := jsonToBSON(m.Report)
	if err != nil {
		return mongoMessage{}, err
	}
	return mongoMessage{Role: m.Role, Text: m.Text, Review: review, Report: report, Time: m.Time}, nil
}

func (d mongoUser) toModel() (*models.User, error) {
	u := &models.User{
		ID:        d.ID,
		PatientID: d.PatientID,
		Username:  d.Username,
		Password:  d.Password,
		Role:      d.Role,
		Age:       d.Age,
		Messages:  make([]models.Message, 0, len(d.Messages)),
	}
	if d.Predictions != nil {
		p, err := d.Predictions.toModel()
		if err != nil {
			return nil, fmt.Errorf("decode predictions of %s: %w", d.ID, err)
		}
		u.Predictions = &p
	}
	for i, m := range d.Messages {
		msg, err := m.toModel()
		if err != nil {
			return nil, fmt.Errorf("decode message %d of %s: %w", i, d.ID, err)
		}
		u.Messages = append(u.Messages, msg)
	}
	return u, nil
}

func (m mongoMessage) toModel() (models.Message, error) {
	review, err := bsonToJSON(m.Review)
	if err != nil {
		return models.Message{}, err
	}
	report, err := bsonToJSON(m.Report)
	if err != nil {
		return models.Message{}, err
	}
	return models.Message{Role: m.Role, Text: m.Text, Review: review, Report: report, Time: m.Time}, nil
}

// payload wraps a single value so it can pass through the document-only
// extended JSON codecs.
type payload struct {
	V bson.RawValue `bson:"v" json:"v"`
}

// jsonToBSON converts a client JSON value into a BSON value. Absent and null
// payloads are not stored.
func jsonToBSON(raw json.RawMessage) (*bson.RawValue, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	doc := make([]byte, 0, len(trimmed)+6)
	doc = append(doc, `{"v":`...)
	doc = append(doc, trimmed...)
	doc = append(doc, '}')

	var p payload
	if err := bson.UnmarshalExtJSON(doc, false, &p); err != nil {
		return nil, fmt.Errorf("convert payload to bson: %w", err)
	}
	return &p.V, nil
}

// bsonToJSON renders a stored BSON value as relaxed extended JSON.
func bsonToJSON(v *bson.RawValue) (json.RawMessage, error) {
	if v == nil || v.Type == bson.TypeNull {
		return nil, nil
	}
	data, err := bson.MarshalExtJSON(payload{V: *v}, false, false)
	if err != nil {
		return nil, fmt.Errorf("convert payload to json: %w", err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("convert payload to json: %w", err)
	}
	return out["v"], nil
}
