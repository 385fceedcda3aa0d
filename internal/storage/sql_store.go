package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"patientchat/internal/models"
)

const userColumns = `id, patient_id, username, password, role, age, predictions, messages`

// SQLStore keeps one row per user; the message log and prediction slot are
// JSON columns so a single UPDATE saves both.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: normalizeDriver(driver)}
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db, s.driver)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Create(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("user required")
	}
	id := user.ID
	if id == "" {
		id = uuid.NewString()
	}
	messages, predictions, err := encodeLog(user)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO users (`+userColumns+`, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		id, user.PatientID, user.Username, user.Password, user.Role, user.Age,
		predictions, messages, time.Now().UTC(),
	)
	if err != nil {
		if s.isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	user.ID = id
	return nil
}

func (s *SQLStore) FindByExternalID(ctx context.Context, patientID string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+userColumns+` FROM users WHERE patient_id = ?`), patientID)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by patient id: %w", err)
	}
	return user, nil
}

func (s *SQLStore) FindByOpaqueID(ctx context.Context, id string) (*models.User, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

func (s *SQLStore) ListAll(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (s *SQLStore) Save(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("user required")
	}
	if err := validateID(user.ID); err != nil {
		return err
	}
	messages, predictions, err := encodeLog(user)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE users SET username = ?, password = ?, role = ?, age = ?, predictions = ?, messages = ? WHERE id = ?`),
		user.Username, user.Password, user.Role, user.Age, predictions, messages, user.ID,
	)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user        models.User
		predictions sql.NullString
		messages    string
	)
	if err := row.Scan(&user.ID, &user.PatientID, &user.Username, &user.Password,
		&user.Role, &user.Age, &predictions, &messages); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(messages), &user.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if user.Messages == nil {
		user.Messages = make([]models.Message, 0)
	}
	if predictions.Valid && predictions.String != "" {
		var p models.Message
		if err := json.Unmarshal([]byte(predictions.String), &p); err != nil {
			return nil, fmt.Errorf("decode predictions: %w", err)
		}
		user.Predictions = &p
	}
	return &user, nil
}

func encodeLog(user *models.User) (string, sql.NullString, error) {
	msgs := user.Messages
	if msgs == nil {
		msgs = make([]models.Message, 0)
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("encode messages: %w", err)
	}
	var predictions sql.NullString
	if user.Predictions != nil {
		p, err := json.Marshal(user.Predictions)
		if err != nil {
			return "", sql.NullString{}, fmt.Errorf("encode predictions: %w", err)
		}
		predictions = sql.NullString{String: string(p), Valid: true}
	}
	return string(data), predictions, nil
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
