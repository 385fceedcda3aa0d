package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"patientchat/internal/messagelog"
	"patientchat/internal/models"
	"patientchat/internal/storage"
)

// WelcomeText seeds every new record's log.
const WelcomeText = "Hi! You Can chat with Doctor"

var (
	// ErrValidation reports missing or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredential reports a credential mismatch on login.
	ErrInvalidCredential = errors.New("invalid credentials")
)

type RegisterRequest struct {
	PatientID string
	Username  string
	Password  string
	Role      string
	Age       int
}

// Service registers users and checks their credentials against the store.
type Service struct {
	store    storage.Store
	engine   *messagelog.Engine
	verifier CredentialVerifier
	log      *zap.Logger
}

// NewService constructs the identity service. A nil verifier compares
// credentials verbatim.
func NewService(store storage.Store, engine *messagelog.Engine, verifier CredentialVerifier, log *zap.Logger) *Service {
	if verifier == nil {
		verifier = PlainVerifier{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, engine: engine, verifier: verifier, log: log}
}

// Register creates a record seeded with the welcome message and returns its
// opaque id. A taken patientId fails with storage.ErrDuplicateKey.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (string, error) {
	if blank(req.PatientID) || blank(req.Username) || blank(req.Password) || blank(req.Role) || req.Age <= 0 {
		return "", fmt.Errorf("%w: username, password, role, age and patientId are required", ErrValidation)
	}

	if _, err := s.store.FindByExternalID(ctx, req.PatientID); err == nil {
		return "", storage.ErrDuplicateKey
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("check patient id: %w", err)
	}

	secret, err := s.verifier.Hash(req.Password)
	if err != nil {
		return "", err
	}
	user := &models.User{
		PatientID: req.PatientID,
		Username:  req.Username,
		Password:  secret,
		Role:      req.Role,
		Age:       req.Age,
		Messages:  make([]models.Message, 0, 1),
	}
	if _, err := s.engine.Append(user, messagelog.Chat(models.RoleAdmin, WelcomeText)); err != nil {
		return "", err
	}
	if err := s.store.Create(ctx, user); err != nil {
		return "", err
	}
	s.log.Info("user registered", zap.String("user_id", user.ID), zap.String("role", user.Role))
	return user.ID, nil
}

// Login returns the record for patientID when password matches. It never
// writes to the store.
func (s *Service) Login(ctx context.Context, patientID, password string) (*models.User, error) {
	if blank(patientID) || password == "" {
		return nil, fmt.Errorf("%w: patientId and password are required", ErrValidation)
	}
	user, err := s.store.FindByExternalID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !s.verifier.Verify(user.Password, password) {
		s.log.Info("login rejected", zap.String("user_id", user.ID))
		return nil, ErrInvalidCredential
	}
	return user, nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
