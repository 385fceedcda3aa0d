package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"patientchat/internal/config"
	"patientchat/internal/models"
	"patientchat/internal/redis"
)

var (
	// ErrNotFound is returned when no record matches the lookup key.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when a patientId is already taken.
	ErrDuplicateKey = errors.New("patientId already exists")
	// ErrInvalidID is returned for opaque ids that cannot be a record key.
	ErrInvalidID = errors.New("invalid record id")
)

// Store is the durable collection of user records. Save writes every mutable
// field of the record at once; callers mutate a loaded copy and save it.
type Store interface {
	Create(ctx context.Context, user *models.User) error
	FindByExternalID(ctx context.Context, patientID string) (*models.User, error)
	FindByOpaqueID(ctx context.Context, id string) (*models.User, error)
	ListAll(ctx context.Context) ([]*models.User, error)
	Save(ctx context.Context, user *models.User) error
}

// Backend is a Store that owns a connection.
type Backend interface {
	Store
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects the backend selected by cfg.Store and, when Redis is
// configured, wraps it with the record cache.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (Backend, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	var (
		backend Backend
		err     error
	)
	switch cfg.Store.Driver {
	case "mongodb":
		backend, err = OpenMongo(ctx, cfg.Store.URI, cfg.Store.Database)
	case "sqlite3", "sqlite", "mysql", "postgres":
		backend, err = OpenSQL(cfg.Store.Driver, cfg.Store.URI)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	log.Info("record store connected", zap.String("driver", cfg.Store.Driver))

	if cfg.Redis.Host == "" {
		return backend, nil
	}
	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	ttl := time.Duration(cfg.Redis.TTLSeconds) * time.Second
	log.Info("record cache enabled", zap.String("host", cfg.Redis.Host), zap.Duration("ttl", ttl))
	return NewCachedStore(backend, rdb, ttl, log), nil
}
