package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"patientchat/internal/models"
	"patientchat/internal/redis"
)

const (
	recordKeyPrefix = "patientchat:record:"
	defaultCacheTTL = 10 * time.Minute
)

// cachedUser carries the credential, which the API encoding of User omits.
type cachedUser struct {
	models.User
	Password string `json:"password"`
}

// CachedStore is a read-through, write-through Redis cache over lookups by
// opaque id. Cache faults are logged and fall back to the inner store.
type CachedStore struct {
	inner Backend
	cache *redis.Client
	ttl   time.Duration
	log   *zap.Logger
}

func NewCachedStore(inner Backend, client *redis.Client, ttl time.Duration, log *zap.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedStore{inner: inner, cache: client, ttl: ttl, log: log}
}

func (c *CachedStore) Migrate(ctx context.Context) error {
	return c.inner.Migrate(ctx)
}

func (c *CachedStore) Close() error {
	err := c.inner.Close()
	if cerr := c.cache.Close(); err == nil {
		err = cerr
	}
	return err
}

func (c *CachedStore) Create(ctx context.Context, user *models.User) error {
	if err := c.inner.Create(ctx, user); err != nil {
		return err
	}
	c.put(ctx, user)
	return nil
}

func (c *CachedStore) FindByExternalID(ctx context.Context, patientID string) (*models.User, error) {
	return c.inner.FindByExternalID(ctx, patientID)
}

// FindByOpaqueID leaves id validation to the inner store, which knows which
// id forms it accepts.
func (c *CachedStore) FindByOpaqueID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := c.get(ctx, id); ok {
		return user, nil
	}
	user, err := c.inner.FindByOpaqueID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.put(ctx, user)
	return user, nil
}

func (c *CachedStore) ListAll(ctx context.Context) ([]*models.User, error) {
	return c.inner.ListAll(ctx)
}

func (c *CachedStore) Save(ctx context.Context, user *models.User) error {
	if err := c.inner.Save(ctx, user); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.invalidate(ctx, user.ID)
		}
		return err
	}
	c.put(ctx, user)
	return nil
}

func (c *CachedStore) get(ctx context.Context, id string) (*models.User, bool) {
	raw, err := c.cache.Get(ctx, recordKey(id))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			c.log.Warn("record cache read failed", zap.String("user_id", id), zap.Error(err))
		}
		return nil, false
	}
	var cu cachedUser
	if err := json.Unmarshal([]byte(raw), &cu); err != nil {
		c.log.Warn("record cache decode failed", zap.String("user_id", id), zap.Error(err))
		c.invalidate(ctx, id)
		return nil, false
	}
	user := cu.User
	user.Password = cu.Password
	return &user, true
}

func (c *CachedStore) put(ctx context.Context, user *models.User) {
	if user == nil || user.ID == "" {
		return
	}
	data, err := json.Marshal(cachedUser{User: *user, Password: user.Password})
	if err != nil {
		c.log.Warn("record cache encode failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	if err := c.cache.Set(ctx, recordKey(user.ID), data, c.ttl); err != nil {
		c.log.Warn("record cache write failed", zap.String("user_id", user.ID), zap.Error(err))
		// a stale entry must not outlive a successful save
		c.invalidate(ctx, user.ID)
	}
}

func (c *CachedStore) invalidate(ctx context.Context, id string) {
	if err := c.cache.Del(ctx, recordKey(id)); err != nil {
		c.log.Warn("record cache invalidate failed", zap.String("user_id", id), zap.Error(err))
	}
}

func recordKey(id string) string {
	return fmt.Sprintf("%s%s", recordKeyPrefix, id)
}
