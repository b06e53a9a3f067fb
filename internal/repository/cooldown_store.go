package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/novarell/expertdesk-api/internal/models"
)

// Cooldown state outlives the window itself so the queued count stays visible
// to the sender until a batch send or a fresh email resets it.
const cooldownStateTTL = 7 * 24 * time.Hour

// CooldownStore persists notification cooldown state per (conversation, direction).
type CooldownStore interface {
	Get(ctx context.Context, conversationID uint, direction models.Direction) (models.NotificationCooldown, error)
	Put(ctx context.Context, conversationID uint, direction models.Direction, state models.NotificationCooldown) error
}

type redisCooldownStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCooldownStore constructs a Redis-backed cooldown store.
func NewRedisCooldownStore(client *redis.Client, channelBase string) CooldownStore {
	prefix := "cooldown"
	if channelBase != "" {
		prefix = channelBase + ":cooldown"
	}
	return &redisCooldownStore{client: client, prefix: prefix}
}

func (s *redisCooldownStore) key(conversationID uint, direction models.Direction) string {
	return fmt.Sprintf("%s:%d:%s", s.prefix, conversationID, direction)
}

func (s *redisCooldownStore) Get(ctx context.Context, conversationID uint, direction models.Direction) (models.NotificationCooldown, error) {
	raw, err := s.client.Get(ctx, s.key(conversationID, direction)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.NotificationCooldown{}, nil
		}
		return models.NotificationCooldown{}, err
	}

	var state models.NotificationCooldown
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return models.NotificationCooldown{}, err
	}
	return state, nil
}

func (s *redisCooldownStore) Put(ctx context.Context, conversationID uint, direction models.Direction, state models.NotificationCooldown) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(conversationID, direction), payload, cooldownStateTTL).Err()
}

type memoryCooldownStore struct {
	mu     sync.RWMutex
	states map[string]models.NotificationCooldown
}

// NewMemoryCooldownStore constructs an in-process cooldown store, used when
// no Redis instance is configured. State does not survive restarts; the
// engine then errs on the side of sending one extra email, never spamming.
func NewMemoryCooldownStore() CooldownStore {
	return &memoryCooldownStore{states: make(map[string]models.NotificationCooldown)}
}

func (s *memoryCooldownStore) Get(_ context.Context, conversationID uint, direction models.Direction) (models.NotificationCooldown, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[fmt.Sprintf("%d:%s", conversationID, direction)], nil
}

func (s *memoryCooldownStore) Put(_ context.Context, conversationID uint, direction models.Direction, state models.NotificationCooldown) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[fmt.Sprintf("%d:%s", conversationID, direction)] = state
	return nil
}
