package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/layer-3/guardian/core"
	"github.com/layer-3/guardian/ports"
	"github.com/redis/go-redis/v9"
)

// maxUpdateRetries bounds optimistic retries when another writer touches the state keys
const maxUpdateRetries = 10

// RedisStore is a Redis implementation of the Store interface.
// The block-list, challenge map and ticket pins are JSON values guarded by WATCH/MULTI.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.UniversalClient) ports.Store {
	return &RedisStore{
		client: client,
		prefix: "guardian:",
	}
}

func (s *RedisStore) sitesKey() string    { return s.prefix + "blockedSites" }
func (s *RedisStore) messagesKey() string { return s.prefix + "siteMessages" }
func (s *RedisStore) versionKey() string  { return s.prefix + "version" }
func (s *RedisStore) ticketsKey() string  { return s.prefix + "removalTickets" }

func (s *RedisStore) stateKeys() []string {
	return []string{s.sitesKey(), s.messagesKey(), s.versionKey(), s.ticketsKey()}
}

type multiGetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func (s *RedisStore) load(ctx context.Context, c multiGetter) (*core.State, error) {
	values, err := c.MGet(ctx, s.stateKeys()...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	state := core.NewState()
	if raw, ok := values[0].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Sites); err != nil {
			return nil, fmt.Errorf("failed to decode block-list: %w", err)
		}
	}
	if raw, ok := values[1].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Challenges); err != nil {
			return nil, fmt.Errorf("failed to decode challenge messages: %w", err)
		}
		if state.Challenges == nil {
			state.Challenges = make(map[string]string)
		}
	}
	if raw, ok := values[2].(string); ok && raw != "" {
		state.Version, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode state version: %w", err)
		}
	}
	if raw, ok := values[3].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Tickets); err != nil {
			return nil, fmt.Errorf("failed to decode ticket pins: %w", err)
		}
		if state.Tickets == nil {
			state.Tickets = make(map[string]core.TicketPin)
		}
	}
	state.Dedupe()
	return state, nil
}

// Load returns the current state
func (s *RedisStore) Load(ctx context.Context) (*core.State, error) {
	return s.load(ctx, s.client)
}

// Update runs fn inside an optimistic transaction, retrying when the watched keys change
func (s *RedisStore) Update(ctx context.Context, fn func(*core.State) error) (*core.State, error) {
	var result *core.State

	txf := func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx)
		if err != nil {
			return err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.Dedupe()
		next.Version = current.Version + 1

		sites, err := json.Marshal(next.Sites)
		if err != nil {
			return fmt.Errorf("failed to encode block-list: %w", err)
		}
		messages, err := json.Marshal(next.Challenges)
		if err != nil {
			return fmt.Errorf("failed to encode challenge messages: %w", err)
		}
		tickets, err := json.Marshal(next.Tickets)
		if err != nil {
			return fmt.Errorf("failed to encode ticket pins: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.sitesKey(), sites, 0)
			pipe.Set(ctx, s.messagesKey(), messages, 0)
			pipe.Set(ctx, s.versionKey(), next.Version, 0)
			pipe.Set(ctx, s.ticketsKey(), tickets, 0)
			return nil
		})
		if err != nil {
			return err
		}

		result = next
		return nil
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, s.stateKeys()...)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}

	return nil, core.ErrStoreConflict
}

// Get retrieves a setting by key
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.prefix+"setting:"+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", core.ErrNotFound
		}
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

// Set stores a setting without expiry
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.prefix+"setting:"+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}
