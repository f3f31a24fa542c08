package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"antigravity2api-go/internal/credential"

	"github.com/redis/go-redis/v9"
)

const defaultStateTTL = 30 * 24 * time.Hour

// RedisStateStore persists per-credential runtime state as JSON values in
// Redis, with an index set of known credential IDs.
type RedisStateStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStateStore builds a state store on top of an existing client.
func NewRedisStateStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStateStore {
	if prefix == "" {
		prefix = "antigravity:cred"
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &RedisStateStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStateStore) stateKey(id string) string {
	return r.prefix + ":state:" + id
}

func (r *RedisStateStore) indexKey() string {
	return r.prefix + ":ids"
}

func (r *RedisStateStore) Persist(ctx context.Context, cred *credential.Credential, state *credential.CredentialState) error {
	if cred == nil || state == nil {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state for %s: %w", cred.ID, err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.stateKey(cred.ID), data, r.ttl)
	pipe.SAdd(ctx, r.indexKey(), cred.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("persist state for %s: %w", cred.ID, err)
	}
	return nil
}

func (r *RedisStateStore) Restore(ctx context.Context, cred *credential.Credential) (*credential.CredentialState, error) {
	if cred == nil {
		return nil, nil
	}
	data, err := r.client.Get(ctx, r.stateKey(cred.ID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("restore state for %s: %w", cred.ID, err)
	}
	var state credential.CredentialState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state for %s: %w", cred.ID, err)
	}
	return &state, nil
}

func (r *RedisStateStore) Delete(ctx context.Context, credID string) error {
	if credID == "" {
		return nil
	}
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.stateKey(credID))
	pipe.SRem(ctx, r.indexKey(), credID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete state for %s: %w", credID, err)
	}
	return nil
}

// KnownIDs lists credential IDs that have state stored in Redis.
func (r *RedisStateStore) KnownIDs(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list state ids: %w", err)
	}
	return ids, nil
}
