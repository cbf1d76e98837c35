package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the active slot and bindings in Redis under a namespace,
// so several registries can share one server.
//
//	<ns>:active          string
//	<ns>:binding:<slot>  hash{token, token_id, issued_at, created_at}
type RedisStore struct {
	client *redis.Client
	ns     string
}

// NewRedisStore builds a store using keys prefixed with namespace.
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "attendance:registry"
	}
	return &RedisStore{client: client, ns: namespace}
}

func (s *RedisStore) activeKey() string { return s.ns + ":active" }

func (s *RedisStore) bindingKey(slot string) string { return s.ns + ":binding:" + slot }

// ActiveSlot returns "" when no slot is live.
func (s *RedisStore) ActiveSlot(ctx context.Context) (string, error) {
	slot, err := s.client.Get(ctx, s.activeKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return slot, err
}

// SetActiveSlot stores slot; an empty slot clears the key.
func (s *RedisStore) SetActiveSlot(ctx context.Context, slot string) error {
	if slot == "" {
		return s.client.Del(ctx, s.activeKey()).Err()
	}
	return s.client.Set(ctx, s.activeKey(), slot, 0).Err()
}

func (s *RedisStore) Binding(ctx context.Context, slot string) (Binding, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.bindingKey(slot)).Result()
	if err != nil {
		return Binding{}, false, err
	}
	if len(fields) == 0 || fields["token"] == "" {
		return Binding{}, false, nil
	}
	issuedAt, err := parseUnixNano(fields["issued_at"])
	if err != nil {
		return Binding{}, false, fmt.Errorf("binding %s issued_at: %w", slot, err)
	}
	createdAt, err := parseUnixNano(fields["created_at"])
	if err != nil {
		return Binding{}, false, fmt.Errorf("binding %s created_at: %w", slot, err)
	}
	return Binding{
		Slot:      slot,
		Token:     fields["token"],
		TokenID:   fields["token_id"],
		IssuedAt:  issuedAt,
		CreatedAt: createdAt,
	}, true, nil
}

// PutBinding replaces the binding for b.Slot in one round trip.
func (s *RedisStore) PutBinding(ctx context.Context, b Binding) error {
	key := s.bindingKey(b.Slot)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"token", b.Token,
			"token_id", b.TokenID,
			"issued_at", strconv.FormatInt(b.IssuedAt.UnixNano(), 10),
			"created_at", strconv.FormatInt(b.CreatedAt.UnixNano(), 10),
		)
		return nil
	})
	return err
}

func parseUnixNano(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}
