package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/jotutor/core/payment"
)

const (
	attemptKeyPrefix = "checkout:attempt:"
	maxUpdateRetries = 10
)

// RedisAttemptStore shares attempts between API instances.
// Updates are optimistic transactions (WATCH/MULTI/EXEC) retried on conflict.
type RedisAttemptStore struct {
	rdb       redis.UniversalClient
	activeTTL time.Duration
	retention time.Duration
}

var _ payment.AttemptStore = (*RedisAttemptStore)(nil)

func NewRedisAttemptStore(rdb redis.UniversalClient, activeTTL, retention time.Duration) *RedisAttemptStore {
	return &RedisAttemptStore{rdb: rdb, activeTTL: activeTTL, retention: retention}
}

func (s *RedisAttemptStore) key(orderID string) string {
	return attemptKeyPrefix + orderID
}

func (s *RedisAttemptStore) Create(ctx context.Context, a payment.Attempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "encoding attempt")
	}
	ok, err := s.rdb.SetNX(ctx, s.key(a.OrderID), data, attemptTTL(a, s.activeTTL, s.retention)).Result()
	if err != nil {
		return errors.Wrap(err, "saving attempt")
	}
	if !ok {
		return payment.ErrDuplicateOrder
	}
	return nil
}

func (s *RedisAttemptStore) Get(ctx context.Context, orderID string) (payment.Attempt, error) {
	data, err := s.rdb.Get(ctx, s.key(orderID)).Bytes()
	if err != nil {
		return payment.Attempt{}, trapNil(err)
	}
	return decodeAttempt(data)
}

func (s *RedisAttemptStore) Update(ctx context.Context, orderID string, fn func(a *payment.Attempt) error) (payment.Attempt, error) {
	key := s.key(orderID)
	for i := 0; i < maxUpdateRetries; i++ {
		var updated payment.Attempt
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return trapNil(err)
			}
			a, err := decodeAttempt(data)
			if err != nil {
				return err
			}
			if err = fn(&a); err != nil {
				return err
			}
			if data, err = json.Marshal(a); err != nil {
				return errors.Wrap(err, "encoding attempt")
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, attemptTTL(a, s.activeTTL, s.retention))
				return nil
			})
			updated = a
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue // someone else won the race: re-read and retry
		}
		if err != nil {
			return payment.Attempt{}, err
		}
		return updated, nil
	}
	return payment.Attempt{}, errors.Wrap(redis.TxFailedErr, "updating attempt")
}

func decodeAttempt(data []byte) (payment.Attempt, error) {
	var a payment.Attempt
	if err := json.Unmarshal(data, &a); err != nil {
		return payment.Attempt{}, errors.Wrap(err, "decoding attempt")
	}
	return a, nil
}

func trapNil(err error) error {
	if err == redis.Nil {
		return payment.ErrAttemptNotFound
	}
	return errors.Wrap(err, "reading attempt")
}
