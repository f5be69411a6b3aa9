package calls

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	recordKeyPrefix = "call:"
	aliasKeyPrefix  = "call:provider:"
)

// RedisStore keeps records as JSON under call:{uuid}, so several instances can serve the webhooks.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to e.g. redis://localhost:6379/0, ttl zero means records never expire.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}
	options.DialTimeout = 5 * time.Second
	options.ReadTimeout = 3 * time.Second
	options.WriteTimeout = 3 * time.Second
	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "cannot connect to redis at %s", options.Addr)
	}
	log.Info().Str("addr", options.Addr).Int("db", options.DB).Dur("ttl", ttl).Msg("redis call store ready")
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (r *RedisStore) Save(ctx context.Context, record *CallRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrapf(err, "cannot marshal call %s", record.CallUUID)
	}
	err = r.client.Set(ctx, recordKeyPrefix+record.CallUUID, data, r.ttl).Err()
	return errors.Wrapf(err, "cannot save call %s", record.CallUUID)
}

func (r *RedisStore) Get(ctx context.Context, callUUID string) (*CallRecord, error) {
	data, err := r.client.Get(ctx, recordKeyPrefix+callUUID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot load call %s", callUUID)
	}
	var record CallRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrapf(err, "corrupted call record %s", callUUID)
	}
	return &record, nil
}

func (r *RedisStore) SaveAlias(ctx context.Context, providerCallID string, callUUID string) error {
	err := r.client.Set(ctx, aliasKeyPrefix+providerCallID, callUUID, r.ttl).Err()
	return errors.Wrapf(err, "cannot save alias %s", providerCallID)
}

func (r *RedisStore) ResolveAlias(ctx context.Context, providerCallID string) (string, error) {
	callUUID, err := r.client.Get(ctx, aliasKeyPrefix+providerCallID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "cannot resolve alias %s", providerCallID)
	}
	return callUUID, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
