package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/internal/pipeline"
)

const (
	redisKeyPrefix = "groundsql:state:"
	redisIndexKey  = "groundsql:states"
)

// RedisConfig configures the Redis repository.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// TTL expires stored states; zero keeps them forever. A question still
	// waiting for approval when its TTL passes is gone.
	TTL time.Duration

	DialTimeout time.Duration
}

// RedisRepository stores each state as a JSON string under
// groundsql:state:<id> and indexes ids by creation time in a sorted set.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRepository wraps an existing client.
func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	return &RedisRepository{client: client, ttl: ttl}
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*RedisRepository, error) {
	if cfg.Addr == "" {
		return nil, errors.NewMissingConfiguration([]string{"pipeline.redis_addr"})
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: timeout,
	})
	repo := NewRedisRepository(client, cfg.TTL)
	if err := repo.CheckConnectivity(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return repo, nil
}

func stateKey(id string) string {
	return redisKeyPrefix + id
}

// Save implements StateRepository.
func (r *RedisRepository) Save(ctx context.Context, s pipeline.State) error {
	data, err := encodeState(s)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, stateKey(s.ID), data, r.ttl)
		p.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(s.CreatedAt.UnixMilli()), Member: s.ID})
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "storage: save state %s", s.ID)
	}
	return nil
}

// Get implements StateRepository.
func (r *RedisRepository) Get(ctx context.Context, id string) (pipeline.State, error) {
	data, err := r.client.Get(ctx, stateKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return pipeline.State{}, errors.NewStateNotFound(id)
	}
	if err != nil {
		return pipeline.State{}, errors.Wrapf(err, "storage: load state %s", id)
	}
	return decodeState(id, data)
}

// List implements StateRepository. Index entries whose state expired are
// removed as they are found.
func (r *RedisRepository) List(ctx context.Context, limit int) ([]pipeline.State, error) {
	n := int64(listLimit(limit))
	ids, err := r.client.ZRevRange(ctx, redisIndexKey, 0, n-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "storage: list states")
	}
	states := []pipeline.State{}
	if len(ids) == 0 {
		return states, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = stateKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "storage: list states")
	}

	var expired []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		s, err := decodeState(ids[i], []byte(raw))
		if err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	if len(expired) > 0 {
		_ = r.client.ZRem(ctx, redisIndexKey, expired...).Err()
	}
	return states, nil
}

// CheckConnectivity implements StateRepository.
func (r *RedisRepository) CheckConnectivity(ctx context.Context) error {
	pong, err := r.client.Ping(ctx).Result()
	if err != nil {
		return errors.Wrap(err, "storage: redis unreachable")
	}
	if pong != "PONG" {
		return errors.Newf("storage: redis ping returned %s", strconv.Quote(pong))
	}
	return nil
}

// Close implements StateRepository.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
