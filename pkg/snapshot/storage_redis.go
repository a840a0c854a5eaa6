package snapshot

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisStorage keeps the snapshot under a single key. The previous value is copied to
// <key>:backup in the same transaction that writes the new one.
type RedisStorage struct {
	client     *redis.Client
	key        string
	ownsClient bool
}

var _ Storage = (*RedisStorage)(nil)

// NewRedisStorage creates a Redis-backed snapshot storage with its own client, closed by Close.
func NewRedisStorage(ctx context.Context, opts RedisStorageOptions) (*RedisStorage, error) {
	if err := opts.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid options passed")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	s := &RedisStorage{client: client, key: opts.Key, ownsClient: true}
	if err := s.ping(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewRedisStorageWithClient creates a Redis-backed snapshot storage on a caller-owned client.
func NewRedisStorageWithClient(ctx context.Context, client *redis.Client, key string) (*RedisStorage, error) {
	if client == nil {
		return nil, eris.New("redis client cannot be nil")
	}
	if key == "" {
		return nil, eris.New("redis key cannot be empty")
	}
	s := &RedisStorage{client: client, key: key}
	if err := s.ping(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *RedisStorage) ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return eris.Wrapf(err, "failed to reach redis at %s", r.client.Options().Addr)
	}
	return nil
}

func (r *RedisStorage) backupKey() string {
	return r.key + ":backup"
}

func (r *RedisStorage) Store(ctx context.Context, snapshot *Snapshot) error {
	data, err := encode(snapshot)
	if err != nil {
		return err
	}

	previous, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil && !eris.Is(err, redis.Nil) {
		return eris.Wrap(err, "failed to read previous snapshot")
	}
	hasPrevious := err == nil

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if hasPrevious {
			pipe.Set(ctx, r.backupKey(), previous, 0)
		}
		pipe.Set(ctx, r.key, data, 0)
		return nil
	})
	if err != nil {
		return eris.Wrap(err, "failed to store snapshot in redis")
	}
	return nil
}

func (r *RedisStorage) Load(ctx context.Context) (*Snapshot, error) {
	return r.load(ctx, r.key)
}

// LoadBackup retrieves the snapshot that was current before the last Store.
func (r *RedisStorage) LoadBackup(ctx context.Context) (*Snapshot, error) {
	return r.load(ctx, r.backupKey())
}

func (r *RedisStorage) load(ctx context.Context, key string) (*Snapshot, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if eris.Is(err, redis.Nil) {
			return nil, eris.Wrapf(ErrSnapshotNotFound, "no snapshot at key %s", key)
		}
		return nil, eris.Wrap(err, "failed to get snapshot from redis")
	}
	return decode(data)
}

func (r *RedisStorage) Exists(ctx context.Context) (bool, error) {
	n, err := r.client.Exists(ctx, r.key).Result()
	if err != nil {
		return false, eris.Wrap(err, "failed to check snapshot key")
	}
	return n > 0, nil
}

func (r *RedisStorage) Close() error {
	if !r.ownsClient {
		return nil
	}
	if err := r.client.Close(); err != nil {
		return eris.Wrap(err, "failed to close redis client")
	}
	return nil
}

// -------------------------------------------------------------------------------------------------
// Options
// -------------------------------------------------------------------------------------------------

type RedisStorageOptions struct {
	Addr     string `env:"SNAPSHOT_REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"SNAPSHOT_REDIS_PASSWORD"`
	DB       int    `env:"SNAPSHOT_REDIS_DB" envDefault:"0"`
	Key      string `env:"SNAPSHOT_REDIS_KEY" envDefault:"chunkstore:snapshot"`
}

func (opt *RedisStorageOptions) Validate() error {
	if opt.Addr == "" {
		return eris.New("redis address cannot be empty")
	}
	if opt.Key == "" {
		return eris.New("redis key cannot be empty")
	}
	return nil
}
