package snapshot

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
)

// StorageOptions selects and configures a snapshot backend.
type StorageOptions struct {
	// One of NOP, FILE, REDIS or JETSTREAM, case insensitive.
	Type string `env:"SNAPSHOT_STORAGE_TYPE" envDefault:"NOP"`

	// Where FILE storage keeps the snapshot.
	FilePath string `env:"SNAPSHOT_FILE_PATH" envDefault:"snapshot.json"`

	Redis     RedisStorageOptions
	JetStream JetStreamStorageOptions
}

// LoadStorageOptions reads StorageOptions from the environment.
func LoadStorageOptions() (StorageOptions, error) {
	var opts StorageOptions
	if err := env.Parse(&opts); err != nil {
		return opts, eris.Wrap(err, "failed to parse snapshot storage config")
	}
	if _, err := ParseStorageType(opts.Type); err != nil {
		return opts, err
	}
	return opts, nil
}

// NewStorage creates the backend named by opts.Type.
func NewStorage(ctx context.Context, opts StorageOptions) (Storage, error) {
	storageType, err := ParseStorageType(opts.Type)
	if err != nil {
		return nil, err
	}

	switch storageType {
	case StorageTypeNop:
		return NewNopStorage(), nil
	case StorageTypeFile:
		s, err := NewFileStorage(opts.FilePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StorageTypeRedis:
		s, err := NewRedisStorage(ctx, opts.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StorageTypeJetStream:
		s, err := NewJetStreamStorage(ctx, opts.JetStream)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StorageTypeUndefined:
		fallthrough
	default:
		return nil, eris.Errorf("unsupported snapshot storage type: %s", storageType)
	}
}
