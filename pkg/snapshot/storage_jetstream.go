package snapshot

import (
	"context"
	"io"
	"math"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rotisserie/eris"
)

const defaultObjectName = "snapshot"

// JetStreamStorage implements Storage using NATS JetStream ObjectStore.
type JetStreamStorage struct {
	os        jetstream.ObjectStore
	conn      *nats.Conn
	ownsConn  bool
	objectKey string
}

var _ Storage = (*JetStreamStorage)(nil)

// NewJetStreamStorage creates a new JetStream ObjectStore-based snapshot storage. A connection to
// opts.URL is opened and closed by Close.
func NewJetStreamStorage(ctx context.Context, opts JetStreamStorageOptions) (*JetStreamStorage, error) {
	if err := opts.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid options passed")
	}
	if opts.URL == "" {
		return nil, eris.New("NATS URL cannot be empty")
	}

	conn, err := nats.Connect(opts.URL, nats.Name("chunkstore-snapshot"))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to connect to NATS at %s", opts.URL)
	}
	return newJetStreamStorage(ctx, conn, true, opts)
}

// NewJetStreamStorageWithConn is like NewJetStreamStorage but uses a caller-owned connection.
// opts.URL is ignored.
func NewJetStreamStorageWithConn(
	ctx context.Context, conn *nats.Conn, opts JetStreamStorageOptions,
) (*JetStreamStorage, error) {
	if conn == nil {
		return nil, eris.New("NATS connection cannot be nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid options passed")
	}
	return newJetStreamStorage(ctx, conn, false, opts)
}

func newJetStreamStorage(
	ctx context.Context, conn *nats.Conn, ownsConn bool, opts JetStreamStorageOptions,
) (*JetStreamStorage, error) {
	s := &JetStreamStorage{conn: conn, ownsConn: ownsConn, objectKey: opts.ObjectName}
	if s.objectKey == "" {
		s.objectKey = defaultObjectName
	}

	js, err := jetstream.New(s.conn)
	if err != nil {
		_ = s.Close()
		return nil, eris.Wrap(err, "failed to create JetStream client")
	}

	if opts.MaxBytes > math.MaxInt64 {
		_ = s.Close()
		return nil, eris.New("snapshot storage max bytes exceeds maximum int64 value")
	}

	osConfig := jetstream.ObjectStoreConfig{
		Bucket:   opts.Bucket,
		MaxBytes: int64(opts.MaxBytes), // Required by some NATS providers like Synadia Cloud
	}
	store, err := js.CreateObjectStore(ctx, osConfig)
	if err != nil {
		if !eris.Is(err, jetstream.ErrBucketExists) {
			_ = s.Close()
			return nil, eris.Wrapf(err, "failed to create ObjectStore (bucket=%s, maxBytes=%d)",
				osConfig.Bucket, osConfig.MaxBytes)
		}
		// Bucket already exists, get the existing one.
		store, err = js.ObjectStore(ctx, opts.Bucket)
		if err != nil {
			_ = s.Close()
			return nil, eris.Wrapf(err, "failed to get existing ObjectStore (bucket=%s)", opts.Bucket)
		}
	}
	s.os = store
	return s, nil
}

func (j *JetStreamStorage) Store(ctx context.Context, snapshot *Snapshot) error {
	data, err := encode(snapshot)
	if err != nil {
		return err
	}

	// Overwrite the existing snapshot if any.
	if _, err = j.os.PutBytes(ctx, j.objectKey, data); err != nil {
		return eris.Wrap(err, "failed to store snapshot in ObjectStore")
	}
	return nil
}

func (j *JetStreamStorage) Load(ctx context.Context) (*Snapshot, error) {
	object, err := j.os.Get(ctx, j.objectKey)
	if err != nil {
		if eris.Is(err, jetstream.ErrObjectNotFound) {
			return nil, eris.Wrap(ErrSnapshotNotFound, "no snapshot in ObjectStore")
		}
		return nil, eris.Wrap(err, "failed to get snapshot from ObjectStore")
	}
	defer func() {
		_ = object.Close()
	}()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, eris.Wrap(err, "failed to read from object")
	}
	return decode(data)
}

func (j *JetStreamStorage) Exists(ctx context.Context) (bool, error) {
	_, err := j.os.GetInfo(ctx, j.objectKey)
	if err == nil {
		return true, nil
	}
	if eris.Is(err, jetstream.ErrObjectNotFound) {
		return false, nil
	}
	return false, eris.Wrap(err, "failed to get snapshot info")
}

func (j *JetStreamStorage) Close() error {
	if j.ownsConn && j.conn != nil {
		j.conn.Close()
	}
	return nil
}

// -------------------------------------------------------------------------------------------------
// Options
// -------------------------------------------------------------------------------------------------

type JetStreamStorageOptions struct {
	URL        string `env:"SNAPSHOT_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	Bucket     string `env:"SNAPSHOT_JETSTREAM_BUCKET" envDefault:"chunkstore_snapshot"`
	ObjectName string `env:"SNAPSHOT_JETSTREAM_OBJECT" envDefault:"snapshot"`

	// Maximum bytes for snapshot storage (ObjectStore). Required by some NATS providers like Synadia Cloud.
	MaxBytes uint64 `env:"SNAPSHOT_STORAGE_MAX_BYTES" envDefault:"0"`
}

func (opt *JetStreamStorageOptions) Validate() error {
	if opt.Bucket == "" {
		return eris.New("bucket name cannot be empty")
	}
	// MaxBytes can be 0 which means unlimited storage. No need to validate here.
	return nil
}
