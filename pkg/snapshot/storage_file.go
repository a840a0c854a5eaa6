package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// backupSuffix names the copy of the previous snapshot kept next to the current one.
const backupSuffix = ".bak"

// FileStorage keeps the snapshot in a single file. Writes go to a temporary file that is renamed
// into place, and the previous snapshot is kept as <path>.bak.
type FileStorage struct {
	path string
}

var _ Storage = (*FileStorage)(nil)

// NewFileStorage creates a file-backed snapshot storage. The parent directory is created if needed.
func NewFileStorage(path string) (*FileStorage, error) {
	if path == "" {
		return nil, eris.New("snapshot file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "failed to create snapshot directory for %s", path)
	}
	return &FileStorage{path: path}, nil
}

func (f *FileStorage) Store(ctx context.Context, snapshot *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "store cancelled")
	}
	data, err := encode(snapshot)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "failed to create temporary snapshot file")
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "failed to write snapshot")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "failed to sync snapshot")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "failed to close snapshot file")
	}

	// Keep the previous snapshot as backup.
	if err := os.Rename(f.path, f.path+backupSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		return eris.Wrap(err, "failed to back up previous snapshot")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return eris.Wrap(err, "failed to move snapshot into place")
	}
	return nil
}

func (f *FileStorage) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "load cancelled")
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, eris.Wrapf(ErrSnapshotNotFound, "no snapshot at %s", f.path)
		}
		return nil, eris.Wrap(err, "failed to read snapshot")
	}
	return decode(data)
}

func (f *FileStorage) Exists(_ context.Context) (bool, error) {
	_, err := os.Stat(f.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, eris.Wrap(err, "failed to stat snapshot")
}

// BackupPath returns where the previous snapshot is kept.
func (f *FileStorage) BackupPath() string {
	return f.path + backupSuffix
}

func (f *FileStorage) Close() error {
	return nil
}
