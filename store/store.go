// Package store persists run snapshots. A run may write to several
// backends at once: a local directory of JSON files, a SQLite database
// and an S3-compatible bucket.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pthm-cable/digipop/config"
	"github.com/pthm-cable/digipop/telemetry"
)

// Store saves and loads snapshots by key.
type Store interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	Save(ctx context.Context, s *telemetry.Snapshot) (key string, err error)
	Load(ctx context.Context, key string) (*telemetry.Snapshot, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}

// ErrNotFound is returned by Load for an unknown key.
var ErrNotFound = errors.New("snapshot not found")

// DirStore keeps one JSON file per snapshot in a directory.
type DirStore struct {
	dir string
}

// NewDirStore returns a store rooted at dir. The directory is created on
// the first save.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

func (d *DirStore) Name() string { return "dir" }

func (d *DirStore) Save(_ context.Context, s *telemetry.Snapshot) (string, error) {
	return telemetry.SaveSnapshot(s, d.dir)
}

// Load accepts either a path returned by Save or a bare snapshot name.
func (d *DirStore) Load(_ context.Context, key string) (*telemetry.Snapshot, error) {
	path := key
	if !strings.ContainsRune(key, os.PathSeparator) {
		path = filepath.Join(d.dir, strings.TrimSuffix(key, ".json")+".json")
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return telemetry.LoadSnapshot(path)
}

func (d *DirStore) List(context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(d.dir, "snapshot_*.json"))
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(matches))
	for i, m := range matches {
		keys[i] = strings.TrimSuffix(filepath.Base(m), ".json")
	}
	slices.Sort(keys)
	return keys, nil
}

func (d *DirStore) Close() error { return nil }

// Multi fans a save out to every backend.
type Multi []Store

// Save writes s to every backend and returns the keys by backend name.
// All backends are attempted; the errors are joined.
func (m Multi) Save(ctx context.Context, s *telemetry.Snapshot) (map[string]string, error) {
	keys := make(map[string]string, len(m))
	var errs []error
	for _, st := range m {
		key, err := st.Save(ctx, s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", st.Name(), err))
			continue
		}
		keys[st.Name()] = key
	}
	return keys, errors.Join(errs...)
}

// Close closes every backend.
func (m Multi) Close() error {
	var errs []error
	for _, st := range m {
		errs = append(errs, st.Close())
	}
	return errors.Join(errs...)
}

// Open builds the backends enabled by cfg. dir enables the directory
// store when non-empty.
func Open(ctx context.Context, cfg config.StorageConfig, dir string) (Multi, error) {
	var m Multi
	if dir != "" {
		m = append(m, NewDirStore(dir))
	}
	if cfg.SQLitePath != "" {
		st, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		m = append(m, st)
	}
	if cfg.S3Bucket != "" {
		st, err := NewS3Store(ctx, S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			Prefix:    cfg.S3Prefix,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		m = append(m, st)
	}
	return m, nil
}
