package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/monad-tools/activeset-monitor/pkg/lifecycle"
)

// FileStore keeps one JSON snapshot file per validator under a state
// directory. Writes go through a temp file and rename so a crash mid-write
// never leaves a torn snapshot; reads tolerate corruption by decaying to a
// fresh lifecycle.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "could not create state directory")
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) path(validatorName string) string {
	return filepath.Join(s.dir, "state_"+sanitizeName(validatorName)+".json")
}

func (s *FileStore) PutSnapshot(ctx context.Context, snapshot lifecycle.Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(err, "could not encode snapshot")
	}

	path := s.path(snapshot.ValidatorName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "could not write snapshot")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "could not commit snapshot")
	}
	return nil
}

func (s *FileStore) GetSnapshot(ctx context.Context, validatorName string) (lifecycle.Snapshot, bool, error) {
	data, err := os.ReadFile(s.path(validatorName))
	if os.IsNotExist(err) {
		return lifecycle.Snapshot{}, false, nil
	}
	if err != nil {
		return lifecycle.Snapshot{}, false, errors.Wrap(err, "could not read snapshot")
	}
	return lifecycle.SnapshotFromJSON(data, s.logger), true, nil
}

func (s *FileStore) ListSnapshots(ctx context.Context) ([]lifecycle.Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "could not list state directory")
	}

	var snapshots []lifecycle.Snapshot
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "state_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Sugar().Warnw("could not read snapshot file", "file", name, "error", err)
			continue
		}
		snapshots = append(snapshots, lifecycle.SnapshotFromJSON(data, s.logger))
	}
	return snapshots, nil
}

func (s *FileStore) Close() error {
	return nil
}

// sanitizeName maps a validator name to a filesystem-safe token.
func sanitizeName(name string) string {
	if name == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
