package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"poweronbot/internal/config"
	logx "poweronbot/pkg/logx"
)

// fileBackend persists the whole subscriber document as one JSON file.
// Saves write a sibling temp file and rename it over the canonical path, so
// a crash mid-write never leaves a torn document behind.
type fileBackend struct {
	path string
	log  logx.Logger
}

func openFile(cfg config.StorageConfig, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileBackend{path: path, log: log}, nil
}

func (b *fileBackend) Load() (map[int64]*Record, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[int64]*Record{}, nil
	}
	if err != nil {
		return nil, err
	}

	recs := map[int64]*Record{}
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (b *fileBackend) Save(recs map[int64]*Record) error {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}

	tmp := b.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, b.path)
}

func (b *fileBackend) Close() error { return nil }
