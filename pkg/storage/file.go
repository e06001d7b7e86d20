package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/levenlabs/go-lflag"
)

// FileStore persists throttle records as a JSON file on disk. It is the
// default for single-host deployments where Firestore is overkill.
type FileStore struct {
	path string
}

func configuredFile() *FileStore {
	path := lflag.String("storage-file", "throttle_state.json", "Path to the throttle state file")

	f := &FileStore{}

	lflag.Do(func() {
		f.path = *path
	})

	return f
}

// NewFileStore returns a file-backed store at path without going through
// flags.
func NewFileStore(path string) (*FileStore, error) {
	f := &FileStore{path: path}
	if err := f.Init(); err != nil {
		return nil, err
	}
	return f, nil
}

// Init verifies the parent directory exists and the file, if present, is
// readable.
func (f *FileStore) Init() error {
	dir := filepath.Dir(f.path)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("state file directory %s not usable: %w", dir, err)
	}
	if _, err := os.Stat(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("state file %s not readable: %w", f.path, err)
	}
	return nil
}

// LoadThrottle reads the persisted records. A missing file is a cold start
// and returns an empty record set.
func (f *FileStore) LoadThrottle(ctx context.Context) (ThrottleRecords, error) {
	b, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return ThrottleRecords{Version: RecordVersion, Calls: map[string]string{}}, nil
	}
	if err != nil {
		return ThrottleRecords{}, fmt.Errorf("failed to read state file %s: %w", f.path, err)
	}

	var records ThrottleRecords
	if err := json.Unmarshal(b, &records); err != nil {
		return ThrottleRecords{}, fmt.Errorf("failed to unmarshal state file %s: %w", f.path, err)
	}
	if records.Calls == nil {
		records.Calls = map[string]string{}
	}
	return records, nil
}

// SaveThrottle writes the records atomically via a temp file rename so a
// crash mid-write never leaves a truncated state file.
func (f *FileStore) SaveThrottle(ctx context.Context, records ThrottleRecords) error {
	b, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal throttle records: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace state file %s: %w", f.path, err)
	}
	return nil
}

func (f *FileStore) Close() error {
	return nil
}
