// Package timestore provides a durable store for a single string value
// under one fixed key, used to remember the last time the registry daemon
// came up. Backends: a local file, or a MongoDB document.
package timestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrNotFound is returned by Get when no value has ever been stored.
var ErrNotFound = errors.New("timestore: value not found")

// Store persists one string value.
type Store interface {
	Get(ctx context.Context) (string, error)
	Put(ctx context.Context, value string) error
}

// FileStore keeps the value in a small JSON file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileRecord struct {
	Value string `json:"value"`
}

func (f *FileStore) Get(ctx context.Context) (string, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", f.path, err)
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("unmarshalling %s: %w", f.path, err)
	}
	return rec.Value, nil
}

func (f *FileStore) Put(ctx context.Context, value string) error {
	data, err := json.Marshal(fileRecord{Value: value})
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", f.path, err)
	}
	return nil
}
