package storage

import (
	"context"
	"os"
	"path/filepath"
)

type FileStore struct{ dir string }

func NewFileStore(dir string) *FileStore {
	_ = os.MkdirAll(dir, 0700)
	return &FileStore{dir: dir}
}

func (f *FileStore) Get(_ context.Context, key string) (string, error) {
	b, err := os.ReadFile(filepath.Join(f.dir, key))
	if os.IsNotExist(err) {
		return "", ErrNotFound
	}
	return string(b), err
}

func (f *FileStore) Set(_ context.Context, key, value string) error {
	return os.WriteFile(filepath.Join(f.dir, key), []byte(value), 0600)
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	err := os.Remove(filepath.Join(f.dir, key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
