package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FileStore keeps one file per key under root.
type FileStore struct {
	fs   afero.Fs
	root string
}

func NewFileStore(fs afero.Fs, root string) (*FileStore, error) {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create content directory %s: %w", root, err)
	}
	return &FileStore{fs: fs, root: root}, nil
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.root, key)
}

// Put writes to a temp file first so readers never see a partial blob.
func (f *FileStore) Put(ctx context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}

	tmp := f.path(key) + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write content %s: %w", key, err)
	}
	if err := f.fs.Rename(tmp, f.path(key)); err != nil {
		f.fs.Remove(tmp)
		return fmt.Errorf("failed to commit content %s: %w", key, err)
	}
	return nil
}

func (f *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(f.fs, f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read content %s: %w", key, err)
	}
	return data, nil
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}

	err := f.fs.Remove(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return notFound(key)
	}
	if err != nil {
		return fmt.Errorf("failed to delete content %s: %w", key, err)
	}
	return nil
}
