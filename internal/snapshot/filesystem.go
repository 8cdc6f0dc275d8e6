package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600

	metadataSuffix = ".meta"
)

// FilesystemStore implements ObjectStore on a local directory. Keys map to
// file paths under the root; custom metadata lands in a `.meta` sidecar.
// Writes go through a temp file and rename so readers never observe a
// partial object.
type FilesystemStore struct {
	root string
}

var _ ObjectStore = (*FilesystemStore)(nil)

// NewFilesystemStore creates the root directory if needed and returns a
// store over it.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create snapshot root %s: %w", root, err)
	}

	return &FilesystemStore{root: root}, nil
}

// path maps a key to a file path under the root, rejecting traversal.
func (s *FilesystemStore) path(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid snapshot key %q", key)
	}

	return filepath.Join(s.root, cleaned), nil
}

// Put writes data under key atomically and stores metadata in a sidecar.
func (s *FilesystemStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to write snapshot data: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to publish snapshot file: %w", err)
	}

	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot metadata: %w", err)
		}

		if err := os.WriteFile(target+metadataSuffix, raw, filePerm); err != nil {
			return fmt.Errorf("failed to write snapshot metadata: %w", err)
		}
	}

	return nil
}

// Get returns the data under key, or ErrObjectNotFound.
func (s *FilesystemStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target, err := s.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(target) //nolint:gosec // path is validated against the store root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}

		return nil, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}

	return data, nil
}

// Delete removes the object and its metadata sidecar.
func (s *FilesystemStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot %s: %w", key, err)
	}

	if err := os.Remove(target + metadataSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot metadata %s: %w", key, err)
	}

	return nil
}

// List returns the keys under a prefix, excluding metadata sidecars.
func (s *FilesystemStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := s.path(strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return nil, err
	}

	var keys []string

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		if d.IsDir() || strings.HasSuffix(path, metadataSuffix) || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		keys = append(keys, filepath.ToSlash(rel))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots under %s: %w", prefix, err)
	}

	return keys, nil
}
