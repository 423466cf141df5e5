package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FSStore stores each tier as one directory under a common root. The
// directory listing is the only index; no metadata is persisted besides the
// objects themselves.
type FSStore struct {
	root string
}

// NewFSStore creates the tier directories under root (idempotent) and
// returns a ready store.
func NewFSStore(root string) (*FSStore, error) {
	root = filepath.Clean(root)
	for _, tier := range Tiers {
		if err := os.MkdirAll(filepath.Join(root, tier.Dir()), 0o755); err != nil {
			return nil, fmt.Errorf("create tier directory %q: %w", tier, err)
		}
	}
	return &FSStore{root: root}, nil
}

// Root returns the storage root directory.
func (s *FSStore) Root() string { return s.root }

func (s *FSStore) path(tier Tier, key string) string {
	return filepath.Join(s.root, tier.Dir(), key)
}

// validateKey rejects keys that could resolve outside the tier directory.
// Keys are flat filenames; separators and traversal sequences are invalid.
func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, "/\\\x00") || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}

// Put writes r to <root>/<tier>/<key> via a temp file renamed into place, so
// a partially written object is never visible under its final key.
func (s *FSStore) Put(ctx context.Context, tier Tier, key string, r io.Reader) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	dir := filepath.Join(s.root, tier.Dir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, &Fault{Tier: tier, Key: key, Op: "put", Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, &Fault{Tier: tier, Key: key, Op: "put", Err: err}
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return 0, &Fault{Tier: tier, Key: key, Op: "put", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return 0, &Fault{Tier: tier, Key: key, Op: "put", Err: err}
	}
	if err := os.Rename(tmp.Name(), s.path(tier, key)); err != nil {
		return 0, &Fault{Tier: tier, Key: key, Op: "put", Err: err}
	}
	return n, nil
}

// Exists reports whether key is present in the tier.
func (s *FSStore) Exists(ctx context.Context, tier Tier, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(tier, key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &Fault{Tier: tier, Key: key, Op: "stat", Err: err}
	}
	return true, nil
}

// Get opens the object for streaming. The caller owns the returned
// ReadCloser; the store never buffers whole objects.
func (s *FSStore) Get(ctx context.Context, tier Tier, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(tier, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", tier, key, ErrNotFound)
	}
	if err != nil {
		return nil, &Fault{Tier: tier, Key: key, Op: "get", Err: err}
	}
	return f, nil
}

// Delete removes the object if present. Absence is not an error.
func (s *FSStore) Delete(ctx context.Context, tier Tier, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	err := os.Remove(s.path(tier, key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &Fault{Tier: tier, Key: key, Op: "delete", Err: err}
	}
	return true, nil
}

// List enumerates regular files in the tier directory. Temp files from
// in-flight writes are skipped.
func (s *FSStore) List(ctx context.Context, tier Tier) ([]ObjectInfo, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, tier.Dir()))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &Fault{Tier: tier, Op: "list", Err: err}
	}

	infos := make([]ObjectInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".upload-") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // deleted between ReadDir and Info
			}
			return nil, &Fault{Tier: tier, Key: entry.Name(), Op: "list", Err: err}
		}
		infos = append(infos, ObjectInfo{Key: entry.Name(), Size: fi.Size()})
	}
	return infos, nil
}
