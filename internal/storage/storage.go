// Package storage defines a tier-partitioned key-value store for uploaded
// content. Swap implementations by changing the concrete type injected at
// startup — the filesystem store is the default, and the MinIO implementation
// works with any S3-compatible provider.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Tier names one storage namespace. An original lives in exactly one of
// TierFiles/TierImages; optimized derivatives live in TierOptimized.
type Tier string

const (
	TierFiles     Tier = "files"
	TierImages    Tier = "images"
	TierOptimized Tier = "optimized"
)

// Tiers lists every tier.
var Tiers = []Tier{TierFiles, TierImages, TierOptimized}

// Dir returns the directory (or key prefix) backing the tier.
func (t Tier) Dir() string { return string(t) }

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// ErrInvalidKey is returned for keys that could escape a tier's namespace.
// Generated keys never trip this; it guards keys arriving from clients.
var ErrInvalidKey = errors.New("invalid object key")

// Fault wraps an I/O-level storage failure with the tier and key involved.
// Faults are not retried; there is no transient layer to retry against.
type Fault struct {
	Tier Tier
	Key  string
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("storage %s %s/%s: %v", f.Op, f.Tier, f.Key, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// ObjectInfo describes one stored object for listing purposes.
type ObjectInfo struct {
	Key  string
	Size int64
}

// TieredStore is the interface for storing and retrieving objects per tier.
type TieredStore interface {
	// Put streams r into the store under key in the given tier, creating the
	// tier's namespace if absent. An existing object under the same key is
	// overwritten silently. Returns the number of bytes written.
	Put(ctx context.Context, tier Tier, key string, r io.Reader) (int64, error)

	// Exists reports whether an object is stored under key in the tier.
	Exists(ctx context.Context, tier Tier, key string) (bool, error)

	// Get opens the object for reading. The returned stream is lazy and
	// single-pass; callers must close it. Returns ErrNotFound when absent.
	Get(ctx context.Context, tier Tier, key string) (io.ReadCloser, error)

	// Delete removes the object. Returns false (and no error) when absent.
	Delete(ctx context.Context, tier Tier, key string) (bool, error)

	// List enumerates the tier's objects with their sizes. Used for
	// statistics only; no ordering guarantee.
	List(ctx context.Context, tier Tier) ([]ObjectInfo, error)
}
