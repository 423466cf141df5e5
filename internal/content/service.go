// Package content implements the upload lifecycle: keys, ingestion with
// optional image derivation, tiered lookup, cascading deletion, and stats.
package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/pocketcdn/service/internal/optimizer"
	"github.com/pocketcdn/service/internal/storage"
)

// MaxBatchSize caps how many files one batch ingestion may carry.
const MaxBatchSize = 10

var (
	// ErrUnsupportedMediaType is returned for uploads outside the allow-list.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	// ErrPayloadTooLarge is returned for uploads above the configured limit.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrEmptyBatch is returned when a batch ingestion receives no files.
	ErrEmptyBatch = errors.New("no files in batch")
	// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize files.
	ErrBatchTooLarge = errors.New("too many files in batch")
)

// Upload is one incoming file to ingest. Size is the declared size; the
// service enforces the limit against the actual stream as well.
type Upload struct {
	OriginalName string
	MediaType    string
	Size         int64
	Body         io.Reader
}

// Descriptor is the response-only projection of a completed ingestion. It is
// never persisted; every lookup is recomputed from tier state.
type Descriptor struct {
	ID            string              `json:"id"`
	OriginalName  string              `json:"originalName"`
	Filename      string              `json:"filename"`
	MediaType     string              `json:"mimetype"`
	Size          int64               `json:"size"`
	Path          string              `json:"path"`
	OptimizedPath string              `json:"optimizedPath,omitempty"`
	Metadata      *optimizer.Metadata `json:"metadata,omitempty"`
	UploadedAt    time.Time           `json:"uploadedAt"`
}

// BatchItem is one outcome of a batch ingestion: a descriptor or the error
// that stopped this entry. Entries are independent of each other.
type BatchItem struct {
	Descriptor *Descriptor
	Err        error
}

// TierStats aggregates one tier for reporting.
type TierStats struct {
	Count      int
	TotalBytes int64
}

// Service is the content lifecycle manager. It has no in-process state
// beyond its collaborators; tier state on the store is the only source of
// truth.
type Service struct {
	store    storage.TieredStore
	policy   optimizer.Options
	maxBytes int64
}

// NewService creates a lifecycle manager using the given store, system-wide
// derivative policy, and upload size limit in bytes.
func NewService(store storage.TieredStore, policy optimizer.Options, maxBytes int64) *Service {
	return &Service{store: store, policy: policy, maxBytes: maxBytes}
}

// Policy returns the derivative policy the service ingests with.
func (s *Service) Policy() optimizer.Options { return s.policy }

// Ingest validates, stores, and (for images) derives an optimized variant of
// one upload. Validation failures surface before any byte is persisted.
// Derivation failures are soft: logged, and the descriptor simply omits the
// derivative fields — the stored original is a complete result on its own.
func (s *Service) Ingest(ctx context.Context, up Upload) (*Descriptor, error) {
	mediaType := normalizeMediaType(up.MediaType)
	body := up.Body

	if mediaType == "" || mediaType == "application/octet-stream" {
		detected, replay, err := sniffMediaType(body)
		if err != nil {
			return nil, fmt.Errorf("sniff media type: %w", err)
		}
		mediaType, body = detected, replay
	}

	if !allowedMediaTypes[mediaType] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}
	if up.Size > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrPayloadTooLarge, up.Size, s.maxBytes)
	}

	tier := storage.TierFiles
	if strings.HasPrefix(mediaType, "image/") {
		tier = storage.TierImages
	}
	key := GenerateKey(up.OriginalName)

	// The limit is enforced against the stream too, in case the declared
	// size lies. The store stages writes, so an aborted copy leaves nothing
	// visible under the key.
	size, err := s.store.Put(ctx, tier, key, newLimitReader(body, s.maxBytes))
	if err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			return nil, ErrPayloadTooLarge
		}
		return nil, err
	}

	desc := &Descriptor{
		ID:           key,
		OriginalName: up.OriginalName,
		Filename:     key,
		MediaType:    mediaType,
		Size:         size,
		Path:         "/files/" + key,
		UploadedAt:   time.Now().UTC(),
	}

	if tier == storage.TierImages {
		s.derive(ctx, key, desc)
	}

	log.Printf("content: ingested %s into %s (%s)", key, tier, humanize.Bytes(uint64(size)))
	return desc, nil
}

// derive runs the optimization pipeline for a stored image and fills the
// descriptor's derivative fields. Every failure here is soft.
func (s *Service) derive(ctx context.Context, key string, desc *Descriptor) {
	rc, err := s.store.Get(ctx, storage.TierImages, key)
	if err != nil {
		log.Printf("content: optimize %s: reopen original: %v", key, err)
		return
	}
	defer rc.Close()

	data, meta, err := optimizer.Optimize(rc, s.policy)
	if err != nil {
		log.Printf("content: optimize %s: %v", key, err)
		return
	}

	derivKey := DerivativeKey(key, s.policy.Format)
	if _, err := s.store.Put(ctx, storage.TierOptimized, derivKey, bytes.NewReader(data)); err != nil {
		log.Printf("content: optimize %s: store derivative: %v", key, err)
		return
	}

	desc.OptimizedPath = "/files/optimized/" + derivKey
	desc.Metadata = meta
}

// IngestBatch ingests up to MaxBatchSize uploads concurrently. Each entry
// succeeds or fails on its own; the batch errors only when empty or over the
// cap.
func (s *Service) IngestBatch(ctx context.Context, uploads []Upload) ([]BatchItem, error) {
	if len(uploads) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(uploads) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d (limit %d)", ErrBatchTooLarge, len(uploads), MaxBatchSize)
	}

	items := make([]BatchItem, len(uploads))
	var g errgroup.Group
	for i, up := range uploads {
		g.Go(func() error {
			desc, err := s.Ingest(ctx, up)
			items[i] = BatchItem{Descriptor: desc, Err: err}
			// Item errors stay in the item; one failure must not cancel
			// sibling ingestions.
			return nil
		})
	}
	_ = g.Wait()
	return items, nil
}

// Resolve probes the original tiers for key: files first, then images. The
// order is arbitrary but fixed — keys cannot collide across tiers under the
// generator, so resolution is only order-dependent for states the system
// never produces itself.
func (s *Service) Resolve(ctx context.Context, key string) (storage.Tier, io.ReadCloser, error) {
	for _, tier := range []storage.Tier{storage.TierFiles, storage.TierImages} {
		rc, err := s.store.Get(ctx, tier, key)
		if err == nil {
			return tier, rc, nil
		}
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrInvalidKey) {
			return "", nil, err
		}
	}
	return "", nil, fmt.Errorf("resolve %q: %w", key, storage.ErrNotFound)
}

// ResolveDerivative opens an optimized-tier object by the derivative's own
// key.
func (s *Service) ResolveDerivative(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.store.Get(ctx, storage.TierOptimized, key)
	if err != nil && errors.Is(err, storage.ErrInvalidKey) {
		return nil, fmt.Errorf("derivative %q: %w", key, storage.ErrNotFound)
	}
	return rc, err
}

// Delete removes key from both original tiers and its computed derivative
// key from the optimized tier. It reports found=false only when no tier
// matched, so a second delete of the same key reports not found. The
// argument is treated as a source key: deleting a derivative by its own key
// is not supported in the current scope.
func (s *Service) Delete(ctx context.Context, key string) (bool, error) {
	var found bool
	var errs []error

	for _, tier := range []storage.Tier{storage.TierFiles, storage.TierImages} {
		ok, err := s.store.Delete(ctx, tier, key)
		if err != nil && !errors.Is(err, storage.ErrInvalidKey) {
			errs = append(errs, err)
		}
		found = found || ok
	}

	ok, err := s.store.Delete(ctx, storage.TierOptimized, DerivativeKey(key, s.policy.Format))
	if err != nil && !errors.Is(err, storage.ErrInvalidKey) {
		errs = append(errs, err)
	}
	found = found || ok

	return found, errors.Join(errs...)
}

// Stats recomputes per-tier object counts and byte totals from tier
// listings. On demand, never cached; O(stored objects) per call.
func (s *Service) Stats(ctx context.Context) (map[storage.Tier]TierStats, error) {
	stats := make(map[storage.Tier]TierStats, len(storage.Tiers))
	for _, tier := range storage.Tiers {
		infos, err := s.store.List(ctx, tier)
		if err != nil {
			return nil, err
		}
		ts := TierStats{Count: len(infos)}
		for _, info := range infos {
			ts.TotalBytes += info.Size
		}
		stats[tier] = ts
	}
	return stats, nil
}

// limitReader errors with ErrPayloadTooLarge once more than max bytes have
// been read, instead of silently truncating like io.LimitReader.
type limitReader struct {
	r         io.Reader
	remaining int64
}

func newLimitReader(r io.Reader, max int64) *limitReader {
	return &limitReader{r: r, remaining: max}
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrPayloadTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrPayloadTooLarge
	}
	return n, err
}
