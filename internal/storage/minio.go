package storage

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore implements TieredStore on a MinIO (or any S3-compatible)
// backend. Tiers map to object-key prefixes inside one bucket, so the layout
// mirrors the filesystem store's directories. Selected with
// STORAGE_BACKEND=s3; no other code changes are needed since the lifecycle
// manager only sees the TieredStore interface.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore creates a MinIO client, ensures the bucket exists, and
// returns a ready-to-use MinioStore.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx := context.Background()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
		}
		log.Printf("storage: created bucket %q", bucket)
	}

	return &MinioStore{client: client, bucket: bucket}, nil
}

func (s *MinioStore) objectName(tier Tier, key string) string {
	return tier.Dir() + "/" + key
}

// Put streams r to the bucket under the tier prefix. Size -1 lets the client
// buffer in parts; upload sizes are already bounded upstream.
func (s *MinioStore) Put(ctx context.Context, tier Tier, key string, r io.Reader) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	info, err := s.client.PutObject(ctx, s.bucket, s.objectName(tier, key), r, -1, minio.PutObjectOptions{})
	if err != nil {
		return 0, &Fault{Tier: tier, Key: key, Op: "put", Err: err}
	}
	return info.Size, nil
}

// Exists reports whether the object is present under the tier prefix.
func (s *MinioStore) Exists(ctx context.Context, tier Tier, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	_, err := s.client.StatObject(ctx, s.bucket, s.objectName(tier, key), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, &Fault{Tier: tier, Key: key, Op: "stat", Err: err}
	}
	return true, nil
}

// Get stats the object first so absence surfaces as ErrNotFound here instead
// of on the first Read of the lazy stream.
func (s *MinioStore) Get(ctx context.Context, tier Tier, key string) (io.ReadCloser, error) {
	ok, err := s.Exists(ctx, tier, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", tier, key, ErrNotFound)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(tier, key), minio.GetObjectOptions{})
	if err != nil {
		return nil, &Fault{Tier: tier, Key: key, Op: "get", Err: err}
	}
	return obj, nil
}

// Delete removes the object. RemoveObject succeeds for absent keys, so
// existence is checked first to report whether anything was deleted.
func (s *MinioStore) Delete(ctx context.Context, tier Tier, key string) (bool, error) {
	ok, err := s.Exists(ctx, tier, key)
	if err != nil || !ok {
		return false, err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, s.objectName(tier, key), minio.RemoveObjectOptions{}); err != nil {
		return false, &Fault{Tier: tier, Key: key, Op: "delete", Err: err}
	}
	return true, nil
}

// List enumerates objects under the tier prefix.
func (s *MinioStore) List(ctx context.Context, tier Tier) ([]ObjectInfo, error) {
	prefix := tier.Dir() + "/"
	var infos []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, &Fault{Tier: tier, Op: "list", Err: obj.Err}
		}
		infos = append(infos, ObjectInfo{Key: obj.Key[len(prefix):], Size: obj.Size})
	}
	return infos, nil
}
