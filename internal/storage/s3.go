package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rowjay/postgres-backup-s3/internal/config"
)

const (
	defaultEndpoint = "s3.amazonaws.com"
	// DefaultPartSize is used when the stream length is unknown.
	DefaultPartSize = 8 << 20
)

type S3 struct {
	Client *minio.Client
	Bucket string
}

// Endpoint splits an S3_ENDPOINT URL into the host minio expects and the TLS flag.
func Endpoint(raw string) (host string, secure bool, err error) {
	if raw == "" {
		return defaultEndpoint, true, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("endpoint %q has no host", raw)
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("endpoint %q: unsupported scheme %q", raw, u.Scheme)
	}
}

func NewS3(cfg config.S3Store) (*S3, error) {
	host, secure, err := Endpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	lookup := minio.BucketLookupAuto
	if cfg.ForcePathStyle {
		lookup = minio.BucketLookupPath
	}
	client, err := minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, err
	}
	return &S3{Client: client, Bucket: cfg.Bucket}, nil
}

// PartSize picks the multipart part size for a stream of roughly expected bytes.
func PartSize(expected int64) (uint64, error) {
	if expected <= 0 {
		return DefaultPartSize, nil
	}
	_, part, _, err := minio.OptimalPartInfo(expected, 0)
	if err != nil {
		return 0, err
	}
	if part < DefaultPartSize {
		return DefaultPartSize, nil
	}
	return uint64(part), nil
}

func (s *S3) Put(ctx context.Context, key string, reader io.Reader, opts PutOptions) error {
	partSize, err := PartSize(opts.ExpectedSize)
	if err != nil {
		return fmt.Errorf("size parts for %s: %w", key, err)
	}
	_, err = s.Client.PutObject(ctx, s.Bucket, key, reader, -1, minio.PutObjectOptions{
		UserMetadata: opts.Metadata,
		ContentType:  "application/octet-stream",
		PartSize:     partSize,
	})
	return err
}

func (s *S3) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.Client.GetObject(ctx, s.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapNotFound(key, err)
	}
	return obj, nil
}

func (s *S3) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	stat, err := s.Client.StatObject(ctx, s.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, mapNotFound(key, err)
	}
	return ObjectInfo{Key: key, Size: stat.Size, Modified: stat.LastModified, ETag: stat.ETag, Metadata: stat.UserMetadata}, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ch := s.Client.ListObjects(ctx, s.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	infos := []ObjectInfo{}
	for obj := range ch {
		if obj.Err != nil {
			return nil, obj.Err
		}
		infos = append(infos, ObjectInfo{Key: obj.Key, Size: obj.Size, Modified: obj.LastModified, ETag: obj.ETag})
	}
	return infos, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	return s.Client.RemoveObject(ctx, s.Bucket, key, minio.RemoveObjectOptions{})
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Stat(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func mapNotFound(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return err
}
