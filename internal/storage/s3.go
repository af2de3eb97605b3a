package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config describes an S3-compatible bucket.
type S3Config struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	// Prefix is prepended to every key, e.g. "prod" stores "prod/<key>".
	Prefix   string
	Insecure bool
}

// S3 stores objects in a bucket through the minio client.
type S3 struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ Backend = (*S3)(nil)

// NewS3 builds a client. Empty keys fall back to IAM instance credentials.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrStorage)
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	secure := !cfg.Insecure && !strings.HasPrefix(cfg.Endpoint, "http://")

	creds := credentials.NewIAM("")
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create s3 client: %v", ErrStorage, err)
	}
	return &S3{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *S3) Kind() Kind { return KindS3 }

func (s *S3) Name() string {
	if s.prefix == "" {
		return "s3://" + s.bucket
	}
	return "s3://" + s.bucket + "/" + s.prefix
}

func (s *S3) sealed() {}

func (s *S3) Save(ctx context.Context, key string, src io.ReadSeeker) error {
	size, err := sizeOf(src)
	if err != nil {
		return fmt.Errorf("%w: measure upload: %v", ErrStorage, err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.objectName(key), src, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("%w: upload %s to %s: %v", ErrStorage, key, s.Name(), err)
	}
	return nil
}

func (s *S3) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	ok, err := s.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: download %s from %s: %v", ErrStorage, key, s.Name(), err)
	}
	return obj, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	ch := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.objectName(prefix),
		Recursive: true,
	})

	keys := []string{}
	for obj := range ch {
		if obj.Err != nil {
			return nil, fmt.Errorf("%w: list %s in %s: %v", ErrStorage, prefix, s.Name(), obj.Err)
		}
		keys = append(keys, s.keyOf(obj.Key))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.objectName(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%w: delete %s from %s: %v", ErrStorage, key, s.Name(), err)
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.objectName(key), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat %s in %s: %v", ErrStorage, key, s.Name(), err)
	}
	return true, nil
}

func (s *S3) objectName(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3) keyOf(objectName string) string {
	if s.prefix == "" {
		return objectName
	}
	return strings.TrimPrefix(objectName, s.prefix+"/")
}
