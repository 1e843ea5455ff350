package results

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Nadiam75/snappify/internal/engines"
)

// S3Config configures an S3-compatible results bucket.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
	UseSSL    bool
}

// S3Store keeps records as JSON objects in a bucket under a key prefix.
type S3Store struct {
	client *minio.Client
	bucket string
	region string
	prefix string
	now    func() time.Time
}

// NewS3Store creates the client. Call EnsureBucket before first use.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 results store requires endpoint and bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		prefix: normalizePrefix(cfg.Prefix),
		now:    time.Now,
	}, nil
}

func normalizePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func (s *S3Store) key(id string) string {
	return path.Join(s.prefix, id+".json")
}

// Save uploads the record.
func (s *S3Store) Save(ctx context.Context, resp *engines.Response) (string, error) {
	rec, data, err := newRecord(resp, s.now())
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.key(rec.ID), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("failed to upload record: %w", err)
	}
	return rec.ID, nil
}

// Get downloads one record.
func (s *S3Store) Get(ctx context.Context, id string) (*Record, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record %s: %w", id, err)
	}
	return &rec, nil
}

// List downloads every record under the prefix.
func (s *S3Store) List(ctx context.Context) ([]Summary, error) {
	out := []Summary{}
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("failed to list results: %w", info.Err)
		}
		id, ok := s.idFromKey(info.Key)
		if !ok {
			continue
		}
		rec, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, rec.summary())
	}
	sortNewest(out)
	return out, nil
}

func (s *S3Store) idFromKey(key string) (string, bool) {
	rest := strings.TrimPrefix(key, s.prefix)
	if strings.Contains(rest, "/") || !strings.HasSuffix(rest, ".json") {
		return "", false
	}
	id := strings.TrimSuffix(rest, ".json")
	return id, validID(id) == nil
}
