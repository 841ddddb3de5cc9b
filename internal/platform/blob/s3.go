// Package blob stores exported artifacts in S3-compatible object storage.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"
)

// Config describes the bucket connection.
type Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the AWS endpoint, e.g. for MinIO. Path-style addressing is
	// used when set.
	Endpoint string
	Prefix   string
}

// ErrNotConfigured is returned when no bucket is configured.
var ErrNotConfigured = errors.New("blob: bucket not configured")

// putter is the subset of the S3 client the store uses.
type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Object is a stored artifact.
type Object struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Store uploads objects under time-sortable keys.
type Store struct {
	client   putter
	bucket   string
	region   string
	endpoint string
	prefix   string
	now      func() time.Time
}

// New builds a Store from static credentials.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	sdkConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blob: load aws config: %w", err)
	}
	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newStore(client, cfg), nil
}

func newStore(client putter, cfg Config) *Store {
	return &Store{
		client:   client,
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		prefix:   strings.Trim(cfg.Prefix, "/"),
		now:      time.Now,
	}
}

// Key builds the object key for name: <prefix>/<yyyy>/<mm>/<ulid>-<name>.
func (s *Store) Key(name string) string {
	now := s.now().UTC()
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy())
	key := path.Join(now.Format("2006"), now.Format("01"), id.String()+"-"+path.Base(name))
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	return key
}

// Put uploads data as one complete object.
func (s *Store) Put(ctx context.Context, name string, data []byte, contentType string) (Object, error) {
	key := s.Key(name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return Object{}, fmt.Errorf("blob: put %s: %w", key, err)
	}
	return Object{Key: key, URL: s.url(key)}, nil
}

func (s *Store) url(key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
