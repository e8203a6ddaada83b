// Package objectstore provides the narrow blob-storage abstraction the
// import pipeline and chunk cache use to durably persist encrypted chunks:
// spec.md §4.2's {Put, Get, Delete, Exists, CreateBucketIfMissing}. It is
// grounded on the teacher's internal/s3.Client, narrowed to the operations
// this engine actually needs (no listing, no per-object metadata) and with
// errors classified into the engine's own taxonomy instead of returned raw.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/kenneth/bae-engine/internal/config"
	"github.com/kenneth/bae-engine/internal/errs"
)

// Store is the narrow object-storage capability spec.md §4.2 requires of
// its chunk backend.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	CreateBucketIfMissing(ctx context.Context) error
}

// S3Store implements Store over any S3-compatible backend via AWS SDK v2.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store constructs a backend client from the storage section of the
// engine config, applying provider-specific endpoint/path-style quirks the
// way the teacher's internal/s3.NewClient does.
func NewS3Store(ctx context.Context, cfg config.StorageConfig) (*S3Store, error) {
	if cfg.Endpoint != "" {
		if err := ValidateEndpoint(cfg.Endpoint); err != nil {
			return nil, errs.Wrap(errs.KindConfig, "objectstore", "invalid endpoint", err)
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "objectstore", "failed to load AWS config", err)
	}

	pathStyle := cfg.ForcePathStyle || RequiresPathStyleAddressing(cfg.Provider)

	opts := []func(*s3.Options){
		func(o *s3.Options) { o.UsePathStyle = pathStyle },
	}
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
	}, nil
}

// Put uploads data under key, overwriting any existing object.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return classify("objectstore", fmt.Sprintf("put %s", key), err)
	}
	return nil
}

// Get retrieves and fully buffers the object stored under key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("objectstore", fmt.Sprintf("get %s", key), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorageTransient, "objectstore", fmt.Sprintf("read body for %s", key), err)
	}
	return data, nil
}

// Delete removes the object stored under key. Deleting a missing key is
// not an error (S3 semantics).
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify("objectstore", fmt.Sprintf("delete %s", key), err)
	}
	return nil
}

// Exists reports whether key is present without downloading its body.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return false, nil
	}
	return false, classify("objectstore", fmt.Sprintf("head %s", key), err)
}

// Ping verifies the configured bucket is reachable, for readiness reporting.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return classify("objectstore", "head bucket", err)
	}
	return nil
}

// CreateBucketIfMissing ensures the configured bucket exists, ignoring the
// "already own/exists" errors every provider reports differently.
func (s *S3Store) CreateBucketIfMissing(ctx context.Context) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}
	var alreadyOwned *s3types.BucketAlreadyOwnedByYou
	if errors.As(err, &alreadyOwned) {
		return nil
	}
	var alreadyExists *s3types.BucketAlreadyExists
	if errors.As(err, &alreadyExists) {
		return nil
	}
	return classify("objectstore", "create bucket", err)
}

// classify maps a raw AWS SDK error into the engine's transient/permanent
// storage taxonomy (spec.md §7): 5xx, 429 and network-level failures are
// transient and worth retrying; every other status (4xx auth/validation)
// is permanent.
func classify(component, action string, err error) error {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		if respErr.HTTPStatusCode() >= 500 || respErr.HTTPStatusCode() == 429 {
			return errs.Wrap(errs.KindStorageTransient, component, action, err)
		}
		return errs.Wrap(errs.KindStoragePermanent, component, action, err)
	}
	// No HTTP status available: treat as transient (DNS failures, dropped
	// connections, timeouts all land here) so the caller's retry loop gets
	// a chance.
	return errs.Wrap(errs.KindStorageTransient, component, action, err)
}
