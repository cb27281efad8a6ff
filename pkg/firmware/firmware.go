// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package firmware loads firmware images for OTA updates from a local file
// or an S3 bucket.
package firmware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var (
	// ErrNotFound is returned when the file or S3 object does not exist
	ErrNotFound = errors.New("firmware file not found")

	// ErrUnsupportedFormat is returned for sources without the .bin extension
	ErrUnsupportedFormat = errors.New("unsupported firmware format (only .bin)")

	// ErrEmpty is returned when the image has no bytes
	ErrEmpty = errors.New("firmware file is empty")

	// ErrTooLarge is returned when the image exceeds the loader's maximum size
	ErrTooLarge = errors.New("firmware file is too large")
)

// Extension is the only accepted image format
const Extension = ".bin"

// DefaultMaxSize bounds an image. The length field of the update header is 32 bits.
const DefaultMaxSize = 16 << 20

// DefaultRegion is used when AWS_REGION is unset
const DefaultRegion = "us-east-1"

// ObjectGetter is the part of *s3.Client the loader needs
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Loader reads firmware images
type Loader struct {
	maxSize int64

	s3Once sync.Once
	s3     ObjectGetter
}

// Option configures a Loader
type Option func(*Loader)

// WithS3Client sets the S3 client. Default: built from the environment on first use.
func WithS3Client(c ObjectGetter) Option {
	return func(l *Loader) { l.s3 = c }
}

// WithMaxSize sets the largest accepted image
func WithMaxSize(n int64) Option {
	return func(l *Loader) { l.maxSize = n }
}

// NewLoader creates a Loader
func NewLoader(opts ...Option) *Loader {
	l := &Loader{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the image at source with a default Loader
func Load(ctx context.Context, source string) ([]byte, error) {
	return NewLoader().Load(ctx, source)
}

// Load reads the image at source, a local path or s3://bucket/key.
// Both forms must name a non-empty .bin object.
func (l *Loader) Load(ctx context.Context, source string) ([]byte, error) {
	if bucket, key, ok, err := parseS3(source); ok {
		if err != nil {
			return nil, err
		}
		return l.loadS3(ctx, bucket, key)
	}
	return l.loadFile(source)
}

func (l *Loader) loadFile(path string) ([]byte, error) {
	if !strings.EqualFold(filepath.Ext(path), Extension) {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open firmware: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat firmware: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", path, ErrNotFound)
	}

	return l.readAll(path, f)
}

func (l *Loader) loadS3(ctx context.Context, bucket, key string) ([]byte, error) {
	name := "s3://" + bucket + "/" + key
	if !strings.EqualFold(filepath.Ext(key), Extension) {
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedFormat)
	}

	out, err := l.client().GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		var noBucket *types.NoSuchBucket
		if errors.As(err, &noKey) || errors.As(err, &noBucket) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("s3 download failed: %w", err)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && l.maxSize > 0 && *out.ContentLength > l.maxSize {
		return nil, fmt.Errorf("%s (%d bytes): %w", name, *out.ContentLength, ErrTooLarge)
	}
	return l.readAll(name, out.Body)
}

func (l *Loader) readAll(name string, r io.Reader) ([]byte, error) {
	if l.maxSize > 0 {
		r = io.LimitReader(r, l.maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmpty)
	}
	if l.maxSize > 0 && int64(len(data)) > l.maxSize {
		return nil, fmt.Errorf("%s: %w", name, ErrTooLarge)
	}
	return data, nil
}

func (l *Loader) client() ObjectGetter {
	l.s3Once.Do(func() {
		if l.s3 == nil {
			l.s3 = newS3Client()
		}
	})
	return l.s3
}

// newS3Client builds a client from AWS_REGION, AWS_ACCESS_KEY_ID,
// AWS_SECRET_ACCESS_KEY, AWS_SESSION_TOKEN and, for S3-compatible stores,
// AWS_ENDPOINT_URL.
func newS3Client() *s3.Client {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = DefaultRegion
	}

	opts := s3.Options{
		Region:      region,
		Credentials: aws.NewCredentialsCache(aws.CredentialsProviderFunc(envCredentials)),
	}
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

func envCredentials(context.Context) (aws.Credentials, error) {
	id := os.Getenv("AWS_ACCESS_KEY_ID")
	secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if id == "" || secret == "" {
		return aws.Credentials{}, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "environment",
	}, nil
}

// parseS3 splits s3://bucket/key. ok reports whether source uses the s3 scheme.
func parseS3(source string) (bucket, key string, ok bool, err error) {
	rest, found := strings.CutPrefix(source, "s3://")
	if !found {
		return "", "", false, nil
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", true, fmt.Errorf("invalid s3 source %q (want s3://bucket/key)", source)
	}
	return bucket, key, true, nil
}
