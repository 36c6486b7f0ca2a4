package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/zulandar/almanac/internal/config"
)

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store keeps one JSON envelope per key in a bucket:
// <prefix>/<kind>/<org>/<sub-key>.json. Version checks are enforced within
// one process only; S3 offers no compare-and-swap across writers.
type S3Store struct {
	client s3API
	bucket string
	prefix string
	mu     sync.Mutex
}

// NewS3 builds an S3 client from cfg using the default AWS credential
// chain unless static keys are configured.
func NewS3(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("store: s3 bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("store: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3WithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3WithClient(client s3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Store) base(parts ...string) string {
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return path.Join(parts...)
}

func (s *S3Store) objectKey(key Key) string {
	sub := key.SubKey
	if sub == "" {
		sub = emptySubKey
	}
	return s.base(escapeSegment(key.Kind), escapeSegment(key.OrgID), escapeSegment(sub)+fileExt)
}

func (s *S3Store) Get(ctx context.Context, key Key) (*Object, error) {
	env, err := s.read(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Object{Key: key, Data: []byte(env.Data), Version: env.Version, UpdatedAt: env.UpdatedAt}, nil
}

func (s *S3Store) read(ctx context.Context, key Key) (*envelope, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("store: get %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", key, err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("store: decode envelope %s: %w", key, err)
	}
	return &env, nil
}

func (s *S3Store) Put(ctx context.Context, key Key, data []byte, expectVersion int64) (*Object, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("store: put %s: data is not valid JSON", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	existing, err := s.read(ctx, key)
	switch {
	case err == nil:
		current = existing.Version
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	if err := checkVersion(key, existing != nil, current, expectVersion); err != nil {
		return nil, err
	}

	env := envelope{Version: current + 1, UpdatedAt: time.Now().UTC(), Data: json.RawMessage(data)}
	encoded, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("store: encode envelope %s: %w", key, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(encoded),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("store: put %s: %w", key, err)
	}
	return &Object{Key: key, Data: data, Version: env.Version, UpdatedAt: env.UpdatedAt}, nil
}

func (s *S3Store) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// DeleteObject succeeds on missing keys, so existence is checked first.
	if _, err := s.read(ctx, key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("store: delete %s: %w", key, ErrNotFound)
		}
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, kind, orgID string) ([]Key, error) {
	prefix := s.base(escapeSegment(kind)) + "/"
	if orgID != "" {
		prefix = s.base(escapeSegment(kind), escapeSegment(orgID)) + "/"
	}

	var keys []Key
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("store: list %s: %w", kind, err)
		}
		for _, obj := range page.Contents {
			k, ok := s.parseObjectKey(kind, aws.ToString(obj.Key))
			if ok {
				keys = append(keys, k)
			}
		}
	}
	sortKeys(keys)
	return keys, nil
}

// parseObjectKey turns "<prefix>/<kind>/<org>/<sub>.json" back into a Key.
func (s *S3Store) parseObjectKey(kind, objectKey string) (Key, bool) {
	rest := strings.TrimPrefix(objectKey, s.base(escapeSegment(kind))+"/")
	if rest == objectKey || !strings.HasSuffix(rest, fileExt) {
		return Key{}, false
	}
	org, sub, ok := strings.Cut(strings.TrimSuffix(rest, fileExt), "/")
	if !ok || strings.Contains(sub, "/") {
		return Key{}, false
	}
	org, err := url.PathUnescape(org)
	if err != nil {
		return Key{}, false
	}
	sub, err = url.PathUnescape(sub)
	if err != nil {
		return Key{}, false
	}
	if sub == emptySubKey {
		sub = ""
	}
	return Key{Kind: kind, OrgID: org, SubKey: sub}, true
}

// isS3NotFound classifies the SDK's several ways of saying "no such key".
func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
