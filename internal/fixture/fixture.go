// Package fixture opens roster files from local disk or S3, transparently
// handling zstd compression by file extension.
package fixture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"github.com/freeeve/lineage/internal/records"
)

// Config controls how s3:// locations are reached. Local paths ignore it.
type Config struct {
	Region          string // default us-east-1
	Endpoint        string // optional, for MinIO and friends
	PathStyle       bool
	AccessKeyID     string // optional, falls back to the default chain
	SecretAccessKey string
	HTTPClient      *http.Client // optional transport override
}

// FromEnv reads LINEAGE_S3_* overrides.
func FromEnv() Config {
	return Config{
		Region:    os.Getenv("LINEAGE_S3_REGION"),
		Endpoint:  os.Getenv("LINEAGE_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("LINEAGE_S3_PATH_STYLE"), "true"),
	}
}

// Location is a parsed source or destination.
type Location struct {
	Bucket string // empty for local files
	Key    string // object key or file path
}

func (l Location) String() string {
	if l.Bucket == "" {
		return l.Key
	}
	return "s3://" + l.Bucket + "/" + l.Key
}

// Compressed reports whether the location names a zstd stream.
func (l Location) Compressed() bool { return strings.HasSuffix(l.Key, ".zst") }

// Parse splits s3://bucket/key, or treats s as a local path.
func Parse(s string) (Location, error) {
	if s == "" {
		return Location{}, fmt.Errorf("empty location")
	}
	rest, ok := strings.CutPrefix(s, "s3://")
	if !ok {
		return Location{Key: s}, nil
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return Location{}, fmt.Errorf("location %q: want s3://bucket/key", s)
	}
	return Location{Bucket: bucket, Key: key}, nil
}

// Store opens and writes roster files.
type Store struct {
	cfg    Config
	client *s3.Client
}

// New returns a Store. The S3 client is built on first use.
func New(cfg Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) s3Client(ctx context.Context) (*s3.Client, error) {
	if s.client != nil {
		return s.client, nil
	}
	region := s.cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if s.cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.AccessKeyID, s.cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = s.cfg.PathStyle
		if s.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.cfg.Endpoint)
		}
		if s.cfg.HTTPClient != nil {
			o.HTTPClient = s.cfg.HTTPClient
		}
	})
	return s.client, nil
}

// Open returns a reader over the decompressed content of loc.
func (s *Store) Open(ctx context.Context, loc Location) (io.ReadCloser, error) {
	var raw io.ReadCloser
	if loc.Bucket == "" {
		f, err := os.Open(loc.Key)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", loc, err)
		}
		raw = f
	} else {
		client, err := s.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: &loc.Bucket, Key: &loc.Key})
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", loc, err)
		}
		raw = out.Body
	}
	if !loc.Compressed() {
		return raw, nil
	}
	dec, err := zstd.NewReader(raw)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("zstd reader %s: %w", loc, err)
	}
	return &zstdReadCloser{dec: dec, raw: raw}, nil
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	raw io.Closer
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.raw.Close()
}

// Write stores data at loc, compressing it first for .zst names.
func (s *Store) Write(ctx context.Context, loc Location, data []byte) error {
	if loc.Compressed() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return fmt.Errorf("zstd writer: %w", err)
		}
		data = enc.EncodeAll(data, nil)
		_ = enc.Close()
	}
	if loc.Bucket == "" {
		if dir := filepath.Dir(loc.Key); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
				return fmt.Errorf("create dirs: %w", err)
			}
		}
		if err := os.WriteFile(loc.Key, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", loc, err)
		}
		return nil
	}
	client, err := s.s3Client(ctx)
	if err != nil {
		return err
	}
	contentType := "text/csv"
	if loc.Compressed() {
		contentType = "application/zstd"
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &loc.Bucket,
		Key:         &loc.Key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", loc, err)
	}
	return nil
}

// LoadRoster reads a CSV roster from src.
func (s *Store) LoadRoster(ctx context.Context, src string) ([]records.Record, error) {
	loc, err := Parse(src)
	if err != nil {
		return nil, err
	}
	rc, err := s.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	recs, err := records.ReadCSV(rc)
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", loc, err)
	}
	return recs, nil
}

// SaveRoster writes recs as CSV to dst.
func (s *Store) SaveRoster(ctx context.Context, dst string, recs []records.Record) error {
	loc, err := Parse(dst)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := records.WriteCSV(&buf, recs); err != nil {
		return err
	}
	return s.Write(ctx, loc, buf.Bytes())
}
