package sinks

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // MD5 used for checksums, not cryptography
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"

	"github.com/airframesio/epias-extractor/cmd/compressors"
	"github.com/airframesio/epias-extractor/cmd/formatters"
)

const (
	// multipartThreshold switches uploads to s3manager.
	multipartThreshold = 100 * 1024 * 1024
	// multipartPartSize matches the s3manager.Uploader default.
	multipartPartSize = 5 * 1024 * 1024

	workbookMIMEType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	ErrS3ClientNotInitialized   = errors.New("S3 client not initialized")
	ErrS3UploaderNotInitialized = errors.New("S3 uploader not initialized")
)

// S3Config describes the bucket and the raw dump encoding.
type S3Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	PathTemplate string
	// Format is one of the formatters (jsonl, csv, parquet).
	Format string
	// Compression is one of the compressors; parquet compresses internally.
	Compression      string
	CompressionLevel int
}

// S3Sink uploads the raw dump and the workbook of a batch.
type S3Sink struct {
	client    s3iface.S3API
	uploader  s3manageriface.UploaderAPI
	config    S3Config
	template  *PathTemplate
	logger    *slog.Logger
	threshold int
}

// NewS3Session opens an AWS session for an S3 compatible endpoint.
func NewS3Session(cfg S3Config) (*session.Session, error) {
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(cfg.Endpoint),
		Region:           aws.String(cfg.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}
	return sess, nil
}

// NewS3Sink connects to the configured endpoint.
func NewS3Sink(cfg S3Config, logger *slog.Logger) (*S3Sink, error) {
	sess, err := NewS3Session(cfg)
	if err != nil {
		return nil, err
	}
	return NewS3SinkWithClient(s3.New(sess), s3manager.NewUploader(sess), cfg, logger), nil
}

// NewS3SinkWithClient uses existing clients.
func NewS3SinkWithClient(client s3iface.S3API, uploader s3manageriface.UploaderAPI, cfg S3Config, logger *slog.Logger) *S3Sink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Format == "" {
		cfg.Format = formatters.FormatJSONL
	}
	return &S3Sink{
		client:    client,
		uploader:  uploader,
		config:    cfg,
		template:  NewPathTemplate(cfg.PathTemplate),
		logger:    logger,
		threshold: multipartThreshold,
	}
}

func (s *S3Sink) Name() string {
	return "s3"
}

// Publish writes the raw dump and, when present, the workbook next to it.
func (s *S3Sink) Publish(ctx context.Context, batch *Batch) error {
	prefix := s.template.Generate(batch)

	data, filename, contentType, err := s.encode(batch)
	if err != nil {
		return err
	}
	if err := s.put(ctx, ObjectKey(prefix, filename), data, contentType); err != nil {
		return err
	}

	if len(batch.Workbook) > 0 {
		key := ObjectKey(prefix, GenerateFilename(batch, ".xlsx", ""))
		if err := s.put(ctx, key, batch.Workbook, workbookMIMEType); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3Sink) Close() error {
	return nil
}

// encode renders the raw dump and returns its bytes, file name and content type.
func (s *S3Sink) encode(batch *Batch) ([]byte, string, string, error) {
	formatter := formatters.GetFormatterWithCompression(s.config.Format, s.config.Compression)
	data, err := formatter.Format(batch.Records)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to format records: %w", err)
	}

	if formatters.UsesInternalCompression(s.config.Format) {
		return data, GenerateFilename(batch, formatter.Extension(), ""), formatter.MIMEType(), nil
	}

	compressor, err := compressors.GetCompressor(s.config.Compression)
	if err != nil {
		return nil, "", "", err
	}
	level := s.config.CompressionLevel
	if level == 0 {
		level = compressor.DefaultLevel()
	}
	compressed, err := compressor.Compress(data, level)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to compress records: %w", err)
	}

	contentType := formatter.MIMEType()
	if ct := compressionMIMEType(compressor.Extension()); ct != "" {
		contentType = ct
	}
	return compressed, GenerateFilename(batch, formatter.Extension(), compressor.Extension()), contentType, nil
}

func compressionMIMEType(ext string) string {
	switch ext {
	case ".zst":
		return "application/zstd"
	case ".gz":
		return "application/gzip"
	case ".lz4":
		return "application/x-lz4"
	}
	return ""
}

// put uploads data unless an identical object is already stored.
func (s *S3Sink) put(ctx context.Context, key string, data []byte, contentType string) error {
	if exists, size, etag := s.headObject(ctx, key); exists && size == int64(len(data)) {
		if strings.Trim(etag, "\"") == calculateETag(data, s.threshold) {
			s.logger.Debug(fmt.Sprintf("  ⏭️  s3://%s/%s is up to date", s.config.Bucket, key))
			return nil
		}
	}

	s.logger.Debug(fmt.Sprintf("  ☁️  Uploading to s3://%s/%s (size: %d bytes)", s.config.Bucket, key, len(data)))

	if len(data) > s.threshold {
		if s.uploader == nil {
			return ErrS3UploaderNotInitialized
		}
		_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket:      aws.String(s.config.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
		return nil
	}

	if s.client == nil {
		return ErrS3ClientNotInitialized
	}
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func (s *S3Sink) headObject(ctx context.Context, key string) (bool, int64, string) {
	if s.client == nil {
		return false, 0, ""
	}
	result, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, 0, ""
	}
	return true, aws.Int64Value(result.ContentLength), aws.StringValue(result.ETag)
}

// calculateETag reproduces the ETag S3 assigns: a plain MD5 for single part
// uploads, and the MD5 of the part digests suffixed with the part count for
// multipart uploads.
func calculateETag(data []byte, threshold int) string {
	if len(data) <= threshold {
		sum := md5.Sum(data) //nolint:gosec
		return hex.EncodeToString(sum[:])
	}

	numParts := (len(data) + multipartPartSize - 1) / multipartPartSize
	var partMD5s []byte
	for i := 0; i < numParts; i++ {
		start := i * multipartPartSize
		end := start + multipartPartSize
		if end > len(data) {
			end = len(data)
		}
		sum := md5.Sum(data[start:end]) //nolint:gosec
		partMD5s = append(partMD5s, sum[:]...)
	}
	sum := md5.Sum(partMD5s) //nolint:gosec
	return fmt.Sprintf("%s-%d", hex.EncodeToString(sum[:]), numParts)
}
