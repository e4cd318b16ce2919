// Package archive copies audit entries to object storage as JSON Lines. The database rows are never
// removed; the archive is a cold copy for retention beyond the primary store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store"
)

const pageSize = 500

// Uploader is the subset of *s3.Client the exporter needs.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Exporter struct {
	audit    store.AuditReader
	uploader Uploader
	bucket   string
	prefix   string
}

func NewExporter(audit store.AuditReader, uploader Uploader, bucket, prefix string) *Exporter {
	return &Exporter{audit: audit, uploader: uploader, bucket: bucket, prefix: prefix}
}

type Result struct {
	Key     string
	Entries int
}

// Export uploads every entry created in [since, before) as one object, oldest first.
// An empty window uploads nothing and returns a zero Result.
func (e *Exporter) Export(ctx context.Context, since, before time.Time) (Result, error) {
	if !since.Before(before) {
		return Result{}, errors.New("archive window is empty: since must be before before")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	count := 0
	for offset := 0; ; offset += pageSize {
		entries, _, err := e.audit.ListAudit(ctx, store.AuditFilter{
			Since:     &since,
			Before:    &before,
			Ascending: true,
		}, store.Page{Limit: pageSize, Offset: offset})
		if err != nil {
			return Result{}, fmt.Errorf("list audit entries: %w", err)
		}
		for i := range entries {
			if err := enc.Encode(&entries[i]); err != nil {
				return Result{}, fmt.Errorf("encode audit entry %d: %w", entries[i].ID, err)
			}
		}
		count += len(entries)
		if len(entries) < pageSize {
			break
		}
	}

	if count == 0 {
		slog.Info("audit archive window empty", "since", since, "before", before)
		return Result{}, nil
	}

	key := e.objectKey(since, before)
	if _, err := e.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	}); err != nil {
		return Result{}, fmt.Errorf("upload %s: %w", key, err)
	}

	slog.Info("audit archive uploaded", "bucket", e.bucket, "key", key, "entries", count)
	return Result{Key: key, Entries: count}, nil
}

func (e *Exporter) objectKey(since, before time.Time) string {
	prefix := e.prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	since, before = since.UTC(), before.UTC()
	return fmt.Sprintf("%s%s/audit_%s_%s.jsonl",
		prefix,
		since.Format("2006/01/02"),
		since.Format("20060102T150405Z"),
		before.Format("20060102T150405Z"),
	)
}

// NewS3Client builds a client from the S3_* settings. Static credentials and a custom endpoint are optional;
// without them the default AWS credential chain and endpoint resolution apply.
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
