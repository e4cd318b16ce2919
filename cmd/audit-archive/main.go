// Command audit-archive copies one window of audit entries to S3-compatible storage as JSON Lines.
// By default it archives the previous UTC day; run it daily from cron.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/archive"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/logging"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store/pgstore"
)

func main() {
	logging.Setup()

	today := time.Now().UTC().Truncate(24 * time.Hour)
	sinceFlag := flag.String("since", today.Add(-24*time.Hour).Format(time.RFC3339), "window start, inclusive (RFC 3339)")
	beforeFlag := flag.String("before", today.Format(time.RFC3339), "window end, exclusive (RFC 3339)")
	flag.Parse()

	since, err := time.Parse(time.RFC3339, *sinceFlag)
	if err != nil {
		slog.Error("invalid -since", "error", err)
		os.Exit(2)
	}
	before, err := time.Parse(time.RFC3339, *beforeFlag)
	if err != nil {
		slog.Error("invalid -before", "error", err)
		os.Exit(2)
	}

	cfg := config.Load()
	if cfg.AuditArchiveBucket == "" {
		slog.Error("AUDIT_ARCHIVE_BUCKET is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := database.Connect(cfg)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	client, err := archive.NewS3Client(ctx, cfg)
	if err != nil {
		slog.Error("s3 client setup failed", "error", err)
		os.Exit(1)
	}

	exporter := archive.NewExporter(pgstore.New(db), client, cfg.AuditArchiveBucket, cfg.AuditArchivePrefix)
	res, err := exporter.Export(ctx, since, before)
	if err != nil {
		slog.Error("audit archive failed", "since", since, "before", before, "error", err)
		os.Exit(1)
	}
	slog.Info("audit archive done", "key", res.Key, "entries", res.Entries)
}
