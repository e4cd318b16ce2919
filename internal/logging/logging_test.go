package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestTee_FansOutByLevel(t *testing.T) {
	var infoBuf, errBuf bytes.Buffer
	info := slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	errOnly := slog.NewJSONHandler(&errBuf, &slog.HandlerOptions{Level: slog.LevelError})
	logger := slog.New(Tee(info, errOnly)).With("request_id", "01J0")

	logger.Debug("dropped everywhere")
	logger.Info("granted")
	logger.Error("store down")

	assert.Equal(t, 2, bytes.Count(infoBuf.Bytes(), []byte("\n")))
	assert.Equal(t, 1, bytes.Count(errBuf.Bytes(), []byte("\n")))
	assert.Contains(t, errBuf.String(), `"request_id":"01J0"`)
}

type failingSink struct{ slog.Handler }

func (failingSink) Handle(context.Context, slog.Record) error { return errors.New("sink offline") }

func TestTee_FailingSinkDoesNotStarveOthers(t *testing.T) {
	var buf bytes.Buffer
	stdout := slog.NewJSONHandler(&buf, nil)
	h := Tee(failingSink{slog.NewJSONHandler(io.Discard, nil)}, stdout)

	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelError, "revoke failed", 0))
	assert.EqualError(t, err, "sink offline")
	assert.Contains(t, buf.String(), "revoke failed")
}

func TestPrune_DeletesOlderThanCutoff(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB, PreferSimpleProtocol: true}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	require.NoError(t, err)

	cutoff := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM "system_logs" WHERE timestamp < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := Prune(context.Background(), db, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 7, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGHandler_MapsAttributes(t *testing.T) {
	h := &PGHandler{sink: &pgSink{}}
	assert.False(t, h.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))

	derived := h.WithAttrs([]slog.Attr{slog.String("request_id", "01J0ABC")})
	rec := slog.NewRecord(time.Now(), slog.LevelError, "grant failed", 0)
	rec.AddAttrs(
		slog.String("actor_id", "mod-1"),
		slog.String("action", "grant_premium"),
		slog.String("error", "boom"),
		slog.Float64("latency_ms", 12.6),
		slog.String("path", "/api/mod/users/x/grant-premium"),
	)
	require.NoError(t, derived.Handle(context.Background(), rec))

	require.Len(t, h.sink.buffer, 1)
	got := h.sink.buffer[0]
	assert.Equal(t, "01J0ABC", got.RequestID)
	require.NotNil(t, got.UserID)
	assert.Equal(t, "mod-1", *got.UserID)
	assert.Equal(t, "grant_premium", got.Action)
	assert.Equal(t, "boom", got.Error)
	assert.Equal(t, 13, got.LatencyMs)

	var extra map[string]any
	require.NoError(t, json.Unmarshal(got.Extra, &extra))
	assert.Equal(t, "/api/mod/users/x/grant-premium", extra["path"])
}
