package database

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/database/migrations"
)

func mockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB, PreferSimpleProtocol: true}), &gorm.Config{
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestMigrations_DeclareAppendOnlyTriggers(t *testing.T) {
	names, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	var all strings.Builder
	for _, n := range names {
		b, err := migrations.FS.ReadFile(n)
		require.NoError(t, err)
		assert.Contains(t, string(b), "-- +goose Up", n)
		all.Write(b)
	}
	sql := all.String()
	assert.Contains(t, sql, "BEFORE UPDATE OR DELETE ON entitlement_records")
	assert.Contains(t, sql, "BEFORE UPDATE OR DELETE ON audit_log")
	assert.Contains(t, sql, "CONSTRAINT users_external_subject_id_key UNIQUE (external_subject_id)")
}

func TestMigrate_PropagatesGooseError(t *testing.T) {
	db, _ := mockDB(t)
	orig := gooseUp
	t.Cleanup(func() { gooseUp = orig })

	gooseUp = func(context.Context, *gorm.DB) error { return errors.New("lock timeout") }
	err := Migrate(context.Background(), db)
	assert.ErrorContains(t, err, "lock timeout")

	gooseUp = func(context.Context, *gorm.DB) error { return nil }
	assert.NoError(t, Migrate(context.Background(), db))
}

func TestPing(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectPing()
	require.NoError(t, Ping(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
