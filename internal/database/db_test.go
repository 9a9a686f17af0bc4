package database

import (
	"bytes"
	"io/fs"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	body, err := fs.ReadFile(migrations, "migrations/00001_init.sql")
	require.NoError(t, err)
	sql := string(body)
	assert.True(t, strings.HasPrefix(sql, "-- +goose Up"))
	assert.Contains(t, sql, "-- +goose Down")
	for _, table := range []string{"users", "interview_events", "cheaters"} {
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
	// Duplicate detection in the user repository keys off these names.
	assert.Contains(t, sql, "users_email_key")
	assert.Contains(t, sql, "users_username_key")
}

func TestGooseLoggerWritesThroughSlog(t *testing.T) {
	var buf bytes.Buffer
	l := gooseLogger{slog.New(slog.NewTextHandler(&buf, nil))}

	l.Printf("OK   %s (%v)\n", "00001_init.sql", "12ms")

	assert.Contains(t, buf.String(), `msg="OK   00001_init.sql (12ms)"`)
}
