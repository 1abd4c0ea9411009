package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectCreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "transcripts.db")

	db, err := Connect(context.Background(), path, zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	db, err := Connect(ctx, filepath.Join(t.TempDir(), "transcripts.db"), zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	applied, err := Migrate(ctx, db, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	version, err := Version(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	_, err = db.ExecContext(ctx,
		`INSERT INTO conversation_turns (conversation_id, role, turn_data) VALUES (?, ?, ?)`,
		"s1", "user", `{"role":"user","content":"hi"}`)
	require.NoError(t, err)

	// Already current
	applied, err = Migrate(ctx, db, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
}

func TestDSNPassthrough(t *testing.T) {
	dsn, err := dsnFor("libsql://coffee.turso.io?authToken=x", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "libsql://coffee.turso.io?authToken=x", dsn)
}
