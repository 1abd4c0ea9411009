package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/db"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/history"
)

func writeConfig(t *testing.T) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "transcripts.db")
	configPath = filepath.Join(dir, "config.yaml")
	cfg := "log:\n  level: error\n  pretty: false\n" +
		"database:\n  enabled: true\n  dsn: " + dbPath + "\n"
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o600))
	return configPath, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	configPath, _ := writeConfig(t)

	out, err := execute(t, "--config", configPath, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "applied 1 migration(s), schema version 1\n", out)

	out, err = execute(t, "--config", configPath, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "applied 0 migration(s), schema version 1\n", out)
}

func TestHistoryExport(t *testing.T) {
	configPath, dbPath := writeConfig(t)
	ctx := context.Background()

	conn, err := db.Connect(ctx, dbPath, zerolog.Nop())
	require.NoError(t, err)
	_, err = db.Migrate(ctx, conn, zerolog.Nop())
	require.NoError(t, err)
	store := adapters.NewLibSQLConversationStore(conn)
	now := time.Now().UTC()
	require.NoError(t, store.SaveTurn(ctx, "c-42", ports.Turn{Role: "user", Content: "what is a flat white?", CreatedAt: now}))
	require.NoError(t, store.SaveTurn(ctx, "c-42", ports.Turn{Role: "assistant", Content: "Espresso with microfoam.", Decision: "no-tool", CreatedAt: now}))
	require.NoError(t, conn.Close())

	out, err := execute(t, "--config", configPath, "history", "export", "c-42", "--format", "json")
	require.NoError(t, err)

	var got history.Transcript
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "c-42", got.ConversationID)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, "what is a flat white?", got.Turns[0].Content)
	assert.Equal(t, "no-tool", got.Turns[1].Decision)

	out, err = execute(t, "--config", configPath, "history", "list")
	require.NoError(t, err)
	assert.Equal(t, "c-42\n", out)

	_, err = execute(t, "--config", configPath, "history", "export", "missing")
	assert.ErrorContains(t, err, "not found")

	_, err = execute(t, "--config", configPath, "history", "export", "c-42", "--format", "csv")
	assert.ErrorContains(t, err, "unsupported format")
}
