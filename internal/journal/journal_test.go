package journal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/toolport/config"
)

func newMemoryJournal(t *testing.T, opts Options) *Journal {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	opts.MaxOpenConns = 1
	j, err := New(db, opts, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j := newMemoryJournal(t, Options{})
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, j.Record(ctx, Entry{
			Server:    "context7",
			Tool:      fmt.Sprintf("tool-%d", i),
			Outcome:   "ok",
			Duration:  time.Duration(i+1) * time.Millisecond,
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, j.Record(ctx, Entry{
		Server:    "figma",
		Tool:      "get_document_info",
		Outcome:   "session_not_established",
		Err:       errors.New("requires a session"),
		StartedAt: base.Add(time.Minute),
	}))

	all, err := j.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "figma", all[0].Server)
	assert.Equal(t, "requires a session", all[0].Error)
	_, err = uuid.Parse(all[0].ID)
	assert.NoError(t, err)

	c7, err := j.Recent(ctx, "context7", 2)
	require.NoError(t, err)
	require.Len(t, c7, 2)
	assert.Equal(t, "tool-2", c7[0].Tool)
	assert.Equal(t, "tool-1", c7[1].Tool)
	assert.Equal(t, int64(3), c7[0].DurationMS)
	assert.Empty(t, c7[0].Arguments)
}

func TestJournal_RecordArguments(t *testing.T) {
	j := newMemoryJournal(t, Options{RecordArguments: true})
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, Entry{
		Server:    "figma",
		Tool:      "create_rectangle",
		Arguments: map[string]any{"x": 100, "name": "Test"},
		Outcome:   "ok",
		ToolError: true,
	}))
	recs, err := j.Recent(ctx, "figma", 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.JSONEq(t, `{"x":100,"name":"Test"}`, recs[0].Arguments)
	assert.True(t, recs[0].ToolError)
	assert.False(t, recs[0].CreatedAt.IsZero())
}

func TestJournal_Prune(t *testing.T) {
	j := newMemoryJournal(t, Options{})
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, j.Record(ctx, Entry{Server: "s", Tool: "old", StartedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, j.Record(ctx, Entry{Server: "s", Tool: "new", StartedAt: now}))

	n, err := j.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recs, err := j.Recent(ctx, "s", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].Tool)
}

func TestJournal_Closed(t *testing.T) {
	j := newMemoryJournal(t, Options{})
	require.NoError(t, j.Ping(context.Background()))
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	assert.Error(t, j.Record(context.Background(), Entry{Server: "s"}))
	_, err := j.Recent(context.Background(), "", 1)
	assert.Error(t, err)
	assert.Error(t, j.Ping(context.Background()))
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(config.JournalConfig{Enabled: true, Driver: "sqlite", DSN: path}, nil)
	require.NoError(t, err)
	require.NoError(t, j.Record(context.Background(), Entry{Server: "s", Tool: "t"}))
	require.NoError(t, j.Close())

	// 重新打开后记录仍在
	j, err = Open(config.JournalConfig{Driver: "sqlite", DSN: path}, nil)
	require.NoError(t, err)
	defer j.Close()
	recs, err := j.Recent(context.Background(), "s", 5)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, err = Open(config.JournalConfig{Driver: "oracle", DSN: "x"}, nil)
	assert.ErrorContains(t, err, "unsupported journal driver")
}

func TestNew_NilDB(t *testing.T) {
	_, err := New(nil, Options{}, nil)
	assert.Error(t, err)
}
