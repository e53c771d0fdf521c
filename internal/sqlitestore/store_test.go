package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgrid/internal/nodestore"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpenIsIdempotent(t *testing.T) {
	_, path := openTemp(t)
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "open iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestOpenUsesWAL(t *testing.T) {
	s, _ := openTemp(t)
	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestStatusUpsertCountsFires(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	run := uuid.NewString()
	key := nodestore.Key{RunID: run, Seq: 7, Actor: "main/add"}

	status, err := s.GetStatus(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, nodestore.StatusPending, status)

	require.NoError(t, s.SetStatus(ctx, key, "kernel", nodestore.StatusRunning, nil))
	require.NoError(t, s.SetStatus(ctx, key, "kernel", nodestore.StatusFailed, errors.New("kernel add failed")))

	status, err = s.GetStatus(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, nodestore.StatusFailed, status)

	recs, err := s.Records(ctx, run)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].Fires)
	assert.Equal(t, "kernel add failed", recs[0].Err)
	assert.Equal(t, uint64(7), recs[0].Seq)
}

func TestRecordsOrdering(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	run := uuid.NewString()
	for _, k := range []nodestore.Key{
		{RunID: run, Seq: 2, Actor: "b"},
		{RunID: run, Seq: 1, Actor: "b"},
		{RunID: run, Seq: 1, Actor: "a"},
		{RunID: "other", Seq: 1, Actor: "a"},
	} {
		require.NoError(t, s.SetStatus(ctx, k, "kernel", nodestore.StatusDone, nil))
	}

	recs, err := s.Records(ctx, run)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "a", recs[0].Actor)
	assert.Equal(t, "b", recs[1].Actor)
	assert.Equal(t, uint64(2), recs[2].Seq)
}

func TestRunRows(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	ok, bad := uuid.NewString(), uuid.NewString()

	require.NoError(t, s.BeginRun(ctx, ok, "prog", "pipeline"))
	require.NoError(t, s.EndRun(ctx, ok, 3, nil))
	require.NoError(t, s.BeginRun(ctx, bad, "prog", "step"))
	require.NoError(t, s.EndRun(ctx, bad, 0, errors.New("boom")))

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, Run{RunID: ok, Program: "prog", Strategy: "pipeline", Steps: 3, Status: "done"}, runs[0])
	assert.Equal(t, "failed", runs[1].Status)
	assert.Equal(t, "boom", runs[1].Err)
}
