package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ryze.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCommitFileLastWriteWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.CommitFile(ctx, "p1", "run-1", "ui-plan.json", `{"components":[]}`)
	require.NoError(t, err)
	assert.False(t, first.Replaced())
	assert.Equal(t, len(`{"components":[]}`), first.Additions)

	second, err := s.CommitFile(ctx, "p1", "run-2", "ui-plan.json", `{"components":[1]}`)
	require.NoError(t, err)
	require.True(t, second.Replaced())
	assert.Equal(t, `{"components":[]}`, *second.Original)
	assert.Equal(t, 1, second.Additions)
	assert.Equal(t, 0, second.Deletions)

	f, err := s.File(ctx, "p1", "ui-plan.json")
	require.NoError(t, err)
	assert.Equal(t, `{"components":[1]}`, f.Content)

	files, err := s.Files(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, files, 1)

	changes, err := s.Changes(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "run-2", changes[0].RunID)
	assert.Nil(t, changes[1].Original)
}

func TestCommitFilesIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CommitFile(ctx, "p1", "run-1", "src/a.tsx", "old")
	require.NoError(t, err)

	_, err = s.CommitFiles(ctx, "p1", "run-2", []FileWrite{
		{Path: "src/a.tsx", Content: "new"},
		{Path: "", Content: "orphan"},
	})
	require.ErrorIs(t, err, ErrEmptyPath)

	f, err := s.File(ctx, "p1", "src/a.tsx")
	require.NoError(t, err)
	assert.Equal(t, "old", f.Content)

	changes, err := s.Changes(ctx, "p1", 10)
	require.NoError(t, err)
	assert.Len(t, changes, 1)

	batch, err := s.CommitFiles(ctx, "p1", "run-3", []FileWrite{
		{Path: "src/a.tsx", Content: "new"},
		{Path: "src/b.tsx", Content: "b"},
	})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.True(t, batch[0].Replaced())
	assert.False(t, batch[1].Replaced())

	files, err := s.Files(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFilesAreScopedPerProject(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CommitFile(ctx, "a", "r", "src/App.tsx", "a")
	require.NoError(t, err)
	_, err = s.CommitFile(ctx, "b", "r", "src/App.tsx", "b")
	require.NoError(t, err)
	_, err = s.CommitFile(ctx, "a", "r", "src/Button.tsx", "btn")
	require.NoError(t, err)

	files, err := s.Files(ctx, "a")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "src/App.tsx", files[0].Path)
	assert.Equal(t, "src/Button.tsx", files[1].Path)

	_, err = s.File(ctx, "b", "src/Button.tsx")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.SaveRun(ctx, RunRecord{
		ID: "r1", ProjectID: "p1", Prompt: "landing page", Mode: "ui_plan",
		Outcome: "SUCCESS", Attempts: 1, StartedAt: base, FinishedAt: base.Add(time.Second),
	}))
	require.NoError(t, s.SaveRun(ctx, RunRecord{
		ID: "r2", ProjectID: "p1", Prompt: "dashboard", Mode: "code",
		Outcome: "FAILED", Reason: "validation_exhausted", Attempts: 4,
		Errors:    []string{"invalid type 'Carousel'"},
		StartedAt: base.Add(time.Minute), FinishedAt: base.Add(2 * time.Minute),
	}))

	runs, err := s.Runs(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)
	assert.Equal(t, []string{"invalid type 'Carousel'"}, runs[0].Errors)
	assert.Nil(t, runs[1].Errors)
	assert.True(t, runs[1].StartedAt.Equal(base))

	prompt, mode, err := s.LastPrompt(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "dashboard", prompt)
	assert.Equal(t, "code", mode)

	_, _, err = s.LastPrompt(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEmbeddingCache(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.CachedEmbedding(ctx, "nomic", "hello")
	require.NoError(t, err)
	assert.False(t, ok)

	vec := []float32{0.25, -1.5, 3}
	require.NoError(t, s.PutEmbedding(ctx, "nomic", "hello", vec))

	got, ok, err := s.CachedEmbedding(ctx, "nomic", "hello")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vec, got)

	_, ok, err = s.CachedEmbedding(ctx, "other-model", "hello")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeVectorRejectsCorruptBlob(t *testing.T) {
	_, err := decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CommitFile(context.Background(), "p", "r", "a.json", "{}")
	assert.NoError(t, err)
}
