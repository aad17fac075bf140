package journal

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestRunRecords(t *testing.T) {
	store := setupTestStore(t)

	t.Run("record and get", func(t *testing.T) {
		run := &Run{
			ID:            uuid.New().String(),
			StartedAt:     time.Now(),
			Branch:        "master",
			PatchesBranch: "master-patches",
			BaseRef:       "abc123",
			Skip:          1,
			Exported:      []string{"0001-fix.patch"},
			Outcome:       OutcomeSynced,
		}
		require.NoError(t, store.Record(run))

		got, err := store.Get(run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, "abc123", got.BaseRef)
		assert.Equal(t, []string{"0001-fix.patch"}, got.Exported)
		assert.Equal(t, OutcomeSynced, got.Outcome)
	})

	t.Run("empty ID rejected", func(t *testing.T) {
		assert.Error(t, store.Record(&Run{}))
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := store.Get("does-not-exist")
		assert.ErrorIs(t, err, ErrRunNotFound)
	})

	t.Run("list is newest first", func(t *testing.T) {
		store := setupTestStore(t)

		base := time.Now()
		ids := make([]string, 3)
		for i := range ids {
			ids[i] = uuid.New().String()
			require.NoError(t, store.Record(&Run{
				ID:        ids[i],
				StartedAt: base.Add(time.Duration(i) * time.Minute),
				Outcome:   OutcomeEmpty,
			}))
		}

		runs, err := store.List()
		require.NoError(t, err)
		require.Len(t, runs, 3)
		assert.Equal(t, ids[2], runs[0].ID)
		assert.Equal(t, ids[0], runs[2].ID)
	})
}

func TestPatchArchive(t *testing.T) {
	store := setupTestStore(t)
	runID := uuid.New().String()

	t.Run("small content stored as-is", func(t *testing.T) {
		body := []byte("--- a/widget.c\n+++ b/widget.c\n")
		require.NoError(t, store.ArchivePatch(runID, "0001-small.patch", body))

		got, err := store.Patch(runID, "0001-small.patch")
		require.NoError(t, err)
		assert.Equal(t, body, got)
	})

	t.Run("large content round-trips through compression", func(t *testing.T) {
		body := []byte(strings.Repeat("+line of patch content\n", 500))
		require.Greater(t, len(body), compressMin)

		require.NoError(t, store.ArchivePatch(runID, "0002-large.patch", body))

		got, err := store.Patch(runID, "0002-large.patch")
		require.NoError(t, err)
		assert.True(t, bytes.Equal(body, got))
	})

	t.Run("missing archive", func(t *testing.T) {
		_, err := store.Patch(runID, "nope.patch")
		assert.Error(t, err)
	})
}
