package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/types"
)

// runStoreSuite exercises the Store contract against a backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("thread lifecycle", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		thread, err := store.CreateThread(ctx, ThreadConfig{
			Namespace: "orders",
			Metadata:  map[string]any{"owner": "agent-1"},
		})
		require.NoError(t, err)
		require.NotEmpty(t, thread.ID)

		loaded, err := store.GetThread(ctx, thread.ID)
		require.NoError(t, err)
		assert.Equal(t, "orders", loaded.Namespace)
		assert.Nil(t, loaded.ClosedAt)

		require.NoError(t, store.CloseThread(ctx, thread.ID))
		// Closing twice is idempotent.
		require.NoError(t, store.CloseThread(ctx, thread.ID))

		loaded, err = store.GetThread(ctx, thread.ID)
		require.NoError(t, err)
		assert.NotNil(t, loaded.ClosedAt)

		_, err = store.GetThread(ctx, "no-such-thread")
		assert.True(t, types.IsCode(err, types.ErrThreadNotFound))
	})

	t.Run("sequence strictly increases", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		thread, err := store.CreateThread(ctx, ThreadConfig{Namespace: "seq"})
		require.NoError(t, err)

		var last int64
		for i := 0; i < 5; i++ {
			cp, err := store.SaveCheckpoint(ctx, thread.ID, PhaseManual, map[string]any{"step": i}, nil)
			require.NoError(t, err)
			require.Greater(t, cp.Sequence, last)
			last = cp.Sequence
		}
	})

	t.Run("load returns highest non-superseded", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		thread, err := store.CreateThread(ctx, ThreadConfig{Namespace: "load"})
		require.NoError(t, err)

		// Empty thread has no current state.
		cp, err := store.LoadCheckpoint(ctx, thread.ID)
		require.NoError(t, err)
		assert.Nil(t, cp)

		_, err = store.SaveCheckpoint(ctx, thread.ID, PhaseManual, map[string]any{"step": float64(1)}, nil)
		require.NoError(t, err)
		_, err = store.SaveCheckpoint(ctx, thread.ID, PhaseManual, map[string]any{"step": float64(2)}, nil)
		require.NoError(t, err)

		cp, err = store.LoadCheckpoint(ctx, thread.ID)
		require.NoError(t, err)
		require.NotNil(t, cp)
		assert.Equal(t, map[string]any{"step": float64(2)}, cp.Payload)
	})

	t.Run("history is most recent first", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		thread, err := store.CreateThread(ctx, ThreadConfig{Namespace: "history"})
		require.NoError(t, err)

		for i := 1; i <= 4; i++ {
			_, err := store.SaveCheckpoint(ctx, thread.ID, PhaseManual, map[string]any{"step": float64(i)}, nil)
			require.NoError(t, err)
		}

		history, err := store.CheckpointHistory(ctx, thread.ID, 3)
		require.NoError(t, err)
		require.Len(t, history, 3)
		for i := 1; i < len(history); i++ {
			assert.Greater(t, history[i-1].Sequence, history[i].Sequence)
		}
		assert.Equal(t, map[string]any{"step": float64(4)}, history[0].Payload)
	})

	t.Run("history without limit returns everything", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		thread, err := store.CreateThread(ctx, ThreadConfig{Namespace: "history"})
		require.NoError(t, err)

		for i := 1; i <= 4; i++ {
			_, err := store.SaveCheckpoint(ctx, thread.ID, PhaseManual, map[string]any{"step": float64(i)}, nil)
			require.NoError(t, err)
		}

		history, err := store.CheckpointHistory(ctx, thread.ID, 0)
		require.NoError(t, err)
		require.Len(t, history, 4)
		assert.Equal(t, map[string]any{"step": float64(4)}, history[0].Payload)

		history, err = store.CheckpointHistory(ctx, thread.ID, -1)
		require.NoError(t, err)
		assert.Len(t, history, 4)
	})

	t.Run("revert hides later checkpoints", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		thread, err := store.CreateThread(ctx, ThreadConfig{Namespace: "revert"})
		require.NoError(t, err)

		first, err := store.SaveCheckpoint(ctx, thread.ID, PhaseManual, map[string]any{"step": float64(1)}, nil)
		require.NoError(t, err)
		_, err = store.SaveCheckpoint(ctx, thread.ID, PhaseManual, map[string]any{"step": float64(2)}, nil)
		require.NoError(t, err)

		reverted, err := store.RevertToCheckpoint(ctx, thread.ID, first.ID)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"step": float64(1)}, reverted.Payload)

		cp, err := store.LoadCheckpoint(ctx, thread.ID)
		require.NoError(t, err)
		require.NotNil(t, cp)
		assert.Equal(t, first.ID, cp.ID)

		history, err := store.CheckpointHistory(ctx, thread.ID, 10)
		require.NoError(t, err)
		require.Len(t, history, 1)

		// A fresh save continues past the hidden branch; history stays linear.
		next, err := store.SaveCheckpoint(ctx, thread.ID, PhaseManual, map[string]any{"step": float64(3)}, nil)
		require.NoError(t, err)
		assert.Greater(t, next.Sequence, first.Sequence)

		cp, err = store.LoadCheckpoint(ctx, thread.ID)
		require.NoError(t, err)
		assert.Equal(t, next.ID, cp.ID)

		_, err = store.RevertToCheckpoint(ctx, thread.ID, "no-such-checkpoint")
		assert.True(t, types.IsCode(err, types.ErrCheckpointNotFound))
	})

	t.Run("stats", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		a, err := store.CreateThread(ctx, ThreadConfig{Namespace: "stats"})
		require.NoError(t, err)
		b, err := store.CreateThread(ctx, ThreadConfig{Namespace: "stats"})
		require.NoError(t, err)

		_, err = store.SaveCheckpoint(ctx, a.ID, PhaseManual, map[string]any{"x": float64(1)}, nil)
		require.NoError(t, err)
		_, err = store.SaveCheckpoint(ctx, a.ID, PhaseManual, map[string]any{"x": float64(2)}, nil)
		require.NoError(t, err)
		require.NoError(t, store.CloseThread(ctx, b.ID))

		stats, err := store.ThreadStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.ActiveThreads)
		assert.Equal(t, 1, stats.ClosedThreads)
		assert.Equal(t, 2, stats.CheckpointsPerThread[a.ID])
		assert.Equal(t, 2, stats.TotalCheckpoints)
	})

	t.Run("save to unknown thread", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		_, err := store.SaveCheckpoint(ctx, "no-such-thread", PhaseManual, nil, nil)
		assert.True(t, types.IsCode(err, types.ErrThreadNotFound))
	})
}
