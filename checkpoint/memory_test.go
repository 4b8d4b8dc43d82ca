package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestMemoryStore_Suite(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore(0)
	})
}

func TestMemoryStore_CleanupPrunesClosedThreads(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Nanosecond)
	defer store.Close()

	thread, err := store.CreateThread(ctx, ThreadConfig{Namespace: "gc"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.CloseThread(ctx, thread.ID); err != nil {
		t.Fatal(err)
	}

	time.Sleep(time.Millisecond)
	if err := store.Cleanup(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := store.GetThread(ctx, thread.ID); err == nil {
		t.Error("expected expired thread to be pruned")
	}
}

// Any interleaving of saves and reverts keeps per-thread sequences
// strictly increasing and the visible history strictly decreasing.
func TestProperty_SequenceMonotonicAcrossReverts(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("sequence survives random revert interleavings", prop.ForAll(
		func(ops []int) bool {
			ctx := context.Background()
			store := NewMemoryStore(0)
			defer store.Close()

			thread, err := store.CreateThread(ctx, ThreadConfig{Namespace: "prop"})
			if err != nil {
				return false
			}

			var saved []*Checkpoint
			var maxSeq int64
			for _, op := range ops {
				if op%4 != 0 || len(saved) == 0 {
					cp, err := store.SaveCheckpoint(ctx, thread.ID, PhaseManual, map[string]any{"op": op}, nil)
					if err != nil {
						return false
					}
					if cp.Sequence <= maxSeq {
						return false
					}
					maxSeq = cp.Sequence
					saved = append(saved, cp)
				} else {
					// Revert to a pseudo-random earlier live checkpoint.
					target := saved[(op/4)%len(saved)]
					reverted, err := store.RevertToCheckpoint(ctx, thread.ID, target.ID)
					if err != nil {
						return false
					}
					head, err := store.LoadCheckpoint(ctx, thread.ID)
					if err != nil || head == nil || head.ID != reverted.ID {
						return false
					}
					// Drop hidden entries from our shadow log.
					live := saved[:0]
					for _, cp := range saved {
						if cp.Sequence <= reverted.Sequence {
							live = append(live, cp)
						}
					}
					saved = live
				}
			}

			history, err := store.CheckpointHistory(ctx, thread.ID, len(ops)+1)
			if err != nil {
				return false
			}
			for i := 1; i < len(history); i++ {
				if history[i-1].Sequence <= history[i].Sequence {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
