package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jurisia/intake/internal/pipeline"
)

func TestTransitionStatusCAS(t *testing.T) {
	t.Parallel()

	store := NewPublicationStore()
	ctx := context.Background()

	pub := pipeline.Publication{ID: "pub-1", Status: pipeline.StatusCaptured}
	require.NoError(t, store.CreatePublication(ctx, pub))

	canonical := "texto canônico"
	require.NoError(t, store.TransitionStatus(ctx, "pub-1",
		pipeline.StatusCaptured, pipeline.StatusNormalized,
		pipeline.StatusUpdate{CanonicalText: &canonical},
	))

	// A second transition from the stale status must lose.
	err := store.TransitionStatus(ctx, "pub-1",
		pipeline.StatusCaptured, pipeline.StatusNormalized, pipeline.StatusUpdate{})
	require.ErrorIs(t, err, pipeline.ErrConflict)

	got, err := store.GetPublication(ctx, "pub-1")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusNormalized, got.Status)
	require.Equal(t, canonical, got.CanonicalText)
}

func TestClaimWorkItemRefOnlyOnce(t *testing.T) {
	t.Parallel()

	store := NewPublicationStore()
	ctx := context.Background()
	require.NoError(t, store.CreatePublication(ctx, pipeline.Publication{ID: "pub-1", Status: pipeline.StatusExtracted}))

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ref := string(rune('a' + n))
			if err := store.ClaimWorkItemRef(ctx, "pub-1", ref); err == nil {
				wins <- ref
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	require.Len(t, wins, 1, "exactly one claim must win")
}

func TestListUnfinishedSkipsTerminalAndRecent(t *testing.T) {
	t.Parallel()

	store := NewPublicationStore()
	ctx := context.Background()
	base := time.Date(2024, 4, 3, 8, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreatePublication(ctx, pipeline.Publication{
		ID: "old-captured", Status: pipeline.StatusCaptured, CapturedAt: base.Add(-2 * time.Hour),
	}))
	require.NoError(t, store.CreatePublication(ctx, pipeline.Publication{
		ID: "old-normalized", Status: pipeline.StatusNormalized, CapturedAt: base.Add(-time.Hour),
	}))
	require.NoError(t, store.CreatePublication(ctx, pipeline.Publication{
		ID: "old-scheduled", Status: pipeline.StatusScheduled, CapturedAt: base.Add(-3 * time.Hour),
	}))
	require.NoError(t, store.CreatePublication(ctx, pipeline.Publication{
		ID: "fresh-captured", Status: pipeline.StatusCaptured, CapturedAt: base,
	}))

	out, err := store.ListUnfinished(ctx, base, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "old-captured", out[0].ID, "oldest first")
	require.Equal(t, "old-normalized", out[1].ID)

	limited, err := store.ListUnfinished(ctx, base, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, "old-captured", limited[0].ID)
}

func TestListTriagedFiltersAndSorts(t *testing.T) {
	t.Parallel()

	store := NewPublicationStore()
	ctx := context.Background()
	base := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	pubs := []pipeline.Publication{
		{ID: "a", SourceID: "s1", Status: pipeline.StatusTriaged, TriageReason: pipeline.ReasonLowConfidence, CapturedAt: base},
		{ID: "b", SourceID: "s1", Status: pipeline.StatusTriaged, TriageReason: pipeline.ReasonOCRFailed, CapturedAt: base.Add(time.Hour)},
		{ID: "c", SourceID: "s2", Status: pipeline.StatusTriaged, TriageReason: pipeline.ReasonLowConfidence, CapturedAt: base.Add(2 * time.Hour)},
		{ID: "d", SourceID: "s1", Status: pipeline.StatusScheduled, CapturedAt: base},
	}
	for _, p := range pubs {
		require.NoError(t, store.CreatePublication(ctx, p))
	}

	all, err := store.ListTriaged(ctx, pipeline.TriageFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "c", all[0].ID, "newest first")

	bySource, err := store.ListTriaged(ctx, pipeline.TriageFilter{SourceID: "s1"})
	require.NoError(t, err)
	require.Len(t, bySource, 2)

	byReason, err := store.ListTriaged(ctx, pipeline.TriageFilter{Reason: pipeline.ReasonOCRFailed})
	require.NoError(t, err)
	require.Len(t, byReason, 1)
	require.Equal(t, "b", byReason[0].ID)

	limited, err := store.ListTriaged(ctx, pipeline.TriageFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestRunStoreRecentRunsAndCursor(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	base := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.RecordRun(ctx, pipeline.SourceRun{
			ID:        string(rune('a' + i)),
			SourceID:  "s1",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Outcome:   pipeline.OutcomeSuccess,
		}))
	}

	recent, err := store.RecentRuns(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	require.Equal(t, "e", recent[0].ID, "newest first")

	cursor, err := store.LoadCursor(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, cursor)

	require.NoError(t, store.SaveCursor(ctx, "s1", "page=2"))
	cursor, err = store.LoadCursor(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "page=2", cursor)
}
