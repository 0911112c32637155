package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jurisia/intake/internal/dedup"
	"github.com/jurisia/intake/internal/hash/sha256"
	"github.com/jurisia/intake/internal/health"
	"github.com/jurisia/intake/internal/id/uuid"
	memnotify "github.com/jurisia/intake/internal/notify/memory"
	"github.com/jurisia/intake/internal/pipeline"
	memstore "github.com/jurisia/intake/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type scriptedAdapter struct {
	id        string
	results   []pipeline.FetchResult
	errs      []error
	mu        sync.Mutex
	calls     int
	cursors   []string
	deadlines []time.Time
}

func (a *scriptedAdapter) SourceID() string { return a.id }

func (a *scriptedAdapter) Fetch(ctx context.Context, sinceCursor string) (pipeline.FetchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cursors = append(a.cursors, sinceCursor)
	deadline, _ := ctx.Deadline()
	a.deadlines = append(a.deadlines, deadline)
	i := a.calls
	a.calls++
	if i >= len(a.results) {
		return pipeline.FetchResult{Outcome: pipeline.OutcomeSuccess, NextCursor: sinceCursor}, nil
	}
	var err error
	if i < len(a.errs) {
		err = a.errs[i]
	}
	return a.results[i], err
}

type recordingProcessor struct {
	mu  sync.Mutex
	ids []string
}

func (p *recordingProcessor) Process(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
	return nil
}

func (p *recordingProcessor) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}

type fixture struct {
	scheduler *Scheduler
	pubs      *memstore.PublicationStore
	runs      *memstore.RunStore
	processor *recordingProcessor
	notifier  *memnotify.Notifier
	clock     *fakeClock
}

func newFixture(t *testing.T, adapters ...*scriptedAdapter) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 4, 3, 8, 0, 0, 0, time.UTC)}
	pubs := memstore.NewPublicationStore()
	runs := memstore.NewRunStore()
	notifier := memnotify.New()
	monitor := health.New(health.Config{DegradedAfter: 3}, notifier, clock, zap.NewNop())
	ingestor := NewIngestor(
		dedup.NewMemoryStore(), pubs, nil, sha256.New(), uuid.New(), clock, "", zap.NewNop(),
	)
	processor := &recordingProcessor{}
	sched := New(
		Config{Tick: time.Second, Workers: 2},
		ingestor, runs, monitor, processor, clock, uuid.New(), zap.NewNop(),
	)
	for _, a := range adapters {
		sched.Register(Source{Adapter: a, Interval: 30 * time.Second, Enabled: true})
	}
	return &fixture{scheduler: sched, pubs: pubs, runs: runs, processor: processor, notifier: notifier, clock: clock}
}

func TestRunOnceAdmitsAndProcesses(t *testing.T) {
	adapter := &scriptedAdapter{
		id: "tjsp-dje",
		results: []pipeline.FetchResult{{
			Records: []pipeline.RawRecord{
				{ExternalRef: "DJE-1", RawText: "Intimação. Prazo de 15 dias.", ProcessRef: "0001234-56.2024.8.26.0100"},
				{ExternalRef: "DJE-2", RawText: "Sentença publicada."},
			},
			NextCursor: "2024-04-03/1842",
			Outcome:    pipeline.OutcomeSuccess,
		}},
	}
	f := newFixture(t, adapter)

	require.NoError(t, f.scheduler.RunOnce(context.Background()))

	require.Len(t, f.processor.processed(), 2)

	runs, err := f.runs.RecentRuns(context.Background(), "tjsp-dje", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, pipeline.OutcomeSuccess, runs[0].Outcome)
	require.Equal(t, 2, runs[0].ItemsFetched)
	require.Equal(t, 2, runs[0].ItemsNew)
	require.Zero(t, runs[0].ConsecutiveFailures)

	cursor, err := f.runs.LoadCursor(context.Background(), "tjsp-dje")
	require.NoError(t, err)
	require.Equal(t, "2024-04-03/1842", cursor)
}

func TestRunOnceSkipsDuplicates(t *testing.T) {
	page := pipeline.FetchResult{
		Records: []pipeline.RawRecord{{ExternalRef: "DJE-1", RawText: "Intimação."}},
		Outcome: pipeline.OutcomeSuccess,
	}
	adapter := &scriptedAdapter{id: "tjsp-dje", results: []pipeline.FetchResult{page, page}}
	f := newFixture(t, adapter)

	require.NoError(t, f.scheduler.RunOnce(context.Background()))
	require.NoError(t, f.scheduler.RunOnce(context.Background()))

	require.Len(t, f.processor.processed(), 1)

	runs, err := f.runs.RecentRuns(context.Background(), "tjsp-dje", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, 1, runs[0].ItemsFetched)
	require.Zero(t, runs[0].ItemsNew)
}

func TestRunOnceKeepsCursorOnError(t *testing.T) {
	adapter := &scriptedAdapter{
		id:      "trf3-api",
		results: []pipeline.FetchResult{{Outcome: pipeline.OutcomeError, NextCursor: "should-not-save"}},
		errs:    []error{errors.New("connect refused")},
	}
	f := newFixture(t, adapter)
	require.NoError(t, f.runs.SaveCursor(context.Background(), "trf3-api", "c1"))

	require.NoError(t, f.scheduler.RunOnce(context.Background()))

	cursor, err := f.runs.LoadCursor(context.Background(), "trf3-api")
	require.NoError(t, err)
	require.Equal(t, "c1", cursor)

	runs, err := f.runs.RecentRuns(context.Background(), "trf3-api", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, pipeline.OutcomeError, runs[0].Outcome)
	require.Equal(t, "connect refused", runs[0].ErrorText)
	require.Equal(t, 1, runs[0].ConsecutiveFailures)
}

func TestBlockedRunsEscalateHealth(t *testing.T) {
	blocked := pipeline.FetchResult{Outcome: pipeline.OutcomeBlocked}
	adapter := &scriptedAdapter{id: "tjsp-dje", results: []pipeline.FetchResult{blocked, blocked, blocked}}
	f := newFixture(t, adapter)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.scheduler.RunOnce(context.Background()))
	}

	sent := f.notifier.Notifications()
	require.Len(t, sent, 2)
	require.Equal(t, "degraded", sent[0].Reason)
	require.Equal(t, "blocked", sent[1].Reason)
}

func TestSetEnabledPausesSource(t *testing.T) {
	adapter := &scriptedAdapter{id: "tjsp-dje"}
	f := newFixture(t, adapter)

	require.True(t, f.scheduler.SetEnabled("tjsp-dje", false))
	require.NoError(t, f.scheduler.RunOnce(context.Background()))
	adapter.mu.Lock()
	calls := adapter.calls
	adapter.mu.Unlock()
	require.Zero(t, calls)

	require.True(t, f.scheduler.SetEnabled("tjsp-dje", true))
	require.False(t, f.scheduler.SetEnabled("unknown", true))

	infos := f.scheduler.Sources()
	require.Len(t, infos, 1)
	require.True(t, infos[0].Enabled)
}

func TestRunLoopDispatchesOnTick(t *testing.T) {
	adapter := &scriptedAdapter{
		id: "tjsp-dje",
		results: []pipeline.FetchResult{{
			Records: []pipeline.RawRecord{{ExternalRef: "DJE-1", RawText: "Intimação."}},
			Outcome: pipeline.OutcomeSuccess,
		}},
	}
	f := newFixture(t, adapter)
	f.scheduler.cfg.Tick = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.scheduler.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(f.processor.processed()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestFetchRunsUnderDeadline(t *testing.T) {
	adapter := &scriptedAdapter{
		id:      "tjsp-dje",
		results: []pipeline.FetchResult{{Outcome: pipeline.OutcomeSuccess}},
	}
	f := newFixture(t, adapter)

	require.NoError(t, f.scheduler.RunOnce(context.Background()))

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	require.Len(t, adapter.deadlines, 1)
	require.False(t, adapter.deadlines[0].IsZero(), "fetch must run under a deadline")
}

func TestErrBlockedRecordsBlockedRun(t *testing.T) {
	adapter := &scriptedAdapter{
		id:      "tjsp-dje",
		results: []pipeline.FetchResult{{}},
		errs:    []error{pipeline.ErrBlocked},
	}
	f := newFixture(t, adapter)

	require.NoError(t, f.scheduler.RunOnce(context.Background()))

	runs, err := f.runs.RecentRuns(context.Background(), "tjsp-dje", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, pipeline.OutcomeBlocked, runs[0].Outcome)
	require.Equal(t, 1, runs[0].ConsecutiveFailures)
}

func TestRunOnceReprocessesStalledPublications(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pubs.CreatePublication(context.Background(), pipeline.Publication{
		ID:         "pub-stuck",
		SourceID:   "tjsp-dje",
		Status:     pipeline.StatusCaptured,
		CapturedAt: f.clock.Now().Add(-time.Hour),
	}))

	require.NoError(t, f.scheduler.RunOnce(context.Background()))

	require.Equal(t, []string{"pub-stuck"}, f.processor.processed())
}

func TestRunLoopRequeuesStalledPublications(t *testing.T) {
	f := newFixture(t)
	f.scheduler.cfg.Tick = 10 * time.Millisecond
	f.scheduler.cfg.RequeueAfter = 50 * time.Millisecond
	require.NoError(t, f.pubs.CreatePublication(context.Background(), pipeline.Publication{
		ID:         "pub-stuck",
		SourceID:   "tjsp-dje",
		Status:     pipeline.StatusNormalized,
		CapturedAt: f.clock.Now().Add(-time.Hour),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.scheduler.Run(ctx) }()

	require.Eventually(t, func() bool {
		f.clock.advance(time.Second)
		return len(f.processor.processed()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
