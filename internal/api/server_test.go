package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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
	"github.com/jurisia/intake/internal/scheduler"
	memstore "github.com/jurisia/intake/internal/store/memory"
)

type staticClock struct{ now time.Time }

func (c staticClock) Now() time.Time { return c.now }

type noopAdapter struct{ id string }

func (a noopAdapter) SourceID() string { return a.id }

func (a noopAdapter) Fetch(context.Context, string) (pipeline.FetchResult, error) {
	return pipeline.FetchResult{Outcome: pipeline.OutcomeSuccess}, nil
}

type fixture struct {
	server  *Server
	pubs    *memstore.PublicationStore
	runs    *memstore.RunStore
	monitor *health.Monitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := staticClock{now: time.Date(2024, 4, 3, 10, 0, 0, 0, time.UTC)}
	pubs := memstore.NewPublicationStore()
	runs := memstore.NewRunStore()
	monitor := health.New(health.Config{}, memnotify.New(), clock, zap.NewNop())
	ingestor := scheduler.NewIngestor(
		dedup.NewMemoryStore(), pubs, nil, sha256.New(), uuid.New(), clock, "", zap.NewNop(),
	)
	sched := scheduler.New(
		scheduler.Config{}, ingestor, runs, monitor, nil, clock, uuid.New(), zap.NewNop(),
	)
	sched.Register(scheduler.Source{
		Adapter:  noopAdapter{id: "tjsp-dje"},
		Interval: 30 * time.Second,
		Enabled:  true,
	})
	return &fixture{
		server:  NewServer(sched, monitor, runs, pubs, zap.NewNop()),
		pubs:    pubs,
		runs:    runs,
		monitor: monitor,
	}
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz").Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz").Code)

	rec := f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "intake_")
}

func TestListSources(t *testing.T) {
	f := newFixture(t)
	f.monitor.Observe(context.Background(), "tjsp-dje", pipeline.OutcomeSuccess)
	require.NoError(t, f.runs.RecordRun(context.Background(), pipeline.SourceRun{
		ID:       "run-1",
		SourceID: "tjsp-dje",
		Outcome:  pipeline.OutcomeSuccess,
	}))

	rec := f.do(t, http.MethodGet, "/v1/sources")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sources []struct {
			SourceID string `json:"source_id"`
			Enabled  bool   `json:"enabled"`
			Health   *struct {
				State string `json:"state"`
			} `json:"health"`
			RecentRuns []pipeline.SourceRun `json:"recent_runs"`
		} `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sources, 1)
	require.Equal(t, "tjsp-dje", body.Sources[0].SourceID)
	require.True(t, body.Sources[0].Enabled)
	require.NotNil(t, body.Sources[0].Health)
	require.Equal(t, "healthy", body.Sources[0].Health.State)
	require.Len(t, body.Sources[0].RecentRuns, 1)
}

func TestEnableDisableSource(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/sources/tjsp-dje/disable").Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/sources/tjsp-dje/enable").Code)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/v1/sources/nope/enable").Code)
}

func TestAckBlockedSource(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/sources/tjsp-dje/ack").Code)

	for i := 0; i < 3; i++ {
		f.monitor.Observe(context.Background(), "tjsp-dje", pipeline.OutcomeBlocked)
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/sources/tjsp-dje/ack").Code)

	st, ok := f.monitor.Status("tjsp-dje")
	require.True(t, ok)
	require.Equal(t, pipeline.HealthHealthy, st.State)
}

func TestListTriage(t *testing.T) {
	f := newFixture(t)
	reason := pipeline.ReasonLowConfidence
	require.NoError(t, f.pubs.CreatePublication(context.Background(), pipeline.Publication{
		ID:           "pub-1",
		SourceID:     "tjsp-dje",
		Status:       pipeline.StatusTriaged,
		TriageReason: reason,
		CapturedAt:   time.Date(2024, 4, 3, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, f.pubs.CreatePublication(context.Background(), pipeline.Publication{
		ID:         "pub-2",
		SourceID:   "trf3-api",
		Status:     pipeline.StatusScheduled,
		CapturedAt: time.Date(2024, 4, 3, 0, 0, 0, 0, time.UTC),
	}))

	rec := f.do(t, http.MethodGet, "/v1/triage?source_id=tjsp-dje&reason=low_confidence")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Publications []pipeline.Publication `json:"publications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Publications, 1)
	require.Equal(t, "pub-1", body.Publications[0].ID)

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/triage?limit=bogus").Code)
}

func TestGetPublication(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pubs.CreatePublication(context.Background(), pipeline.Publication{
		ID:     "pub-1",
		Status: pipeline.StatusCaptured,
	}))

	rec := f.do(t, http.MethodGet, "/v1/publications/pub-1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"pub-1"`)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/publications/missing").Code)
}
