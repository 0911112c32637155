// Package scheduler drives the periodic source fetch cycle and feeds
// admitted publications to the pipeline workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jurisia/intake/internal/health"
	"github.com/jurisia/intake/internal/metrics"
	"github.com/jurisia/intake/internal/pipeline"
)

// Processor handles one admitted publication end to end.
type Processor interface {
	Process(ctx context.Context, publicationID string) error
}

// Config controls the fetch cycle.
type Config struct {
	Tick         time.Duration
	Workers      int
	QueueSize    int
	FetchTimeout time.Duration
	// RequeueAfter bounds how long a publication may sit in a
	// non-terminal status before the scheduler re-enqueues it.
	RequeueAfter time.Duration
}

// Source registers one adapter with its schedule.
type Source struct {
	Adapter  pipeline.SourceAdapter
	BaseURL  string
	Interval time.Duration
	Enabled  bool
}

// SourceInfo is the scheduling view of a registered source.
type SourceInfo struct {
	SourceID string        `json:"source_id"`
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"interval"`
}

type sourceState struct {
	src     Source
	enabled bool
	running bool
	nextRun time.Time
}

// Scheduler runs each enabled source on its own interval with per-source
// mutual exclusion and a bounded global worker pool for processing.
type Scheduler struct {
	cfg       Config
	ingestor  *Ingestor
	runs      pipeline.RunStore
	health    *health.Monitor
	processor Processor
	clock     pipeline.Clock
	ids       pipeline.IDGenerator
	logger    *zap.Logger

	mu      sync.Mutex
	sources map[string]*sourceState
	queue   chan string
}

// New constructs a Scheduler.
func New(
	cfg Config,
	ingestor *Ingestor,
	runs pipeline.RunStore,
	monitor *health.Monitor,
	processor Processor,
	clock pipeline.Clock,
	ids pipeline.IDGenerator,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 45 * time.Second
	}
	if cfg.RequeueAfter <= 0 {
		cfg.RequeueAfter = 5 * time.Minute
	}
	metrics.Init()
	return &Scheduler{
		cfg:       cfg,
		ingestor:  ingestor,
		runs:      runs,
		health:    monitor,
		processor: processor,
		clock:     clock,
		ids:       ids,
		logger:    logger,
		sources:   make(map[string]*sourceState),
		queue:     make(chan string, cfg.QueueSize),
	}
}

// Register adds a source to the schedule. The first run happens on the
// next tick.
func (s *Scheduler) Register(src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.Adapter.SourceID()] = &sourceState{
		src:     src,
		enabled: src.Enabled,
		nextRun: s.clock.Now(),
	}
}

// SetEnabled pauses or resumes a source. Disabling never interrupts a
// run already in flight.
func (s *Scheduler) SetEnabled(sourceID string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sources[sourceID]
	if !ok {
		return false
	}
	st.enabled = enabled
	if enabled {
		st.nextRun = s.clock.Now()
	}
	return true
}

// Sources lists the registered sources sorted by ID.
func (s *Scheduler) Sources() []SourceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SourceInfo, 0, len(s.sources))
	for id, st := range s.sources {
		out = append(out, SourceInfo{SourceID: id, Enabled: st.enabled, Interval: st.src.Interval})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Run blocks until ctx is cancelled, ticking the schedule and running
// the worker pool.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.workerLoop(ctx)
		}()
	}

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	var runWG sync.WaitGroup
	nextSweep := s.clock.Now().Add(s.cfg.RequeueAfter)
	for {
		select {
		case <-ctx.Done():
			runWG.Wait()
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.dispatchDue(ctx, &runWG)
			if !s.clock.Now().Before(nextSweep) {
				s.requeueStalled(ctx)
				nextSweep = s.clock.Now().Add(s.cfg.RequeueAfter)
			}
		}
	}
}

// RunOnce executes a single fetch cycle for every enabled source and
// processes the admitted publications synchronously. Used by the scan
// command.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	states := make([]*sourceState, 0, len(s.sources))
	for _, st := range s.sources {
		if st.enabled {
			states = append(states, st)
		}
	}
	s.mu.Unlock()

	for _, st := range states {
		ids := s.runSource(ctx, st.src)
		for _, id := range ids {
			if err := s.processor.Process(ctx, id); err != nil {
				s.logger.Error("process publication",
					zap.String("publication_id", id),
					zap.Error(err),
				)
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	// Pick up publications stranded by earlier crashes or transient
	// failures; Process is a no-op on terminal rows.
	stalled, err := s.ingestor.pubs.ListUnfinished(ctx, s.clock.Now(), s.cfg.QueueSize)
	if err != nil {
		return fmt.Errorf("list unfinished publications: %w", err)
	}
	for _, pub := range stalled {
		if err := s.processor.Process(ctx, pub.ID); err != nil {
			s.logger.Error("process publication",
				zap.String("publication_id", pub.ID),
				zap.Error(err),
			)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// requeueStalled re-enqueues publications that have sat in a non-terminal
// status longer than RequeueAfter, so transient stage failures are retried
// instead of stranding court notices.
func (s *Scheduler) requeueStalled(ctx context.Context) {
	before := s.clock.Now().Add(-s.cfg.RequeueAfter)
	stalled, err := s.ingestor.pubs.ListUnfinished(ctx, before, s.cfg.QueueSize)
	if err != nil {
		s.logger.Error("list unfinished publications", zap.Error(err))
		return
	}
	for _, pub := range stalled {
		s.logger.Warn("requeueing stalled publication",
			zap.String("publication_id", pub.ID),
			zap.String("status", string(pub.Status)),
		)
		s.enqueue(ctx, pub.ID)
	}
}

func (s *Scheduler) dispatchDue(ctx context.Context, runWG *sync.WaitGroup) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.sources {
		if !st.enabled || st.running || now.Before(st.nextRun) {
			continue
		}
		st.running = true
		src := st.src
		sourceID := id
		runWG.Add(1)
		go func() {
			defer runWG.Done()
			ids := s.runSource(ctx, src)
			for _, pubID := range ids {
				s.enqueue(ctx, pubID)
			}
			s.mu.Lock()
			if st := s.sources[sourceID]; st != nil {
				st.running = false
				st.nextRun = s.clock.Now().Add(src.Interval)
			}
			s.mu.Unlock()
		}()
	}
}

// runSource executes one fetch run and returns the IDs of newly admitted
// publications.
func (s *Scheduler) runSource(ctx context.Context, src Source) []string {
	sourceID := src.Adapter.SourceID()
	started := s.clock.Now()

	cursor, err := s.runs.LoadCursor(ctx, sourceID)
	if err != nil {
		s.logger.Error("load cursor", zap.String("source_id", sourceID), zap.Error(err))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	result, fetchErr := src.Adapter.Fetch(fetchCtx, cursor)
	cancel()
	outcome := result.Outcome
	switch {
	case errors.Is(fetchErr, pipeline.ErrBlocked):
		outcome = pipeline.OutcomeBlocked
	case fetchErr != nil && (outcome == "" || outcome == pipeline.OutcomeSuccess):
		outcome = pipeline.OutcomeError
	}

	// Records gathered before a mid-run failure or block are still
	// admitted; the cursor decides what the next run re-requests.
	var admitted []string
	var ingestFailed bool
	for _, rec := range result.Records {
		id, err := s.ingestor.Admit(ctx, sourceID, src.BaseURL, rec)
		switch {
		case err == nil:
			admitted = append(admitted, id)
		case isDuplicate(err):
			continue
		default:
			ingestFailed = true
			s.logger.Error("admit record",
				zap.String("source_id", sourceID),
				zap.String("external_ref", rec.ExternalRef),
				zap.Error(err),
			)
		}
	}
	if ingestFailed && outcome == pipeline.OutcomeSuccess {
		outcome = pipeline.OutcomePartialFailure
	}

	savedCursor := cursor
	if outcome != pipeline.OutcomeError && result.NextCursor != "" && result.NextCursor != cursor {
		if err := s.runs.SaveCursor(ctx, sourceID, result.NextCursor); err != nil {
			s.logger.Error("save cursor", zap.String("source_id", sourceID), zap.Error(err))
		} else {
			savedCursor = result.NextCursor
		}
	}

	s.health.Observe(ctx, sourceID, outcome)

	ended := s.clock.Now()
	run := pipeline.SourceRun{
		SourceID:            sourceID,
		StartedAt:           started,
		EndedAt:             ended,
		ItemsFetched:        len(result.Records),
		ItemsNew:            len(admitted),
		Outcome:             outcome,
		ConsecutiveFailures: s.health.Failures(sourceID),
		Cursor:              savedCursor,
	}
	if fetchErr != nil {
		run.ErrorText = fetchErr.Error()
	}
	if run.ID, err = s.ids.NewID(); err != nil {
		s.logger.Error("generate run id", zap.Error(err))
	}
	if err := s.runs.RecordRun(ctx, run); err != nil {
		s.logger.Error("record run", zap.String("source_id", sourceID), zap.Error(err))
	}
	metrics.ObserveRun(sourceID, string(outcome), ended.Sub(started))

	s.logger.Info("source run finished",
		zap.String("source_id", sourceID),
		zap.String("outcome", string(outcome)),
		zap.Int("items_fetched", run.ItemsFetched),
		zap.Int("items_new", run.ItemsNew),
	)
	return admitted
}

func (s *Scheduler) enqueue(ctx context.Context, publicationID string) {
	select {
	case s.queue <- publicationID:
	case <-ctx.Done():
	}
}

func (s *Scheduler) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue:
			metrics.IncActiveWorkers()
			if err := s.processor.Process(ctx, id); err != nil {
				s.logger.Error("process publication",
					zap.String("publication_id", id),
					zap.Error(err),
				)
			}
			metrics.DecActiveWorkers()
		}
	}
}

func isDuplicate(err error) bool {
	return errors.Is(err, pipeline.ErrDuplicate)
}
