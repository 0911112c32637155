// Package health aggregates source run outcomes into per-source health
// states for the operational dashboard.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jurisia/intake/internal/pipeline"
)

// Config controls health transitions.
type Config struct {
	DegradedAfter int
}

// Status is one source's health snapshot.
type Status struct {
	SourceID            string               `json:"source_id"`
	State               pipeline.HealthState `json:"state"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
	LastOutcome         pipeline.RunOutcome  `json:"last_outcome,omitempty"`
	LastRunAt           time.Time            `json:"last_run_at,omitempty"`
}

// Monitor tracks per-source health. A Blocked state is sticky: it implies
// a CAPTCHA or auth wall needing manual intervention, so only an operator
// acknowledgment clears it.
type Monitor struct {
	cfg      Config
	notifier pipeline.Notifier
	clock    pipeline.Clock
	logger   *zap.Logger

	mu      sync.RWMutex
	sources map[string]*Status
}

// New constructs a Monitor.
func New(cfg Config, notifier pipeline.Notifier, clock pipeline.Clock, logger *zap.Logger) *Monitor {
	if cfg.DegradedAfter <= 0 {
		cfg.DegradedAfter = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:      cfg,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
		sources:  make(map[string]*Status),
	}
}

// Observe folds one run outcome into the source's health state, firing a
// notification on every transition to Degraded or Blocked.
func (m *Monitor) Observe(ctx context.Context, sourceID string, outcome pipeline.RunOutcome) {
	m.mu.Lock()
	st, ok := m.sources[sourceID]
	if !ok {
		st = &Status{SourceID: sourceID, State: pipeline.HealthHealthy}
		m.sources[sourceID] = st
	}
	st.LastOutcome = outcome
	st.LastRunAt = m.clock.Now()

	var transitions []pipeline.HealthState
	if outcome == pipeline.OutcomeSuccess {
		st.ConsecutiveFailures = 0
		if st.State == pipeline.HealthDegraded {
			st.State = pipeline.HealthHealthy
		}
		// Blocked stays put: recovery requires an operator acknowledgment.
	} else {
		st.ConsecutiveFailures++
		if st.State == pipeline.HealthHealthy && st.ConsecutiveFailures >= m.cfg.DegradedAfter {
			st.State = pipeline.HealthDegraded
			transitions = append(transitions, pipeline.HealthDegraded)
		}
		if st.State == pipeline.HealthDegraded && outcome == pipeline.OutcomeBlocked {
			st.State = pipeline.HealthBlocked
			transitions = append(transitions, pipeline.HealthBlocked)
		}
	}
	m.mu.Unlock()

	for _, state := range transitions {
		m.logger.Warn("source health transition",
			zap.String("source_id", sourceID),
			zap.String("state", string(state)),
			zap.String("outcome", string(outcome)),
		)
		if m.notifier == nil {
			continue
		}
		err := m.notifier.Notify(ctx, pipeline.Notification{
			Kind:       "source_health",
			SourceID:   sourceID,
			Reason:     string(state),
			OccurredAt: m.clock.Now(),
		})
		if err != nil {
			m.logger.Error("health notification failed",
				zap.String("source_id", sourceID),
				zap.Error(err),
			)
		}
	}
}

// Acknowledge clears a sticky Blocked state after manual intervention.
func (m *Monitor) Acknowledge(sourceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sources[sourceID]
	if !ok || st.State != pipeline.HealthBlocked {
		return false
	}
	st.State = pipeline.HealthHealthy
	st.ConsecutiveFailures = 0
	return true
}

// Status returns the health snapshot for one source.
func (m *Monitor) Status(sourceID string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.sources[sourceID]
	if !ok {
		return Status{}, false
	}
	return *st, true
}

// Snapshot returns the health of every observed source.
func (m *Monitor) Snapshot() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.sources))
	for _, st := range m.sources {
		out = append(out, *st)
	}
	return out
}

// Failures returns the consecutive failure count carried for a source.
func (m *Monitor) Failures(sourceID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.sources[sourceID]; ok {
		return st.ConsecutiveFailures
	}
	return 0
}
