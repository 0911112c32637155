// Package workitem creates exactly one external task per scheduled
// publication.
package workitem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jurisia/intake/internal/pipeline"
)

// Config tunes task board retry behavior.
type Config struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BaseLink       string
}

// Generator builds and creates work items, idempotently per publication.
type Generator struct {
	board   pipeline.TaskBoard
	store   pipeline.PublicationStore
	backoff backoffPolicy
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Generator.
func New(board pipeline.TaskBoard, store pipeline.PublicationStore, cfg Config, logger *zap.Logger) *Generator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		board:   board,
		store:   store,
		backoff: newBackoffPolicy(cfg.BackoffInitial, cfg.BackoffMax),
		cfg:     cfg,
		logger:  logger,
	}
}

// Generate creates the work item for an extracted publication. It returns
// the board reference. Retries of the same publication are safe: the
// idempotency token is derived from the publication's dedup key and the
// store claim is compare-and-swap.
func (g *Generator) Generate(ctx context.Context, pub pipeline.Publication, proc pipeline.ProcessInfo) (string, error) {
	if pub.WorkItemRef != "" {
		return pub.WorkItemRef, nil
	}
	if pub.DueDate == nil {
		return "", fmt.Errorf("publication %s has no due date", pub.ID)
	}

	spec := pipeline.WorkItemSpec{
		IdempotencyToken: "pub-" + pub.DedupKey,
		Title:            fmt.Sprintf("%s — processo %s", pub.EventType, pub.ProcessRef),
		ProcessRef:       pub.ProcessRef,
		DueDate:          *pub.DueDate,
		Responsible:      resolveResponsible(pub.EventType, proc),
		Checklist:        checklistFor(pub.EventType),
		PublicationID:    pub.ID,
	}

	ref, err := g.createWithRetry(ctx, spec)
	if err != nil {
		return "", err
	}

	if err := g.store.ClaimWorkItemRef(ctx, pub.ID, ref); err != nil {
		if errors.Is(err, pipeline.ErrConflict) {
			// A concurrent retry claimed first; the board deduplicated on
			// the token, so the existing reference stands.
			existing, getErr := g.store.GetPublication(ctx, pub.ID)
			if getErr != nil {
				return "", fmt.Errorf("load publication after claim conflict: %w", getErr)
			}
			return existing.WorkItemRef, nil
		}
		return "", fmt.Errorf("claim work item ref: %w", err)
	}
	return ref, nil
}

func (g *Generator) createWithRetry(ctx context.Context, spec pipeline.WorkItemSpec) (string, error) {
	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := g.backoff.delay(attempt - 1)
			g.logger.Debug("task board retry",
				zap.String("publication_id", spec.PublicationID),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
			)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("work item creation canceled: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
		ref, err := g.board.CreateWorkItem(ctx, spec)
		if err == nil {
			return ref, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}
	return "", fmt.Errorf("create work item after %d attempts: %w", g.cfg.MaxAttempts, lastErr)
}

// resolveResponsible maps certain event types to specialist roles; the
// process default covers the rest.
func resolveResponsible(eventType string, proc pipeline.ProcessInfo) string {
	overrides := map[string]string{
		"cumprimento de sentença": "financeiro",
	}
	if role, ok := overrides[eventType]; ok && role != "" {
		return role
	}
	return proc.DefaultResponsible
}

// checklistFor returns the suggested checklist for an event type.
func checklistFor(eventType string) []string {
	switch eventType {
	case "contestação":
		return []string{"Analisar publicação", "Redigir contestação", "Protocolar"}
	case "apelação":
		return []string{"Analisar publicação", "Avaliar cabimento do recurso", "Redigir minuta", "Protocolar"}
	case "embargos de declaração":
		return []string{"Analisar publicação", "Redigir embargos", "Protocolar"}
	case "cumprimento de sentença":
		return []string{"Analisar publicação", "Conferir cálculos", "Comunicar cliente"}
	default:
		return []string{"Analisar publicação", "Redigir minuta", "Protocolar"}
	}
}
