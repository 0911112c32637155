// Package worker executes the per-publication pipeline: normalization,
// process lookup, deadline extraction, due-date computation and work-item
// creation. Every dead end is a triage transition with a reason, never a
// silent drop.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jurisia/intake/internal/calendar"
	"github.com/jurisia/intake/internal/extract"
	"github.com/jurisia/intake/internal/metrics"
	"github.com/jurisia/intake/internal/normalize"
	"github.com/jurisia/intake/internal/pipeline"
	"github.com/jurisia/intake/internal/workitem"
)

// Config tunes triage thresholds.
type Config struct {
	ConfidenceThreshold float64
	// TriageLinkBase prefixes the deep link sent with triage
	// notifications, e.g. "https://app.jurisia.com.br/triage".
	TriageLinkBase string
}

// Processor advances one captured publication to a terminal status.
type Processor struct {
	store      pipeline.PublicationStore
	normalizer *normalize.Normalizer
	registry   pipeline.ProcessRegistry
	extractor  *extract.Extractor
	calendar   *calendar.Service
	generator  *workitem.Generator
	notifier   pipeline.Notifier
	clock      pipeline.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Processor.
func New(
	store pipeline.PublicationStore,
	normalizer *normalize.Normalizer,
	registry pipeline.ProcessRegistry,
	extractor *extract.Extractor,
	calendarSvc *calendar.Service,
	generator *workitem.Generator,
	notifier pipeline.Notifier,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Processor {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.6
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Processor{
		store:      store,
		normalizer: normalizer,
		registry:   registry,
		extractor:  extractor,
		calendar:   calendarSvc,
		generator:  generator,
		notifier:   notifier,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Process runs the pipeline for one publication. Re-processing a
// publication that already reached a terminal status is a no-op, so
// retries after crashes are safe.
func (p *Processor) Process(ctx context.Context, publicationID string) error {
	pub, err := p.store.GetPublication(ctx, publicationID)
	if err != nil {
		return fmt.Errorf("load publication %s: %w", publicationID, err)
	}
	if pub.Status.IsTerminal() {
		return nil
	}

	// Normalization.
	if pub.Status == pipeline.StatusCaptured {
		result, reason, err := p.normalizer.Normalize(ctx, pub)
		if reason != "" {
			// A hard failure with a reason still triages: the
			// publication must reach a terminal status.
			if err != nil {
				p.logger.Warn("normalization failed",
					zap.String("publication_id", pub.ID),
					zap.Error(err),
				)
			}
			return p.triage(ctx, &pub, pipeline.StatusCaptured, reason, nil)
		}
		if err != nil {
			return fmt.Errorf("normalize publication %s: %w", pub.ID, err)
		}
		update := pipeline.StatusUpdate{CanonicalText: &result.CanonicalText}
		if result.OCRText != "" {
			update.OCRText = &result.OCRText
		}
		if _, err := p.transition(ctx, &pub, pipeline.StatusCaptured, pipeline.StatusNormalized, update); err != nil {
			return err
		}
		pub.CanonicalText = result.CanonicalText
		pub.OCRText = result.OCRText
	}

	// Process registry lookup.
	proc, err := p.lookupProcess(ctx, pub)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			return p.triage(ctx, &pub, pipeline.StatusNormalized, pipeline.ReasonUnknownProcess, nil)
		}
		return fmt.Errorf("resolve process %s: %w", pub.ProcessRef, err)
	}

	// Deadline extraction.
	extraction, err := p.extractor.Extract(pub.CanonicalText, pub.CapturedAt)
	if err != nil {
		return fmt.Errorf("extract deadline for %s: %w", pub.ID, err)
	}
	if !extraction.Matched || extraction.Confidence < p.cfg.ConfidenceThreshold {
		update := pipeline.StatusUpdate{}
		if extraction.Matched {
			update.EventType = &extraction.EventType
			update.Confidence = &extraction.Confidence
		}
		return p.triage(ctx, &pub, pipeline.StatusNormalized, pipeline.ReasonLowConfidence, &update)
	}
	extractUpdate := pipeline.StatusUpdate{
		EventType:  &extraction.EventType,
		TermDays:   &extraction.TermDays,
		TermStart:  &extraction.TermStart,
		Confidence: &extraction.Confidence,
	}
	applied, err := p.transition(ctx, &pub, pipeline.StatusNormalized, pipeline.StatusExtracted, extractUpdate)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	pub.EventType = extraction.EventType
	pub.TermDays = extraction.TermDays
	pub.TermStart = &extraction.TermStart
	pub.Confidence = extraction.Confidence

	// Due-date computation on the jurisdiction calendar.
	due, complete := p.calendar.AddBusinessDays(extraction.TermStart, extraction.TermDays, proc.CalendarID)
	pub.DueDate = &due
	if !complete {
		update := pipeline.StatusUpdate{
			DueDate:  &due,
			Warnings: []string{string(pipeline.ReasonCalendarIncomplete)},
		}
		return p.triage(ctx, &pub, pipeline.StatusExtracted, pipeline.ReasonCalendarIncomplete, &update)
	}

	// Work-item creation.
	ref, err := p.generator.Generate(ctx, pub, proc)
	if err != nil {
		p.logger.Error("work item creation exhausted",
			zap.String("publication_id", pub.ID),
			zap.Error(err),
		)
		update := pipeline.StatusUpdate{DueDate: &due}
		return p.triage(ctx, &pub, pipeline.StatusExtracted, pipeline.ReasonWorkItemFailed, &update)
	}

	if _, err := p.transition(ctx, &pub, pipeline.StatusExtracted, pipeline.StatusScheduled, pipeline.StatusUpdate{DueDate: &due}); err != nil {
		return err
	}
	metrics.ObserveWorkItem()
	p.logger.Info("publication scheduled",
		zap.String("publication_id", pub.ID),
		zap.String("process_ref", pub.ProcessRef),
		zap.String("event_type", pub.EventType),
		zap.Time("due_date", due),
		zap.String("work_item_ref", ref),
	)
	return nil
}

func (p *Processor) lookupProcess(ctx context.Context, pub pipeline.Publication) (pipeline.ProcessInfo, error) {
	if pub.ProcessRef == "" {
		return pipeline.ProcessInfo{}, pipeline.ErrNotFound
	}
	return p.registry.GetProcess(ctx, pub.ProcessRef)
}

// transition applies a CAS status update. Losing the race means another
// worker already advanced the publication, which is not an error; applied
// reports whether this call won.
func (p *Processor) transition(ctx context.Context, pub *pipeline.Publication, from, to pipeline.PublicationStatus, update pipeline.StatusUpdate) (bool, error) {
	if err := p.store.TransitionStatus(ctx, pub.ID, from, to, update); err != nil {
		if errors.Is(err, pipeline.ErrConflict) {
			p.logger.Debug("lost status transition race",
				zap.String("publication_id", pub.ID),
				zap.String("from", string(from)),
				zap.String("to", string(to)),
			)
			return false, nil
		}
		return false, fmt.Errorf("transition %s %s->%s: %w", pub.ID, from, to, err)
	}
	pub.Status = to
	metrics.ObservePublication(string(to))
	return true, nil
}

func (p *Processor) triage(ctx context.Context, pub *pipeline.Publication, from pipeline.PublicationStatus, reason pipeline.TriageReason, update *pipeline.StatusUpdate) error {
	u := pipeline.StatusUpdate{}
	if update != nil {
		u = *update
	}
	u.TriageReason = &reason
	applied, err := p.transition(ctx, pub, from, pipeline.StatusTriaged, u)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	metrics.ObserveTriage(string(reason))

	n := pipeline.Notification{
		Kind:          "triage",
		SourceID:      pub.SourceID,
		PublicationID: pub.ID,
		Reason:        string(reason),
		OccurredAt:    p.clock.Now(),
	}
	if p.cfg.TriageLinkBase != "" {
		n.Link = fmt.Sprintf("%s/%s", p.cfg.TriageLinkBase, pub.ID)
	}
	if err := p.notifier.Notify(ctx, n); err != nil {
		p.logger.Error("triage notification failed",
			zap.String("publication_id", pub.ID),
			zap.Error(err),
		)
	}
	return nil
}
