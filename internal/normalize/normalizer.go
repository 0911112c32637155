// Package normalize produces canonical text for downstream extraction,
// merging native text with OCR output for scanned publications.
package normalize

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/jurisia/intake/internal/pipeline"
)

// Config tunes when native text is considered sufficient.
type Config struct {
	MinTextLength    int
	MinOCRConfidence float64
}

// Result is the outcome of normalizing one publication.
type Result struct {
	CanonicalText string
	OCRText       string
	UsedOCR       bool
}

// Normalizer derives canonical text, escalating to OCR for scans.
type Normalizer struct {
	ocr    pipeline.OCRClient
	cfg    Config
	logger *zap.Logger
}

// New constructs a Normalizer. The OCR client may be nil when no scanned
// sources are configured.
func New(ocr pipeline.OCRClient, cfg Config, logger *zap.Logger) *Normalizer {
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = 40
	}
	if cfg.MinOCRConfidence <= 0 {
		cfg.MinOCRConfidence = 0.6
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{ocr: ocr, cfg: cfg, logger: logger}
}

// Normalize returns the canonical text for a publication. It never
// guesses: when neither sufficient native text nor confident OCR output is
// available it reports ocr_failed so the publication is triaged.
func (n *Normalizer) Normalize(ctx context.Context, pub pipeline.Publication) (Result, pipeline.TriageReason, error) {
	// Re-running on an already normalized publication is a no-op.
	if pub.CanonicalText != "" {
		return Result{CanonicalText: pub.CanonicalText, OCRText: pub.OCRText}, "", nil
	}

	raw := strings.TrimSpace(pub.RawText)
	if utf8.RuneCountInString(raw) >= n.cfg.MinTextLength {
		return Result{CanonicalText: raw}, "", nil
	}

	if pub.Attachment == nil || pub.Attachment.BlobURI == "" || n.ocr == nil {
		if raw == "" {
			return Result{}, pipeline.ReasonMalformedPayload, nil
		}
		// Short native text with nothing to OCR: use what we have.
		return Result{CanonicalText: raw}, "", nil
	}

	res, err := n.ocr.Recognize(ctx, pub.Attachment.BlobURI)
	if err != nil {
		n.logger.Warn("ocr call failed",
			zap.String("publication_id", pub.ID),
			zap.String("blob_uri", pub.Attachment.BlobURI),
			zap.Error(err),
		)
		return Result{}, pipeline.ReasonOCRFailed, fmt.Errorf("ocr recognize: %w", err)
	}
	if res.Confidence < n.cfg.MinOCRConfidence || strings.TrimSpace(res.Text) == "" {
		n.logger.Warn("ocr confidence below threshold",
			zap.String("publication_id", pub.ID),
			zap.Float64("confidence", res.Confidence),
			zap.Float64("threshold", n.cfg.MinOCRConfidence),
		)
		return Result{OCRText: res.Text}, pipeline.ReasonOCRFailed, nil
	}

	return Result{
		CanonicalText: strings.TrimSpace(res.Text),
		OCRText:       res.Text,
		UsedOCR:       true,
	}, "", nil
}
