package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/jurisia/intake/internal/metrics"
	"github.com/jurisia/intake/internal/pipeline"
)

// Ingestor admits raw records from a source run into the publication
// store: dedup, identity assignment, attachment persistence.
type Ingestor struct {
	dedup  pipeline.DedupStore
	pubs   pipeline.PublicationStore
	blobs  pipeline.BlobStore
	hasher pipeline.Hasher
	ids    pipeline.IDGenerator
	clock  pipeline.Clock
	prefix string
	client *http.Client
	logger *zap.Logger
}

// NewIngestor constructs an Ingestor. prefix names the blob path root for
// stored attachments; empty means "attachments".
func NewIngestor(
	dedup pipeline.DedupStore,
	pubs pipeline.PublicationStore,
	blobs pipeline.BlobStore,
	hasher pipeline.Hasher,
	ids pipeline.IDGenerator,
	clock pipeline.Clock,
	prefix string,
	logger *zap.Logger,
) *Ingestor {
	if prefix == "" {
		prefix = "attachments"
	}
	metrics.Init()
	return &Ingestor{
		dedup:  dedup,
		pubs:   pubs,
		blobs:  blobs,
		hasher: hasher,
		ids:    ids,
		clock:  clock,
		prefix: prefix,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}
}

// Admit runs one record through dedup and persistence. It returns the
// new publication's ID, pipeline.ErrDuplicate for an already-seen record,
// or another error when persistence failed.
func (i *Ingestor) Admit(ctx context.Context, sourceID, baseURL string, rec pipeline.RawRecord) (string, error) {
	key, err := pipeline.DedupKey(i.hasher, sourceID, rec.ExternalRef, rec.RawText)
	if err != nil {
		return "", err
	}
	if err := i.dedup.Admit(ctx, key); err != nil {
		if errors.Is(err, pipeline.ErrDuplicate) {
			metrics.ObserveDuplicate(sourceID)
		}
		return "", err
	}

	id, err := i.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate publication id: %w", err)
	}

	pub := pipeline.Publication{
		ID:          id,
		SourceID:    sourceID,
		ExternalRef: rec.ExternalRef,
		DedupKey:    key,
		ProcessRef:  rec.ProcessRef,
		RawText:     rec.RawText,
		CapturedAt:  i.clock.Now(),
		Status:      pipeline.StatusCaptured,
	}
	if !rec.PublishedAt.IsZero() {
		pub.CapturedAt = rec.PublishedAt
	}
	if rec.Attachment != nil {
		att := *rec.Attachment
		uri, err := i.storeAttachment(ctx, id, baseURL, att)
		if err != nil {
			// The publication is still admitted; OCR escalation will
			// triage it if the raw text alone is insufficient.
			i.logger.Warn("attachment persistence failed",
				zap.String("publication_id", id),
				zap.String("ref", att.Ref),
				zap.Error(err),
			)
		} else {
			att.BlobURI = uri
		}
		pub.Attachment = &att
	}

	if err := i.pubs.CreatePublication(ctx, pub); err != nil {
		// Release the dedup key so the next fetch can re-admit the
		// record; otherwise a transient insert failure loses it forever.
		if ferr := i.dedup.Forget(ctx, key); ferr != nil {
			i.logger.Error("release dedup key after failed create",
				zap.String("dedup_key", key),
				zap.Error(ferr),
			)
		}
		return "", fmt.Errorf("create publication: %w", err)
	}
	metrics.ObservePublication(string(pipeline.StatusCaptured))
	return id, nil
}

// storeAttachment downloads the scanned document and persists it so the
// OCR collaborator reads a stable URI instead of the portal.
func (i *Ingestor) storeAttachment(ctx context.Context, pubID, baseURL string, att pipeline.Attachment) (string, error) {
	target, err := resolveAttachmentURL(baseURL, att.Ref)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("build attachment request: %w", err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download attachment: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}

	objectPath := path.Join(i.prefix, pubID, path.Base(att.Ref))
	uri, err := i.blobs.PutObject(ctx, objectPath, att.ContentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("store attachment: %w", err)
	}
	return uri, nil
}

func resolveAttachmentURL(baseURL, ref string) (string, error) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse attachment ref: %w", err)
	}
	if refURL.IsAbs() {
		return refURL.String(), nil
	}
	if baseURL == "" {
		return "", fmt.Errorf("relative attachment ref %q without base url", ref)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse source url: %w", err)
	}
	return base.ResolveReference(refURL).String(), nil
}
