package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	memblob "github.com/jurisia/intake/internal/blob/memory"
	"github.com/jurisia/intake/internal/dedup"
	"github.com/jurisia/intake/internal/hash/sha256"
	"github.com/jurisia/intake/internal/id/uuid"
	"github.com/jurisia/intake/internal/pipeline"
	memstore "github.com/jurisia/intake/internal/store/memory"
)

func newIngestor(pubs pipeline.PublicationStore, blobs pipeline.BlobStore) *Ingestor {
	clock := &fakeClock{now: time.Date(2024, 4, 3, 8, 0, 0, 0, time.UTC)}
	return NewIngestor(dedup.NewMemoryStore(), pubs, blobs, sha256.New(), uuid.New(), clock, "", zap.NewNop())
}

// flakyPublicationStore fails the first N creates with a transient error.
type flakyPublicationStore struct {
	*memstore.PublicationStore
	failures int
}

func (s *flakyPublicationStore) CreatePublication(ctx context.Context, pub pipeline.Publication) error {
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("transient db error")
	}
	return s.PublicationStore.CreatePublication(ctx, pub)
}

func TestAdmitPersistsAttachment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/anexos/doc.pdf", r.URL.Path)
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.4 fake")
	}))
	defer server.Close()

	pubs := memstore.NewPublicationStore()
	blobs := memblob.NewBlobStore()
	ing := newIngestor(pubs, blobs)

	id, err := ing.Admit(context.Background(), "tjsp-dje", server.URL, pipeline.RawRecord{
		ExternalRef: "DJE-1",
		RawText:     "curto",
		Attachment:  &pipeline.Attachment{Ref: "/anexos/doc.pdf", ContentType: "application/pdf"},
	})
	require.NoError(t, err)

	pub, err := pubs.GetPublication(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusCaptured, pub.Status)
	require.NotNil(t, pub.Attachment)
	require.Contains(t, pub.Attachment.BlobURI, "mem://")
	require.Contains(t, pub.Attachment.BlobURI, "attachments/"+id+"/doc.pdf")
}

func TestAdmitSurvivesAttachmentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	pubs := memstore.NewPublicationStore()
	ing := newIngestor(pubs, memblob.NewBlobStore())

	id, err := ing.Admit(context.Background(), "tjsp-dje", server.URL, pipeline.RawRecord{
		ExternalRef: "DJE-2",
		RawText:     "Intimação com anexo indisponível.",
		Attachment:  &pipeline.Attachment{Ref: "/anexos/sumiu.pdf"},
	})
	require.NoError(t, err)

	pub, err := pubs.GetPublication(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, pub.Attachment)
	require.Empty(t, pub.Attachment.BlobURI)
}

func TestAdmitUsesPublishedAtWhenPresent(t *testing.T) {
	pubs := memstore.NewPublicationStore()
	ing := newIngestor(pubs, nil)

	published := time.Date(2024, 4, 3, 0, 0, 0, 0, time.UTC)
	id, err := ing.Admit(context.Background(), "tjsp-dje", "", pipeline.RawRecord{
		ExternalRef: "DJE-3",
		RawText:     "Intimação.",
		PublishedAt: published,
	})
	require.NoError(t, err)

	pub, err := pubs.GetPublication(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, published, pub.CapturedAt)
	require.NotEmpty(t, pub.DedupKey)
}

func TestAdmitReleasesDedupKeyWhenCreateFails(t *testing.T) {
	pubs := memstore.NewPublicationStore()
	flaky := &flakyPublicationStore{PublicationStore: pubs, failures: 1}
	ing := newIngestor(flaky, nil)

	rec := pipeline.RawRecord{ExternalRef: "DJE-5", RawText: "Intimação."}
	_, err := ing.Admit(context.Background(), "tjsp-dje", "", rec)
	require.ErrorContains(t, err, "create publication")

	// The next fetch sees the same record again; it must not be treated
	// as a duplicate of the failed insert.
	id, err := ing.Admit(context.Background(), "tjsp-dje", "", rec)
	require.NoError(t, err)

	pub, err := pubs.GetPublication(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusCaptured, pub.Status)
}

func TestAdmitStoresAttachmentUnderConfiguredPrefix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.4 fake")
	}))
	defer server.Close()

	pubs := memstore.NewPublicationStore()
	clock := &fakeClock{now: time.Date(2024, 4, 3, 8, 0, 0, 0, time.UTC)}
	ing := NewIngestor(dedup.NewMemoryStore(), pubs, memblob.NewBlobStore(), sha256.New(), uuid.New(), clock, "scans", zap.NewNop())

	id, err := ing.Admit(context.Background(), "tjsp-dje", server.URL, pipeline.RawRecord{
		ExternalRef: "DJE-6",
		RawText:     "curto",
		Attachment:  &pipeline.Attachment{Ref: "/anexos/doc.pdf", ContentType: "application/pdf"},
	})
	require.NoError(t, err)

	pub, err := pubs.GetPublication(context.Background(), id)
	require.NoError(t, err)
	require.Contains(t, pub.Attachment.BlobURI, "scans/"+id+"/doc.pdf")
}

func TestAdmitRejectsDuplicate(t *testing.T) {
	pubs := memstore.NewPublicationStore()
	ing := newIngestor(pubs, nil)

	rec := pipeline.RawRecord{ExternalRef: "DJE-4", RawText: "Despacho."}
	_, err := ing.Admit(context.Background(), "tjsp-dje", "", rec)
	require.NoError(t, err)

	_, err = ing.Admit(context.Background(), "tjsp-dje", "", rec)
	require.ErrorIs(t, err, pipeline.ErrDuplicate)
}
