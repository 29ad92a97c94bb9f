package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/stakepool/internal/domain"
	"github.com/alanyoungcy/stakepool/internal/events"
)

// EventArchiveStore provides the read access the archiver needs. The full
// domain.EventStore satisfies it; the narrow interface keeps the archiver
// honest about which queries it runs.
type EventArchiveStore interface {
	// ListBefore returns events created strictly before the cutoff, oldest
	// first, capped at limit when limit > 0.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Event, error)
}

// archiveContentType marks exports as newline-delimited JSON.
const archiveContentType = "application/x-ndjson"

// Multipart kicks in for oversized exports; below the threshold a single
// PutObject is cheaper.
const (
	defaultMultipartAt int64 = 32 * 1024 * 1024
	archivePartSize    int64 = 8 * 1024 * 1024
)

// ArchiveImpl implements domain.Archiver by querying the event store for old
// records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here; the retention job prunes only after the upload succeeds.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	store     EventArchiveStore
	audit     domain.AuditStore
	batchSize int

	// multipartAt is the body size at which uploads switch to multipart.
	multipartAt int64
}

// NewArchiver creates a new ArchiveImpl. batchSize caps how many events one
// run uploads; zero means no cap.
func NewArchiver(writer domain.BlobWriter, store EventArchiveStore, audit domain.AuditStore, batchSize int) *ArchiveImpl {
	return &ArchiveImpl{
		writer:      writer,
		store:       store,
		audit:       audit,
		batchSize:   batchSize,
		multipartAt: defaultMultipartAt,
	}
}

// ArchiveEvents queries all events before the cutoff, serializes them to
// JSONL, and uploads the file to S3 at archive/events/YYYY-MM.jsonl. The
// archival is recorded in the audit log and the count of archived records is
// returned.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	evs, err := a.store.ListBefore(ctx, before, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(evs) == 0 {
		return 0, nil
	}

	payloads := make([]events.Payload, len(evs))
	for i, ev := range evs {
		payloads[i] = events.NewPayload(ev)
	}

	buf, err := marshalJSONL(payloads)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := archivePath("events", before)
	if int64(len(buf)) >= a.multipartAt {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), archiveContentType, archivePartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), archiveContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	count := int64(len(evs))

	if err := a.audit.Log(ctx, "archive.events", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive events audit log: %w", err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/events/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
