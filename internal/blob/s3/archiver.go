package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/vestd/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	cursorPath       = "archive/events/cursor.json"
)

// EventArchiver implements domain.Archiver. It copies audit entries older
// than a cutoff to JSONL objects, one object per batch, and checkpoints the
// last archived id so each entry is uploaded once.
type EventArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an EventArchiver. Entries are never deleted from the
// audit store here.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, logger *slog.Logger) *EventArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventArchiver{
		writer: writer,
		reader: reader,
		audit:  audit,
		logger: logger.With(slog.String("component", "event_archiver")),
	}
}

type cursor struct {
	LastID    int64     `json:"last_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArchiveEvents uploads every not yet archived entry created before before
// and returns how many were written.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	cur, err := a.loadCursor(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for {
		entries, err := a.audit.ListBefore(ctx, before, cur.LastID)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive events query: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		buf, err := marshalJSONL(entries)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive events marshal: %w", err)
		}
		first, last := entries[0].ID, entries[len(entries)-1].ID
		path := archivePath(entries[0].CreatedAt, first, last)
		if err := a.upload(ctx, path, buf); err != nil {
			return total, err
		}

		cur = cursor{LastID: last, UpdatedAt: time.Now().UTC()}
		if err := a.saveCursor(ctx, cur); err != nil {
			return total, err
		}
		total += int64(len(entries))
		a.logger.InfoContext(ctx, "archived events",
			slog.String("path", path),
			slog.Int("count", len(entries)),
		)
	}

	if total > 0 {
		if err := a.audit.Log(ctx, "archive.events", map[string]any{
			"count":   total,
			"last_id": cur.LastID,
			"before":  before.Format(time.RFC3339),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive events audit log: %w", err)
		}
	}
	return total, nil
}

func (a *EventArchiver) upload(ctx context.Context, path string, buf []byte) error {
	var err error
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive events upload: %w", err)
	}
	return nil
}

func (a *EventArchiver) loadCursor(ctx context.Context) (cursor, error) {
	var cur cursor
	body, err := a.reader.Get(ctx, cursorPath)
	if errors.Is(err, domain.ErrNotFound) {
		return cur, nil
	}
	if err != nil {
		return cur, fmt.Errorf("s3blob: load archive cursor: %w", err)
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(&cur); err != nil {
		return cur, fmt.Errorf("s3blob: decode archive cursor: %w", err)
	}
	return cur, nil
}

func (a *EventArchiver) saveCursor(ctx context.Context, cur cursor) error {
	data, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("s3blob: encode archive cursor: %w", err)
	}
	if err := a.writer.Put(ctx, cursorPath, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: save archive cursor: %w", err)
	}
	return nil
}

// archivePath partitions batches by the day of their first entry:
//
//	archive/events/2025-01-31/000000000001-000000000500.jsonl
func archivePath(day time.Time, first, last int64) string {
	return fmt.Sprintf("archive/events/%s/%012d-%012d.jsonl", day.UTC().Format("2006-01-02"), first, last)
}

// marshalJSONL encodes records as newline-delimited JSON.
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

var _ domain.Archiver = (*EventArchiver)(nil)
