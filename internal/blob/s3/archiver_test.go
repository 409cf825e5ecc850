package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vestd/internal/domain"
)

type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBucket() *memBucket {
	return &memBucket{objects: make(map[string][]byte)}
}

func (b *memBucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = raw
	return nil
}

func (b *memBucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, "")
}

func (b *memBucket) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

// memAudit pages like the postgres store with a batch of two.
type memAudit struct {
	entries []domain.AuditEntry
	logged  []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.logged = append(m.logged, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return m.entries, nil
}

func (m *memAudit) ListBefore(_ context.Context, before time.Time, after int64) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range m.entries {
		if e.ID > after && e.CreatedAt.Before(before) && len(out) < 2 {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestArchiveEventsBatchesAndCheckpoints(t *testing.T) {
	day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	audit := &memAudit{}
	for i := int64(1); i <= 5; i++ {
		audit.entries = append(audit.entries, domain.AuditEntry{
			ID:        i,
			Event:     "amount_claimed",
			Detail:    map[string]any{"position_id": i},
			CreatedAt: day.Add(time.Duration(i) * time.Minute),
		})
	}
	bucket := newMemBucket()
	a := NewArchiver(bucket, bucket, audit, nil)

	n, err := a.ArchiveEvents(context.Background(), day.Add(4*time.Minute+time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Contains(t, bucket.objects, "archive/events/2026-03-01/000000000001-000000000002.jsonl")
	assert.Contains(t, bucket.objects, "archive/events/2026-03-01/000000000003-000000000004.jsonl")

	lines := 0
	sc := bufio.NewScanner(bytes.NewReader(bucket.objects["archive/events/2026-03-01/000000000003-000000000004.jsonl"]))
	for sc.Scan() {
		assert.True(t, strings.HasPrefix(sc.Text(), `{"ID":`))
		lines++
	}
	assert.Equal(t, 2, lines)
	assert.Equal(t, []string{"archive.events"}, audit.logged)

	// A second run resumes after the checkpoint.
	n, err = a.ArchiveEvents(context.Background(), day.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, bucket.objects, "archive/events/2026-03-01/000000000005-000000000005.jsonl")

	n, err = a.ArchiveEvents(context.Background(), day.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}
