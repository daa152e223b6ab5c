package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docshield/docshield/internal/config"
	"github.com/docshield/docshield/internal/db/models"
)

func sampleEntry(id string) *models.AuditLogEntry {
	return &models.AuditLogEntry{
		ID:             id,
		Timestamp:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Actor:          editor,
		Action:         models.ActionDelete,
		ActionCategory: models.CategoryContent,
		Resource:       models.Resource{Type: "document", ID: "doc-1"},
		Checksum:       strings.Repeat("a", 64),
	}
}

func TestLogSink_LogsFullEntryAtError(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sink.Ship(context.Background(), sampleEntry("e-1")))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "e-1", line["audit_id"])
	assert.Contains(t, line["entry"], `"checksum":"aaaa`)
}

type failingSink struct{ err error }

func (f failingSink) Ship(context.Context, *models.AuditLogEntry) error { return f.err }
func (f failingSink) Close() error                                      { return nil }

func TestMultiSink_ShipsToAllAndJoinsErrors(t *testing.T) {
	rec := &recordingSink{}
	boom := errors.New("boom")
	ms := NewMultiSink(failingSink{err: boom}, nil, rec)

	err := ms.Ship(context.Background(), sampleEntry("e-1"))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, rec.shipped(), 1, "a failing sink must not stop the others")

	require.NoError(t, ms.Close())
	assert.True(t, rec.closed)
}

func TestFileSink_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dead-letter.jsonl")
	fs, err := NewFileSink(config.AuditFileConfig{Enabled: true, Path: path})
	require.NoError(t, err)

	require.NoError(t, fs.Ship(context.Background(), sampleEntry("e-1")))
	require.NoError(t, fs.Ship(context.Background(), sampleEntry("e-2")))
	require.NoError(t, fs.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e models.AuditLogEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"e-1", "e-2"}, ids)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileSink_Rotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dead-letter.jsonl")
	// Pre-fill past the 1 MB threshold so the next Ship rotates.
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), 1024*1024+1), 0600))

	fs, err := NewFileSink(config.AuditFileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 2})
	require.NoError(t, err)
	require.NoError(t, fs.Ship(context.Background(), sampleEntry("e-1")))
	require.NoError(t, fs.Close())

	backup, err := os.Stat(path + ".1")
	require.NoError(t, err)
	assert.Greater(t, backup.Size(), int64(1024*1024))

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(current), `"id":"e-1"`)
}

func TestFileSink_FailedRotationKeepsWriting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dead-letter.jsonl")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), 1024*1024+1), 0600))

	fs, err := NewFileSink(config.AuditFileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 2})
	require.NoError(t, err)
	fs.open = func(string) (*os.File, error) { return nil, errors.New("disk full") }

	require.NoError(t, fs.Ship(context.Background(), sampleEntry("e-1")))
	require.NoError(t, fs.Ship(context.Background(), sampleEntry("e-2")))
	require.NoError(t, fs.Close())

	// The old handle keeps receiving entries under the live name.
	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(current), `"id":"e-1"`)
	assert.Contains(t, string(current), `"id":"e-2"`)
}

func TestFileSink_RequiresPath(t *testing.T) {
	_, err := NewFileSink(config.AuditFileConfig{})
	assert.Error(t, err)
}

func TestWebhookSink_SendsEntryWithHeaders(t *testing.T) {
	var gotAuth, gotType string
	var got models.AuditLogEntry
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ws, err := NewWebhookSink(config.AuditWebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer siem"},
	})
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.Ship(context.Background(), sampleEntry("e-1")))
	assert.Equal(t, "Bearer siem", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "e-1", got.ID)
}

func TestWebhookSink_BatchFlushedOnClose(t *testing.T) {
	var batches atomic.Int32
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []models.AuditLogEntry
		if err := json.NewDecoder(r.Body).Decode(&batch); err == nil {
			batches.Add(1)
			received.Add(int32(len(batch)))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws, err := NewWebhookSink(config.AuditWebhookConfig{
		URL:           srv.URL,
		BatchSize:     10,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)

	for _, id := range []string{"e-1", "e-2", "e-3"} {
		require.NoError(t, ws.Ship(context.Background(), sampleEntry(id)))
	}
	require.NoError(t, ws.Close())

	assert.Equal(t, int32(1), batches.Load())
	assert.Equal(t, int32(3), received.Load())
}

func TestWebhookSink_ShipAfterCloseIsRejected(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []models.AuditLogEntry
		if err := json.NewDecoder(r.Body).Decode(&batch); err == nil {
			received.Add(int32(len(batch)))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws, err := NewWebhookSink(config.AuditWebhookConfig{URL: srv.URL, BatchSize: 10, FlushInterval: time.Hour})
	require.NoError(t, err)

	// Ships racing with Close either land in the final batch or are refused;
	// none is accepted and then dropped.
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if ws.Ship(context.Background(), sampleEntry(fmt.Sprintf("e-%d", i))) == nil {
				accepted.Add(1)
			}
		}(i)
	}
	require.NoError(t, ws.Close())
	wg.Wait()

	assert.ErrorIs(t, ws.Ship(context.Background(), sampleEntry("late")), ErrSinkClosed)
	assert.Equal(t, accepted.Load(), received.Load())
}

func TestWebhookSink_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ws, err := NewWebhookSink(config.AuditWebhookConfig{
		URL:              srv.URL,
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
	})
	require.NoError(t, err)
	defer ws.Close()

	ctx := context.Background()
	assert.Error(t, ws.Ship(ctx, sampleEntry("e-1")))
	assert.Error(t, ws.Ship(ctx, sampleEntry("e-2")))
	err = ws.Ship(ctx, sampleEntry("e-3"))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load())
}

func TestWebhookSink_RequiresURL(t *testing.T) {
	_, err := NewWebhookSink(config.AuditWebhookConfig{})
	assert.Error(t, err)
}

func TestNewSinksFromConfig(t *testing.T) {
	fallback, forwarder, err := NewSinksFromConfig(config.AuditConfig{})
	require.NoError(t, err)
	assert.NotNil(t, fallback)
	assert.Nil(t, forwarder)

	cfg := config.AuditConfig{
		DeadLetter: config.AuditFileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "dl.jsonl")},
		Forwarder:  config.AuditWebhookConfig{Enabled: true, URL: "http://127.0.0.1:1/ingest"},
	}
	fallback, forwarder, err = NewSinksFromConfig(cfg)
	require.NoError(t, err)
	require.NotNil(t, forwarder)
	assert.Len(t, fallback.(*MultiSink).sinks, 2)
	require.NoError(t, forwarder.Close())
	require.NoError(t, fallback.Close())
}
