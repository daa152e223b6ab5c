// Package audit implements the tamper-evident audit log: the write path with
// bounded retries, history and search reads, integrity verification, and the
// sinks that receive entries outside the primary store.
//
// Sinks have two roles. The fallback sink receives entries that could not be
// persisted after every retry so they are never silently lost. The forwarder
// receives every committed entry for an external collector such as a SIEM.
// Both roles use the same Sink interface and can be combined with MultiSink.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/docshield/docshield/internal/config"
	"github.com/docshield/docshield/internal/db/models"
	"github.com/docshield/docshield/internal/telemetry"
)

// Sink receives audit entries outside the primary store.
type Sink interface {
	// Ship delivers one entry to the destination
	Ship(ctx context.Context, entry *models.AuditLogEntry) error
	// Close flushes buffered entries and releases resources
	Close() error
}

// NewSinksFromConfig builds the fallback sink and the optional forwarder.
// The fallback always includes a LogSink; forwarder is nil when disabled.
func NewSinksFromConfig(cfg config.AuditConfig) (fallback Sink, forwarder Sink, err error) {
	fallbacks := []Sink{NewLogSink(slog.Default())}

	if cfg.DeadLetter.Enabled {
		fs, err := NewFileSink(cfg.DeadLetter)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create dead-letter sink: %w", err)
		}
		fallbacks = append(fallbacks, fs)
	}

	if cfg.Forwarder.Enabled {
		ws, err := NewWebhookSink(cfg.Forwarder)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create forwarder: %w", err)
		}
		forwarder = ws
	}

	return NewMultiSink(fallbacks...), forwarder, nil
}

// LogSink writes entries to the application log at ERROR level. It is the
// last line of defence for entries the store rejected.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink; a nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Ship logs the full entry.
func (s *LogSink) Ship(ctx context.Context, entry *models.AuditLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	s.logger.ErrorContext(ctx, "audit entry not persisted",
		"audit_id", entry.ID,
		"action", string(entry.Action),
		"entry", string(data),
	)
	return nil
}

// Close is a no-op.
func (s *LogSink) Close() error { return nil }

// MultiSink ships to multiple destinations
type MultiSink struct {
	sinks []Sink
	mu    sync.RWMutex
}

// NewMultiSink fans out to sinks; nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	ms := &MultiSink{sinks: make([]Sink, 0, len(sinks))}
	for _, s := range sinks {
		if s != nil {
			ms.sinks = append(ms.sinks, s)
		}
	}
	return ms
}

// Ship sends an entry to every sink and joins their errors.
func (ms *MultiSink) Ship(ctx context.Context, entry *models.AuditLogEntry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var errs []error
	for _, s := range ms.sinks {
		if err := s.Ship(ctx, entry); err != nil {
			slog.Warn("audit sink error", "audit_id", entry.ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks
func (ms *MultiSink) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var errs []error
	for _, s := range ms.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WebhookSink posts entries to an HTTP collector. With BatchSize > 0 entries
// are queued and sent as a JSON array; otherwise each Ship is one request.
// Delivery runs through a circuit breaker so a dead collector costs one
// failed request per OpenTimeout instead of one per entry.
type WebhookSink struct {
	cfg       config.AuditWebhookConfig
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[struct{}]
	batchCh   chan *models.AuditLogEntry
	batch     []*models.AuditLogEntry
	closeCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// mu orders Ship's enqueue against Close: once closed is set no entry
	// can reach batchCh after the drain loop has run.
	mu     sync.RWMutex
	closed bool
}

// NewWebhookSink creates a new webhook sink
func NewWebhookSink(cfg config.AuditWebhookConfig) (*WebhookSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	threshold := uint32(5)
	if cfg.FailureThreshold > 0 {
		threshold = uint32(cfg.FailureThreshold)
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout == 0 {
		openTimeout = 30 * time.Second
	}

	ws := &WebhookSink{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		batchCh: make(chan *models.AuditLogEntry, 1000),
		batch:   make([]*models.AuditLogEntry, 0, cfg.BatchSize),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	ws.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "audit-forwarder",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("audit forwarder circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	if cfg.BatchSize > 0 {
		go ws.processBatches()
	} else {
		close(ws.done)
	}

	return ws, nil
}

// processBatches handles batched sending
func (ws *WebhookSink) processBatches() {
	defer close(ws.done)

	ticker := time.NewTicker(ws.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-ws.batchCh:
			ws.batch = append(ws.batch, entry)
			if len(ws.batch) >= ws.cfg.BatchSize {
				ws.flushBatch()
			}
		case <-ticker.C:
			ws.flushBatch()
		case <-ws.closeCh:
			for {
				select {
				case entry := <-ws.batchCh:
					ws.batch = append(ws.batch, entry)
				default:
					ws.flushBatch()
					return
				}
			}
		}
	}
}

// flushBatch sends the current batch. A batch that fails is dropped after
// logging; the entries are already committed to the primary store.
func (ws *WebhookSink) flushBatch() {
	if len(ws.batch) == 0 {
		return
	}

	data, err := json.Marshal(ws.batch)
	if err != nil {
		slog.Error("failed to marshal audit batch", "error", err)
		ws.batch = ws.batch[:0]
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.cfg.Timeout)
	defer cancel()

	if err := ws.send(ctx, data); err != nil {
		slog.Error("failed to forward audit batch", "entries", len(ws.batch), "error", err)
	}

	ws.batch = ws.batch[:0]
}

// Ship forwards an entry, queueing it when batching is enabled.
func (ws *WebhookSink) Ship(ctx context.Context, entry *models.AuditLogEntry) error {
	if ws.cfg.BatchSize > 0 {
		ws.mu.RLock()
		if ws.closed {
			ws.mu.RUnlock()
			return ErrSinkClosed
		}
		select {
		case ws.batchCh <- entry:
			ws.mu.RUnlock()
			return nil
		default:
			// Queue full, send directly
		}
		ws.mu.RUnlock()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	return ws.send(ctx, data)
}

func (ws *WebhookSink) send(ctx context.Context, data []byte) error {
	_, err := ws.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, ws.sendRequest(ctx, data)
	})
	if err != nil {
		telemetry.AuditForwardedTotal.WithLabelValues("failed").Inc()
		return err
	}
	telemetry.AuditForwardedTotal.WithLabelValues("ok").Inc()
	return nil
}

// sendRequest sends the HTTP request
func (ws *WebhookSink) sendRequest(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close flushes queued entries and stops the batch loop.
func (ws *WebhookSink) Close() error {
	ws.closeOnce.Do(func() {
		ws.mu.Lock()
		ws.closed = true
		ws.mu.Unlock()
		close(ws.closeCh)
	})
	<-ws.done
	return nil
}

// FileSink appends entries to a JSON-lines file with size-based rotation.
// Each line is one entry exactly as the store would have received it, so the
// file can be replayed once the store recovers.
type FileSink struct {
	cfg  config.AuditFileConfig
	file *os.File
	mu   sync.Mutex
	open func(path string) (*os.File, error)
}

func openDeadLetter(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}

// NewFileSink creates a new file sink
func NewFileSink(cfg config.AuditFileConfig) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, errors.New("file sink path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := openDeadLetter(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileSink{cfg: cfg, file: file, open: openDeadLetter}, nil
}

// Ship writes an entry to the file
func (fs *FileSink) Ship(_ context.Context, entry *models.AuditLogEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.cfg.MaxSizeMB > 0 {
		info, err := fs.file.Stat()
		if err == nil && info.Size() > int64(fs.cfg.MaxSizeMB)*1024*1024 {
			if err := fs.rotate(); err != nil {
				slog.Error("failed to rotate audit dead-letter file", "path", fs.cfg.Path, "error", err)
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// rotate shifts path.N to path.N+1, moves the live file to path.1 and drops
// anything beyond MaxBackups. The current handle stays in use until the new
// file is open, so a failed rotation never stops dead-letter writes.
func (fs *FileSink) rotate() error {
	for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", fs.cfg.Path, i), fmt.Sprintf("%s.%d", fs.cfg.Path, i+1))
	}
	_ = os.Rename(fs.cfg.Path, fs.cfg.Path+".1")
	if fs.cfg.MaxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.cfg.Path, fs.cfg.MaxBackups+1))
	}

	file, err := fs.open(fs.cfg.Path)
	if err != nil {
		_ = os.Rename(fs.cfg.Path+".1", fs.cfg.Path)
		return err
	}
	old := fs.file
	fs.file = file
	return old.Close()
}

// Close closes the file
func (fs *FileSink) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
