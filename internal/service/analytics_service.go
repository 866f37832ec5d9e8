package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/GoPolymarket/autopilot/internal/pkg/logger"
	"github.com/GoPolymarket/autopilot/internal/pkg/metrics"
)

// AnalyticsSink receives execution logs on a best-effort basis.
type AnalyticsSink interface {
	Name() string
	LogExecution(ctx context.Context, entry *model.ExecutionLog) error
}

// LogReader serves execution log listings from durable storage.
type LogReader interface {
	ListLogs(ctx context.Context, filter model.LogFilter) ([]*model.ExecutionLog, error)
}

type AnalyticsOptions struct {
	QueueSize   int
	BufferSize  int
	LogDir      string // optional JSONL mirror
	SinkTimeout time.Duration
	Reader      LogReader
}

type envelope struct {
	entry   *model.ExecutionLog
	flushed chan struct{}
}

// AnalyticsService decouples the execution path from analytics delivery.
// Publish never blocks; a full queue drops the entry.
type AnalyticsService struct {
	mu      sync.RWMutex
	closed  bool
	queue   chan envelope
	done    chan struct{}
	logFile *os.File
	buffer  *executionBuffer
	sinks   []AnalyticsSink
	reader  LogReader
	timeout time.Duration
}

func NewAnalyticsService(opts AnalyticsOptions, sinks ...AnalyticsSink) (*AnalyticsService, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 5 * time.Second
	}

	svc := &AnalyticsService{
		queue:   make(chan envelope, opts.QueueSize),
		done:    make(chan struct{}),
		buffer:  newExecutionBuffer(opts.BufferSize),
		sinks:   sinks,
		reader:  opts.Reader,
		timeout: opts.SinkTimeout,
	}

	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
			return nil, err
		}
		filename := filepath.Join(opts.LogDir, "executions-"+time.Now().Format("2006-01-02")+".jsonl")
		f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		svc.logFile = f
	}

	go svc.process()
	return svc, nil
}

func (s *AnalyticsService) Publish(entry *model.ExecutionLog) {
	if entry == nil {
		return
	}
	s.buffer.Add(entry)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- envelope{entry: entry}:
	default:
		metrics.AnalyticsDropped.Inc()
		logger.Warn("analytics queue full, dropping execution log", "log_id", entry.ID)
	}
}

// Flush waits until everything published before the call has been delivered.
func (s *AnalyticsService) Flush(ctx context.Context) error {
	marker := envelope{flushed: make(chan struct{})}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil
	}
	select {
	case s.queue <- marker:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-marker.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List prefers the durable reader and falls back to the in-memory ring buffer.
func (s *AnalyticsService) List(ctx context.Context, filter model.LogFilter) ([]*model.ExecutionLog, error) {
	if s.reader != nil {
		records, err := s.reader.ListLogs(ctx, filter)
		if err == nil {
			return records, nil
		}
		logger.Warn("execution log listing failed, serving buffer", "error", err)
	}
	return s.buffer.List(filter), nil
}

func (s *AnalyticsService) process() {
	defer close(s.done)

	var encoder *json.Encoder
	if s.logFile != nil {
		encoder = json.NewEncoder(s.logFile)
	}
	for env := range s.queue {
		if env.flushed != nil {
			close(env.flushed)
			continue
		}
		for _, sink := range s.sinks {
			s.deliver(sink, env.entry)
		}
		if encoder != nil {
			if err := encoder.Encode(env.entry); err != nil {
				logger.Warn("failed to write execution log file", "error", err)
			}
		}
	}
}

func (s *AnalyticsService) deliver(sink AnalyticsSink, entry *model.ExecutionLog) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			metrics.AnalyticsFailures.WithLabelValues(sink.Name()).Inc()
			logger.Error("analytics sink panicked", "sink", sink.Name(), "panic", r)
		}
	}()
	if err := sink.LogExecution(ctx, entry); err != nil {
		metrics.AnalyticsFailures.WithLabelValues(sink.Name()).Inc()
		logger.Warn("analytics sink failed", "sink", sink.Name(), "log_id", entry.ID, "error", err)
	}
}

// Close drains the queue and releases the log file.
func (s *AnalyticsService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	if s.logFile != nil {
		s.logFile.Close()
	}
}

type executionBuffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.ExecutionLog
	nextIndex int
}

func newExecutionBuffer(maxSize int) *executionBuffer {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &executionBuffer{
		maxSize: maxSize,
		records: make([]*model.ExecutionLog, 0, maxSize),
	}
}

func (b *executionBuffer) Add(entry *model.ExecutionLog) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, entry)
		return
	}
	b.records[b.nextIndex] = entry
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

// List returns newest first.
func (b *executionBuffer) List(filter model.LogFilter) []*model.ExecutionLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	limit := filter.Limit
	if limit <= 0 || limit > b.maxSize {
		limit = b.maxSize
	}
	results := make([]*model.ExecutionLog, 0, limit)
	total := len(b.records)
	for i := 0; i < total; i++ {
		idx := (b.nextIndex + total - 1 - i) % total
		entry := b.records[idx]
		if entry == nil || !matchesLog(entry, filter) {
			continue
		}
		results = append(results, entry)
		if len(results) >= limit {
			break
		}
	}
	return results
}

func matchesLog(entry *model.ExecutionLog, filter model.LogFilter) bool {
	if filter.Type != "" && entry.Type != filter.Type {
		return false
	}
	if filter.ItemID != "" && entry.ItemID != filter.ItemID {
		return false
	}
	if filter.Owner != "" && !sameIdentity(entry.Owner, filter.Owner) {
		return false
	}
	return true
}
