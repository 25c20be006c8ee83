// Package logsink implements the Log Sink (component R): an append-only,
// buffered-async-flush JSON-lines writer for AgentLog, ModeTransition, and
// OverrideAudit records, with a background retention sweep. The
// buffer-then-flush shape mirrors telemetry/events.Coalescer's ticker-driven
// batching, applied to durable writes instead of bus delivery.
package logsink

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/trafficgrid/controller/clock"
	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/telemetry/logging"
)

// record is the tagged union written to the log, one JSON object per line.
type record struct {
	Kind      string      `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Sink buffers records in memory and flushes them to an io.Writer on an
// interval, plus sweeps records older than Retention out of its in-memory
// query buffer (the durable writer itself is append-only and never trimmed).
type Sink struct {
	mu      sync.Mutex
	pending []record
	recent  []record

	w      *bufio.Writer
	closer io.Closer

	clock     clock.Clock
	logger    logging.Logger
	Retention time.Duration
	MaxRecent int
}

// New wraps w (typically an *os.File) as a flush-buffered Sink. closer may be
// nil if w does not need closing.
func New(w io.Writer, closer io.Closer, clk clock.Clock, logger logging.Logger) *Sink {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logging.New(nil)
	}
	return &Sink{
		w: bufio.NewWriter(w), closer: closer, clock: clk, logger: logger,
		Retention: 24 * time.Hour, MaxRecent: 10000,
	}
}

func (s *Sink) enqueue(kind string, payload interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := record{Kind: kind, Timestamp: s.clock.Now(), Payload: payload}
	s.pending = append(s.pending, r)
	s.recent = append(s.recent, r)
	if len(s.recent) > s.MaxRecent {
		s.recent = s.recent[len(s.recent)-s.MaxRecent:]
	}
}

// WriteAgentLog enqueues one Agent Loop cycle record.
func (s *Sink) WriteAgentLog(l models.AgentLog) { s.enqueue("agent_log", l) }

// WriteModeTransition enqueues one Mode Manager transition record.
func (s *Sink) WriteModeTransition(t models.ModeTransition) { s.enqueue("mode_transition", t) }

// WriteOverrideAudit implements override.AuditSink.
func (s *Sink) WriteOverrideAudit(a models.OverrideAudit) { s.enqueue("override_audit", a) }

// WriteIncident enqueues one incident lifecycle record.
func (s *Sink) WriteIncident(r models.IncidentRecord) { s.enqueue("incident", r) }

// Flush writes every pending record to the underlying writer as JSON lines
// and clears the pending buffer. Safe to call concurrently with enqueues.
func (s *Sink) Flush() error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, r := range batch {
		b, err := json.Marshal(r)
		if err != nil {
			continue
		}
		if _, err := s.w.Write(b); err != nil {
			return err
		}
		if err := s.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

// Run flushes and sweeps on interval until ctx is cancelled, then performs
// one final flush. Blocks; callers run it in its own goroutine.
func (s *Sink) Run(ctx context.Context, interval time.Duration) {
	s.clock.Every(ctx, interval, func(ctx context.Context) {
		if err := s.Flush(); err != nil {
			s.logger.WarnCtx(ctx, "log sink flush failed", "error", err)
		}
		s.sweepRecent(s.clock.Now())
	})
	_ = s.Flush()
}

// sweepRecent drops in-memory query-buffer entries older than Retention;
// the durable file itself is never truncated by the sink.
func (s *Sink) sweepRecent(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Retention <= 0 {
		return
	}
	cutoff := now.Add(-s.Retention)
	i := 0
	for i < len(s.recent) && s.recent[i].Timestamp.Before(cutoff) {
		i++
	}
	s.recent = s.recent[i:]
}

// Recent returns up to limit most recently written records of kind (or every
// kind if kind == ""), newest last.
func (s *Sink) Recent(kind string, limit int) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []record
	for _, r := range s.recent {
		if kind == "" || r.Kind == kind {
			matched = append(matched, r)
		}
	}
	if limit > 0 && limit < len(matched) {
		matched = matched[len(matched)-limit:]
	}
	out := make([]interface{}, len(matched))
	for i, r := range matched {
		out[i] = r.Payload
	}
	return out
}

// Close flushes any remaining records and closes the underlying writer.
func (s *Sink) Close() error {
	err := s.Flush()
	if s.closer != nil {
		if cErr := s.closer.Close(); err == nil {
			err = cErr
		}
	}
	return err
}
