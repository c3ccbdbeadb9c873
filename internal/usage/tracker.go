// Package usage is the append-only accounting layer: one UsageRecord per
// terminal resolution, aggregated per session and globally. Recording is
// best-effort and never blocks the response path.
package usage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intent-dispatch/internal/types"
)

// Sink receives records and decisions for durable audit. Implementations
// are best-effort; a failing sink is logged and never fails a request.
type Sink interface {
	Record(rec types.UsageRecord) error
	RecordDecision(decision types.RoutingDecision) error
	Close() error
}

// Summary aggregates usage over a session or the whole process.
type Summary struct {
	Requests    int     `json:"requests"`
	TotalTokens int     `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
	Degraded    int     `json:"degraded"`
	Delegated   int     `json:"delegated"`
}

func (s *Summary) add(rec types.UsageRecord) {
	s.Requests++
	s.TotalTokens += rec.Tokens
	s.TotalCost += rec.Cost
	switch rec.Outcome {
	case types.OutcomeDegraded:
		s.Degraded++
	case types.OutcomeDelegated:
		s.Delegated++
	}
}

// Tracker buffers records through a channel so the dispatch path never
// waits on aggregation or sink I/O. A full buffer drops the record and
// counts the drop.
type Tracker struct {
	buffer    chan types.UsageRecord
	dropped   atomic.Int64
	enqueued  atomic.Int64
	processed atomic.Int64

	mu        sync.RWMutex
	bySession map[string][]types.UsageRecord
	sessions  map[string]*Summary
	global    Summary

	sinks  []Sink
	logger *logrus.Logger

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTracker creates a tracker with the given buffer size and optional
// durable sinks.
func NewTracker(bufferSize int, logger *logrus.Logger, sinks ...Sink) *Tracker {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	t := &Tracker{
		buffer:    make(chan types.UsageRecord, bufferSize),
		bySession: make(map[string][]types.UsageRecord),
		sessions:  make(map[string]*Summary),
		sinks:     sinks,
		logger:    logger,
		stop:      make(chan struct{}),
	}

	t.wg.Add(1)
	go t.run()

	return t
}

// Record enqueues a usage record. Never blocks: when the buffer is full
// the record is dropped and counted.
func (t *Tracker) Record(rec types.UsageRecord) {
	select {
	case t.buffer <- rec:
		t.enqueued.Add(1)
	default:
		if t.dropped.Add(1)%100 == 1 {
			t.logger.WithField("dropped_total", t.dropped.Load()).Warn("Usage buffer full, dropping records")
		}
	}
}

// RecordDecision forwards a routing decision to the audit sinks. Fire and
// forget; sink failures are logged and swallowed.
func (t *Tracker) RecordDecision(decision types.RoutingDecision) {
	for _, sink := range t.sinks {
		if err := sink.RecordDecision(decision); err != nil {
			t.logger.WithError(err).Warn("Audit sink rejected decision")
		}
	}
}

// SessionSummary returns the aggregate for one session.
func (t *Tracker) SessionSummary(sessionID string) (Summary, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return Summary{}, false
	}
	return *s, true
}

// SessionRecords returns a copy of the individual records for a session,
// letting callers re-aggregate to cross-check the summary.
func (t *Tracker) SessionRecords(sessionID string) []types.UsageRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	recs := t.bySession[sessionID]
	out := make([]types.UsageRecord, len(recs))
	copy(out, recs)
	return out
}

// GlobalSummary returns the process-wide aggregate.
func (t *Tracker) GlobalSummary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.global
}

// Dropped reports how many records were discarded due to a full buffer.
func (t *Tracker) Dropped() int64 {
	return t.dropped.Load()
}

// Flush waits until every record enqueued before the call has been
// aggregated. Intended for tests and shutdown.
func (t *Tracker) Flush() {
	target := t.enqueued.Load()
	for t.processed.Load() < target {
		time.Sleep(time.Millisecond)
	}
}

// Close drains the buffer, closes sinks and stops the worker.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.wg.Wait()

	for _, sink := range t.sinks {
		if err := sink.Close(); err != nil {
			t.logger.WithError(err).Warn("Error closing usage sink")
		}
	}
}

func (t *Tracker) run() {
	defer t.wg.Done()

	for {
		select {
		case rec := <-t.buffer:
			t.apply(rec)
		case <-t.stop:
			// Drain what's left before exiting.
			for {
				select {
				case rec := <-t.buffer:
					t.apply(rec)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracker) apply(rec types.UsageRecord) {
	defer t.processed.Add(1)

	t.mu.Lock()
	t.bySession[rec.SessionID] = append(t.bySession[rec.SessionID], rec)
	s, ok := t.sessions[rec.SessionID]
	if !ok {
		s = &Summary{}
		t.sessions[rec.SessionID] = s
	}
	s.add(rec)
	t.global.add(rec)
	t.mu.Unlock()

	for _, sink := range t.sinks {
		if err := sink.Record(rec); err != nil {
			t.logger.WithError(err).Warn("Audit sink rejected usage record")
		}
	}
}
