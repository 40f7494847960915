package audit

import (
	"sync"
	"time"

	"github.com/hpcops/tenantgate/internal/metrics"
	"github.com/hpcops/tenantgate/pkg/types"
)

// Sink receives audit events emitted by the reconciliation engine.
type Sink interface {
	Record(ev types.AuditEvent)
}

var (
	mu     sync.RWMutex
	global Sink = noopSink{}
)

// SetGlobal overrides the process-wide audit sink.
func SetGlobal(s Sink) {
	if s == nil {
		return
	}
	mu.Lock()
	global = s
	mu.Unlock()
}

// Publish stamps and records an audit event on the configured sink.
func Publish(ev types.AuditEvent) {
	if ev.ID == "" {
		ev.ID = types.NewID().String()
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	metrics.AuditEventsTotal.Inc()
	mu.RLock()
	s := global
	mu.RUnlock()
	s.Record(ev)
}

type noopSink struct{}

func (noopSink) Record(types.AuditEvent) {}

// Tee fans an event out to several sinks.
type Tee []Sink

func (t Tee) Record(ev types.AuditEvent) {
	for _, s := range t {
		s.Record(ev)
	}
}

// Ring keeps the most recent events in memory for the admin API.
type Ring struct {
	mu   sync.RWMutex
	buf  []types.AuditEvent
	next int
	full bool
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 256
	}
	return &Ring{buf: make([]types.AuditEvent, capacity)}
}

func (r *Ring) Record(ev types.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = ev
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// Recent returns up to limit events, newest first.
func (r *Ring) Recent(limit int) []types.AuditEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]types.AuditEvent, 0, limit)
	for i := 0; i < limit; i++ {
		idx := r.next - 1 - i
		if idx < 0 {
			idx += len(r.buf)
		}
		out = append(out, r.buf[idx])
	}
	return out
}
