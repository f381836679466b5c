package diagnostics

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// DefaultSource labels events recorded without a source in their context.
const DefaultSource = "main"

type sourceKey struct{}

// WithSource returns a context whose recorded trace events are attributed
// to label, e.g. "sampler" or a job id.
func WithSource(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, sourceKey{}, label)
}

// SourceFrom returns the source label carried by ctx.
func SourceFrom(ctx context.Context) string {
	if ctx != nil {
		if label, ok := ctx.Value(sourceKey{}).(string); ok && label != "" {
			return label
		}
	}
	return DefaultSource
}

// TraceEvent is one recorded event.
type TraceEvent struct {
	Seq       uint64         `json:"seq" yaml:"seq"`
	Name      string         `json:"name" yaml:"name"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Source    string         `json:"source" yaml:"source"`
	Data      map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// TimelineEntry is an event with its offset from the first event.
type TimelineEntry struct {
	TraceEvent `yaml:",inline"`
	OffsetMS   float64 `json:"offset_ms" yaml:"offset_ms"`
}

// TraceStatistics summarizes one trace.
type TraceStatistics struct {
	TotalEvents    int            `json:"total_events" yaml:"total_events"`
	RetainedEvents int            `json:"retained_events" yaml:"retained_events"`
	Duration       time.Duration  `json:"duration" yaml:"duration"`
	EventsByType   map[string]int `json:"events_by_type" yaml:"events_by_type"`
	EventsBySource map[string]int `json:"events_by_source" yaml:"events_by_source"`
	MinInterval    time.Duration  `json:"min_interval" yaml:"min_interval"`
	AvgInterval    time.Duration  `json:"avg_interval" yaml:"avg_interval"`
	MaxInterval    time.Duration  `json:"max_interval" yaml:"max_interval"`
}

// ExecutionTracer is an append-only event log. Recording is a no-op while
// the tracer is inactive. The log is bounded; once full the oldest events
// are evicted while the per-type counters keep counting.
type ExecutionTracer struct {
	mu        sync.Mutex
	active    bool
	events    *Ring[TraceEvent]
	byType    map[string]int
	bySource  map[string]int
	total     int
	seq       uint64
	startedAt time.Time
	stoppedAt time.Time
	now       func() time.Time
}

// NewExecutionTracer creates a tracer retaining at most maxEvents events.
func NewExecutionTracer(maxEvents int) *ExecutionTracer {
	if maxEvents <= 0 {
		maxEvents = 10000
	}
	return &ExecutionTracer{
		events:   NewRing[TraceEvent](maxEvents),
		byType:   make(map[string]int),
		bySource: make(map[string]int),
		now:      time.Now,
	}
}

// StartTrace activates recording. Starting discards the previous trace;
// starting an active tracer does nothing.
func (t *ExecutionTracer) StartTrace() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		return
	}
	t.events.Reset()
	clear(t.byType)
	clear(t.bySource)
	t.total = 0
	t.startedAt = t.now()
	t.stoppedAt = time.Time{}
	t.active = true
}

// StopTrace deactivates recording and returns the trace statistics.
func (t *ExecutionTracer) StopTrace() TraceStatistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		t.active = false
		t.stoppedAt = t.now()
	}
	return t.statisticsLocked()
}

// ResumeTrace reactivates a stopped trace, keeping its events and start
// time. It does nothing on an active tracer or one that never started.
func (t *ExecutionTracer) ResumeTrace() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active || t.startedAt.IsZero() {
		return
	}
	t.stoppedAt = time.Time{}
	t.active = true
}

// IsActive reports whether events are being recorded.
func (t *ExecutionTracer) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// RecordEvent appends an event attributed to the source carried by ctx.
// The timestamp is taken while holding the tracer lock, so timestamps
// follow lock acquisition order.
func (t *ExecutionTracer) RecordEvent(ctx context.Context, name string, data map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}

	t.seq++
	ev := TraceEvent{
		Seq:       t.seq,
		Name:      name,
		Timestamp: t.now(),
		Source:    SourceFrom(ctx),
	}
	if len(data) > 0 {
		ev.Data = maps.Clone(data)
	}
	t.events.Push(ev)
	t.byType[name]++
	t.bySource[ev.Source]++
	t.total++
}

// Events returns a copy of the retained events in recording order.
func (t *ExecutionTracer) Events() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events.Items()
}

// Statistics returns statistics for the current or last trace.
func (t *ExecutionTracer) Statistics() TraceStatistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statisticsLocked()
}

// Timeline returns retained events ordered by timestamp with offsets
// relative to the first event. Equal timestamps keep recording order.
func (t *ExecutionTracer) Timeline() []TimelineEntry {
	events := t.Events()
	sortEvents(events)

	timeline := make([]TimelineEntry, len(events))
	for i, ev := range events {
		timeline[i] = TimelineEntry{
			TraceEvent: ev,
			OffsetMS:   float64(ev.Timestamp.Sub(events[0].Timestamp)) / float64(time.Millisecond),
		}
	}
	return timeline
}

func sortEvents(events []TraceEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Seq < events[j].Seq
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

func (t *ExecutionTracer) statisticsLocked() TraceStatistics {
	stats := TraceStatistics{
		TotalEvents:    t.total,
		RetainedEvents: t.events.Len(),
		EventsByType:   maps.Clone(t.byType),
		EventsBySource: maps.Clone(t.bySource),
	}

	if !t.startedAt.IsZero() {
		end := t.stoppedAt
		if end.IsZero() {
			end = t.now()
		}
		stats.Duration = end.Sub(t.startedAt)
	}

	events := t.events.Items()
	if len(events) < 2 {
		return stats
	}
	sortEvents(events)

	var sum time.Duration
	for i := 1; i < len(events); i++ {
		gap := events[i].Timestamp.Sub(events[i-1].Timestamp)
		if i == 1 || gap < stats.MinInterval {
			stats.MinInterval = gap
		}
		if gap > stats.MaxInterval {
			stats.MaxInterval = gap
		}
		sum += gap
	}
	stats.AvgInterval = sum / time.Duration(len(events)-1)
	return stats
}
