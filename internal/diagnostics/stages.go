package diagnostics

import (
	"sync"
	"time"
)

// ExecutionStage is a named, non-overlapping phase of the monitored run.
// EndTime and DurationMS are nil while the stage is open. A closed stage
// is never modified again.
type ExecutionStage struct {
	Name             string     `json:"name" yaml:"name"`
	StartTime        time.Time  `json:"start_time" yaml:"start_time"`
	EndTime          *time.Time `json:"end_time" yaml:"end_time"`
	DurationMS       *float64   `json:"duration_ms" yaml:"duration_ms"`
	PeakCPU          float64    `json:"peak_cpu" yaml:"peak_cpu"`
	PeakMemoryMB     float64    `json:"peak_memory_mb" yaml:"peak_memory_mb"`
	DockerOperations int        `json:"docker_operations" yaml:"docker_operations"`
	SampleCount      int        `json:"sample_count" yaml:"sample_count"`
	Bottlenecks      []string   `json:"bottlenecks" yaml:"bottlenecks"`
}

// IsOpen reports whether the stage has not been closed yet.
func (s ExecutionStage) IsOpen() bool { return s.EndTime == nil }

// Duration returns the closed duration, or the elapsed time at now for an
// open stage.
func (s ExecutionStage) Duration(now time.Time) time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}

func (s ExecutionStage) clone() ExecutionStage {
	c := s
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	if s.DurationMS != nil {
		d := *s.DurationMS
		c.DurationMS = &d
	}
	c.Bottlenecks = append([]string{}, s.Bottlenecks...)
	return c
}

// StageTracker holds at most one open stage plus the closed ones.
type StageTracker struct {
	mu      sync.Mutex
	current *ExecutionStage
	closed  []ExecutionStage
	now     func() time.Time
}

// NewStageTracker creates an empty tracker.
func NewStageTracker() *StageTracker {
	return &StageTracker{now: time.Now}
}

// StartStage opens a stage named name. An open stage is closed first; it is
// returned with closedPrev set.
func (t *StageTracker) StartStage(name string) (prev ExecutionStage, closedPrev bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.current != nil {
		prev, closedPrev = t.closeLocked(now), true
	}
	t.current = &ExecutionStage{
		Name:        name,
		StartTime:   now,
		Bottlenecks: []string{},
	}
	return prev, closedPrev
}

// EndStage closes the open stage, if any.
func (t *StageTracker) EndStage() (ExecutionStage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return ExecutionStage{}, false
	}
	return t.closeLocked(t.now()), true
}

func (t *StageTracker) closeLocked(now time.Time) ExecutionStage {
	st := *t.current
	if now.Before(st.StartTime) {
		now = st.StartTime
	}
	end := now
	ms := end.Sub(st.StartTime).Seconds() * 1000
	st.EndTime = &end
	st.DurationMS = &ms

	t.closed = append(t.closed, st)
	t.current = nil
	return st.clone()
}

// Observe folds a sample into the open stage's peaks.
func (t *StageTracker) Observe(s MetricSample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return
	}
	if s.CPUPercent > t.current.PeakCPU {
		t.current.PeakCPU = s.CPUPercent
	}
	if s.MemoryRSSMB > t.current.PeakMemoryMB {
		t.current.PeakMemoryMB = s.MemoryRSSMB
	}
	t.current.SampleCount++
}

// AddDockerOperation counts one container operation against the open stage
// and returns its name, or "" when no stage is open.
func (t *StageTracker) AddDockerOperation() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return ""
	}
	t.current.DockerOperations++
	return t.current.Name
}

// Current returns a copy of the open stage.
func (t *StageTracker) Current() (ExecutionStage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return ExecutionStage{}, false
	}
	return t.current.clone(), true
}

// Closed returns copies of the closed stages in closing order.
func (t *StageTracker) Closed() []ExecutionStage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ExecutionStage, len(t.closed))
	for i, st := range t.closed {
		out[i] = st.clone()
	}
	return out
}

// All returns the closed stages followed by the open one, if any.
func (t *StageTracker) All() []ExecutionStage {
	all := t.Closed()
	if cur, ok := t.Current(); ok {
		all = append(all, cur)
	}
	return all
}
