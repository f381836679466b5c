package events

// Event type constants for monitoring events.
const (
	TypeMonitoringStarted = "monitoring_started"
	TypeMonitoringStopped = "monitoring_stopped"
	TypeStageStarted      = "stage_started"
	TypeStageCompleted    = "stage_completed"
	TypeIssueDetected     = "issue_detected"
	TypeIssueResolved     = "issue_resolved"
	TypeDockerOperation   = "docker_operation"
)

// MonitoringStartedEvent is emitted when a process is added to a run.
type MonitoringStartedEvent struct {
	BaseEvent
	PID int32 `json:"pid"`
}

// NewMonitoringStartedEvent creates a new monitoring started event.
func NewMonitoringStartedEvent(pid int32) MonitoringStartedEvent {
	return MonitoringStartedEvent{
		BaseEvent: NewBaseEvent(TypeMonitoringStarted),
		PID:       pid,
	}
}

// MonitoringStoppedEvent is emitted when sampling ends.
type MonitoringStoppedEvent struct {
	BaseEvent
	Samples       int     `json:"samples"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// NewMonitoringStoppedEvent creates a new monitoring stopped event.
func NewMonitoringStoppedEvent(samples int, uptimeSeconds float64) MonitoringStoppedEvent {
	return MonitoringStoppedEvent{
		BaseEvent:     NewBaseEvent(TypeMonitoringStopped),
		Samples:       samples,
		UptimeSeconds: uptimeSeconds,
	}
}

// StageStartedEvent is emitted when a stage opens.
type StageStartedEvent struct {
	BaseEvent
	Stage string `json:"stage"`
}

// NewStageStartedEvent creates a new stage started event.
func NewStageStartedEvent(stage string) StageStartedEvent {
	return StageStartedEvent{
		BaseEvent: NewBaseEvent(TypeStageStarted),
		Stage:     stage,
	}
}

// StageCompletedEvent is emitted when a stage closes.
type StageCompletedEvent struct {
	BaseEvent
	Stage            string  `json:"stage"`
	DurationMS       float64 `json:"duration_ms"`
	PeakCPU          float64 `json:"peak_cpu"`
	PeakMemoryMB     float64 `json:"peak_memory_mb"`
	DockerOperations int     `json:"docker_operations"`
}

// NewStageCompletedEvent creates a new stage completed event.
func NewStageCompletedEvent(stage string, durationMS, peakCPU, peakMemoryMB float64, dockerOps int) StageCompletedEvent {
	return StageCompletedEvent{
		BaseEvent:        NewBaseEvent(TypeStageCompleted),
		Stage:            stage,
		DurationMS:       durationMS,
		PeakCPU:          peakCPU,
		PeakMemoryMB:     peakMemoryMB,
		DockerOperations: dockerOps,
	}
}

// IssueEvent reports a live performance issue appearing or clearing.
type IssueEvent struct {
	BaseEvent
	Issue     string  `json:"issue"`
	Severity  string  `json:"severity,omitempty"`
	Message   string  `json:"message,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Stage     string  `json:"stage,omitempty"`
	PID       int32   `json:"pid,omitempty"`
}

// NewIssueDetectedEvent creates an event for a newly detected issue.
func NewIssueDetectedEvent(issue, severity, message string, value, threshold float64, stage string, pid int32) IssueEvent {
	return IssueEvent{
		BaseEvent: NewBaseEvent(TypeIssueDetected),
		Issue:     issue,
		Severity:  severity,
		Message:   message,
		Value:     value,
		Threshold: threshold,
		Stage:     stage,
		PID:       pid,
	}
}

// NewIssueResolvedEvent creates an event for an issue that no longer holds.
func NewIssueResolvedEvent(issue string) IssueEvent {
	return IssueEvent{
		BaseEvent: NewBaseEvent(TypeIssueResolved),
		Issue:     issue,
	}
}

// DockerOperationEvent is emitted for each recorded container operation.
type DockerOperationEvent struct {
	BaseEvent
	Kind  string `json:"kind"`
	Ref   string `json:"ref"`
	Stage string `json:"stage,omitempty"`
	Total int64  `json:"total"`
}

// NewDockerOperationEvent creates a new container operation event.
func NewDockerOperationEvent(kind, ref, stage string, total int64) DockerOperationEvent {
	return DockerOperationEvent{
		BaseEvent: NewBaseEvent(TypeDockerOperation),
		Kind:      kind,
		Ref:       ref,
		Stage:     stage,
		Total:     total,
	}
}
