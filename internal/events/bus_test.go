package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestEventBus_Subscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Publish(NewStageStartedEvent("build"))

	select {
	case received := <-ch:
		if received.EventType() != TypeStageStarted {
			t.Errorf("expected %s, got %s", TypeStageStarted, received.EventType())
		}
		if stage := received.(StageStartedEvent).Stage; stage != "build" {
			t.Errorf("expected build, got %s", stage)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestEventBus_SubscribeByType(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	stageCh := bus.Subscribe(TypeStageStarted, TypeStageCompleted)
	allCh := bus.Subscribe()

	bus.Publish(NewDockerOperationEvent("pull", "alpine:3", "", 1))
	bus.Publish(NewStageStartedEvent("test"))

	for _, want := range []string{TypeDockerOperation, TypeStageStarted} {
		select {
		case got := <-allCh:
			if got.EventType() != want {
				t.Errorf("allCh: expected %s, got %s", want, got.EventType())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("allCh should receive %s", want)
		}
	}

	select {
	case received := <-stageCh:
		if received.EventType() != TypeStageStarted {
			t.Errorf("expected stage_started, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("stageCh should receive stage event")
	}
	select {
	case extra := <-stageCh:
		t.Errorf("stageCh received unexpected %s", extra.EventType())
	default:
	}
}

func TestEventBus_PriorityNeverDrops(t *testing.T) {
	bus := New(5)
	defer bus.Close()

	priorityCh := bus.SubscribePriority()

	for range 100 {
		bus.Publish(NewDockerOperationEvent("run", "job", "build", 1))
	}

	bus.PublishPriority(NewMonitoringStoppedEvent(42, 12.5))

	select {
	case got := <-priorityCh:
		stopped, ok := got.(MonitoringStoppedEvent)
		if !ok {
			t.Fatalf("expected MonitoringStoppedEvent, got %T", got)
		}
		if stopped.Samples != 42 {
			t.Errorf("expected 42 samples, got %d", stopped.Samples)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("priority event was not delivered")
	}
}

func TestEventBus_RingBufferDropsOldest(t *testing.T) {
	bus := New(5)
	defer bus.Close()

	ch := bus.Subscribe()
	for i := range 10 {
		bus.Publish(NewDockerOperationEvent("pull", "img", "", int64(i+1)))
	}

	if bus.DroppedCount() != 5 {
		t.Errorf("expected 5 dropped events, got %d", bus.DroppedCount())
	}

	// The newest events survive.
	first := (<-ch).(DockerOperationEvent)
	if first.Total != 6 {
		t.Errorf("expected oldest retained event to be #6, got #%d", first.Total)
	}
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	bus := New(100)
	defer bus.Close()

	ch := bus.Subscribe()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				bus.Publish(NewStageStartedEvent("concurrent"))
			}
		}()
	}
	wg.Wait()

	received := 0
drainLoop:
	for {
		select {
		case <-ch:
			received++
		default:
			break drainLoop
		}
	}

	if received != 100 {
		t.Errorf("expected a full buffer of 100 events, got %d", received)
	}
	if got := bus.DroppedCount(); got < 900 {
		t.Errorf("expected at least 900 dropped events, got %d", got)
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	bus.Publish(NewStageStartedEvent("after"))
}

func TestEventBus_SubscribeOnClosedBus(t *testing.T) {
	bus := New(10)
	bus.Close()

	for _, ch := range []<-chan Event{bus.Subscribe(), bus.SubscribePriority()} {
		select {
		case _, ok := <-ch:
			if ok {
				t.Error("channel should be closed")
			}
		case <-time.After(100 * time.Millisecond):
			t.Error("subscribing to a closed bus should return a closed channel")
		}
	}

	// Publishing after close is a no-op.
	bus.Publish(NewStageStartedEvent("late"))
	bus.PublishPriority(NewMonitoringStoppedEvent(0, 0))
	bus.Close()
}

func TestEvents_JSONShape(t *testing.T) {
	ev := NewIssueDetectedEvent("HIGH_CPU_USAGE", "HIGH", "CPU usage 97.0% exceeds 85%", 97, 85, "build", 4242)

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != TypeIssueDetected {
		t.Errorf("type = %v", decoded["type"])
	}
	if decoded["issue"] != "HIGH_CPU_USAGE" || decoded["stage"] != "build" {
		t.Errorf("unexpected payload: %s", data)
	}
	if _, ok := decoded["timestamp"]; !ok {
		t.Error("timestamp missing")
	}

	resolved := NewIssueResolvedEvent("HIGH_CPU_USAGE")
	if resolved.EventType() != TypeIssueResolved || resolved.Timestamp().IsZero() {
		t.Errorf("unexpected resolved event: %+v", resolved)
	}
}
