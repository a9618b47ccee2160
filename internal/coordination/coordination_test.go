package coordination

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/clockid"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/eventbus"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/registry"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/semantic"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/storage"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

func newTestBus(t *testing.T) (*Bus, *eventbus.Bus, *registry.Registry) {
	t.Helper()
	ms, err := storage.Open(storage.Config{
		Dir: t.TempDir(), MachineID: "m1", Clock: clockid.NewClock("m1"),
		Index: semantic.NewFlatIndex(), Retention: 30 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { ms.Close() })

	eb := eventbus.New()
	reg := registry.New("m1")
	return New("m1", eb, reg, ms), eb, reg
}

// autoAcceptHandler acks any dispatched Task immediately (simulating the
// chosen agent accepting it), so DelegateTask's wait for ackCh resolves
// without blocking on TaskAckTimeout.
type autoAcceptHandler struct {
	bus      *Bus
	agentID  string
}

func (h *autoAcceptHandler) ID() string                   { return "auto-accept" }
func (h *autoAcceptHandler) Priority() int                 { return 0 }
func (h *autoAcceptHandler) Handles() []eventbus.EventType { return []eventbus.EventType{eventbus.EventTask} }
func (h *autoAcceptHandler) Handle(ctx context.Context, event *eventbus.Event, result *eventbus.Result) error {
	var task types.Task
	if err := json.Unmarshal(event.Payload, &task); err != nil {
		return err
	}
	return h.bus.AcceptTask(task.TaskID, h.agentID)
}

func TestPublishBroadcastThenOnBroadcastReceivedDedupesByID(t *testing.T) {
	b, _, _ := newTestBus(t)
	ctx := context.Background()

	bc, err := b.PublishBroadcast(ctx, "incident", types.SeverityInfo, "something happened", types.Origin{MachineID: "m1"})
	if err != nil {
		t.Fatalf("PublishBroadcast() error = %v", err)
	}

	if !b.OnBroadcastReceived(bc) {
		t.Fatal("first OnBroadcastReceived() for a new id must report isNew=true")
	}
	if b.OnBroadcastReceived(bc) {
		t.Fatal("replaying the same broadcast id must report isNew=false")
	}
}

func TestDelegateTaskAcceptCompleteLifecycle(t *testing.T) {
	b, eb, reg := newTestBus(t)
	ctx := context.Background()

	agent := reg.Register("worker", []string{"go"})
	eb.Register(&autoAcceptHandler{bus: b, agentID: agent.AgentID})

	task, err := b.DelegateTask(ctx, "do the thing", []string{"go"}, types.PriorityMedium, nil)
	if err != nil {
		t.Fatalf("DelegateTask() error = %v", err)
	}
	if task.State != types.TaskAssigned && task.State != types.TaskInProgress {
		t.Fatalf("task.State = %q, want assigned or in_progress after delegate", task.State)
	}

	if err := b.CompleteTask(ctx, task.TaskID, types.TaskDone); err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}

	b.mu.Lock()
	got := b.tasks[task.TaskID].State
	b.mu.Unlock()
	if got != types.TaskDone {
		t.Fatalf("task state after CompleteTask = %q, want done", got)
	}
}

func TestCompleteTaskRejectsNonTerminalState(t *testing.T) {
	b, eb, reg := newTestBus(t)
	ctx := context.Background()
	agent := reg.Register("worker", []string{"go"})
	eb.Register(&autoAcceptHandler{bus: b, agentID: agent.AgentID})

	task, err := b.DelegateTask(ctx, "do the thing", []string{"go"}, types.PriorityMedium, nil)
	if err != nil {
		t.Fatalf("DelegateTask() error = %v", err)
	}

	if err := b.CompleteTask(ctx, task.TaskID, types.TaskInProgress); err == nil {
		t.Fatal("CompleteTask() with a non-terminal state must error")
	}
}

func TestCompleteTaskUnknownTaskErrors(t *testing.T) {
	b, _, _ := newTestBus(t)
	if err := b.CompleteTask(context.Background(), "nope", types.TaskDone); err == nil {
		t.Fatal("CompleteTask() for an unknown task id must error")
	}
}

func TestCancelTaskPublishesTaskCancelEvent(t *testing.T) {
	b, eb, reg := newTestBus(t)
	ctx := context.Background()
	agent := reg.Register("worker", []string{"go"})
	eb.Register(&autoAcceptHandler{bus: b, agentID: agent.AgentID})

	task, err := b.DelegateTask(ctx, "do the thing", []string{"go"}, types.PriorityMedium, nil)
	if err != nil {
		t.Fatalf("DelegateTask() error = %v", err)
	}

	received := make(chan struct{}, 1)
	eb.Register(cancelWatcher{ch: received})

	if err := b.CancelTask(ctx, task.TaskID); err != nil {
		t.Fatalf("CancelTask() error = %v", err)
	}
	select {
	case <-received:
	default:
		t.Fatal("CancelTask() must dispatch an EventTaskCancel event")
	}
}

func TestCancelTaskUnknownTaskErrors(t *testing.T) {
	b, _, _ := newTestBus(t)
	if err := b.CancelTask(context.Background(), "nope"); err == nil {
		t.Fatal("CancelTask() for an unknown task id must error")
	}
}

type cancelWatcher struct{ ch chan struct{} }

func (cancelWatcher) ID() string       { return "cancel-watcher" }
func (cancelWatcher) Priority() int    { return 1 }
func (cancelWatcher) Handles() []eventbus.EventType {
	return []eventbus.EventType{eventbus.EventTaskCancel}
}
func (c cancelWatcher) Handle(ctx context.Context, event *eventbus.Event, result *eventbus.Result) error {
	select {
	case c.ch <- struct{}{}:
	default:
	}
	return nil
}

func TestDiscoverStoresBroadcastAndSearchableMemory(t *testing.T) {
	b, _, _ := newTestBus(t)
	ctx := context.Background()

	bc, err := b.Discover(ctx, "runbooks", "found a new deploy pattern", types.Origin{MachineID: "m1"})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if bc.Category != "runbooks" {
		t.Fatalf("broadcast.Category = %q, want runbooks", bc.Category)
	}

	recent, err := b.store.ListRecent(ctx, storage.ListFilter{Category: types.CategoryMonitoring})
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	found := false
	for _, m := range recent {
		if m.Content == "found a new deploy pattern" {
			found = true
		}
	}
	if !found {
		t.Fatal("Discover() must persist a searchable monitoring-category memory")
	}
}
