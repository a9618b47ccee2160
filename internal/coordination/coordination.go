// Package coordination implements component C: delivers ephemeral
// Broadcast, Task, and Discovery messages fleet-wide with at-least-once
// semantics (spec §4.6), riding the same internal/eventbus handler-priority
// chain the teacher uses for its own hook dispatch, generalized from
// Claude-Code hook events to the Collective's coordination messages.
package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/clockid"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/errkind"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/eventbus"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/registry"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/storage"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

// TaskAckTimeout is T_ack from spec §4.6: default time to wait for a
// TaskAck before the requester retries or downgrades to best-effort.
const TaskAckTimeout = 30 * time.Second

// Bus is component C. It publishes/dispatches over the shared
// internal/eventbus.Bus and records Task state transitions as memories in
// M under category global / tag task, so task history survives restarts
// (spec §4.6).
type Bus struct {
	machineID string
	bus       *eventbus.Bus
	registry  *registry.Registry
	store     storage.Store

	mu    sync.Mutex
	tasks map[string]*types.Task
	acks  map[string]chan struct{}

	seenBroadcasts map[string]struct{} // dedup on id (spec §4.6)
}

// New wires component C to the shared eventbus, the local Registry (for
// routing), and the local Store (for task-history memories).
func New(machineID string, bus *eventbus.Bus, reg *registry.Registry, store storage.Store) *Bus {
	return &Bus{
		machineID:      machineID,
		bus:            bus,
		registry:       reg,
		store:          store,
		tasks:          make(map[string]*types.Task),
		acks:           make(map[string]chan struct{}),
		seenBroadcasts: make(map[string]struct{}),
	}
}

// PublishBroadcast implements the broadcast verb (spec §4.6, §6).
func (b *Bus) PublishBroadcast(ctx context.Context, category string, severity types.Severity, message string, origin types.Origin) (types.Broadcast, error) {
	bc := types.Broadcast{
		ID: clockid.NewBroadcastID(), Category: category, Severity: severity,
		Message: message, Origin: origin, CreatedAt: clockid.WallNow(),
	}
	payload, err := json.Marshal(bc)
	if err != nil {
		return types.Broadcast{}, errkind.Wrap(errkind.Internal, "marshal broadcast", err)
	}
	_, err = b.bus.Dispatch(ctx, &eventbus.Event{Type: eventbus.EventBroadcast, MachineID: b.machineID, Payload: payload})
	return bc, err
}

// OnBroadcastReceived is called by the transport layer for every inbound
// Broadcast; consumers deduplicate on id (spec §4.6).
func (b *Bus) OnBroadcastReceived(bc types.Broadcast) (isNew bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, seen := b.seenBroadcasts[bc.ID]; seen {
		return false
	}
	b.seenBroadcasts[bc.ID] = struct{}{}
	return true
}

// DelegateTask implements delegate_task (spec §4.5 route(), §4.6 Task
// flow, §6). If no local capable agent exists, the Task is forwarded to
// the chosen agent's machine over the bus.
func (b *Bus) DelegateTask(ctx context.Context, description string, requiredCapabilities []string, priority types.TaskPriority, deadline *time.Time) (types.Task, error) {
	agent, err := b.registry.Route(requiredCapabilities, "")
	if err != nil {
		return types.Task{}, errkind.Wrap(errkind.NotFound, "delegate_task", err)
	}

	task := types.Task{
		TaskID: clockid.NewTaskID(), Description: description,
		RequiredCapabilities: requiredCapabilities, Priority: priority,
		State: types.TaskPending, AssigneeAgentID: agent.AgentID,
		RequesterMachineID: b.machineID, CreatedAt: clockid.WallNow(), Deadline: deadline,
	}

	b.mu.Lock()
	b.tasks[task.TaskID] = &task
	ackCh := make(chan struct{}, 1)
	b.acks[task.TaskID] = ackCh
	b.mu.Unlock()

	if err := b.recordTaskHistory(ctx, task); err != nil {
		return types.Task{}, err
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return types.Task{}, errkind.Wrap(errkind.Internal, "marshal task", err)
	}
	if _, err := b.bus.Dispatch(ctx, &eventbus.Event{Type: eventbus.EventTask, MachineID: b.machineID, Payload: payload}); err != nil {
		return types.Task{}, err
	}

	task.State = types.TaskAssigned
	b.mu.Lock()
	b.tasks[task.TaskID] = &task
	b.mu.Unlock()

	select {
	case <-ackCh:
	case <-time.After(TaskAckTimeout):
		// Timeout: caller may retry or downgrade to best-effort (spec §4.6);
		// the task remains assigned rather than failing outright.
	case <-ctx.Done():
	}

	return task, nil
}

// AcceptTask records TaskAck{task_id, agent_id} (spec §4.6).
func (b *Bus) AcceptTask(taskID, agentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[taskID]
	if !ok {
		return errkind.Wrap(errkind.NotFound, "unknown task", errkind.ErrNotFound)
	}
	t.State = types.TaskInProgress
	t.AssigneeAgentID = agentID
	if ch, ok := b.acks[taskID]; ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// CompleteTask records a terminal state transition (done/failed/expired/cancelled)
// (spec §4.6, testable property 7).
func (b *Bus) CompleteTask(ctx context.Context, taskID string, final types.TaskState) error {
	if final != types.TaskDone && final != types.TaskFailed && final != types.TaskExpired && final != types.TaskCancelled {
		return errkind.New(errkind.Validation, fmt.Sprintf("not a terminal state: %s", final))
	}
	b.mu.Lock()
	t, ok := b.tasks[taskID]
	if !ok {
		b.mu.Unlock()
		return errkind.Wrap(errkind.NotFound, "unknown task", errkind.ErrNotFound)
	}
	t.State = final
	snapshot := *t
	b.mu.Unlock()
	return b.recordTaskHistory(ctx, snapshot)
}

// CancelTask implements TaskCancel: advisory if the assignee cannot be
// reached (spec §4.6).
func (b *Bus) CancelTask(ctx context.Context, taskID string) error {
	b.mu.Lock()
	t, ok := b.tasks[taskID]
	b.mu.Unlock()
	if !ok {
		return errkind.Wrap(errkind.NotFound, "unknown task", errkind.ErrNotFound)
	}
	payload, err := json.Marshal(struct {
		TaskID string `json:"task_id"`
	}{TaskID: taskID})
	if err != nil {
		return err
	}
	_, err = b.bus.Dispatch(ctx, &eventbus.Event{Type: eventbus.EventTaskCancel, MachineID: b.machineID, Payload: payload})
	_ = t
	return err
}

// recordTaskHistory persists a task state transition as a memory under
// category global, tag task (spec §4.6: "so task history survives
// restarts").
func (b *Bus) recordTaskHistory(ctx context.Context, t types.Task) error {
	content := fmt.Sprintf("task %s [%s]: %s", t.TaskID, t.State, t.Description)
	_, err := b.store.Store(ctx, content, types.CategoryGlobal, []string{"task", string(t.State)},
		types.ScopeCollective, types.ImportanceNormal,
		types.Origin{MachineID: b.machineID, CreatedAtWall: clockid.WallNow()})
	return err
}

// Discover implements the Discovery message kind: delivered as Broadcast
// and additionally stored in M so the insight is searchable (spec §4.6).
func (b *Bus) Discover(ctx context.Context, category, message string, origin types.Origin) (types.Broadcast, error) {
	bc, err := b.PublishBroadcast(ctx, category, types.SeverityInfo, message, origin)
	if err != nil {
		return types.Broadcast{}, err
	}
	_, err = b.store.Store(ctx, message, types.CategoryMonitoring, []string{"discovery", category},
		types.ScopeCollective, types.ImportanceNormal, origin)
	return bc, err
}
