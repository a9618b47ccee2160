package eventbus

import (
	"context"
	"fmt"
	"testing"
)

type recordingHandler struct {
	id       string
	priority int
	handles  []EventType
	calls    *[]string
	reject   bool
	err      error
}

func (h recordingHandler) ID() string           { return h.id }
func (h recordingHandler) Priority() int        { return h.priority }
func (h recordingHandler) Handles() []EventType { return h.handles }
func (h recordingHandler) Handle(ctx context.Context, event *Event, result *Result) error {
	*h.calls = append(*h.calls, h.id)
	if h.reject {
		result.Reject = true
		result.Reason = h.id
	}
	return h.err
}

func TestDispatchCallsHandlersInPriorityOrder(t *testing.T) {
	var calls []string
	b := New()
	b.Register(recordingHandler{id: "second", priority: 10, handles: []EventType{EventBroadcast}, calls: &calls})
	b.Register(recordingHandler{id: "first", priority: 1, handles: []EventType{EventBroadcast}, calls: &calls})

	if _, err := b.Dispatch(context.Background(), &Event{Type: EventBroadcast}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("call order = %v, want [first second]", calls)
	}
}

func TestDispatchOnlyCallsMatchingHandlers(t *testing.T) {
	var calls []string
	b := New()
	b.Register(recordingHandler{id: "task", priority: 0, handles: []EventType{EventTask}, calls: &calls})
	b.Register(recordingHandler{id: "broadcast", priority: 0, handles: []EventType{EventBroadcast}, calls: &calls})

	if _, err := b.Dispatch(context.Background(), &Event{Type: EventBroadcast}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(calls) != 1 || calls[0] != "broadcast" {
		t.Fatalf("calls = %v, want only [broadcast]", calls)
	}
}

func TestDispatchStopsChainOnReject(t *testing.T) {
	var calls []string
	b := New()
	b.Register(recordingHandler{id: "vetoer", priority: 0, handles: []EventType{EventTask}, calls: &calls, reject: true})
	b.Register(recordingHandler{id: "downstream", priority: 10, handles: []EventType{EventTask}, calls: &calls})

	result, err := b.Dispatch(context.Background(), &Event{Type: EventTask})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !result.Reject || result.Reason != "vetoer" {
		t.Fatalf("result = %+v, want Reject by vetoer", result)
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %v, downstream handler must not run after a reject", calls)
	}
}

func TestDispatchCollectsWarningsWithoutStoppingChain(t *testing.T) {
	var calls []string
	b := New()
	b.Register(recordingHandler{id: "flaky", priority: 0, handles: []EventType{EventTask}, calls: &calls, err: fmt.Errorf("boom")})
	b.Register(recordingHandler{id: "downstream", priority: 10, handles: []EventType{EventTask}, calls: &calls})

	result, err := b.Dispatch(context.Background(), &Event{Type: EventTask})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("calls = %v, a handler error must not stop the chain", calls)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("result.Warnings = %v, want the flaky handler's error recorded", result.Warnings)
	}
}

func TestUnregisterRemovesHandler(t *testing.T) {
	var calls []string
	b := New()
	b.Register(recordingHandler{id: "h1", priority: 0, handles: []EventType{EventBroadcast}, calls: &calls})

	if !b.Unregister("h1") {
		t.Fatal("Unregister() of a registered handler must report true")
	}
	if b.Unregister("h1") {
		t.Fatal("Unregister() of an already-removed handler must report false")
	}

	if _, err := b.Dispatch(context.Background(), &Event{Type: EventBroadcast}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("calls = %v, unregistered handler must not run", calls)
	}
}

func TestDispatchWithoutJetStreamDoesNotPanic(t *testing.T) {
	b := New()
	if _, err := b.Dispatch(context.Background(), &Event{Type: EventMemoryCreate, MachineID: "m1"}); err != nil {
		t.Fatalf("Dispatch() without a JetStream context error = %v", err)
	}
}
