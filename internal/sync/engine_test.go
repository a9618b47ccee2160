package sync

import (
	"context"
	"testing"
	"time"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/clockid"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/notification"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/semantic"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/storage"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

func newTestStore(t *testing.T) *storage.MemStore {
	t.Helper()
	ms, err := storage.Open(storage.Config{
		Dir: t.TempDir(), MachineID: "m1", Clock: clockid.NewClock("m1"),
		Index: semantic.NewFlatIndex(), Retention: 30 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { ms.Close() })
	return ms
}

func TestFanOutSkipsMachineLocalScope(t *testing.T) {
	store := newTestStore(t)
	e := NewEngine("m1", store, nil, nil)
	e.AddPeer("m2", "")

	e.fanOut(storage.Change{Kind: storage.ChangeCreate, Memory: types.Memory{ID: "local-1", Scope: types.ScopeMachineLocal}})

	e.mu.RLock()
	pending := e.outboxes["m2"].drain()
	e.mu.RUnlock()
	if len(pending) != 0 {
		t.Fatalf("outbox = %v, a machine-local change must never be enqueued", pending)
	}
}

func TestFanOutEnqueuesCollectiveScopeToEveryPeer(t *testing.T) {
	store := newTestStore(t)
	e := NewEngine("m1", store, nil, nil)
	e.AddPeer("m2", "")
	e.AddPeer("m3", "")

	e.fanOut(storage.Change{Kind: storage.ChangeCreate, Memory: types.Memory{
		ID: "shared-1", Scope: types.ScopeCollective, Version: types.Version{Counter: 1, MachineID: "m1"},
	}})

	for _, peer := range []string{"m2", "m3"} {
		e.mu.RLock()
		acked := e.outboxes[peer].acked
		e.mu.RUnlock()
		// With transport == nil, send() is a no-op success, so publishAndAck
		// drains and immediately acks every enqueued envelope.
		if acked != 1 {
			t.Fatalf("outboxes[%s].acked = %d, want 1 after a transport-less publish+ack", peer, acked)
		}
	}
}

func TestApplyIncomingChangeAppliesToLocalStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	e := NewEngine("m1", store, nil, nil)

	change := storage.Change{Kind: storage.ChangeCreate, Memory: types.Memory{
		ID: "remote-1", Content: "from peer", Scope: types.ScopeCollective, State: types.StateActive,
		Version: types.Version{Counter: 1, MachineID: "peer"},
	}}
	payload, err := encodeChange(change)
	if err != nil {
		t.Fatalf("encodeChange() error = %v", err)
	}

	if err := e.ApplyIncoming(ctx, Envelope{From: "peer", Kind: KindChange, Payload: payload}); err != nil {
		t.Fatalf("ApplyIncoming() error = %v", err)
	}

	got, err := store.Get(ctx, "remote-1", false)
	if err != nil {
		t.Fatalf("Get() after ApplyIncoming error = %v", err)
	}
	if got.Content != "from peer" {
		t.Fatalf("Get().Content = %q, want %q", got.Content, "from peer")
	}
}

func TestApplyIncomingHeartbeatUpdatesPeerReachability(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	e := NewEngine("m1", store, nil, nil)
	e.AddPeer("m2", "")

	if err := e.ApplyIncoming(ctx, Envelope{From: "m2", Kind: KindHeartbeat}); err != nil {
		t.Fatalf("ApplyIncoming(heartbeat) error = %v", err)
	}

	e.mu.RLock()
	reachable := e.peers["m2"].Reachable
	e.mu.RUnlock()
	if !reachable {
		t.Fatal("ApplyIncoming(heartbeat) must mark the peer reachable")
	}
}

func TestSweepUnreachableMarksStalePeerUnreachable(t *testing.T) {
	store := newTestStore(t)
	e := NewEngine("m1", store, nil, nil)
	e.AddPeer("m2", "")

	e.mu.Lock()
	e.peers["m2"].LastSeen = time.Now().Add(-HeartbeatMissThreshold - time.Minute)
	e.peers["m2"].Reachable = true
	e.mu.Unlock()

	e.SweepUnreachable(time.Now())

	e.mu.RLock()
	reachable := e.peers["m2"].Reachable
	e.mu.RUnlock()
	if reachable {
		t.Fatal("SweepUnreachable() must mark a silent-too-long peer unreachable")
	}
}

func TestRaiseQuarantineRecordsAlertViaNotifier(t *testing.T) {
	alertStore := newTestStore(t)
	notifier := notification.NewDispatcher(alertStore, "m1", "")
	store := newTestStore(t)
	e := NewEngine("m1", store, nil, notifier)

	change := storage.Change{Kind: storage.ChangeCreate, Memory: types.Memory{
		ID: "quarantined-1", Scope: types.ScopeCollective, Version: types.Version{Counter: 1, MachineID: "m1"},
	}}
	payload, _ := encodeChange(change)
	env := Envelope{From: "m1", To: "m2", Kind: KindChange, Seq: 1, Payload: payload}

	e.raiseQuarantine("m2", env, errSentinel{})

	recent, err := alertStore.ListRecent(context.Background(), storage.ListFilter{Category: types.CategoryMonitoring})
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("ListRecent() = %v, want one quarantine alert memory", recent)
	}
}

func TestRaiseQuarantineWithNilNotifierDoesNotPanic(t *testing.T) {
	store := newTestStore(t)
	e := NewEngine("m1", store, nil, nil)
	e.raiseQuarantine("m2", Envelope{}, errSentinel{})
}

type errSentinel struct{}

func (errSentinel) Error() string { return "boom" }

func TestMissingOriginsFindsOriginsWherePeerIsAhead(t *testing.T) {
	local := map[string]types.Version{"a": {Counter: 5, MachineID: "a"}, "b": {Counter: 2, MachineID: "b"}}
	peer := map[string]types.Version{
		"a": {Counter: 5, MachineID: "a"},  // caught up, not missing
		"b": {Counter: 7, MachineID: "b"},  // peer ahead, missing after 2
		"c": {Counter: 1, MachineID: "c"},  // unknown origin entirely, missing after 0
	}

	missing := missingOrigins(local, peer)
	byOrigin := make(map[string]OriginRange, len(missing))
	for _, rng := range missing {
		byOrigin[rng.MachineID] = rng
	}

	if _, ok := byOrigin["a"]; ok {
		t.Fatal("missingOrigins() must not include an origin the peer isn't ahead on")
	}
	if got := byOrigin["b"].After; got != 2 {
		t.Fatalf("missingOrigins()[b].After = %d, want 2", got)
	}
	if got := byOrigin["c"].After; got != 0 {
		t.Fatalf("missingOrigins()[c].After = %d, want 0 for a never-seen origin", got)
	}
}

func TestApplyIncomingDigestRecordsPeerCheckpointAndRequestsCatchUp(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	e := NewEngine("m1", store, nil, nil)
	e.AddPeer("m2", "")

	digest := DigestPayload{CheckpointVersionPerOrigin: map[string]types.Version{"m2": {Counter: 9, MachineID: "m2"}}}
	payload, err := marshalDigest(digest)
	if err != nil {
		t.Fatalf("marshalDigest() error = %v", err)
	}

	if err := e.ApplyIncoming(ctx, Envelope{From: "m2", Kind: KindDigest, Payload: payload}); err != nil {
		t.Fatalf("ApplyIncoming(digest) error = %v", err)
	}

	e.mu.RLock()
	got := e.peers["m2"].Checkpoint["m2"]
	e.mu.RUnlock()
	if got.Counter != 9 {
		t.Fatalf("peers[m2].Checkpoint[m2].Counter = %d, want 9 (the digest must be recorded even with transport nil)", got.Counter)
	}
}

func TestApplyIncomingRequestStreamsMatchingChanges(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	e := NewEngine("m1", store, nil, nil)

	change := storage.Change{Kind: storage.ChangeCreate, Memory: types.Memory{
		ID: "origin-1", Content: "hello", Scope: types.ScopeCollective, State: types.StateActive,
		Version: types.Version{Counter: 4, MachineID: "peer"},
	}}
	if _, err := store.Apply(ctx, change); err != nil {
		t.Fatalf("store.Apply() error = %v", err)
	}

	payload, err := marshalRequest(RequestPayload{Origins: []OriginRange{{MachineID: "peer", After: 0}}})
	if err != nil {
		t.Fatalf("marshalRequest() error = %v", err)
	}

	// transport is nil, so e.send is a no-op success; this only exercises
	// the decode + store.Since lookup path without a real network hop.
	if err := e.ApplyIncoming(ctx, Envelope{From: "peer", Kind: KindRequest, Payload: payload}); err != nil {
		t.Fatalf("ApplyIncoming(request) error = %v", err)
	}
}

func TestExchangeDigestsClearsNeedsFullResyncAfterFullWalk(t *testing.T) {
	store := newTestStore(t)
	e := NewEngine("m1", store, nil, nil)
	e.AddPeer("m2", "")

	// Set the flag directly, as an earlier ring overflow would have, instead
	// of filling the ring — this asserts the flag transitions true→false
	// across one exchange, matching "requests a full digest walk until clear".
	e.needsFullResync = true
	e.exchangeDigests(context.Background())

	e.mu.Lock()
	cleared := !e.needsFullResync
	e.mu.Unlock()
	if !cleared {
		t.Fatal("exchangeDigests() must clear needsFullResync once it has requested a full walk from every peer")
	}
}
