package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/errkind"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/notification"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/retry"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/storage"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

// DigestInterval is D from spec §4.4: the default period between digest
// exchanges.
const DigestInterval = 60 * time.Second

// HeartbeatMissThreshold is "3·D": absence for this long marks a peer
// unreachable (spec §4.4 step 5).
const HeartbeatMissThreshold = 3 * DigestInterval

// outbox is a per-peer SPSC queue of Changes awaiting delivery, resumed
// from the highest acked seq on reconnect (spec §4.4 step 1).
type outbox struct {
	mu      sync.Mutex
	pending []Envelope
	nextSeq uint64
	acked   uint64
}

func (o *outbox) enqueue(env Envelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextSeq++
	env.Seq = o.nextSeq
	o.pending = append(o.pending, env)
}

func (o *outbox) ack(seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if seq > o.acked {
		o.acked = seq
	}
	kept := o.pending[:0]
	for _, e := range o.pending {
		if e.Seq > o.acked {
			kept = append(kept, e)
		}
	}
	o.pending = kept
}

func (o *outbox) drain() []Envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Envelope, len(o.pending))
	copy(out, o.pending)
	return out
}

// Engine is component Y. One Engine runs per machine, draining its
// storage.Store's change ring and fanning changes out to peers over the
// Transport, per spec §4.4's algorithm.
type Engine struct {
	machineID string
	store     storage.Store
	transport *Transport

	mu    sync.RWMutex
	peers map[string]*types.Peer

	outboxes map[string]*outbox
	sf       singleflight.Group
	quarant  *retry.Quarantine
	notifier *notification.Dispatcher

	needsFullResync bool
}

// NewEngine wires a Y instance to its local store and transport. notifier
// may be nil, in which case quarantine is logged only (spec §7's operator
// alert requirement is best served, but not required, by a Dispatcher).
func NewEngine(machineID string, store storage.Store, transport *Transport, notifier *notification.Dispatcher) *Engine {
	return &Engine{
		machineID: machineID,
		store:     store,
		transport: transport,
		notifier:  notifier,
		peers:     make(map[string]*types.Peer),
		outboxes:  make(map[string]*outbox),
		quarant:   retry.NewQuarantine(),
	}
}

// AddPeer registers a peer for replication (configured peer list per
// SPEC_FULL §4.4's "flat configured peer list" decision).
func (e *Engine) AddPeer(machineID, endpoint string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.peers[machineID] = &types.Peer{
		MachineID:  machineID,
		Endpoint:   endpoint,
		Checkpoint: make(map[string]types.Version),
		LastSeen:   time.Now(),
		Reachable:  true,
	}
	e.outboxes[machineID] = &outbox{}
}

// Peers returns a snapshot of known peers, for the health endpoint.
func (e *Engine) Peers() []types.Peer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.Peer, 0, len(e.peers))
	for _, p := range e.peers {
		out = append(out, *p)
	}
	return out
}

// Run drains the local change ring and periodically exchanges digests with
// every peer until ctx is cancelled. Mirrors spec §5's "cooperative event
// loop per component" via an errgroup-supervised pair of goroutines.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.drainLoop(ctx) })
	g.Go(func() error { return e.digestLoop(ctx) })

	return g.Wait()
}

func (e *Engine) drainLoop(ctx context.Context) error {
	ch := e.store.Changes()
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-ch:
			if !ok {
				return nil
			}
			e.fanOut(change)
		}
	}
}

// fanOut places change into every peer's outbox, unless it is
// machine-local (spec §4.4 step 4: "never placed in any outbox").
var tracer = otel.Tracer("github.com/lancejames221b/agent-hivemind-sub004/sync")

func (e *Engine) fanOut(change storage.Change) {
	if change.Memory.Scope == types.ScopeMachineLocal {
		return
	}
	_, span := tracer.Start(context.Background(), "sync.fanOut",
		trace.WithAttributes(attribute.String("collective.memory_id", change.Memory.ID)))
	defer span.End()

	payload, err := encodeChange(change)
	if err != nil {
		log.Printf("sync: encode change %s: %v", change.Memory.ID, err)
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for peerID, ob := range e.outboxes {
		env := Envelope{From: e.machineID, To: peerID, Kind: KindChange, Payload: payload}
		ob.enqueue(env)
		e.publishAndAck(peerID, ob)
	}
}

func (e *Engine) publishAndAck(peerID string, ob *outbox) {
	for _, env := range ob.drain() {
		if err := e.send(peerID, env); err != nil {
			key := fmt.Sprintf("%s:%d", peerID, env.Seq)
			if e.quarant.Fail(key) {
				log.Printf("sync: change to %s seq %d quarantined after repeated failures", peerID, env.Seq)
				e.raiseQuarantine(peerID, env, err)
			}
			continue
		}
		e.quarant.Clear(fmt.Sprintf("%s:%d", peerID, env.Seq))
		ob.ack(env.Seq)
	}
}

func (e *Engine) raiseQuarantine(peerID string, env Envelope, lastErr error) {
	if e.notifier == nil {
		return
	}
	memoryID := env.From + "/" + peerID
	if change, err := decodeChange(env.Payload); err == nil {
		memoryID = change.Memory.ID
	}
	alert := notification.QuarantineAlert{
		MemoryID: memoryID, PeerID: peerID,
		Attempts: e.quarant.MaxAttempts, LastErr: lastErr.Error(),
	}
	if err := e.notifier.Raise(context.Background(), alert); err != nil {
		log.Printf("sync: raise quarantine alert: %v", err)
	}
}

func (e *Engine) send(peerID string, env Envelope) error {
	if e.transport == nil {
		return nil // transport-less engine, e.g. single-machine tests
	}
	data, err := marshalEnvelope(env)
	if err != nil {
		return err
	}
	return retry.Do(context.Background(), func() error {
		if _, err := e.transport.JetStream().Publish(SubjectForPeer(peerID), data); err != nil {
			return errkind.Wrap(errkind.Transport, "publish to peer", err)
		}
		return nil
	})
}

// SubjectForPeer is the JetStream subject a machine publishes to when
// addressing peerID, and the subject peerID's own daemon subscribes to for
// inbound replication (spec §4.4 step 3).
func SubjectForPeer(peerID string) string {
	return "collective.sync.push." + peerID
}

// digestLoop exchanges a Digest with every peer every DigestInterval and
// requests missing Changes when checkpoints diverge (spec §4.4 step 2).
func (e *Engine) digestLoop(ctx context.Context) error {
	ticker := time.NewTicker(DigestInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.exchangeDigests(ctx)
			e.sendHeartbeats(ctx)
			e.SweepUnreachable(time.Now())
		}
	}
}

// exchangeDigests sends every peer a Digest of local state. When the change
// ring has overflowed (the store reports NeedsResync, or RingFillPct ≥ 1.0)
// this machine can no longer trust
// its own digest to reflect everything it dropped, so it also proactively
// requests a full walk from every peer's origin instead of waiting for a
// divergence to surface through the normal compare-on-receipt path (spec
// §4.4: "overflow flips the machine to needs-full-resync; Y requests a full
// digest walk until clear").
func (e *Engine) exchangeDigests(ctx context.Context) {
	overflowed := e.store.RingFillPct() >= 1.0
	if r, ok := e.store.(interface{ NeedsResync() bool }); ok && r.NeedsResync() {
		overflowed = true
	}
	if overflowed {
		e.mu.Lock()
		e.needsFullResync = true
		e.mu.Unlock()
	}

	_, _, _ = e.sf.Do("digest", func() (interface{}, error) {
		recent, _ := e.store.ListRecent(ctx, storage.ListFilter{})
		checkpoints, _ := e.store.Checkpoints(ctx)
		digest := buildDigest(recent, checkpoints)

		e.mu.Lock()
		peerIDs := make([]string, 0, len(e.peers))
		for id := range e.peers {
			peerIDs = append(peerIDs, id)
		}
		fullResync := e.needsFullResync
		e.needsFullResync = false
		e.mu.Unlock()

		payload, err := marshalDigest(digest)
		for _, peerID := range peerIDs {
			if err == nil {
				_ = e.send(peerID, Envelope{From: e.machineID, To: peerID, Kind: KindDigest, Payload: payload})
			}
			if fullResync {
				e.requestFullWalk(peerID)
			}
		}
		return nil, nil
	})
}

// requestFullWalk asks peerID for every Change it has originated, used to
// clear needsFullResync after a ring overflow.
func (e *Engine) requestFullWalk(peerID string) {
	payload, err := marshalRequest(RequestPayload{Origins: []OriginRange{{MachineID: peerID, After: 0}}})
	if err != nil {
		return
	}
	_ = e.send(peerID, Envelope{From: e.machineID, To: peerID, Kind: KindRequest, Payload: payload})
}

// sendHeartbeats tells every peer this machine is alive (spec §4.4 step 5),
// feeding the KindHeartbeat case of ApplyIncoming on the receiving side.
func (e *Engine) sendHeartbeats(ctx context.Context) {
	payload, err := marshalHeartbeat(HeartbeatPayload{
		MachineID: e.machineID,
		NowWall:   time.Now().UnixMilli(),
		LoadHint:  e.store.RingFillPct(),
	})
	if err != nil {
		return
	}
	e.mu.RLock()
	peerIDs := make([]string, 0, len(e.peers))
	for id := range e.peers {
		peerIDs = append(peerIDs, id)
	}
	e.mu.RUnlock()
	for _, peerID := range peerIDs {
		_ = e.send(peerID, Envelope{From: e.machineID, To: peerID, Kind: KindHeartbeat, Payload: payload})
	}
}

func buildDigest(memories []types.Memory, checkpoints map[string]types.Version) DigestPayload {
	ids := make([]string, 0, len(memories))
	for _, m := range memories {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
	}
	return DigestPayload{CheckpointVersionPerOrigin: checkpoints, HashOfRecentIDs: hex.EncodeToString(h.Sum(nil))}
}

// ApplyIncoming is called by the transport subscription loop for every
// envelope received from a peer (spec §4.4 steps 2, 3, 5).
func (e *Engine) ApplyIncoming(ctx context.Context, env Envelope) error {
	switch env.Kind {
	case KindChange:
		change, err := decodeChange(env.Payload)
		if err != nil {
			return errkind.Wrap(errkind.Transport, "decode incoming change", err)
		}
		_, err = e.store.Apply(ctx, change)
		return err
	case KindDigest:
		return e.handleDigest(ctx, env)
	case KindRequest:
		return e.handleRequest(ctx, env)
	case KindHeartbeat:
		if len(env.Payload) > 0 {
			if _, err := decodeHeartbeat(env.Payload); err != nil {
				return errkind.Wrap(errkind.Transport, "decode incoming heartbeat", err)
			}
		}
		e.mu.Lock()
		if p, ok := e.peers[env.From]; ok {
			p.LastSeen = time.Now()
			p.Reachable = true
		}
		e.mu.Unlock()
		return nil
	default:
		return nil
	}
}

// handleDigest compares a peer's reported per-origin checkpoints against
// this machine's own (spec §4.4 step 2). Any origin where the peer is ahead
// means a Change never reached us directly — most likely lost in transit,
// per §4.4's "loss of a single message: recovered on the next digest
// exchange" — so we ask the peer to replay it via a Request.
func (e *Engine) handleDigest(ctx context.Context, env Envelope) error {
	digest, err := decodeDigest(env.Payload)
	if err != nil {
		return errkind.Wrap(errkind.Transport, "decode incoming digest", err)
	}

	local, err := e.store.Checkpoints(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if p, ok := e.peers[env.From]; ok {
		p.Checkpoint = digest.CheckpointVersionPerOrigin
	}
	e.mu.Unlock()

	missing := missingOrigins(local, digest.CheckpointVersionPerOrigin)
	if len(missing) == 0 {
		return nil
	}

	payload, err := marshalRequest(RequestPayload{Origins: missing})
	if err != nil {
		return errkind.Wrap(errkind.Transport, "encode request", err)
	}
	return e.send(env.From, Envelope{From: e.machineID, To: env.From, Kind: KindRequest, Payload: payload})
}

// missingOrigins compares local per-origin checkpoints against a peer's
// reported ones and returns an OriginRange for every origin where the peer
// is strictly ahead — the divergence test at the heart of spec §4.4 step 2.
func missingOrigins(local, peer map[string]types.Version) []OriginRange {
	var missing []OriginRange
	for origin, peerVersion := range peer {
		localVersion := local[origin]
		if peerVersion.Greater(localVersion) {
			missing = append(missing, OriginRange{MachineID: origin, After: localVersion.Counter})
		}
	}
	return missing
}

// handleRequest streams every Change the requester is missing for each
// requested origin range, answering either a divergence-triggered Request
// from handleDigest or a full-resync walk from requestFullWalk.
func (e *Engine) handleRequest(ctx context.Context, env Envelope) error {
	req, err := decodeRequest(env.Payload)
	if err != nil {
		return errkind.Wrap(errkind.Transport, "decode incoming request", err)
	}

	for _, rng := range req.Origins {
		missing, err := e.store.Since(ctx, rng.MachineID, rng.After)
		if err != nil {
			log.Printf("sync: since lookup for origin %s: %v", rng.MachineID, err)
			continue
		}
		for _, mem := range missing {
			kind := storage.ChangeUpdate
			if mem.State == types.StateSoftDeleted {
				kind = storage.ChangeDelete
			}
			payload, err := encodeChange(storage.Change{Kind: kind, Memory: mem})
			if err != nil {
				continue
			}
			_ = e.send(env.From, Envelope{From: e.machineID, To: env.From, Kind: KindChange, Payload: payload})
		}
	}
	return nil
}

// SweepUnreachable marks peers unreachable after HeartbeatMissThreshold of
// silence (spec §4.4 step 5: "does not trigger deletion").
func (e *Engine) SweepUnreachable(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.peers {
		if now.Sub(p.LastSeen) > HeartbeatMissThreshold {
			p.Reachable = false
		}
	}
}

func marshalEnvelope(env Envelope) ([]byte, error) { return json.Marshal(env) }
func marshalDigest(d DigestPayload) ([]byte, error) { return json.Marshal(d) }
