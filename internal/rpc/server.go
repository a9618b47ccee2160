package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/clockid"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/coordination"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/errkind"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/registry"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/semantic"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/storage"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/sync"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

// Deps are the components a Server dispatches requests onto — one per
// machine, wired up by cmd/collectived.
type Deps struct {
	MachineID string
	Store     storage.Store
	Index     semantic.Index
	Embed     semantic.EmbedFunc
	Registry  *registry.Registry
	Coord     *coordination.Bus
	Engine    *sync.Engine
}

// Server handles Requests over any transport, mirroring the teacher's
// server_core.go Server struct (socket/TCP listeners, bearer-token gate,
// connection accounting) but with the Collective's own operation set.
type Server struct {
	deps Deps

	socketPath string
	tcpAddr    string
	tcpToken   string

	mu       sync.Mutex
	listener net.Listener
	tcpLis   net.Listener
	shutdown chan struct{}
}

// NewServer wires a Server to its dependencies. socketPath may be empty to
// skip the Unix listener; tcpAddr+tcpToken may be empty to skip TCP.
func NewServer(deps Deps, socketPath, tcpAddr, tcpToken string) *Server {
	return &Server{deps: deps, socketPath: socketPath, tcpAddr: tcpAddr, tcpToken: tcpToken, shutdown: make(chan struct{})}
}

// Serve starts the configured listeners and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if s.socketPath != "" {
		l, err := listenRPC(s.socketPath)
		if err != nil {
			return err
		}
		s.listener = l
		go s.acceptLoop(ctx, l, false)
	}
	if s.tcpAddr != "" {
		l, err := listenTCP(s.tcpAddr)
		if err != nil {
			return err
		}
		s.tcpLis = l
		go s.acceptLoop(ctx, l, true)
	}

	<-ctx.Done()
	s.Shutdown()
	return nil
}

// Shutdown closes all listeners.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.shutdown:
		return
	default:
		close(s.shutdown)
	}
	if s.listener != nil {
		s.listener.Close()
	}
	if s.tcpLis != nil {
		s.tcpLis.Close()
	}
}

func (s *Server) acceptLoop(ctx context.Context, l net.Listener, requireToken bool) {
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if ctx.Err() != nil {
				return
			}
			continue
		}
		go s.handleConn(ctx, conn, requireToken)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn, requireToken bool) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		if requireToken && req.Token != s.tcpToken {
			enc.Encode(Response{Success: false, Error: &ErrorBody{Kind: string(errkind.Policy), Message: "invalid token"}})
			continue
		}
		resp := s.Dispatch(ctx, req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

// Dispatch runs one Request in-process and returns its Response —  used
// directly by the in-process client and by both network transports.
func (s *Server) Dispatch(ctx context.Context, req Request) Response {
	data, err := s.dispatch(ctx, req)
	if err != nil {
		return errorResponse(err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return errorResponse(errkind.Wrap(errkind.Internal, "marshal response", err))
	}
	return Response{Success: true, Data: raw}
}

func errorResponse(err error) Response {
	var ce *errkind.CollectiveError
	if ok := asCollectiveError(err, &ce); ok {
		return Response{Success: false, Error: &ErrorBody{Kind: string(ce.Kind), Message: ce.Message, RetryAfterMs: ce.RetryAfterMs}}
	}
	return Response{Success: false, Error: &ErrorBody{Kind: string(errkind.Internal), Message: err.Error()}}
}

func asCollectiveError(err error, target **errkind.CollectiveError) bool {
	for err != nil {
		if ce, ok := err.(*errkind.CollectiveError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// tracer is the Server's root tracer, mirroring the teacher's
// fire-and-forget root-span pattern in internal/hooks (no parent span
// crosses the wire, so each request gets its own root).
var tracer = otel.Tracer("github.com/lancejames221b/agent-hivemind-sub004/rpc")

var requestCounter, _ = otel.Meter("github.com/lancejames221b/agent-hivemind-sub004/rpc").
	Int64Counter("rpc.requests", metric.WithDescription("dispatched RPC requests by operation"))

func (s *Server) dispatch(ctx context.Context, req Request) (result interface{}, err error) {
	ctx, span := tracer.Start(ctx, "rpc.dispatch",
		trace.WithAttributes(attribute.String("rpc.operation", string(req.Operation))))
	requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("rpc.operation", string(req.Operation))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	switch req.Operation {
	case OpStoreMemory:
		return s.storeMemory(ctx, req.Args)
	case OpSearchMemories:
		return s.searchMemories(ctx, req.Args)
	case OpRetrieveMemory:
		return s.retrieveMemory(ctx, req.Args)
	case OpUpdateMemory:
		return s.updateMemory(ctx, req.Args)
	case OpDeleteMemory:
		return s.deleteMemory(ctx, req.Args)
	case OpRecoverMemory:
		return s.recoverMemory(ctx, req.Args)
	case OpRegisterAgent:
		return s.registerAgent(req.Args)
	case OpDeregisterAgent:
		return s.deregisterAgent(req.Args)
	case OpHeartbeat:
		return s.heartbeat(req.Args)
	case OpDelegateTask:
		return s.delegateTask(ctx, req.Args)
	case OpBroadcast:
		return s.broadcast(ctx, req.Args)
	case OpFindDuplicates:
		return s.findDuplicates(ctx, req.Args)
	case OpRoster:
		return s.roster(req.Args)
	case OpStatus:
		return s.status(), nil
	default:
		return nil, errkind.New(errkind.Validation, fmt.Sprintf("unknown operation %q", req.Operation))
	}
}

func decodeArgs[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, errkind.Wrap(errkind.Validation, "decode args", err)
	}
	return v, nil
}

func (s *Server) storeMemory(ctx context.Context, raw json.RawMessage) (StoreMemoryResult, error) {
	args, err := decodeArgs[StoreMemoryArgs](raw)
	if err != nil {
		return StoreMemoryResult{}, err
	}
	mem, err := s.deps.Store.Store(ctx, args.Content, types.Category(args.Category), args.Tags,
		types.Scope(args.Scope), types.Importance(args.Importance),
		types.Origin{MachineID: s.deps.MachineID, AgentID: args.AgentID, CreatedAtWall: clockid.WallNow()})
	if err != nil {
		return StoreMemoryResult{}, err
	}
	return StoreMemoryResult{ID: mem.ID, Version: mem.Version.String()}, nil
}

func (s *Server) searchMemories(ctx context.Context, raw json.RawMessage) (SearchMemoriesResult, error) {
	args, err := decodeArgs[SearchMemoriesArgs](raw)
	if err != nil {
		return SearchMemoriesResult{}, err
	}
	if s.deps.Embed == nil {
		return SearchMemoriesResult{}, errkind.Wrap(errkind.Unavailable, "no embedding function configured", errkind.ErrIndexUnavailable)
	}
	vec, err := s.deps.Embed(ctx, args.Query)
	if err != nil {
		return SearchMemoriesResult{}, errkind.Wrap(errkind.Unavailable, "embed query", err)
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 10
	}
	filter := semantic.Filter{
		Category: args.Category, Scope: args.Scope, MachineID: args.MachineID,
		TagsAny: args.TagsAny, TagsAll: args.TagsAll,
	}
	if args.AgeWithinSec > 0 {
		filter.AgeWithin = time.Duration(args.AgeWithinSec) * time.Second
	}
	hits, err := s.deps.Index.Search(ctx, vec, filter, limit)
	if err != nil {
		return SearchMemoriesResult{}, errkind.Wrap(errkind.Unavailable, "semantic search", err)
	}

	out := make([]SearchHit, 0, len(hits))
	for _, h := range hits {
		mem, err := s.deps.Store.Get(ctx, h.VectorRef, false)
		if err != nil {
			continue
		}
		if mem.Confidence.Score < args.MinConfidence {
			continue
		}
		memRaw, err := json.Marshal(mem)
		if err != nil {
			continue
		}
		out = append(out, SearchHit{Memory: memRaw, Score: h.Score, Confidence: mem.Confidence.Score})
	}
	return SearchMemoriesResult{Hits: out}, nil
}

func (s *Server) retrieveMemory(ctx context.Context, raw json.RawMessage) (types.Memory, error) {
	args, err := decodeArgs[RetrieveMemoryArgs](raw)
	if err != nil {
		return types.Memory{}, err
	}
	return s.deps.Store.Get(ctx, args.ID, false)
}

func (s *Server) updateMemory(ctx context.Context, raw json.RawMessage) (UpdateMemoryResult, error) {
	args, err := decodeArgs[UpdateMemoryArgs](raw)
	if err != nil {
		return UpdateMemoryResult{}, err
	}
	var importance *types.Importance
	if args.Importance != nil {
		v := types.Importance(*args.Importance)
		importance = &v
	}
	version, err := s.deps.Store.Update(ctx, args.ID, storage.Patch{Content: args.Content, Tags: args.Tags, Importance: importance})
	if err != nil {
		return UpdateMemoryResult{}, err
	}
	return UpdateMemoryResult{Version: version.String()}, nil
}

func (s *Server) deleteMemory(ctx context.Context, raw json.RawMessage) (DeleteMemoryResult, error) {
	args, err := decodeArgs[DeleteMemoryArgs](raw)
	if err != nil {
		return DeleteMemoryResult{}, err
	}
	if args.Hard {
		if err := s.deps.Store.Purge(ctx, args.ID); err != nil {
			return DeleteMemoryResult{}, err
		}
		return DeleteMemoryResult{State: string(types.StatePurged)}, nil
	}
	if err := s.deps.Store.SoftDelete(ctx, args.ID, args.Reason, args.Actor); err != nil {
		return DeleteMemoryResult{}, err
	}
	return DeleteMemoryResult{State: string(types.StateSoftDeleted)}, nil
}

func (s *Server) recoverMemory(ctx context.Context, raw json.RawMessage) (RecoverMemoryResult, error) {
	args, err := decodeArgs[RecoverMemoryArgs](raw)
	if err != nil {
		return RecoverMemoryResult{}, err
	}
	version, err := s.deps.Store.Recover(ctx, args.ID)
	if err != nil {
		return RecoverMemoryResult{}, err
	}
	return RecoverMemoryResult{Version: version.String()}, nil
}

func (s *Server) registerAgent(raw json.RawMessage) (RegisterAgentResult, error) {
	args, err := decodeArgs[RegisterAgentArgs](raw)
	if err != nil {
		return RegisterAgentResult{}, err
	}
	agent := s.deps.Registry.Register(args.Role, args.Capabilities)
	return RegisterAgentResult{AgentID: agent.AgentID}, nil
}

func (s *Server) deregisterAgent(raw json.RawMessage) (struct{}, error) {
	args, err := decodeArgs[DeregisterAgentArgs](raw)
	if err != nil {
		return struct{}{}, err
	}
	return struct{}{}, s.deps.Registry.Deregister(args.AgentID)
}

func (s *Server) heartbeat(raw json.RawMessage) (struct{}, error) {
	args, err := decodeArgs[HeartbeatArgs](raw)
	if err != nil {
		return struct{}{}, err
	}
	return struct{}{}, s.deps.Registry.Heartbeat(args.AgentID, types.AgentStatus(args.Status))
}

func (s *Server) delegateTask(ctx context.Context, raw json.RawMessage) (DelegateTaskResult, error) {
	args, err := decodeArgs[DelegateTaskArgs](raw)
	if err != nil {
		return DelegateTaskResult{}, err
	}
	task, err := s.deps.Coord.DelegateTask(ctx, args.Description, args.RequiredCapabilities,
		types.TaskPriority(args.Priority), args.DeadlineRFC3339)
	if err != nil {
		return DelegateTaskResult{}, err
	}
	return DelegateTaskResult{TaskID: task.TaskID, State: string(task.State)}, nil
}

func (s *Server) broadcast(ctx context.Context, raw json.RawMessage) (BroadcastResult, error) {
	args, err := decodeArgs[BroadcastArgs](raw)
	if err != nil {
		return BroadcastResult{}, err
	}
	bc, err := s.deps.Coord.PublishBroadcast(ctx, args.Category, types.Severity(args.Severity), args.Message,
		types.Origin{MachineID: s.deps.MachineID, AgentID: args.AgentID, CreatedAtWall: clockid.WallNow()})
	if err != nil {
		return BroadcastResult{}, err
	}
	return BroadcastResult{ID: bc.ID}, nil
}

func (s *Server) findDuplicates(ctx context.Context, raw json.RawMessage) (FindDuplicatesResult, error) {
	args, err := decodeArgs[FindDuplicatesArgs](raw)
	if err != nil {
		return FindDuplicatesResult{}, err
	}
	threshold := args.Threshold
	if threshold <= 0 {
		threshold = 0.92
	}
	clusters, err := s.deps.Store.FindDuplicates(ctx, threshold)
	if err != nil {
		return FindDuplicatesResult{}, err
	}
	out := make([]DuplicateCluster, 0, len(clusters))
	for _, cluster := range clusters {
		memories := make([]json.RawMessage, 0, len(cluster))
		for _, mem := range cluster {
			memRaw, err := json.Marshal(mem)
			if err != nil {
				continue
			}
			memories = append(memories, memRaw)
		}
		out = append(out, DuplicateCluster{Memories: memories})
	}
	return FindDuplicatesResult{Clusters: out}, nil
}

func (s *Server) roster(raw json.RawMessage) (RosterResult, error) {
	args, err := decodeArgs[RosterArgs](raw)
	if err != nil {
		return RosterResult{}, err
	}
	agents := s.deps.Registry.Roster(registry.RosterFilter{
		Role: args.Role, Capability: args.Capability, MachineID: args.MachineID,
	})
	return RosterResult{Agents: agents}, nil
}

func (s *Server) status() StatusResult {
	lag := make(map[string]int64)
	unreachable := 0
	if s.deps.Engine != nil {
		for _, p := range s.deps.Engine.Peers() {
			if !p.Reachable {
				unreachable++
			}
			lag[p.MachineID] = time.Since(p.LastSeen).Milliseconds()
		}
	}
	count := 0
	if ms, ok := s.deps.Store.(interface{ Count() int }); ok {
		count = ms.Count()
	}
	return StatusResult{
		MachineID: s.deps.MachineID, PeerCount: len(lag), UnreachablePeers: unreachable,
		MemoryCount: count, RingFillPct: s.deps.Store.RingFillPct(), LagPerPeer: lag,
	}
}
