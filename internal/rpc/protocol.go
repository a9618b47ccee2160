// Package rpc implements the agent-facing operation surface of spec §6:
// a wire-neutral request/response envelope exposed over an in-process
// call, a Unix domain socket, and (bearer-token gated) TCP.
//
// The envelope and operation-constant-table style is adapted from the
// teacher's internal/rpc/protocol.go; transport is adapted from
// transport_unix.go and server_core.go.
package rpc

import (
	"encoding/json"
	"time"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

// Operation names the agent-facing verbs of spec §6's table, plus the
// status/health endpoint.
type Operation string

const (
	OpStoreMemory      Operation = "store_memory"
	OpSearchMemories    Operation = "search_memories"
	OpRetrieveMemory   Operation = "retrieve_memory"
	OpUpdateMemory     Operation = "update_memory"
	OpDeleteMemory     Operation = "delete_memory"
	OpRecoverMemory    Operation = "recover_memory"
	OpRegisterAgent    Operation = "register_agent"
	OpDeregisterAgent  Operation = "deregister_agent"
	OpHeartbeat        Operation = "heartbeat"
	OpDelegateTask     Operation = "delegate_task"
	OpBroadcast        Operation = "broadcast"
	OpFindDuplicates   Operation = "find_duplicates"
	OpRoster           Operation = "roster"
	OpStatus           Operation = "status"
)

// Request is the envelope every operation arrives in. Args is kept as
// json.RawMessage so the server can dispatch on Operation before decoding
// the specific argument shape — mirrors the teacher's Request/Response
// split in internal/rpc/protocol.go.
type Request struct {
	Operation Operation       `json:"operation"`
	Args      json.RawMessage `json:"args"`
	RequestID string          `json:"request_id"`
	Token     string          `json:"token,omitempty"`
}

// Response is the envelope every operation returns.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is spec §7's user-visible failure shape: {kind, message,
// retry_after_ms?}.
type ErrorBody struct {
	Kind         string `json:"kind"`
	Message      string `json:"message"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

// StoreMemoryArgs is store_memory's request (spec §6).
type StoreMemoryArgs struct {
	Content    string   `json:"content"`
	Category   string   `json:"category"`
	Tags       []string `json:"tags"`
	Scope      string   `json:"scope"`
	Importance string   `json:"importance"`
	AgentID    string   `json:"agent_id"`
}

// StoreMemoryResult is store_memory's response.
type StoreMemoryResult struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// SearchMemoriesArgs is search_memories's request.
type SearchMemoriesArgs struct {
	Query        string   `json:"query"`
	Category     string   `json:"category"`
	Scope        string   `json:"scope"`
	MachineID    string   `json:"machine_id"`
	TagsAny      []string `json:"tags_any"`
	TagsAll      []string `json:"tags_all"`
	AgeWithinSec int64    `json:"age_within_sec"`
	Limit        int      `json:"limit"`
	MinConfidence float64 `json:"min_confidence"`
}

// SearchHit is one ranked result of search_memories.
type SearchHit struct {
	Memory     json.RawMessage `json:"memory"`
	Score      float64         `json:"score"`
	Confidence float64         `json:"confidence"`
}

// SearchMemoriesResult is search_memories's response.
type SearchMemoriesResult struct {
	Hits []SearchHit `json:"hits"`
}

// RetrieveMemoryArgs is retrieve_memory's request.
type RetrieveMemoryArgs struct {
	ID string `json:"id"`
}

// UpdateMemoryArgs is update_memory's request.
type UpdateMemoryArgs struct {
	ID         string   `json:"id"`
	Content    *string  `json:"content,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Importance *string  `json:"importance,omitempty"`
}

// UpdateMemoryResult is update_memory's response.
type UpdateMemoryResult struct {
	Version string `json:"version"`
}

// DeleteMemoryArgs is delete_memory's request.
type DeleteMemoryArgs struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
	Hard   bool   `json:"hard"`
}

// DeleteMemoryResult is delete_memory's response.
type DeleteMemoryResult struct {
	State string `json:"state"`
}

// RecoverMemoryArgs is recover_memory's request.
type RecoverMemoryArgs struct {
	ID string `json:"id"`
}

// RecoverMemoryResult is recover_memory's response.
type RecoverMemoryResult struct {
	Version string `json:"version"`
}

// RegisterAgentArgs is register_agent's request (spec §4.5).
type RegisterAgentArgs struct {
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
}

// RegisterAgentResult is register_agent's response.
type RegisterAgentResult struct {
	AgentID string `json:"agent_id"`
}

// DeregisterAgentArgs is deregister_agent's request.
type DeregisterAgentArgs struct {
	AgentID string `json:"agent_id"`
}

// HeartbeatArgs is heartbeat's request.
type HeartbeatArgs struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
}

// DelegateTaskArgs is delegate_task's request.
type DelegateTaskArgs struct {
	Description          string     `json:"description"`
	RequiredCapabilities []string   `json:"required_capabilities"`
	Priority             string     `json:"priority"`
	DeadlineRFC3339      *time.Time `json:"deadline,omitempty"`
}

// DelegateTaskResult is delegate_task's response.
type DelegateTaskResult struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
}

// BroadcastArgs is broadcast's request.
type BroadcastArgs struct {
	Category string `json:"category"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	AgentID  string `json:"agent_id"`
}

// BroadcastResult is broadcast's response.
type BroadcastResult struct {
	ID string `json:"id"`
}

// FindDuplicatesArgs is find_duplicates's request (spec §4.1).
type FindDuplicatesArgs struct {
	Threshold float64 `json:"threshold"`
}

// DuplicateCluster is one group of mutually-similar memories.
type DuplicateCluster struct {
	Memories []json.RawMessage `json:"memories"`
}

// FindDuplicatesResult is find_duplicates's response.
type FindDuplicatesResult struct {
	Clusters []DuplicateCluster `json:"clusters"`
}

// RosterArgs is roster's request (spec §4.5): filters the fleet-wide
// agent view merging local state with peer A-state carried via C.
type RosterArgs struct {
	Role       string `json:"role"`
	Capability string `json:"capability"`
	MachineID  string `json:"machine_id"`
}

// RosterResult is roster's response.
type RosterResult struct {
	Agents []types.Agent `json:"agents"`
}

// StatusResult is the health/status endpoint's response (spec §6).
type StatusResult struct {
	MachineID        string             `json:"machine_id"`
	PeerCount        int                `json:"peer_count"`
	UnreachablePeers int                `json:"unreachable_peers"`
	MemoryCount      int                `json:"memory_count"`
	RingFillPct      float64            `json:"ring_fill_pct"`
	LastDigestAt     time.Time          `json:"last_digest_at"`
	LagPerPeer       map[string]int64   `json:"lag_per_peer"`
}
