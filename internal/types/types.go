// Package types defines the Collective's core data model: memories, agents,
// tasks, broadcasts, and the logical clock values that order them.
package types

import (
	"encoding/json"
	"time"
)

// Category is the closed enumeration of memory categories.
type Category string

const (
	CategoryGlobal         Category = "global"
	CategoryProject        Category = "project"
	CategoryConversation   Category = "conversation"
	CategoryAgent          Category = "agent"
	CategoryInfrastructure Category = "infrastructure"
	CategoryIncidents      Category = "incidents"
	CategoryDeployments    Category = "deployments"
	CategoryMonitoring     Category = "monitoring"
	CategoryRunbooks       Category = "runbooks"
	CategorySecurity       Category = "security"
)

// ValidCategories lists every category the store will accept.
var ValidCategories = []Category{
	CategoryGlobal, CategoryProject, CategoryConversation, CategoryAgent,
	CategoryInfrastructure, CategoryIncidents, CategoryDeployments,
	CategoryMonitoring, CategoryRunbooks, CategorySecurity,
}

// IsValid reports whether c is one of ValidCategories.
func (c Category) IsValid() bool {
	for _, v := range ValidCategories {
		if v == c {
			return true
		}
	}
	return false
}

// Scope controls whether a memory ever crosses the wire.
type Scope string

const (
	ScopeCollective  Scope = "collective"
	ScopeMachineLocal Scope = "machine-local"
)

// Importance is a coarse priority signal on a memory.
type Importance string

const (
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
)

// State is the soft-delete lifecycle of a memory. Transitions are monotone:
// active -> soft_deleted -> purged. Recover lifts soft_deleted back to
// active and bumps version; there is no resurrection past purged.
type State string

const (
	StateActive      State = "active"
	StateSoftDeleted State = "soft_deleted"
	StatePurged      State = "purged"
)

// Version is a Lamport pair. Comparisons are total via lexicographic
// (Counter, MachineID).
type Version struct {
	Counter   uint64 `json:"counter"`
	MachineID string `json:"machine_id"`
}

// Compare returns -1, 0, or 1 as v compares less than, equal to, or greater
// than other, ordering first by Counter then lexicographically by
// MachineID.
func (v Version) Compare(other Version) int {
	if v.Counter != other.Counter {
		if v.Counter < other.Counter {
			return -1
		}
		return 1
	}
	switch {
	case v.MachineID < other.MachineID:
		return -1
	case v.MachineID > other.MachineID:
		return 1
	default:
		return 0
	}
}

// Greater reports whether v strictly outranks other.
func (v Version) Greater(other Version) bool { return v.Compare(other) > 0 }

// Zero reports whether v is the unset version.
func (v Version) Zero() bool { return v.Counter == 0 && v.MachineID == "" }

func (v Version) String() string {
	return v.MachineID + "#" + itoa(v.Counter)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Origin records who created a memory and when, in wall-clock terms.
type Origin struct {
	MachineID     string    `json:"machine_id"`
	AgentID       string    `json:"agent_id"`
	CreatedAtWall time.Time `json:"created_at_wall"`
}

// Confidence is the composite score of §4.2 as stored on the memory.
// confidence.Score computes it; the store and the rpc server do not
// recompute it on read, so reads return the stored value.
type Confidence struct {
	Freshness         float64 `json:"freshness"`
	Source            float64 `json:"source"`
	Verification      float64 `json:"verification"`
	Consensus         float64 `json:"consensus"`
	NoContradiction   float64 `json:"no_contradiction"`
	SuccessRate       float64 `json:"success_rate"`
	ContextRelevance  float64 `json:"context_relevance"`
	Score             float64 `json:"score"`
	Level             string  `json:"level"`
	computedAt        time.Time
}

// ShadowEntry preserves content a merge would otherwise discard.
type ShadowEntry struct {
	Content    string    `json:"content"`
	Version    Version   `json:"version"`
	RecordedAt time.Time `json:"recorded_at"`
}

// MergeRecord documents a duplicate-cluster merge (§4.1 merge()).
type MergeRecord struct {
	PrimaryID   string    `json:"primary_id"`
	SecondaryIDs []string `json:"secondary_ids"`
	KeepPolicy  string    `json:"keep_policy"`
	MergedAt    time.Time `json:"merged_at"`
}

// Memory is the unit of stored knowledge (§3).
type Memory struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	Category   Category   `json:"category"`
	Tags       []string   `json:"tags"`
	Scope      Scope      `json:"scope"`
	Importance Importance `json:"importance"`
	Origin     Origin     `json:"origin"`
	Version    Version    `json:"version"`
	VectorRef  *string    `json:"vector_ref,omitempty"`
	Confidence Confidence `json:"confidence"`
	State      State      `json:"state"`

	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	DeleteReason string     `json:"delete_reason,omitempty"`
	DeletedBy    string     `json:"deleted_by,omitempty"`

	// ContextID is an opaque handle into an external project/vault/kanban
	// entity; the core never interprets it.
	ContextID string `json:"context_id,omitempty"`

	// Extensions holds unrecognized metadata verbatim: preserved across
	// sync, never indexed (§9 design notes).
	Extensions map[string]json.RawMessage `json:"extensions,omitempty"`

	ShadowHistory []ShadowEntry `json:"shadow_history,omitempty"`
	MergeRecord   *MergeRecord  `json:"merge_record,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tags2Set collapses duplicate tags, preserving first-seen order.
func Tags2Set(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Tombstone is the persistent residue of a purged memory.
type Tombstone struct {
	ID        string    `json:"id"`
	Version   Version   `json:"version"`
	DeletedAt time.Time `json:"deleted_at"`
}

// AgentStatus is the liveness state of a registered Agent.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
)

// Agent is a registered worker on some machine (§3).
type Agent struct {
	AgentID      string      `json:"agent_id"`
	MachineID    string      `json:"machine_id"`
	Role         string      `json:"role"`
	Capabilities []string    `json:"capabilities"`
	LastSeen     time.Time   `json:"last_seen"`
	Status       AgentStatus `json:"status"`
	LeaseUntil   time.Time   `json:"lease_until"`
}

// HasCapability reports whether the agent claims cap.
func (a Agent) HasCapability(cap string) bool {
	for _, c := range a.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// HasAllCapabilities reports whether the agent claims every capability in caps.
func (a Agent) HasAllCapabilities(caps []string) bool {
	for _, c := range caps {
		if !a.HasCapability(c) {
			return false
		}
	}
	return true
}

// TaskPriority orders delegated work.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// TaskState is the lifecycle of a delegated Task.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskAssigned   TaskState = "assigned"
	TaskInProgress TaskState = "in_progress"
	TaskDone       TaskState = "done"
	TaskFailed     TaskState = "failed"
	TaskExpired    TaskState = "expired"
	TaskCancelled  TaskState = "cancelled"
)

// Task is a directed request for work with an explicit ack handshake (§3, §4.6).
type Task struct {
	TaskID               string       `json:"task_id"`
	Description           string       `json:"description"`
	RequiredCapabilities []string     `json:"required_capabilities"`
	Priority             TaskPriority `json:"priority"`
	State                TaskState    `json:"state"`
	AssigneeAgentID      string       `json:"assignee_agent_id,omitempty"`
	RequesterMachineID   string       `json:"requester_machine_id"`
	CreatedAt            time.Time    `json:"created_at"`
	Deadline             *time.Time   `json:"deadline,omitempty"`
}

// Severity grades a Broadcast.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Broadcast is an ephemeral fleet-wide notice (§3).
type Broadcast struct {
	ID       string    `json:"id"`
	Category string    `json:"category"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Origin   Origin    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}

// Machine is the identity half of component I: one per host process.
type Machine struct {
	MachineID string    `json:"machine_id"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	Endpoint  string    `json:"endpoint"`
}

// Peer is Y's view of another machine (§4.4).
type Peer struct {
	MachineID  string             `json:"machine_id"`
	Endpoint   string             `json:"endpoint"`
	LastSeen   time.Time          `json:"last_seen"`
	Reachable  bool               `json:"reachable"`
	Checkpoint map[string]Version `json:"checkpoint"`
}
