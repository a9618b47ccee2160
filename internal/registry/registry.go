// Package registry implements component A: tracks live agents, their
// capabilities and machine, and routes tasks/broadcasts (spec §4.5).
//
// Adapted from the teacher's internal/registry (cross-backend agent
// session discovery) and internal/coop (pod lifecycle: register, heartbeat,
// lease expiry) — generalized from "coop sessions on a Kubernetes pod" to
// fleet-wide Agent records with a capability-based router.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/clockid"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/errkind"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

// DefaultLease is L from spec §4.5: the default agent registration lease.
const DefaultLease = 5 * time.Minute

// Registry is component A, scoped to one machine: the authoritative owner
// of agents registered locally, merged at read time with peer state
// carried over C (spec §4.5's roster()).
type Registry struct {
	machineID string
	lease     time.Duration

	mu        sync.RWMutex
	local     map[string]*types.Agent
	peerAgents map[string]*types.Agent // mirrored from other machines via C
}

// New returns a Registry for machineID with the spec's default lease.
func New(machineID string) *Registry {
	return &Registry{
		machineID:  machineID,
		lease:      DefaultLease,
		local:      make(map[string]*types.Agent),
		peerAgents: make(map[string]*types.Agent),
	}
}

// Register implements register() (spec §4.5).
func (r *Registry) Register(role string, capabilities []string) types.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := clockid.WallNow()
	agent := types.Agent{
		AgentID:      clockid.NewAgentID(r.machineID),
		MachineID:    r.machineID,
		Role:         role,
		Capabilities: append([]string{}, capabilities...),
		LastSeen:     now,
		Status:       types.AgentIdle,
		LeaseUntil:   now.Add(r.lease),
	}
	r.local[agent.AgentID] = &agent
	return agent
}

// Deregister implements deregister() (spec §4.5).
func (r *Registry) Deregister(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.local[agentID]; !ok {
		return errkind.Wrap(errkind.NotFound, "agent not registered locally", errkind.ErrNotFound)
	}
	delete(r.local, agentID)
	return nil
}

// Heartbeat implements heartbeat() (spec §4.5): renews the lease and
// updates status.
func (r *Registry) Heartbeat(agentID string, status types.AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.local[agentID]
	if !ok {
		return errkind.Wrap(errkind.NotFound, "agent not registered locally", errkind.ErrNotFound)
	}
	now := clockid.WallNow()
	a.LastSeen = now
	a.Status = status
	a.LeaseUntil = now.Add(r.lease)
	return nil
}

// SweepExpired marks agents whose lease has elapsed offline, and evicts
// any offline for longer than 2·L (spec §4.5). Returns the evicted agent
// ids so the caller can broadcast the eviction (spec §4.5: "Evictions are
// broadcast").
func (r *Registry) SweepExpired(now time.Time) (evicted []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, a := range r.local {
		if now.After(a.LeaseUntil) && a.Status != types.AgentOffline {
			a.Status = types.AgentOffline
		}
		if a.Status == types.AgentOffline && now.Sub(a.LeaseUntil) > 2*r.lease {
			evicted = append(evicted, id)
			delete(r.local, id)
		}
	}
	return evicted
}

// MergePeerAgents upserts the given peer agents into the cached peer roster,
// as carried over C (spec §4.5's "merging local state with peer A-state").
// Cached peer agents absent from agents are kept, not removed.
func (r *Registry) MergePeerAgents(agents []types.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range agents {
		a := agents[i]
		r.peerAgents[a.AgentID] = &a
	}
}

// RosterFilter narrows roster() (spec §4.5).
type RosterFilter struct {
	Role       string
	Capability string
	MachineID  string
}

// Roster implements roster() (spec §4.5): the fleet-wide view, merging
// local state with peer A-state.
func (r *Registry) Roster(filter RosterFilter) []types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Agent, 0, len(r.local)+len(r.peerAgents))
	for _, a := range r.local {
		out = append(out, *a)
	}
	for _, a := range r.peerAgents {
		out = append(out, *a)
	}
	out = filterAgents(out, filter)
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func filterAgents(in []types.Agent, f RosterFilter) []types.Agent {
	out := in[:0]
	for _, a := range in {
		if f.Role != "" && a.Role != f.Role {
			continue
		}
		if f.Capability != "" && !a.HasCapability(f.Capability) {
			continue
		}
		if f.MachineID != "" && a.MachineID != f.MachineID {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Route implements route() (spec §4.5). Selection preference order:
// (1) local agent with all required capabilities, (2) idle agent with the
// highest capability match anywhere, (3) least-loaded busy agent,
// (4) NoCapableAgent.
func (r *Registry) Route(requiredCapabilities []string, affinityMachineID string) (types.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]types.Agent, 0, len(r.local)+len(r.peerAgents))
	for _, a := range r.local {
		all = append(all, *a)
	}
	for _, a := range r.peerAgents {
		all = append(all, *a)
	}

	// (1) local (or affinity-machine) agent with all capabilities.
	machine := affinityMachineID
	if machine == "" {
		machine = r.machineID
	}
	for _, a := range all {
		if a.MachineID == machine && a.Status != types.AgentOffline && a.HasAllCapabilities(requiredCapabilities) {
			return a, nil
		}
	}

	// (2) idle agent with the highest capability match.
	best, bestScore := types.Agent{}, -1
	found := false
	for _, a := range all {
		if a.Status != types.AgentIdle {
			continue
		}
		score := matchScore(a, requiredCapabilities)
		if score > 0 && score > bestScore {
			best, bestScore, found = a, score, true
		}
	}
	if found {
		return best, nil
	}

	// (3) least-loaded busy agent (here: any busy agent with full capability
	// match — "load" beyond busy/idle is outside the core's data model).
	for _, a := range all {
		if a.Status == types.AgentBusy && a.HasAllCapabilities(requiredCapabilities) {
			return a, nil
		}
	}

	return types.Agent{}, errkind.Wrap(errkind.NotFound, "no capable agent", errkind.ErrNoCapableAgent)
}

func matchScore(a types.Agent, required []string) int {
	score := 0
	for _, cap := range required {
		if a.HasCapability(cap) {
			score++
		}
	}
	return score
}
