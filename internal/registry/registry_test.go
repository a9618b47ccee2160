package registry

import (
	"testing"
	"time"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/errkind"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

func TestRegisterThenHeartbeatRenewsLease(t *testing.T) {
	r := New("m1")
	agent := r.Register("worker", []string{"go"})
	if agent.MachineID != "m1" {
		t.Fatalf("agent.MachineID = %q, want m1", agent.MachineID)
	}
	if err := r.Heartbeat(agent.AgentID, types.AgentBusy); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	roster := r.Roster(RosterFilter{})
	if len(roster) != 1 || roster[0].Status != types.AgentBusy {
		t.Fatalf("Roster() = %v, want one busy agent", roster)
	}
}

func TestHeartbeatUnknownAgentErrors(t *testing.T) {
	r := New("m1")
	if err := r.Heartbeat("nope", types.AgentIdle); errkind.KindOf(err) != errkind.NotFound {
		t.Fatalf("Heartbeat(unknown): kind = %v, want NotFound", errkind.KindOf(err))
	}
}

func TestDeregisterRemovesAgent(t *testing.T) {
	r := New("m1")
	agent := r.Register("worker", nil)
	if err := r.Deregister(agent.AgentID); err != nil {
		t.Fatalf("Deregister() error = %v", err)
	}
	if len(r.Roster(RosterFilter{})) != 0 {
		t.Fatal("Roster() must be empty after Deregister")
	}
}

func TestSweepExpiredMarksOfflineThenEvicts(t *testing.T) {
	r := New("m1")
	r.lease = time.Minute
	agent := r.Register("worker", nil)

	justExpired := agent.LeaseUntil.Add(time.Second)
	evicted := r.SweepExpired(justExpired)
	if len(evicted) != 0 {
		t.Fatalf("SweepExpired() evicted too early: %v", evicted)
	}
	roster := r.Roster(RosterFilter{})
	if roster[0].Status != types.AgentOffline {
		t.Fatalf("agent status = %q, want offline after lease expiry", roster[0].Status)
	}

	farFuture := agent.LeaseUntil.Add(3 * r.lease)
	evicted = r.SweepExpired(farFuture)
	if len(evicted) != 1 || evicted[0] != agent.AgentID {
		t.Fatalf("SweepExpired() evicted = %v, want [%s] after 2x lease offline", evicted, agent.AgentID)
	}
}

func TestRouteTierOnePrefersLocalFullMatch(t *testing.T) {
	r := New("m1")
	r.Register("worker", []string{"go", "deploy"})
	chosen, err := r.Route([]string{"go"}, "")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if chosen.MachineID != "m1" {
		t.Fatalf("Route() chose machine %q, want local m1", chosen.MachineID)
	}
}

func TestRouteFallsBackToIdleBestMatchAcrossMachines(t *testing.T) {
	r := New("m1")
	remote := types.Agent{AgentID: "remote-1", MachineID: "m2", Capabilities: []string{"python"}, Status: types.AgentIdle}
	r.MergePeerAgents([]types.Agent{remote})

	chosen, err := r.Route([]string{"python"}, "")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if chosen.AgentID != "remote-1" {
		t.Fatalf("Route() chose %q, want remote-1", chosen.AgentID)
	}
}

func TestRouteNoCapableAgentErrors(t *testing.T) {
	r := New("m1")
	r.Register("worker", []string{"go"})
	if _, err := r.Route([]string{"rust"}, ""); errkind.KindOf(err) != errkind.NotFound {
		t.Fatalf("Route() with no capable agent: kind = %v, want NotFound", errkind.KindOf(err))
	}
}

func TestRosterFilterByCapability(t *testing.T) {
	r := New("m1")
	r.Register("worker", []string{"go"})
	r.Register("worker", []string{"python"})

	filtered := r.Roster(RosterFilter{Capability: "go"})
	if len(filtered) != 1 {
		t.Fatalf("Roster(Capability=go) = %v, want 1 match", filtered)
	}
}
