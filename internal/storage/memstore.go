package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/clockid"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/errkind"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/merge"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/semantic"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

// RetentionWindow is the default soft-delete retention period before a
// memory is eligible for purge (spec §3: "default 30 days").
const RetentionWindow = 30 * 24 * time.Hour

// Config configures a MemStore.
type Config struct {
	Dir           string // directory holding memories.log, tombstones.log, version_index
	MachineID     string
	Clock         *clockid.Clock
	Index         semantic.Index
	Embed         semantic.EmbedFunc
	RingCapacity  int
	Retention     time.Duration
}

// MemStore is the concrete Store (component M): single-writer, append-only
// persistence with an in-memory index replayed from disk on start.
// Grounded on the teacher's internal/storage/provider.go adapter pattern.
type MemStore struct {
	cfg Config

	mu      sync.RWMutex
	byID    map[string]types.Memory
	tombIDs map[string]types.Tombstone

	memoriesLog   *appendLog
	tombstonesLog *appendLog
	index         *versionIndex

	ring *changeRing
}

// Open replays the append-only logs into memory and returns a ready MemStore.
func Open(cfg Config) (*MemStore, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = RetentionWindow
	}
	if cfg.Index == nil {
		cfg.Index = semantic.NewFlatIndex()
	}

	ml, err := openAppendLog(filepath.Join(cfg.Dir, "memories.log"))
	if err != nil {
		return nil, err
	}
	tl, err := openAppendLog(filepath.Join(cfg.Dir, "tombstones.log"))
	if err != nil {
		return nil, err
	}
	vi, err := openVersionIndex(filepath.Join(cfg.Dir, "version_index.sqlite"))
	if err != nil {
		return nil, err
	}

	ms := &MemStore{
		cfg:           cfg,
		byID:          make(map[string]types.Memory),
		tombIDs:       make(map[string]types.Tombstone),
		memoriesLog:   ml,
		tombstonesLog: tl,
		index:         vi,
		ring:          newChangeRing(cfg.RingCapacity),
	}

	if err := ms.replay(); err != nil {
		return nil, err
	}
	return ms, nil
}

func (m *MemStore) replay() error {
	err := m.memoriesLog.Replay(func(body []byte) error {
		var mem types.Memory
		if err := json.Unmarshal(body, &mem); err != nil {
			return nil // corrupt record already filtered by CRC; be lenient here too
		}
		m.byID[mem.ID] = mem
		return nil
	}, nil)
	if err != nil {
		return fmt.Errorf("storage: replay memories.log: %w", err)
	}

	return m.tombstonesLog.Replay(func(body []byte) error {
		var t types.Tombstone
		if err := json.Unmarshal(body, &t); err != nil {
			return nil
		}
		m.tombIDs[t.ID] = t
		delete(m.byID, t.ID)
		return nil
	}, nil)
}

func (m *MemStore) persistMemory(mem types.Memory) error {
	body, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("storage: marshal memory: %w", err)
	}
	if err := m.memoriesLog.Append(body); err != nil {
		return err
	}
	return m.index.Upsert(mem)
}

func (m *MemStore) persistTombstone(t types.Tombstone) error {
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return m.tombstonesLog.Append(body)
}

// Store implements store_memory (spec §4.1).
func (m *MemStore) Store(ctx context.Context, content string, category types.Category, tags []string, scope types.Scope, importance types.Importance, origin types.Origin) (types.Memory, error) {
	if !category.IsValid() {
		return types.Memory{}, errkind.Wrap(errkind.Validation, fmt.Sprintf("invalid category %q", category), errkind.ErrInvalidCategory)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	counter, machineID := m.cfg.Clock.Next()
	now := clockid.WallNow()
	mem := types.Memory{
		ID:         clockid.NewMemoryID(m.cfg.MachineID),
		Content:    content,
		Category:   category,
		Tags:       types.Tags2Set(tags),
		Scope:      scope,
		Importance: importance,
		Origin:     origin,
		Version:    types.Version{Counter: counter, MachineID: machineID},
		State:      types.StateActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if scope == types.ScopeCollective {
		if err := m.embedAndIndex(ctx, &mem); err != nil {
			return types.Memory{}, errkind.Wrap(errkind.Unavailable, "semantic index upsert failed", err)
		}
	}

	if err := m.persistMemory(mem); err != nil {
		return types.Memory{}, errkind.Wrap(errkind.Unavailable, "persist failed", err)
	}
	m.byID[mem.ID] = mem
	m.ring.Enqueue(Change{Kind: ChangeCreate, Memory: mem})
	return mem, nil
}

func (m *MemStore) embedAndIndex(ctx context.Context, mem *types.Memory) error {
	if m.cfg.Embed == nil {
		return nil
	}
	vec, err := m.cfg.Embed(ctx, mem.Content)
	if err != nil {
		return err
	}
	ref := mem.ID
	mem.VectorRef = &ref
	return m.cfg.Index.Upsert(ctx, ref, vec, semantic.Metadata{
		Category: string(mem.Category), Scope: string(mem.Scope),
		MachineID: mem.Origin.MachineID, Tags: mem.Tags, CreatedAt: mem.CreatedAt,
	})
}

// Update implements update_memory (spec §4.1).
func (m *MemStore) Update(ctx context.Context, id string, patch Patch) (types.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.byID[id]
	if !ok {
		if _, present := m.tombIDs[id]; present {
			return types.Version{}, errkind.Wrap(errkind.NotFound, "memory purged", errkind.ErrNotFound)
		}
		return types.Version{}, errkind.Wrap(errkind.NotFound, "memory not found", errkind.ErrNotFound)
	}
	if mem.State != types.StateActive {
		return types.Version{}, errkind.Wrap(errkind.Conflict, "memory already deleted", errkind.ErrAlreadyDeleted)
	}

	contentChanged := false
	if patch.Content != nil && *patch.Content != mem.Content {
		mem.Content = *patch.Content
		contentChanged = true
	}
	if patch.Tags != nil {
		mem.Tags = types.Tags2Set(patch.Tags)
	}
	if patch.Importance != nil {
		mem.Importance = *patch.Importance
	}

	counter, machineID := m.cfg.Clock.Next()
	mem.Version = types.Version{Counter: counter, MachineID: machineID}
	mem.UpdatedAt = clockid.WallNow()

	if contentChanged && mem.Scope == types.ScopeCollective {
		if err := m.embedAndIndex(ctx, &mem); err != nil {
			return types.Version{}, errkind.Wrap(errkind.Unavailable, "re-embed failed", err)
		}
	}

	if err := m.persistMemory(mem); err != nil {
		return types.Version{}, errkind.Wrap(errkind.Unavailable, "persist failed", err)
	}
	m.byID[id] = mem
	m.ring.Enqueue(Change{Kind: ChangeUpdate, Memory: mem})
	return mem.Version, nil
}

// SoftDelete implements delete_memory (soft path) (spec §4.1).
func (m *MemStore) SoftDelete(ctx context.Context, id, reason, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.byID[id]
	if !ok {
		return errkind.Wrap(errkind.NotFound, "memory not found", errkind.ErrNotFound)
	}
	if mem.State != types.StateActive {
		return errkind.Wrap(errkind.Conflict, "already deleted", errkind.ErrAlreadyDeleted)
	}

	counter, machineID := m.cfg.Clock.Next()
	now := clockid.WallNow()
	mem.State = types.StateSoftDeleted
	mem.DeletedAt = &now
	mem.DeleteReason = reason
	mem.DeletedBy = actor
	mem.Version = types.Version{Counter: counter, MachineID: machineID}
	mem.UpdatedAt = now

	// Vector entry removed from S; vector_ref retained for recovery (§4.1).
	if mem.VectorRef != nil {
		_ = m.cfg.Index.Remove(ctx, *mem.VectorRef)
	}

	if err := m.persistMemory(mem); err != nil {
		return errkind.Wrap(errkind.Unavailable, "persist failed", err)
	}
	m.byID[id] = mem
	m.ring.Enqueue(Change{Kind: ChangeDelete, Memory: mem})
	return nil
}

// Recover implements recover_memory (spec §4.1).
func (m *MemStore) Recover(ctx context.Context, id string) (types.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.byID[id]
	if !ok {
		return types.Version{}, errkind.Wrap(errkind.NotFound, "memory not found", errkind.ErrNotFound)
	}
	if mem.State != types.StateSoftDeleted {
		return types.Version{}, errkind.Wrap(errkind.Conflict, "not recoverable", errkind.ErrNotRecoverable)
	}
	if mem.DeletedAt != nil && clockid.WallNow().Sub(*mem.DeletedAt) > m.cfg.Retention {
		return types.Version{}, errkind.Wrap(errkind.Conflict, "retention window elapsed", errkind.ErrNotRecoverable)
	}

	counter, machineID := m.cfg.Clock.Next()
	mem.State = types.StateActive
	mem.DeletedAt = nil
	mem.DeleteReason = ""
	mem.DeletedBy = ""
	mem.Version = types.Version{Counter: counter, MachineID: machineID}
	mem.UpdatedAt = clockid.WallNow()

	if mem.Scope == types.ScopeCollective {
		if err := m.embedAndIndex(ctx, &mem); err != nil {
			return types.Version{}, errkind.Wrap(errkind.Unavailable, "re-embed failed", err)
		}
	}

	if err := m.persistMemory(mem); err != nil {
		return types.Version{}, errkind.Wrap(errkind.Unavailable, "persist failed", err)
	}
	m.byID[id] = mem
	m.ring.Enqueue(Change{Kind: ChangeRecover, Memory: mem})
	return mem.Version, nil
}

// Purge implements delete_memory's hard path (spec §4.1, §3).
func (m *MemStore) Purge(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.byID[id]
	if !ok {
		return errkind.Wrap(errkind.NotFound, "memory not found", errkind.ErrNotFound)
	}
	if mem.State != types.StateSoftDeleted {
		return errkind.Wrap(errkind.Policy, "must be soft-deleted before purge", errkind.ErrRetentionViolated)
	}
	if mem.DeletedAt == nil || clockid.WallNow().Sub(*mem.DeletedAt) < m.cfg.Retention {
		return errkind.Wrap(errkind.Policy, "retention window not yet elapsed", errkind.ErrRetentionViolated)
	}

	if mem.VectorRef != nil {
		_ = m.cfg.Index.Remove(ctx, *mem.VectorRef)
	}

	tomb := types.Tombstone{ID: id, Version: mem.Version, DeletedAt: *mem.DeletedAt}
	if err := m.persistTombstone(tomb); err != nil {
		return errkind.Wrap(errkind.Unavailable, "persist tombstone failed", err)
	}
	delete(m.byID, id)
	m.tombIDs[id] = tomb
	return nil
}

// Get implements retrieve_memory (spec §4.1, §6).
func (m *MemStore) Get(ctx context.Context, id string, includeDeleted bool) (types.Memory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mem, ok := m.byID[id]
	if !ok {
		return types.Memory{}, errkind.Wrap(errkind.NotFound, "memory not found", errkind.ErrNotFound)
	}
	if mem.State != types.StateActive && !includeDeleted {
		return types.Memory{}, errkind.Wrap(errkind.NotFound, "memory not found", errkind.ErrNotFound)
	}
	return mem, nil
}

// ListRecent implements list_recent (spec §4.1).
func (m *MemStore) ListRecent(ctx context.Context, filter ListFilter) ([]types.Memory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Memory, 0, len(m.byID))
	for _, mem := range m.byID {
		if mem.State != types.StateActive {
			continue
		}
		if filter.Category != "" && mem.Category != filter.Category {
			continue
		}
		if !filter.Since.IsZero() && mem.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, mem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Merge implements merge() (spec §4.1): creates a merged primary memory,
// soft-deletes the secondaries, and records a merge_record.
func (m *MemStore) Merge(ctx context.Context, cluster []types.Memory, policy string, primaryHint string) (types.Memory, error) {
	primary, secondaries, err := merge.Cluster(cluster, merge.KeepPolicy(policy), primaryHint)
	if err != nil {
		return types.Memory{}, errkind.Wrap(errkind.Validation, "merge cluster", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	counter, machineID := m.cfg.Clock.Next()
	primary.Version = types.Version{Counter: counter, MachineID: machineID}
	primary.UpdatedAt = clockid.WallNow()
	if err := m.persistMemory(primary); err != nil {
		return types.Memory{}, errkind.Wrap(errkind.Unavailable, "persist merged memory", err)
	}
	m.byID[primary.ID] = primary
	m.ring.Enqueue(Change{Kind: ChangeUpdate, Memory: primary})

	for _, sec := range secondaries {
		c, mc := m.cfg.Clock.Next()
		now := clockid.WallNow()
		sec.State = types.StateSoftDeleted
		sec.DeletedAt = &now
		sec.DeleteReason = "merged into " + primary.ID
		sec.Version = types.Version{Counter: c, MachineID: mc}
		sec.UpdatedAt = now
		if sec.VectorRef != nil {
			_ = m.cfg.Index.Remove(ctx, *sec.VectorRef)
		}
		if err := m.persistMemory(sec); err != nil {
			return types.Memory{}, errkind.Wrap(errkind.Unavailable, "persist merged secondary", err)
		}
		m.byID[sec.ID] = sec
		m.ring.Enqueue(Change{Kind: ChangeDelete, Memory: sec})
	}

	return primary, nil
}

// vectorLookup is satisfied by semantic.FlatIndex; a networked backend that
// cannot re-expose a stored vector simply leaves FindDuplicates a no-op.
type vectorLookup interface {
	VectorFor(ref string) ([]float32, bool)
}

// FindDuplicates implements find_duplicates (spec §4.1): clusters active,
// collective-scope memories whose embedded vectors are mutually above
// threshold cosine similarity, using union-find over S's own pairwise Search.
func (m *MemStore) FindDuplicates(ctx context.Context, threshold float64) ([][]types.Memory, error) {
	lookup, ok := m.cfg.Index.(vectorLookup)
	if !ok {
		return nil, nil
	}

	m.mu.RLock()
	candidates := make([]types.Memory, 0, len(m.byID))
	for _, mem := range m.byID {
		if mem.State == types.StateActive && mem.Scope == types.ScopeCollective && mem.VectorRef != nil {
			candidates = append(candidates, mem)
		}
	}
	m.mu.RUnlock()

	parent := make(map[string]string, len(candidates))
	for _, mem := range candidates {
		parent[mem.ID] = mem.ID
	}
	var find func(string) string
	find = func(id string) string {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}
	union := func(a, b string) { parent[find(a)] = find(b) }

	for _, mem := range candidates {
		vec, ok := lookup.VectorFor(*mem.VectorRef)
		if !ok {
			continue
		}
		hits, err := m.cfg.Index.Search(ctx, vec, semantic.Filter{}, len(candidates))
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, "find_duplicates search", err)
		}
		for _, h := range hits {
			if h.VectorRef == *mem.VectorRef || h.Score < threshold {
				continue
			}
			union(mem.ID, h.VectorRef)
		}
	}

	groups := make(map[string][]types.Memory)
	for _, mem := range candidates {
		root := find(mem.ID)
		groups[root] = append(groups[root], mem)
	}

	out := make([][]types.Memory, 0, len(groups))
	for _, g := range groups {
		if len(g) > 1 {
			out = append(out, g)
		}
	}
	return out, nil
}

// Apply idempotently applies an incoming replicated Change (spec §4.4 step
// 3): if the incoming version is ≤ local, discard; else apply via the
// conflict policy (internal/merge.Resolve).
func (m *MemStore) Apply(ctx context.Context, change Change) (bool, error) {
	incoming := change.Memory
	if incoming.Scope == types.ScopeMachineLocal {
		// Should never happen (spec §3, §4.4 step 4) — defensive discard.
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	local, exists := m.byID[incoming.ID]
	if exists && incoming.Version.Compare(local.Version) == 0 {
		// Exact replay of an already-applied version (spec §4.4 step 3's
		// idempotent-apply requirement) — nothing changed, nothing to shadow.
		return false, nil
	}
	if exists && !incoming.Version.Greater(local.Version) {
		// incoming lost the conflict, but its content must not vanish: run it
		// through Resolve anyway so it lands in the winning side's
		// ShadowHistory (spec §3 S2 — the loser's content survives under
		// shadow_history even on the machine that never applies it).
		resolved := merge.Resolve(local, incoming)
		if len(resolved.ShadowHistory) != len(local.ShadowHistory) {
			if err := m.persistMemory(resolved); err != nil {
				return false, errkind.Wrap(errkind.Unavailable, "persist shadow history", err)
			}
			m.byID[incoming.ID] = resolved
		}
		return false, nil
	}

	resolved := incoming
	if exists {
		resolved = merge.Resolve(local, incoming)
	}

	if err := m.persistMemory(resolved); err != nil {
		return false, errkind.Wrap(errkind.Unavailable, "apply persist failed", err)
	}
	m.byID[incoming.ID] = resolved
	if resolved.State == types.StatePurged {
		delete(m.byID, incoming.ID)
	}
	return true, nil
}

// Since implements the Store interface's catch-up query (spec §4.4 step
// 2): every state is considered, not just active, so a pending delete or
// recover reaches a diverged peer instead of silently vanishing.
func (m *MemStore) Since(ctx context.Context, machineID string, after uint64) ([]types.Memory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Memory, 0)
	for _, mem := range m.byID {
		if mem.Version.MachineID != machineID || mem.Version.Counter <= after {
			continue
		}
		out = append(out, mem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version.Counter < out[j].Version.Counter })
	return out, nil
}

// Checkpoints implements the Store interface's per-origin high-water marks
// (spec §4.4 step 2), scanning every state so a tombstone's version isn't
// missed when it is an origin's most recent write.
func (m *MemStore) Checkpoints(ctx context.Context) (map[string]types.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]types.Version)
	for _, mem := range m.byID {
		mid := mem.Version.MachineID
		if cur, ok := out[mid]; !ok || mem.Version.Greater(cur) {
			out[mid] = mem.Version
		}
	}
	return out, nil
}

func (m *MemStore) Changes() <-chan Change { return m.ring.Chan() }

func (m *MemStore) RingFillPct() float64 { return m.ring.fillPct() }

// NeedsResync reports whether the ring overflowed since last checked.
func (m *MemStore) NeedsResync() bool { return m.ring.NeedsResync() }

// Count returns the number of active memories, for the health endpoint.
func (m *MemStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, mem := range m.byID {
		if mem.State == types.StateActive {
			n++
		}
	}
	return n
}

// Tombstones returns every known tombstone, for digest/full-sync.
func (m *MemStore) Tombstones() []types.Tombstone {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Tombstone, 0, len(m.tombIDs))
	for _, t := range m.tombIDs {
		out = append(out, t)
	}
	return out
}

// Compact rewrites both logs, dropping purged-and-past-retention records
// (spec §6).
func (m *MemStore) Compact() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.memoriesLog.Compact(func(body []byte) bool {
		var mem types.Memory
		if err := json.Unmarshal(body, &mem); err != nil {
			return false
		}
		_, stillLive := m.byID[mem.ID]
		return stillLive
	}); err != nil {
		return fmt.Errorf("storage: compact memories.log: %w", err)
	}

	cutoff := clockid.WallNow().Add(-m.cfg.Retention)
	return m.tombstonesLog.Compact(func(body []byte) bool {
		var t types.Tombstone
		if err := json.Unmarshal(body, &t); err != nil {
			return false
		}
		return t.DeletedAt.After(cutoff)
	})
}

func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.memoriesLog.Close(); err != nil {
		return err
	}
	if err := m.tombstonesLog.Close(); err != nil {
		return err
	}
	return m.index.Close()
}
