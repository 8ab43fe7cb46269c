package pipeline

import (
	"fmt"
	"sync"
	"time"

	"flowctl/internal/logging"
)

// Model is the canonical, campaign-scoped record of each phase's
// configuration readiness and execution status. It is exclusively owned by
// the engine: collaborators trigger mutations through documented operations
// only, never by writing state directly.
//
// Campaign entries are created lazily on first reference. All startable
// phases begin idle with configuration missing.
type Model struct {
	mu        sync.RWMutex
	order     []PhaseKey
	campaigns map[string]*campaignState
}

type campaignState struct {
	info    Campaign
	phases  map[PhaseKey]*Phase
	runtime map[PhaseKey]*ExecRuntime
}

// NewModel creates an empty model using the declared phase order.
func NewModel() *Model {
	return &Model{
		order:     PhaseOrder,
		campaigns: make(map[string]*campaignState),
	}
}

func (m *Model) ensure(campaignID string) *campaignState {
	cs, ok := m.campaigns[campaignID]
	if ok {
		return cs
	}
	cs = &campaignState{
		info:    Campaign{ID: campaignID, Status: CampaignDraft},
		phases:  make(map[PhaseKey]*Phase, len(m.order)),
		runtime: make(map[PhaseKey]*ExecRuntime),
	}
	for _, key := range m.order {
		cs.phases[key] = &Phase{
			CampaignID:  campaignID,
			Key:         key,
			ConfigState: ConfigMissing,
			ExecState:   ExecIdle,
		}
	}
	m.campaigns[campaignID] = cs
	logging.PipelineDebug("campaign %s tracked (phases=%d)", campaignID, len(m.order))
	return cs
}

// Track upserts the read-mostly campaign projection.
func (m *Model) Track(c Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := m.ensure(c.ID)
	cs.info = c
}

// Campaign returns the tracked projection for campaignID.
func (m *Model) Campaign(campaignID string) (Campaign, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.campaigns[campaignID]
	if !ok {
		return Campaign{}, false
	}
	return cs.info, true
}

// SetCampaignStatus updates the projected coarse status and current phase.
func (m *Model) SetCampaignStatus(campaignID string, status CampaignStatus, current PhaseKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := m.ensure(campaignID)
	cs.info.Status = status
	if current != "" {
		cs.info.CurrentPhase = current
	}
	cs.info.UpdatedAt = time.Now()
}

// Phase returns the record for one phase of a campaign. Reads never block
// behind writers beyond the shared lock; an untracked campaign or unknown
// key yields ok=false.
func (m *Model) Phase(campaignID string, key PhaseKey) (Phase, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.campaigns[campaignID]
	if !ok {
		return Phase{}, false
	}
	p, ok := cs.phases[key]
	if !ok {
		return Phase{}, false
	}
	return *p, true
}

// SetConfigState records whether a phase's required configuration is present.
func (m *Model) SetConfigState(campaignID string, key PhaseKey, state ConfigState) error {
	if !KnownPhase(key) {
		return fmt.Errorf("set config state %q: %w", key, ErrUnknownPhase)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := m.ensure(campaignID)
	cs.phases[key].ConfigState = state
	logging.PipelineDebug("campaign %s phase %s config=%s", campaignID, key, state)
	return nil
}

// SetExecState applies an execution lifecycle transition.
//
// Moving to running enforces the two model invariants: the phase's
// configuration must be valid, and no other phase of the campaign may be
// running. Every other transition is accepted unconditionally; legality
// beyond the running rules is the caller's contract (a command result or a
// server event).
func (m *Model) SetExecState(campaignID string, key PhaseKey, state ExecState) error {
	if !KnownPhase(key) {
		return fmt.Errorf("set exec state %q: %w", key, ErrUnknownPhase)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := m.ensure(campaignID)
	target := cs.phases[key]

	if state == ExecRunning {
		if target.ConfigState != ConfigValid {
			return fmt.Errorf("phase %s of campaign %s has no valid configuration: %w",
				key, campaignID, ErrInvalidTransition)
		}
		for _, p := range cs.phases {
			if p.Key != key && p.ExecState == ExecRunning {
				return fmt.Errorf("phase %s of campaign %s is already running: %w",
					p.Key, campaignID, ErrInvalidTransition)
			}
		}
	}

	prev := target.ExecState
	target.ExecState = state
	logging.Pipeline("campaign %s phase %s exec %s -> %s", campaignID, key, prev, state)
	return nil
}

// Snapshot returns the campaign's phases in declared order. The slice is a
// copy; mutating it does not touch the model.
func (m *Model) Snapshot(campaignID string) []Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.campaigns[campaignID]
	if !ok {
		return nil
	}
	out := make([]Phase, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, *cs.phases[key])
	}
	return out
}

// Runtime returns the derived execution runtime for one phase.
func (m *Model) Runtime(campaignID string, key PhaseKey) (ExecRuntime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.campaigns[campaignID]
	if !ok {
		return ExecRuntime{}, false
	}
	r, ok := cs.runtime[key]
	if !ok {
		return ExecRuntime{}, false
	}
	return *r, true
}

// Runtimes returns a copy of all known runtimes for a campaign.
func (m *Model) Runtimes(campaignID string) map[PhaseKey]ExecRuntime {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.campaigns[campaignID]
	if !ok {
		return nil
	}
	out := make(map[PhaseKey]ExecRuntime, len(cs.runtime))
	for key, r := range cs.runtime {
		out[key] = *r
	}
	return out
}

// ApplyProgress folds a progress event into the runtime cache. The first
// observation stamps StartedAt; a terminal status stamps CompletedAt.
func (m *Model) ApplyProgress(campaignID string, key PhaseKey, processed, total int64, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := m.ensure(campaignID)
	r, ok := cs.runtime[key]
	if !ok {
		r = &ExecRuntime{CampaignID: campaignID, Phase: key, StartedAt: time.Now()}
		cs.runtime[key] = r
	}
	r.Processed = processed
	r.Total = total
	if status != "" {
		r.LastStatus = status
	}
	if ExecState(status).Terminal() && r.CompletedAt.IsZero() {
		r.CompletedAt = time.Now()
	}
}

// ResetRuntime drops the accumulated runtime for a phase so it can be
// rebuilt from authoritative events after a counters_reconciled signal.
func (m *Model) ResetRuntime(campaignID string, key PhaseKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.campaigns[campaignID]
	if !ok {
		return
	}
	delete(cs.runtime, key)
	logging.PipelineDebug("campaign %s phase %s runtime reset", campaignID, key)
}
