package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"flowctl/internal/logging"
)

// CampaignUIEntry is per-campaign transient operator state. In-process only,
// never durable; created lazily on first reference to a campaign id.
type CampaignUIEntry struct {
	FullSequenceMode bool              `json:"full_sequence_mode"`
	Guidance         []GuidanceMessage `json:"guidance,omitempty"`
	LastFailedPhase  PhaseKey          `json:"last_failed_phase,omitempty"`
	SelectedPhase    PhaseKey          `json:"selected_phase,omitempty"`
	PreflightOpen    bool              `json:"preflight_open"`
}

// UIState is the injectable container for campaign UI entries, keyed by
// campaign id. It replaces ambient package-level maps so its lifecycle is
// tied to whoever owns the session.
type UIState struct {
	mu                  sync.Mutex
	defaultFullSequence bool
	entries             map[string]*CampaignUIEntry
}

// NewUIState creates an empty container. defaultFullSequence seeds the
// auto-advance toggle for entries created lazily.
func NewUIState(defaultFullSequence bool) *UIState {
	return &UIState{
		defaultFullSequence: defaultFullSequence,
		entries:             make(map[string]*CampaignUIEntry),
	}
}

func (s *UIState) ensure(campaignID string) *CampaignUIEntry {
	e, ok := s.entries[campaignID]
	if !ok {
		e = &CampaignUIEntry{FullSequenceMode: s.defaultFullSequence}
		s.entries[campaignID] = e
	}
	return e
}

// Entry returns a copy of the campaign's UI entry.
func (s *UIState) Entry(campaignID string) CampaignUIEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.ensure(campaignID)
	out := *e
	out.Guidance = append([]GuidanceMessage(nil), e.Guidance...)
	return out
}

// FullSequence reports whether auto-advance is enabled for the campaign.
func (s *UIState) FullSequence(campaignID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensure(campaignID).FullSequenceMode
}

// SetFullSequence flips the auto-advance toggle.
func (s *UIState) SetFullSequence(campaignID string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(campaignID).FullSequenceMode = enabled
	logging.Pipeline("campaign %s full-sequence mode=%v", campaignID, enabled)
}

// AppendGuidance adds an operator guidance message. The list is append-only;
// nothing here ever removes a message programmatically.
func (s *UIState) AppendGuidance(campaignID string, phase PhaseKey, message string) GuidanceMessage {
	msg := GuidanceMessage{
		ID:        uuid.NewString(),
		Phase:     phase,
		Message:   message,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.ensure(campaignID)
	e.Guidance = append(e.Guidance, msg)
	return msg
}

// DismissGuidance removes one message by id. Operator action only.
func (s *UIState) DismissGuidance(campaignID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.ensure(campaignID)
	for i, msg := range e.Guidance {
		if msg.ID == messageID {
			e.Guidance = append(e.Guidance[:i], e.Guidance[i+1:]...)
			return true
		}
	}
	return false
}

// SetLastFailedPhase records the most recent failed phase for the campaign.
func (s *UIState) SetLastFailedPhase(campaignID string, phase PhaseKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(campaignID).LastFailedPhase = phase
}

// SetSelectedPhase records which phase the operator is looking at.
func (s *UIState) SetSelectedPhase(campaignID string, phase PhaseKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(campaignID).SelectedPhase = phase
}

// SetPreflightOpen tracks the preflight panel visibility.
func (s *UIState) SetPreflightOpen(campaignID string, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(campaignID).PreflightOpen = open
}
