// Package pipeline implements the campaign phase pipeline engine: the
// per-campaign record of phase configuration and execution state, the
// auto-advance decision function, transient per-campaign UI state, and the
// derived execution runtime that mirrors the server-push event stream.
//
// A campaign moves through a fixed, ordered set of phases (domain
// generation -> DNS validation -> HTTP/keyword validation, with optional
// enrichment and extraction stages). This package owns the client-side
// truth about where each phase stands; the actual generation, lookups and
// probing happen server-side and are opaque here.
package pipeline

import "time"

// PhaseKey identifies one stage of a campaign's pipeline.
type PhaseKey string

const (
	PhaseDomainGeneration      PhaseKey = "domain_generation"
	PhaseDNSValidation         PhaseKey = "dns_validation"
	PhaseHTTPKeywordValidation PhaseKey = "http_keyword_validation"
	PhaseEnrichment            PhaseKey = "enrichment"
	PhaseExtraction            PhaseKey = "extraction"
	PhaseCompleted             PhaseKey = "completed" // terminal marker, never startable
)

// PhaseOrder is the declared execution order of startable phases.
// Auto-advance scans this order; the terminal marker is excluded.
var PhaseOrder = []PhaseKey{
	PhaseDomainGeneration,
	PhaseDNSValidation,
	PhaseHTTPKeywordValidation,
	PhaseEnrichment,
	PhaseExtraction,
}

// KnownPhase reports whether key names a startable pipeline phase.
func KnownPhase(key PhaseKey) bool {
	for _, k := range PhaseOrder {
		if k == key {
			return true
		}
	}
	return false
}

// ConfigState reports whether a phase has the configuration it needs to run.
type ConfigState string

const (
	ConfigMissing ConfigState = "missing"
	ConfigValid   ConfigState = "valid"
)

// ExecState is a phase's execution lifecycle.
type ExecState string

const (
	ExecIdle      ExecState = "idle"
	ExecRunning   ExecState = "running"
	ExecCompleted ExecState = "completed"
	ExecFailed    ExecState = "failed"
	ExecPaused    ExecState = "paused"
)

// Terminal reports whether s is a terminal execution state.
func (s ExecState) Terminal() bool {
	return s == ExecCompleted || s == ExecFailed
}

// CampaignStatus is the coarse campaign status owned by the backend.
// This layer holds a read-mostly projection of it.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Campaign is the read-mostly projection of a backend campaign.
type Campaign struct {
	ID           string         `json:"id"`
	Name         string         `json:"name,omitempty"`
	Status       CampaignStatus `json:"status"`
	CurrentPhase PhaseKey       `json:"current_phase,omitempty"`
	CreatedAt    time.Time      `json:"created_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at,omitempty"`
}

// Phase is the per-campaign record for one pipeline stage.
type Phase struct {
	CampaignID  string      `json:"campaign_id"`
	Key         PhaseKey    `json:"key"`
	ConfigState ConfigState `json:"config_state"`
	ExecState   ExecState   `json:"exec_state"`
}

// ExecRuntime holds per (campaign, phase) timing and counter facts mirrored
// from the event stream. Derived cache, rebuildable from events; never the
// source of truth for command-triggered exec transitions.
type ExecRuntime struct {
	CampaignID  string    `json:"campaign_id"`
	Phase       PhaseKey  `json:"phase"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Processed   int64     `json:"processed_items"`
	Total       int64     `json:"total_items"`
	LastStatus  string    `json:"last_status,omitempty"`
}

// Progress returns completion as a fraction in [0,1]. Zero totals yield 0.
func (r ExecRuntime) Progress() float64 {
	if r.Total <= 0 {
		return 0
	}
	p := float64(r.Processed) / float64(r.Total)
	if p > 1 {
		p = 1
	}
	return p
}

// GuidanceMessage is an operator-facing hint appended when a phase needs
// attention (typically after a failure). Append-only; only an operator
// dismisses one.
type GuidanceMessage struct {
	ID        string    `json:"id"`
	Phase     PhaseKey  `json:"phase"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification severities accepted by a Notifier.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Notifier is the fire-and-forget sink for user-visible toasts and errors.
type Notifier interface {
	Notify(title, message, severity string)
}

// InvalidationTags returns the cache tags touched when the server signals
// that authoritative counts diverged for a phase: the progress view and the
// paged result view both go stale together.
func InvalidationTags(campaignID string, phase PhaseKey) []string {
	return []string{
		"progress:" + campaignID + ":" + string(phase),
		"domains:" + campaignID + ":" + string(phase),
	}
}
