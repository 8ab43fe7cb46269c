// Package dispatch issues phase start/stop commands against the backend,
// tracks in-flight transitions per campaign, applies the optimistic
// exec-state update, and rolls it back when the command is rejected.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"flowctl/internal/logging"
	"flowctl/internal/pipeline"
)

// Commander is the command collaborator: it requests a transition on the
// server and reports acceptance or rejection. It never asserts completion;
// that arrives later on the event stream.
type Commander interface {
	Request(ctx context.Context, campaignID, phaseIdent, action string) error
}

// Actions understood by the command collaborator.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// serverIdents maps pipeline phase keys to the identifiers the backend
// expects on the wire. A key outside this map is rejected before any
// network effect.
var serverIdents = map[pipeline.PhaseKey]string{
	pipeline.PhaseDomainGeneration:      "generation",
	pipeline.PhaseDNSValidation:         "dns-validation",
	pipeline.PhaseHTTPKeywordValidation: "http-keyword-validation",
	pipeline.PhaseEnrichment:            "enrichment",
	pipeline.PhaseExtraction:            "extraction",
}

// ServerIdent resolves a phase key to its server-side identifier.
func ServerIdent(key pipeline.PhaseKey) (string, error) {
	ident, ok := serverIdents[key]
	if !ok {
		return "", fmt.Errorf("phase %q: %w", key, pipeline.ErrUnknownPhase)
	}
	return ident, nil
}

// TokenState tracks the life of an optimistic transition guess.
type TokenState string

const (
	// TokenSpeculative: the command was accepted and the model was updated
	// optimistically; no authoritative event has arrived yet.
	TokenSpeculative TokenState = "speculative"
	// TokenConfirmed: the first authoritative event agreed with the guess.
	TokenConfirmed TokenState = "confirmed"
	// TokenCorrected: the first authoritative event contradicted the guess
	// and overwrote it.
	TokenCorrected TokenState = "corrected"
)

// Transition is one speculative start recorded until the stream resolves it.
type Transition struct {
	ID         string             `json:"id"`
	CampaignID string             `json:"campaign_id"`
	Phase      pipeline.PhaseKey  `json:"phase"`
	Token      TokenState         `json:"token"`
	Prior      pipeline.ExecState `json:"prior"`
	StartedAt  time.Time          `json:"started_at"`
}

// TransitionState is the at-most-one-per-campaign dispatcher record.
// IsTransitioning implies Phase is set.
type TransitionState struct {
	IsTransitioning    bool              `json:"is_transitioning"`
	TransitioningPhase pipeline.PhaseKey `json:"transitioning_phase,omitempty"`
	Error              string            `json:"error,omitempty"`
}

// Dispatcher coordinates phase transition commands for all campaigns.
type Dispatcher struct {
	model     *pipeline.Model
	commander Commander
	notify    pipeline.Notifier

	mu       sync.Mutex
	inflight map[string]*Transition     // campaign id -> command on the wire
	awaiting map[string]*Transition     // campaign id + phase -> unresolved token
	state    map[string]TransitionState // campaign id -> last known state
}

// New creates a dispatcher. notify may be nil.
func New(model *pipeline.Model, commander Commander, notify pipeline.Notifier) *Dispatcher {
	return &Dispatcher{
		model:     model,
		commander: commander,
		notify:    notify,
		inflight:  make(map[string]*Transition),
		awaiting:  make(map[string]*Transition),
		state:     make(map[string]TransitionState),
	}
}

func awaitKey(campaignID string, key pipeline.PhaseKey) string {
	return campaignID + "/" + string(key)
}

// State returns the dispatcher's transition record for a campaign.
func (d *Dispatcher) State(campaignID string) TransitionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state[campaignID]
}

// StartPhase requests that the backend start a phase.
//
// The optimistic exec-state update is applied before the command resolves;
// the reconciler confirms or corrects it when the first event for the phase
// arrives. On rejection the prior exec state is restored and the error is
// recorded and notified, leaving everything retryable.
func (d *Dispatcher) StartPhase(ctx context.Context, campaignID string, key pipeline.PhaseKey) error {
	ident, err := ServerIdent(key)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if t := d.inflight[campaignID]; t != nil {
		d.mu.Unlock()
		err := fmt.Errorf("campaign %s is busy transitioning %s: %w",
			campaignID, t.Phase, pipeline.ErrAlreadyTransitioning)
		d.send("Transition in progress", err.Error(), pipeline.SeverityWarning)
		return err
	}

	prior := pipeline.ExecIdle
	if p, ok := d.model.Phase(campaignID, key); ok {
		prior = p.ExecState
	}

	// Optimistic guess: the phase is running as of now. The model enforces
	// config validity and running exclusivity here, before any network call.
	if err := d.model.SetExecState(campaignID, key, pipeline.ExecRunning); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("start %s: %w", ident, err)
	}

	t := &Transition{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		Phase:      key,
		Token:      TokenSpeculative,
		Prior:      prior,
		StartedAt:  time.Now(),
	}
	d.inflight[campaignID] = t
	// Register the token before the command goes out so an authoritative
	// event landing while the command is on the wire resolves it.
	d.awaiting[awaitKey(campaignID, key)] = t
	d.state[campaignID] = TransitionState{IsTransitioning: true, TransitioningPhase: key}
	d.mu.Unlock()

	logging.Dispatch("campaign %s start %s (transition %s)", campaignID, ident, t.ID)
	cmdErr := d.commander.Request(ctx, campaignID, ident, ActionStart)

	d.mu.Lock()
	delete(d.inflight, campaignID)
	if cmdErr != nil {
		// Command rejected: the guess is void. Only undo it while it is still
		// a guess — an authoritative event that settled the phase (and
		// resolved the token) while the command was on the wire wins and must
		// not be overwritten.
		_, unresolved := d.awaiting[awaitKey(campaignID, key)]
		delete(d.awaiting, awaitKey(campaignID, key))
		if unresolved {
			if cur, ok := d.model.Phase(campaignID, key); ok && cur.ExecState == pipeline.ExecRunning {
				if rbErr := d.model.SetExecState(campaignID, key, prior); rbErr != nil {
					logging.Dispatch("campaign %s rollback of %s failed: %v", campaignID, key, rbErr)
				}
			}
		}
		d.state[campaignID] = TransitionState{Error: cmdErr.Error()}
		d.mu.Unlock()
		d.send("Phase start failed", fmt.Sprintf("%s: %v", ident, cmdErr), pipeline.SeverityError)
		return &pipeline.NetworkError{Op: "start " + ident, Err: cmdErr}
	}
	d.state[campaignID] = TransitionState{}
	d.mu.Unlock()
	return nil
}

// StopPhase requests that the backend stop a phase. No optimistic update is
// applied: the resulting paused/failed state arrives on the event stream.
func (d *Dispatcher) StopPhase(ctx context.Context, campaignID string, key pipeline.PhaseKey) error {
	ident, err := ServerIdent(key)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if t := d.inflight[campaignID]; t != nil {
		d.mu.Unlock()
		err := fmt.Errorf("campaign %s is busy transitioning %s: %w",
			campaignID, t.Phase, pipeline.ErrAlreadyTransitioning)
		d.send("Transition in progress", err.Error(), pipeline.SeverityWarning)
		return err
	}
	t := &Transition{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		Phase:      key,
		Token:      TokenSpeculative,
		StartedAt:  time.Now(),
	}
	d.inflight[campaignID] = t
	d.state[campaignID] = TransitionState{IsTransitioning: true, TransitioningPhase: key}
	d.mu.Unlock()

	logging.Dispatch("campaign %s stop %s (transition %s)", campaignID, ident, t.ID)
	cmdErr := d.commander.Request(ctx, campaignID, ident, ActionStop)

	d.mu.Lock()
	delete(d.inflight, campaignID)
	if cmdErr != nil {
		d.state[campaignID] = TransitionState{Error: cmdErr.Error()}
		d.mu.Unlock()
		d.send("Phase stop failed", fmt.Sprintf("%s: %v", ident, cmdErr), pipeline.SeverityError)
		return &pipeline.NetworkError{Op: "stop " + ident, Err: cmdErr}
	}
	d.state[campaignID] = TransitionState{}
	d.mu.Unlock()
	return nil
}

// Resolve settles the speculative token for a phase against the first
// authoritative exec state seen on the event stream. The event always wins;
// Resolve only records whether the guess held.
func (d *Dispatcher) Resolve(campaignID string, key pipeline.PhaseKey, actual pipeline.ExecState) (TokenState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.awaiting[awaitKey(campaignID, key)]
	if !ok {
		return "", false
	}
	delete(d.awaiting, awaitKey(campaignID, key))
	if actual == pipeline.ExecRunning {
		t.Token = TokenConfirmed
	} else {
		t.Token = TokenCorrected
	}
	logging.DispatchDebug("campaign %s phase %s transition %s resolved %s (actual=%s)",
		campaignID, key, t.ID, t.Token, actual)
	return t.Token, true
}

func (d *Dispatcher) send(title, message, severity string) {
	if d.notify != nil {
		d.notify.Notify(title, message, severity)
	}
}
