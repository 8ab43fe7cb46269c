// Package reconcile consumes the server-push event stream for a campaign
// and folds it back into the phase state model: progress counters, terminal
// exec-state flips, cache invalidation after server-side count corrections,
// and re-evaluation of auto-advance after every mutation.
//
// The engine is a single consumer draining an ordered channel; events for a
// campaign are applied strictly in arrival order, with no reordering or
// coalescing. If the transport can reorder, that is the transport's
// contract to fix.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"flowctl/internal/dispatch"
	"flowctl/internal/journal"
	"flowctl/internal/logging"
	"flowctl/internal/pipeline"
)

// Event is one server-pushed message: a kind plus an opaque payload decoded
// per kind. Unknown kinds are ignored, never an error.
type Event struct {
	Kind string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Event kinds this engine understands.
const (
	KindPhaseProgress      = "phase_progress"
	KindCountersReconciled = "counters_reconciled"
	KindCampaignStatus     = "campaign_status"
)

// Subscriber yields a lazy, non-restartable sequence of events for a
// campaign. The returned channel closes when the stream ends; the engine
// re-subscribes on its own.
type Subscriber interface {
	Subscribe(ctx context.Context, campaignID string) (<-chan Event, error)
}

// CacheInvalidator receives the tags whose cached views went stale.
type CacheInvalidator interface {
	InvalidateTags(ctx context.Context, tags ...string)
}

// ConnState is the subscription lifecycle for one campaign.
type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
)

// Snapshot is a point-in-time view published after each applied event,
// consumed by the live monitor.
type Snapshot struct {
	Campaign pipeline.Campaign
	Phases   []pipeline.Phase
	Runtimes map[pipeline.PhaseKey]pipeline.ExecRuntime
	Guidance []pipeline.GuidanceMessage
	Conn     ConnState
}

// Options configures an Engine. Model, UI and Subscriber are required;
// everything else is optional.
type Options struct {
	Model        *pipeline.Model
	UI           *pipeline.UIState
	Subscriber   Subscriber
	Dispatcher   *dispatch.Dispatcher // enables token resolution and auto-advance
	Notifier     pipeline.Notifier
	Journal      *journal.Journal // when set, every event is appended for replay
	Invalidators []CacheInvalidator
	Backoff      time.Duration   // reconnect delay, default 2s
	Snapshots    chan<- Snapshot // non-blocking publish target
}

// Engine is the event reconciliation engine for one or more campaigns.
type Engine struct {
	opts Options

	mu   sync.RWMutex
	conn map[string]ConnState
}

// NewEngine creates an engine from options.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Model == nil || opts.UI == nil || opts.Subscriber == nil {
		return nil, fmt.Errorf("reconcile: model, ui state and subscriber are required")
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}
	return &Engine{opts: opts, conn: make(map[string]ConnState)}, nil
}

// ConnState returns the subscription state for a campaign.
func (e *Engine) ConnState(campaignID string) ConnState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.conn[campaignID]; ok {
		return s
	}
	return ConnDisconnected
}

func (e *Engine) setConn(campaignID string, s ConnState) {
	e.mu.Lock()
	e.conn[campaignID] = s
	e.mu.Unlock()
	logging.StreamDebug("campaign %s subscription %s", campaignID, s)
}

// Run consumes the campaign's event stream until ctx is cancelled. A lost
// stream is recovered silently with best-effort resubscription; accumulated
// phase state is never cleared by a disconnect, only marked stale.
func (e *Engine) Run(ctx context.Context, campaignID string) error {
	defer e.setConn(campaignID, ConnDisconnected)
	for {
		e.setConn(campaignID, ConnConnecting)
		ch, err := e.opts.Subscriber.Subscribe(ctx, campaignID)
		if err != nil {
			e.setConn(campaignID, ConnDisconnected)
			logging.Stream("campaign %s subscribe failed: %v", campaignID, err)
			if !e.waitBackoff(ctx) {
				return ctx.Err()
			}
			continue
		}
		e.setConn(campaignID, ConnConnected)
		e.publish(campaignID)

		if !e.drain(ctx, campaignID, ch) {
			return ctx.Err()
		}

		e.setConn(campaignID, ConnDisconnected)
		e.publish(campaignID)
		logging.Stream("campaign %s: %v, retrying in %s",
			campaignID, pipeline.ErrStreamDisconnected, e.opts.Backoff)
		if !e.waitBackoff(ctx) {
			return ctx.Err()
		}
	}
}

// drain applies events strictly in arrival order. Returns false when ctx
// ended, true when the channel closed (stream lost).
func (e *Engine) drain(ctx context.Context, campaignID string, ch <-chan Event) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return true
			}
			e.Apply(ctx, campaignID, ev)
		}
	}
}

func (e *Engine) waitBackoff(ctx context.Context) bool {
	t := time.NewTimer(e.opts.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// phaseProgressPayload is the body of a phase_progress event.
type phaseProgressPayload struct {
	Phase          pipeline.PhaseKey `json:"phase"`
	ProcessedItems int64             `json:"processedItems"`
	TotalItems     int64             `json:"totalItems"`
	Status         string            `json:"status"`
}

// countersReconciledPayload is the body of a counters_reconciled event.
type countersReconciledPayload struct {
	Phase pipeline.PhaseKey `json:"phase"`
}

// campaignStatusPayload is the body of a campaign_status event.
type campaignStatusPayload struct {
	Status       pipeline.CampaignStatus `json:"status"`
	CurrentPhase pipeline.PhaseKey       `json:"currentPhase"`
}

// Apply folds one event into the model. Exported so a journal replay can
// push recorded events through the same path the live stream uses.
func (e *Engine) Apply(ctx context.Context, campaignID string, ev Event) {
	e.apply(ctx, campaignID, ev, true)
}

// apply is the shared fold. record is false during replay so journaled
// events are not appended a second time.
func (e *Engine) apply(ctx context.Context, campaignID string, ev Event, record bool) {
	if record {
		e.record(ctx, campaignID, ev)
	}

	switch ev.Kind {
	case KindPhaseProgress:
		e.applyProgress(ctx, campaignID, ev.Data)
	case KindCountersReconciled:
		e.applyCountersReconciled(ctx, campaignID, ev.Data)
	case KindCampaignStatus:
		e.applyCampaignStatus(campaignID, ev.Data)
	default:
		// Forward-compatible: unknown kinds are dropped without complaint.
		logging.StreamDebug("campaign %s ignoring event kind %q", campaignID, ev.Kind)
		return
	}
	e.publish(campaignID)
}

func (e *Engine) applyProgress(ctx context.Context, campaignID string, data json.RawMessage) {
	var p phaseProgressPayload
	if err := json.Unmarshal(data, &p); err != nil {
		logging.Stream("campaign %s malformed phase_progress payload: %v", campaignID, err)
		return
	}
	if !pipeline.KnownPhase(p.Phase) {
		logging.StreamDebug("campaign %s progress for unknown phase %q ignored", campaignID, p.Phase)
		return
	}

	e.opts.Model.ApplyProgress(campaignID, p.Phase, p.ProcessedItems, p.TotalItems, p.Status)

	// Exec state is only touched when the event carries an authoritative
	// lifecycle status; plain counter ticks leave it alone.
	status := pipeline.ExecState(p.Status)
	switch status {
	case pipeline.ExecRunning:
		e.resolve(campaignID, p.Phase, status)
		if cur, ok := e.opts.Model.Phase(campaignID, p.Phase); ok && cur.ExecState != pipeline.ExecRunning {
			if err := e.opts.Model.SetExecState(campaignID, p.Phase, pipeline.ExecRunning); err != nil {
				logging.Stream("campaign %s event-driven start of %s rejected: %v", campaignID, p.Phase, err)
			}
		}
	case pipeline.ExecCompleted, pipeline.ExecFailed, pipeline.ExecPaused:
		e.resolve(campaignID, p.Phase, status)
		if err := e.opts.Model.SetExecState(campaignID, p.Phase, status); err != nil {
			logging.Stream("campaign %s terminal transition of %s rejected: %v", campaignID, p.Phase, err)
		}
		if status == pipeline.ExecFailed {
			e.opts.UI.SetLastFailedPhase(campaignID, p.Phase)
			msg := e.opts.UI.AppendGuidance(campaignID, p.Phase,
				fmt.Sprintf("Phase %s failed after %d/%d items. Review its configuration and restart it.",
					p.Phase, p.ProcessedItems, p.TotalItems))
			logging.Stream("campaign %s phase %s failed (guidance %s)", campaignID, p.Phase, msg.ID)
			e.notify("Phase failed",
				fmt.Sprintf("%s stopped at %d/%d items", p.Phase, p.ProcessedItems, p.TotalItems),
				pipeline.SeverityError)
		}
	}

	e.autoAdvance(ctx, campaignID)
}

func (e *Engine) applyCountersReconciled(ctx context.Context, campaignID string, data json.RawMessage) {
	var p countersReconciledPayload
	if err := json.Unmarshal(data, &p); err != nil {
		logging.Stream("campaign %s malformed counters_reconciled payload: %v", campaignID, err)
		return
	}
	// Authoritative counts diverged from what we accumulated: both the
	// progress view and the paged result view for the phase are stale.
	tags := pipeline.InvalidationTags(campaignID, p.Phase)
	logging.Stream("campaign %s counters reconciled for %s, invalidating %v", campaignID, p.Phase, tags)
	e.opts.Model.ResetRuntime(campaignID, p.Phase)
	for _, inv := range e.opts.Invalidators {
		inv.InvalidateTags(ctx, tags...)
	}
}

func (e *Engine) applyCampaignStatus(campaignID string, data json.RawMessage) {
	var p campaignStatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		logging.Stream("campaign %s malformed campaign_status payload: %v", campaignID, err)
		return
	}
	e.opts.Model.SetCampaignStatus(campaignID, p.Status, p.CurrentPhase)
}

// resolve settles a speculative dispatcher token, if one is waiting.
func (e *Engine) resolve(campaignID string, phase pipeline.PhaseKey, actual pipeline.ExecState) {
	if e.opts.Dispatcher == nil {
		return
	}
	if token, ok := e.opts.Dispatcher.Resolve(campaignID, phase, actual); ok {
		logging.StreamDebug("campaign %s phase %s optimistic start %s", campaignID, phase, token)
	}
}

// autoAdvance re-evaluates the decision engine and dispatches at most one
// start. A racing manual start surfacing AlreadyTransitioning is expected
// and merely logged; a failed phase elsewhere never aborts it.
func (e *Engine) autoAdvance(ctx context.Context, campaignID string) {
	if e.opts.Dispatcher == nil {
		return
	}
	if !e.opts.UI.FullSequence(campaignID) {
		return
	}
	key, ok := pipeline.ComputeAutoStart(e.opts.Model.Snapshot(campaignID), true)
	if !ok {
		return
	}
	logging.Stream("campaign %s auto-advance selected %s", campaignID, key)
	if err := e.opts.Dispatcher.StartPhase(ctx, campaignID, key); err != nil {
		if errors.Is(err, pipeline.ErrAlreadyTransitioning) {
			logging.StreamDebug("campaign %s auto-advance deferred: %v", campaignID, err)
			return
		}
		logging.Stream("campaign %s auto-advance start of %s failed: %v", campaignID, key, err)
	}
}

func (e *Engine) record(ctx context.Context, campaignID string, ev Event) {
	if e.opts.Journal == nil {
		return
	}
	if err := e.opts.Journal.Append(ctx, campaignID, ev.Kind, ev.Data); err != nil {
		logging.Journal("campaign %s journal append failed: %v", campaignID, err)
	}
}

// Replay pushes journaled events for a campaign through the normal apply
// path, rebuilding the derived runtime after a restart or long outage.
func (e *Engine) Replay(ctx context.Context, campaignID string) error {
	if e.opts.Journal == nil {
		return nil
	}
	n := 0
	err := e.opts.Journal.Replay(ctx, campaignID, func(kind string, payload []byte) error {
		e.apply(ctx, campaignID, Event{Kind: kind, Data: payload}, false)
		n++
		return nil
	})
	if err != nil {
		return fmt.Errorf("replay campaign %s: %w", campaignID, err)
	}
	logging.Journal("campaign %s replayed %d events", campaignID, n)
	return nil
}

func (e *Engine) notify(title, message, severity string) {
	if e.opts.Notifier != nil {
		e.opts.Notifier.Notify(title, message, severity)
	}
}

// publish sends a snapshot without ever blocking the consumer loop.
func (e *Engine) publish(campaignID string) {
	if e.opts.Snapshots == nil {
		return
	}
	c, _ := e.opts.Model.Campaign(campaignID)
	snap := Snapshot{
		Campaign: c,
		Phases:   e.opts.Model.Snapshot(campaignID),
		Runtimes: e.opts.Model.Runtimes(campaignID),
		Guidance: e.opts.UI.Entry(campaignID).Guidance,
		Conn:     e.ConnState(campaignID),
	}
	select {
	case e.opts.Snapshots <- snap:
	default:
	}
}
