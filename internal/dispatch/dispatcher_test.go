package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowctl/internal/pipeline"
)

const (
	testWait = 2 * time.Second
	testTick = 5 * time.Millisecond
)

// fakeCommander records requests and can be made slow or failing.
type fakeCommander struct {
	mu       sync.Mutex
	calls    int32
	requests []string
	err      error
	block    chan struct{} // when set, Request waits until closed
}

func (f *fakeCommander) Request(ctx context.Context, campaignID, phaseIdent, action string) error {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.requests = append(f.requests, campaignID+"/"+phaseIdent+"/"+action)
	block := f.block
	err := f.err
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

type fakeNotifier struct {
	mu     sync.Mutex
	toasts []string
}

func (f *fakeNotifier) Notify(title, message, severity string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toasts = append(f.toasts, severity+": "+title)
}

func newTestModel(t *testing.T, campaignID string) *pipeline.Model {
	t.Helper()
	m := pipeline.NewModel()
	for _, key := range pipeline.PhaseOrder {
		require.NoError(t, m.SetConfigState(campaignID, key, pipeline.ConfigValid))
	}
	return m
}

func TestStartPhaseOptimisticUpdateAndToken(t *testing.T) {
	model := newTestModel(t, "cmp-1")
	cmd := &fakeCommander{}
	d := New(model, cmd, &fakeNotifier{})

	require.NoError(t, d.StartPhase(context.Background(), "cmp-1", pipeline.PhaseDomainGeneration))

	p, _ := model.Phase("cmp-1", pipeline.PhaseDomainGeneration)
	assert.Equal(t, pipeline.ExecRunning, p.ExecState, "optimistic update must set running")
	assert.False(t, d.State("cmp-1").IsTransitioning, "transition state clears on acceptance")

	// First authoritative event agrees with the guess.
	token, ok := d.Resolve("cmp-1", pipeline.PhaseDomainGeneration, pipeline.ExecRunning)
	require.True(t, ok)
	assert.Equal(t, TokenConfirmed, token)

	// A second resolve finds nothing outstanding.
	_, ok = d.Resolve("cmp-1", pipeline.PhaseDomainGeneration, pipeline.ExecRunning)
	assert.False(t, ok)
}

func TestStartPhaseCorrectedToken(t *testing.T) {
	model := newTestModel(t, "cmp-1")
	d := New(model, &fakeCommander{}, nil)

	require.NoError(t, d.StartPhase(context.Background(), "cmp-1", pipeline.PhaseDNSValidation))

	// The stream contradicts the optimistic guess: the event is
	// authoritative, the token records the miss.
	token, ok := d.Resolve("cmp-1", pipeline.PhaseDNSValidation, pipeline.ExecFailed)
	require.True(t, ok)
	assert.Equal(t, TokenCorrected, token)
}

func TestStartPhaseUnknownKeyAbortsBeforeNetwork(t *testing.T) {
	model := newTestModel(t, "cmp-1")
	cmd := &fakeCommander{}
	d := New(model, cmd, nil)

	err := d.StartPhase(context.Background(), "cmp-1", "warp_drive")
	require.ErrorIs(t, err, pipeline.ErrUnknownPhase)
	assert.Zero(t, atomic.LoadInt32(&cmd.calls), "no network call for unknown phase")

	err = d.StartPhase(context.Background(), "cmp-1", pipeline.PhaseCompleted)
	require.ErrorIs(t, err, pipeline.ErrUnknownPhase, "terminal marker is not startable")
}

func TestStartPhaseConcurrentCallsFailFast(t *testing.T) {
	model := newTestModel(t, "cmp-1")
	block := make(chan struct{})
	cmd := &fakeCommander{block: block}
	notifier := &fakeNotifier{}
	d := New(model, cmd, notifier)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- d.StartPhase(context.Background(), "cmp-1", pipeline.PhaseDomainGeneration)
	}()

	// Wait until the first command is on the wire.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&cmd.calls) == 1
	}, testWait, testTick)

	err := d.StartPhase(context.Background(), "cmp-1", pipeline.PhaseDNSValidation)
	require.ErrorIs(t, err, pipeline.ErrAlreadyTransitioning)

	close(block)
	require.NoError(t, <-firstDone)

	assert.EqualValues(t, 1, atomic.LoadInt32(&cmd.calls), "exactly one network command issued")
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Contains(t, notifier.toasts, "warning: Transition in progress")
}

func TestStartPhaseFailureRollsBack(t *testing.T) {
	model := newTestModel(t, "cmp-1")
	cmd := &fakeCommander{err: errors.New("503 service unavailable")}
	notifier := &fakeNotifier{}
	d := New(model, cmd, notifier)

	err := d.StartPhase(context.Background(), "cmp-1", pipeline.PhaseDomainGeneration)

	var netErr *pipeline.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "start generation", netErr.Op)

	// The phase is presumed to remain in its prior state: the command was
	// rejected before taking effect.
	p, _ := model.Phase("cmp-1", pipeline.PhaseDomainGeneration)
	assert.Equal(t, pipeline.ExecIdle, p.ExecState)

	state := d.State("cmp-1")
	assert.False(t, state.IsTransitioning)
	assert.Contains(t, state.Error, "503")

	// Retry succeeds once the backend recovers.
	cmd.mu.Lock()
	cmd.err = nil
	cmd.mu.Unlock()
	require.NoError(t, d.StartPhase(context.Background(), "cmp-1", pipeline.PhaseDomainGeneration))
}

// hookedCommander runs a hook while the command is on the wire, simulating
// stream events landing mid-command.
type hookedCommander struct {
	hook func()
	err  error
}

func (h *hookedCommander) Request(ctx context.Context, campaignID, phaseIdent, action string) error {
	if h.hook != nil {
		h.hook()
	}
	return h.err
}

func TestStartPhaseFailureKeepsTerminalEventAppliedMidCommand(t *testing.T) {
	model := newTestModel(t, "cmp-1")
	cmd := &hookedCommander{err: errors.New("504 gateway timeout")}
	d := New(model, cmd, nil)

	// While the command is on the wire, the stream reports the phase failed
	// and the reconciler settles the token and the exec state.
	cmd.hook = func() {
		_, ok := d.Resolve("cmp-1", pipeline.PhaseDomainGeneration, pipeline.ExecFailed)
		require.True(t, ok)
		require.NoError(t, model.SetExecState("cmp-1", pipeline.PhaseDomainGeneration, pipeline.ExecFailed))
	}

	err := d.StartPhase(context.Background(), "cmp-1", pipeline.PhaseDomainGeneration)
	var netErr *pipeline.NetworkError
	require.ErrorAs(t, err, &netErr)

	// The terminal event is authoritative; the rollback must not restore
	// the pre-command state over it.
	p, _ := model.Phase("cmp-1", pipeline.PhaseDomainGeneration)
	assert.Equal(t, pipeline.ExecFailed, p.ExecState)
}

func TestStartPhaseFailureKeepsUnresolvedTerminalState(t *testing.T) {
	model := newTestModel(t, "cmp-1")
	cmd := &hookedCommander{err: errors.New("connection reset")}
	d := New(model, cmd, nil)

	// The exec state flips mid-command without the token being resolved yet;
	// the rollback must still leave the settled state alone.
	cmd.hook = func() {
		require.NoError(t, model.SetExecState("cmp-1", pipeline.PhaseDomainGeneration, pipeline.ExecFailed))
	}

	err := d.StartPhase(context.Background(), "cmp-1", pipeline.PhaseDomainGeneration)
	require.Error(t, err)

	p, _ := model.Phase("cmp-1", pipeline.PhaseDomainGeneration)
	assert.Equal(t, pipeline.ExecFailed, p.ExecState)

	// The void guess is discarded, not left for a later event.
	_, ok := d.Resolve("cmp-1", pipeline.PhaseDomainGeneration, pipeline.ExecFailed)
	assert.False(t, ok)
}

func TestStartPhaseConfirmedMidCommandSurvivesFailure(t *testing.T) {
	model := newTestModel(t, "cmp-1")
	cmd := &hookedCommander{err: errors.New("response lost")}
	d := New(model, cmd, nil)

	// The stream confirms the phase is running, then the command call itself
	// errors (e.g. the response never arrived). The confirmed state stands.
	cmd.hook = func() {
		token, ok := d.Resolve("cmp-1", pipeline.PhaseDomainGeneration, pipeline.ExecRunning)
		require.True(t, ok)
		require.Equal(t, TokenConfirmed, token)
	}

	err := d.StartPhase(context.Background(), "cmp-1", pipeline.PhaseDomainGeneration)
	require.Error(t, err)

	p, _ := model.Phase("cmp-1", pipeline.PhaseDomainGeneration)
	assert.Equal(t, pipeline.ExecRunning, p.ExecState)
}

func TestStartPhaseTokenResolvableWhileCommandInFlight(t *testing.T) {
	model := newTestModel(t, "cmp-1")
	cmd := &hookedCommander{}
	d := New(model, cmd, nil)

	var midToken TokenState
	var midOK bool
	cmd.hook = func() {
		midToken, midOK = d.Resolve("cmp-1", pipeline.PhaseDNSValidation, pipeline.ExecRunning)
	}

	require.NoError(t, d.StartPhase(context.Background(), "cmp-1", pipeline.PhaseDNSValidation))

	// The token was registered before the command went out, so the event
	// arriving mid-command found and settled it.
	require.True(t, midOK)
	assert.Equal(t, TokenConfirmed, midToken)

	// Nothing lingers for a later, unrelated event to resolve.
	_, ok := d.Resolve("cmp-1", pipeline.PhaseDNSValidation, pipeline.ExecRunning)
	assert.False(t, ok)
}

func TestStartPhaseInvalidTransitionSurfacesLoudly(t *testing.T) {
	model := pipeline.NewModel() // all configs missing
	cmd := &fakeCommander{}
	d := New(model, cmd, nil)

	err := d.StartPhase(context.Background(), "cmp-1", pipeline.PhaseDomainGeneration)
	require.ErrorIs(t, err, pipeline.ErrInvalidTransition)
	assert.Zero(t, atomic.LoadInt32(&cmd.calls), "contract violations never reach the network")
	assert.False(t, d.State("cmp-1").IsTransitioning)
}

func TestBusyMessageIsActionNeutral(t *testing.T) {
	model := newTestModel(t, "cmp-1")
	require.NoError(t, model.SetExecState("cmp-1", pipeline.PhaseDomainGeneration, pipeline.ExecRunning))
	block := make(chan struct{})
	cmd := &fakeCommander{block: block}
	d := New(model, cmd, nil)

	stopDone := make(chan error, 1)
	go func() {
		stopDone <- d.StopPhase(context.Background(), "cmp-1", pipeline.PhaseDomainGeneration)
	}()
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&cmd.calls) == 1
	}, testWait, testTick)

	// The in-flight command is a stop, so the busy message must not claim
	// a start is underway.
	err := d.StartPhase(context.Background(), "cmp-1", pipeline.PhaseDNSValidation)
	require.ErrorIs(t, err, pipeline.ErrAlreadyTransitioning)
	assert.Contains(t, err.Error(), "busy transitioning")
	assert.NotContains(t, err.Error(), "busy starting")

	close(block)
	require.NoError(t, <-stopDone)
}

func TestStopPhase(t *testing.T) {
	model := newTestModel(t, "cmp-1")
	require.NoError(t, model.SetExecState("cmp-1", pipeline.PhaseDNSValidation, pipeline.ExecRunning))
	cmd := &fakeCommander{}
	d := New(model, cmd, nil)

	require.NoError(t, d.StopPhase(context.Background(), "cmp-1", pipeline.PhaseDNSValidation))

	// No optimistic update on stop: the paused state arrives on the stream.
	p, _ := model.Phase("cmp-1", pipeline.PhaseDNSValidation)
	assert.Equal(t, pipeline.ExecRunning, p.ExecState)

	cmd.mu.Lock()
	defer cmd.mu.Unlock()
	require.Len(t, cmd.requests, 1)
	assert.Equal(t, "cmp-1/dns-validation/stop", cmd.requests[0])
}
