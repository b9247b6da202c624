// Package orch drives one client's call attempts from intent to a terminal state.
package orch

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/app/state"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RingTimeout bounds how long an incoming call rings before it is marked missed.
const RingTimeout = 30 * time.Second

const (
	DefaultRingOutTimeout = 60 * time.Second
	DefaultRequestTimeout = 10 * time.Second

	maxPendingSignals = 256
	eventBuffer       = 256
)

type Config struct {
	SelfID         domain.UserID
	RingOutTimeout time.Duration
	RequestTimeout time.Duration
}

type Deps struct {
	Store   *state.Store
	Gateway core.Gateway
	Relay   core.SignalRelay
	Media   core.MediaProvider
	Peers   core.PeerFactory
	// Shell and Events are optional.
	Shell  core.Shell
	Events core.EventPublisher
	Clock  clock.Clock
}

// Controller is the call state machine. All state below the channel fields
// is owned by the Run goroutine.
type Controller struct {
	cfg     Config
	store   *state.Store
	gateway core.Gateway
	relay   core.SignalRelay
	media   core.MediaProvider
	peers   core.PeerFactory
	shell   core.Shell
	pub     core.EventPublisher
	clock   clock.Clock
	log     zerolog.Logger

	events  chan event
	done    chan struct{}
	runOnce sync.Once
	async   sync.WaitGroup
	runCtx  context.Context
	baseCtx context.Context
	cur     *attempt
	seq     uint64
	lastID  domain.CallID
	lastWhy domain.EndReason
}

func New(cfg Config, deps Deps) *Controller {
	if cfg.RingOutTimeout <= 0 {
		cfg.RingOutTimeout = DefaultRingOutTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if deps.Store == nil {
		deps.Store = state.NewStore()
	}
	if deps.Shell == nil {
		deps.Shell = nopShell{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	c := &Controller{
		cfg:     cfg,
		store:   deps.Store,
		gateway: deps.Gateway,
		relay:   deps.Relay,
		media:   deps.Media,
		peers:   deps.Peers,
		shell:   deps.Shell,
		pub:     deps.Events,
		clock:   deps.Clock,
		log:     log.With().Str("module", "orch").Str("self", string(cfg.SelfID)).Logger(),
		events:  make(chan event, eventBuffer),
		done:    make(chan struct{}),
		runCtx:  context.Background(),
		baseCtx: context.Background(),
	}
	c.relay.OnIncoming(func(call *domain.Call, from domain.UserID) {
		c.post(evRing{call: call, from: from})
	})
	return c
}

// Run processes events until ctx is cancelled. The current call, if any,
// is ended before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return domain.ErrControllerStopped
	}
	c.runCtx = ctx
	c.baseCtx = context.WithoutCancel(ctx)
	c.log.Info().Msg("controller started")

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

func (c *Controller) shutdown() {
	if c.cur != nil {
		c.finish(c.cur, domain.EndReasonShutdown, nil)
	}
	close(c.done)
	c.relay.UnsubscribeAll()
	c.async.Wait()
	c.drain()
	c.log.Info().Msg("controller stopped")
}

// drain releases whatever was still queued when the loop stopped.
func (c *Controller) drain() {
	for {
		select {
		case ev := <-c.events:
			switch e := ev.(type) {
			case evMediaDone:
				if e.stream != nil {
					e.stream.Stop()
				}
			case evPeer:
				if e.ev.Stream != nil {
					e.ev.Stream.Stop()
				}
			case evInitiateDone:
				if e.err == nil && e.call != nil {
					c.endOrphan(e.call.ID)
				}
			case cmdInitiate:
				e.reply <- result{err: domain.ErrControllerStopped}
			case cmdAnswer:
				e.reply <- result{err: domain.ErrControllerStopped}
			case cmdDecline:
				e.reply <- result{err: domain.ErrControllerStopped}
			case cmdHangUp:
				e.reply <- result{err: domain.ErrControllerStopped}
			case cmdToggle:
				e.reply <- result{err: domain.ErrControllerStopped}
			}
		default:
			return
		}
	}
}

func (c *Controller) dispatch(ev event) {
	switch e := ev.(type) {
	case cmdInitiate:
		c.onInitiate(e)
	case cmdAnswer:
		c.onAnswer(e)
	case cmdDecline:
		c.onDecline(e)
	case cmdHangUp:
		c.onHangUp(e)
	case cmdToggle:
		c.onToggle(e)
	case evInitiateDone:
		c.onInitiateDone(e)
	case evAnswerDone:
		c.onAnswerDone(e)
	case evMediaDone:
		c.onMediaDone(e)
	case evPublishFailed:
		c.onPublishFailed(e)
	case evRingTimeout:
		c.onRingTimeout(e)
	case evRingOutTimeout:
		c.onRingOutTimeout(e)
	case evRing:
		c.onRing(e)
	case evControl:
		c.onControl(e)
	case evSignal:
		c.onSignal(e)
	case evPeer:
		c.onPeer(e)
	default:
		c.log.Warn().Msgf("unknown event %T", ev)
	}
}

// post hands ev to the loop. It reports false once the controller stopped.
func (c *Controller) post(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) request(ctx context.Context, mk func(chan<- result) event) result {
	reply := make(chan result, 1)
	select {
	case c.events <- mk(reply):
	case <-c.done:
		return result{err: domain.ErrControllerStopped}
	case <-ctx.Done():
		return result{err: ctx.Err()}
	}
	select {
	case r := <-reply:
		return r
	case <-c.done:
		select {
		case r := <-reply:
			return r
		default:
			return result{err: domain.ErrControllerStopped}
		}
	case <-ctx.Done():
		return result{err: ctx.Err()}
	}
}

// goAsync runs fn off the loop; Run waits for it before returning.
func (c *Controller) goAsync(fn func()) {
	c.async.Add(1)
	go func() {
		defer c.async.Done()
		fn()
	}()
}

// requestCtx outlives Run so terminal notifications still go out on shutdown.
func (c *Controller) requestCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.baseCtx, c.cfg.RequestTimeout)
}

// actionCtx is cancelled with Run.
func (c *Controller) actionCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.runCtx, c.cfg.RequestTimeout)
}

func (c *Controller) busy() bool {
	return c.cur != nil || c.store.Snapshot().ActiveCall != nil
}

func (c *Controller) emit(a *attempt, kind domain.CallEventKind, reason domain.EndReason) {
	if a.call != nil {
		c.emitCall(a.call, kind, reason)
	}
}

func (c *Controller) emitCall(call *domain.Call, kind domain.CallEventKind, reason domain.EndReason) {
	if c.pub == nil {
		return
	}
	c.pub.Publish(app.ConversationTopic(call.ConversationID), domain.CallEvent{
		Kind:           kind,
		CallID:         call.ID,
		ConversationID: call.ConversationID,
		CallType:       call.CallType,
		Reason:         reason,
		At:             c.clock.Now(),
	})
}

// InitiateCall returns once the call-tracking service accepted the call.
func (c *Controller) InitiateCall(ctx context.Context, conv domain.ConversationID, callType domain.CallType) (*domain.Call, error) {
	r := c.request(ctx, func(reply chan<- result) event {
		return cmdInitiate{conv: conv, callType: callType, reply: reply}
	})
	return r.call, r.err
}

// AnswerCall returns once both the service and local media are ready.
func (c *Controller) AnswerCall(ctx context.Context, callID domain.CallID) (*domain.Call, error) {
	r := c.request(ctx, func(reply chan<- result) event {
		return cmdAnswer{callID: callID, reply: reply}
	})
	return r.call, r.err
}

func (c *Controller) DeclineCall(ctx context.Context, callID domain.CallID) error {
	return c.request(ctx, func(reply chan<- result) event {
		return cmdDecline{callID: callID, reply: reply}
	}).err
}

// HangUp ends whatever call is in progress. No-op when idle.
func (c *Controller) HangUp(ctx context.Context) error {
	return c.request(ctx, func(reply chan<- result) event {
		return cmdHangUp{reply: reply}
	}).err
}

// ToggleMute reports the new muted state.
func (c *Controller) ToggleMute(ctx context.Context) (bool, error) {
	r := c.request(ctx, func(reply chan<- result) event {
		return cmdToggle{kind: core.TrackAudio, reply: reply}
	})
	return r.on, r.err
}

// ToggleCamera reports the new camera-off state.
func (c *Controller) ToggleCamera(ctx context.Context) (bool, error) {
	r := c.request(ctx, func(reply chan<- result) event {
		return cmdToggle{kind: core.TrackVideo, reply: reply}
	})
	return r.on, r.err
}

func (c *Controller) Snapshot() state.Snapshot {
	return c.store.Snapshot()
}

type nopShell struct{}

func (nopShell) Ring(*domain.Call)       {}
func (nopShell) StopRing(domain.CallID)  {}
func (nopShell) MissedCall(*domain.Call) {}
func (nopShell) Notify(domain.Notice)    {}
