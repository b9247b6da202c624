package orch

import (
	"context"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

type phase int

const (
	phaseInitiating phase = iota
	phaseRingingOut
	phaseRingingIn
	phaseConnecting
	phaseActive
	phaseEnded
)

func (p phase) String() string {
	switch p {
	case phaseInitiating:
		return "initiating"
	case phaseRingingOut:
		return "ringing-out"
	case phaseRingingIn:
		return "ringing-in"
	case phaseConnecting:
		return "connecting"
	case phaseActive:
		return "active"
	case phaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

type pendingSignal struct {
	from domain.UserID
	sig  core.Signal
}

// attempt is one call from first intent to finish. Only the loop touches it.
type attempt struct {
	id       uint64
	phase    phase
	outgoing bool
	callType domain.CallType
	call     *domain.Call
	peerID   domain.UserID

	sub        core.Subscription
	subscribed bool
	peer       core.PeerAdapter
	local      core.MediaStream
	remote     core.MediaStream
	pending    []pendingSignal
	timer      *clock.Timer
	out        *outbox

	mediaCancel     context.CancelFunc
	mediaErr        error
	remoteAnswered  bool
	answering       bool
	answered        bool
	cancelRequested bool
	remoteEnd       bool
	reply           chan<- result
	finished        bool
}

func (c *Controller) newAttempt(p phase, outgoing bool) *attempt {
	c.seq++
	a := &attempt{id: c.seq, phase: p, outgoing: outgoing, out: newOutbox()}
	c.goAsync(a.out.run)
	return a
}

func (a *attempt) callID() domain.CallID {
	if a.call == nil {
		return ""
	}
	return a.call.ID
}

func (a *attempt) respond(r result) {
	if a.reply == nil {
		return
	}
	a.reply <- r
	a.reply = nil
}

func (a *attempt) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// outbox serializes outgoing relay messages of one attempt so negotiation
// payloads leave in the order the adapter produced them.
type outbox struct {
	ch     chan func()
	final  chan func()
	closed atomic.Bool
}

func newOutbox() *outbox {
	return &outbox{
		ch:    make(chan func(), maxPendingSignals),
		final: make(chan func(), 1),
	}
}

func (o *outbox) run() {
	for fn := range o.ch {
		if o.closed.Load() {
			continue
		}
		fn()
	}
	select {
	case fn := <-o.final:
		fn()
	default:
	}
}

// push reports false when the backlog is full or the outbox is closed.
func (o *outbox) push(fn func()) bool {
	if o.closed.Load() {
		return false
	}
	select {
	case o.ch <- fn:
		return true
	default:
		return false
	}
}

// close drops queued messages that have not started and runs fn last.
func (o *outbox) close(fn func()) {
	if o.closed.Swap(true) {
		return
	}
	if fn != nil {
		o.final <- fn
	}
	close(o.ch)
}
