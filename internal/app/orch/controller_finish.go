package orch

import (
	"errors"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

type gatewayOp int

const (
	opNone gatewayOp = iota
	opEnd
	opDecline
	opMissed
)

func (o gatewayOp) String() string {
	switch o {
	case opEnd:
		return "end"
	case opDecline:
		return "decline"
	case opMissed:
		return "mark_missed"
	default:
		return "none"
	}
}

// terminationFor picks what the service and the other participant must be told.
// Ends caused by the remote side are not echoed back.
func terminationFor(a *attempt, prev phase, reason domain.EndReason) (gatewayOp, core.MessageKind) {
	if a.remoteEnd || a.call == nil {
		return opNone, ""
	}
	switch {
	case reason == domain.EndReasonMissed:
		return opMissed, core.KindMissed
	case reason == domain.EndReasonAnswerFailed && a.answered:
		return opEnd, core.KindEnded
	case reason == domain.EndReasonAnswerFailed:
		return opDecline, core.KindDeclined
	case prev == phaseRingingIn:
		return opDecline, core.KindDeclined
	default:
		return opEnd, core.KindEnded
	}
}

func endError(reason domain.EndReason, a *attempt) error {
	switch reason {
	case domain.EndReasonCancelled:
		return domain.ErrCallCancelled
	case domain.EndReasonMissed:
		return &domain.TimeoutError{CallID: a.callID(), After: RingTimeout}
	default:
		return domain.ErrCallEnded
	}
}

// finish runs once per attempt. Local cleanup never waits on the network:
// the service and the remote side are notified from the attempt's outbox.
func (c *Controller) finish(a *attempt, reason domain.EndReason, err error) {
	if a.finished {
		return
	}
	a.finished = true
	prev := a.phase
	a.phase = phaseEnded

	a.stopTimer()
	if a.mediaCancel != nil {
		a.mediaCancel()
		a.mediaCancel = nil
	}
	if a.peer != nil {
		a.peer.Destroy()
	}
	if a.local != nil {
		a.local.Stop()
	}
	if a.remote != nil {
		a.remote.Stop()
	}
	a.pending = nil
	if a.subscribed {
		c.relay.Unsubscribe(a.sub)
		a.subscribed = false
	}
	if prev == phaseRingingIn {
		c.shell.StopRing(a.call.ID)
	}

	op, ctl := terminationFor(a, prev, reason)
	var final func()
	if op != opNone || ctl != "" {
		callID, target := a.call.ID, a.peerID
		final = func() { c.notifyRemote(callID, target, op, ctl, reason) }
	}
	a.out.close(final)

	surface := a.reply == nil
	ev := c.log.Info()
	if err != nil {
		ev = c.log.Error().Err(err)
	}
	ev.Str("call_id", string(a.callID())).
		Str("from_phase", prev.String()).
		Str("reason", string(reason)).
		Str("gateway", op.String()).
		Msg("call ended")

	if a.call != nil {
		c.store.MarkEnded(a.call)
		if reason == domain.EndReasonMissed || (prev == phaseRingingIn && reason == domain.EndReasonCancelled) {
			c.shell.MissedCall(a.call.Clone())
		}
		c.emit(a, domain.TerminalEventKind(reason), reason)
		c.lastID = a.call.ID
		c.lastWhy = reason
	}
	if err != nil && reason != domain.EndReasonMissed && !errors.Is(err, domain.ErrCallCancelled) {
		var mErr *domain.MediaPermissionError
		if surface || errors.As(err, &mErr) {
			n := domain.DescribeError(err)
			n.CallID = a.callID()
			c.shell.Notify(n)
		}
	}
	c.store.Reset()
	if c.cur == a {
		c.cur = nil
	}

	replyErr := err
	if replyErr == nil {
		replyErr = endError(reason, a)
	}
	a.respond(result{err: replyErr})
}

func (c *Controller) notifyRemote(callID domain.CallID, target domain.UserID, op gatewayOp, ctl core.MessageKind, reason domain.EndReason) {
	ctx, cancel := c.requestCtx()
	var err error
	switch op {
	case opEnd:
		err = c.gateway.End(ctx, callID)
	case opDecline:
		err = c.gateway.Decline(ctx, callID)
	case opMissed:
		err = c.gateway.MarkMissed(ctx, callID)
	}
	cancel()
	if err != nil {
		c.log.Warn().Err(err).Str("call_id", string(callID)).Str("op", op.String()).Msg("best-effort gateway call failed")
	}
	if ctl != "" {
		c.publishTerminal(callID, target, ctl, reason)
	}
}

// publishTerminal sends a terminal control message, retrying once.
func (c *Controller) publishTerminal(callID domain.CallID, target domain.UserID, kind core.MessageKind, reason domain.EndReason) {
	payload := controlPayload(reason)
	var err error
	for try := 0; try < 2; try++ {
		ctx, cancel := c.requestCtx()
		err = c.relay.Publish(ctx, callID, kind, payload, target)
		cancel()
		if err == nil {
			return
		}
		c.log.Warn().Err(err).Str("call_id", string(callID)).Str("kind", string(kind)).Int("try", try+1).Msg("terminal publish failed")
	}
	c.log.Error().Err(&domain.SignalingError{Op: "publish " + string(kind), Err: err}).Str("call_id", string(callID)).Msg("remote side not informed")
}
