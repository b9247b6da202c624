package orch

import (
	"encoding/json"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

func (c *Controller) onRing(ev evRing) {
	call := ev.call
	if call == nil || call.ID == "" || call.CalleeID != c.cfg.SelfID || ev.from == c.cfg.SelfID {
		c.log.Debug().Msg("ring not addressed to us dropped")
		return
	}
	if !call.CallType.Valid() {
		c.log.Warn().Str("call_id", string(call.ID)).Str("call_type", string(call.CallType)).Msg("ring with invalid call type dropped")
		return
	}
	if (c.cur != nil && c.cur.callID() == call.ID) || c.lastID == call.ID {
		c.log.Debug().Str("call_id", string(call.ID)).Msg("duplicate ring ignored")
		return
	}
	if c.busy() {
		c.declineBusy(call.Clone(), ev.from)
		return
	}

	a := c.newAttempt(phaseRingingIn, false)
	a.call = call.Clone()
	a.callType = call.CallType
	a.peerID = ev.from
	c.cur = a
	if err := c.subscribe(a); err != nil {
		c.log.Warn().Err(err).Str("call_id", string(call.ID)).Msg("subscribe for incoming call failed")
		c.finish(a, domain.EndReasonSignalingFailed, &domain.SignalingError{Op: "subscribe", Err: err})
		return
	}
	a.timer = c.clock.AfterFunc(RingTimeout, func() {
		c.post(evRingTimeout{attempt: a.id})
	})
	c.store.SetIncoming(a.call)
	c.shell.Ring(a.call.Clone())
	c.log.Info().Str("call_id", string(call.ID)).Str("from", string(ev.from)).Msg("ringing in")
	c.emit(a, domain.CallEventIncoming, "")
}

// declineBusy answers a ring that arrives while another call is in progress.
func (c *Controller) declineBusy(call *domain.Call, from domain.UserID) {
	c.log.Info().Str("call_id", string(call.ID)).Str("from", string(from)).Msg("incoming call declined: busy")
	c.shell.MissedCall(call)
	c.emitCall(call, domain.CallEventDeclined, domain.EndReasonBusy)
	c.goAsync(func() {
		ctx, cancel := c.requestCtx()
		defer cancel()
		if err := c.gateway.Decline(ctx, call.ID); err != nil {
			c.log.Warn().Err(err).Str("call_id", string(call.ID)).Msg("busy decline not recorded")
		}
		c.publishTerminal(call.ID, from, core.KindDeclined, domain.EndReasonBusy)
	})
}

func (c *Controller) onControl(ev evControl) {
	a := c.cur
	if a == nil || a.callID() != ev.callID || a.finished {
		c.log.Debug().Str("call_id", string(ev.callID)).Str("kind", string(ev.ctl.Kind)).Msg("control for inactive call dropped")
		return
	}
	// Our own user acting on another device only matters while ringing here.
	if ev.ctl.From == c.cfg.SelfID && a.phase != phaseRingingIn {
		return
	}
	if ev.ctl.Kind.IsControl() && (ev.ctl.Kind != core.KindAnswered || a.phase == phaseRingingIn) {
		a.remoteEnd = true
	}

	switch ev.ctl.Kind {
	case core.KindAnswered:
		switch a.phase {
		case phaseRingingOut:
			a.stopTimer()
			a.phase = phaseConnecting
			a.remoteAnswered = true
			c.log.Info().Str("call_id", string(a.call.ID)).Msg("remote answered")
			c.emit(a, domain.CallEventAnswered, "")
			if a.local != nil {
				c.createSession(a)
			}
		case phaseRingingIn:
			c.finish(a, domain.EndReasonAnsweredElsewhere, nil)
		default:
			c.log.Debug().Str("call_id", string(a.call.ID)).Str("phase", a.phase.String()).Msg("duplicate answered ignored")
		}
	case core.KindDeclined:
		if ev.ctl.Reason == domain.EndReasonBusy {
			c.finish(a, domain.EndReasonBusy, &domain.UserBusyError{Remote: true})
			return
		}
		c.finish(a, domain.EndReasonRemoteDeclined, nil)
	case core.KindEnded:
		if a.phase == phaseRingingIn {
			c.finish(a, domain.EndReasonCancelled, nil)
			return
		}
		c.finish(a, domain.EndReasonRemoteEnded, nil)
	case core.KindMissed:
		if a.outgoing {
			c.finish(a, domain.EndReasonNoAnswer, nil)
			return
		}
		c.finish(a, domain.EndReasonMissed, nil)
	default:
		c.log.Warn().Str("kind", string(ev.ctl.Kind)).Msg("unknown control kind")
	}
}

func (c *Controller) onSignal(ev evSignal) {
	a := c.cur
	if a == nil || a.callID() != ev.callID || a.finished {
		c.log.Debug().Str("call_id", string(ev.callID)).Str("kind", string(ev.sig.Kind)).Msg("signal for inactive call dropped")
		return
	}
	if ev.from != a.peerID {
		c.log.Debug().Str("call_id", string(ev.callID)).Str("from", string(ev.from)).Msg("signal from non-participant dropped")
		return
	}
	if a.peer == nil {
		if len(a.pending) >= maxPendingSignals {
			c.log.Warn().Str("call_id", string(ev.callID)).Msg("signal buffer full, dropping")
			return
		}
		a.pending = append(a.pending, pendingSignal{from: ev.from, sig: ev.sig})
		return
	}
	c.applySignal(a, ev.sig)
}

func (c *Controller) onRingTimeout(ev evRingTimeout) {
	a := c.cur
	if a == nil || a.id != ev.attempt || a.phase != phaseRingingIn {
		return
	}
	c.log.Info().Str("call_id", string(a.call.ID)).Msg("incoming call not answered in time")
	c.finish(a, domain.EndReasonMissed, &domain.TimeoutError{CallID: a.call.ID, After: RingTimeout})
}

func (c *Controller) onRingOutTimeout(ev evRingOutTimeout) {
	a := c.cur
	if a == nil || a.id != ev.attempt || a.phase != phaseRingingOut {
		return
	}
	c.log.Info().Str("call_id", string(a.call.ID)).Msg("outgoing call not answered in time")
	c.finish(a, domain.EndReasonNoAnswer, nil)
}

func controlPayload(reason domain.EndReason) json.RawMessage {
	b, _ := json.Marshal(core.ControlPayload{Reason: reason})
	return b
}
