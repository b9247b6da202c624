package orch

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/voicecall/internal/app/state"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

func (c *Controller) onInitiate(cmd cmdInitiate) {
	switch {
	case !cmd.callType.Valid():
		cmd.reply <- result{err: domain.ErrInvalidCallType}
		return
	case cmd.conv == "":
		cmd.reply <- result{err: domain.ErrEmptyConversation}
		return
	case c.busy():
		c.log.Info().Str("conversation_id", string(cmd.conv)).Msg("initiate refused: busy")
		cmd.reply <- result{err: &domain.UserBusyError{}}
		return
	}

	a := c.newAttempt(phaseInitiating, true)
	a.callType = cmd.callType
	a.reply = cmd.reply
	c.cur = a
	c.log.Info().Str("conversation_id", string(cmd.conv)).Str("call_type", string(cmd.callType)).Msg("initiating call")

	id, conv, typ := a.id, cmd.conv, cmd.callType
	c.goAsync(func() {
		ctx, cancel := c.actionCtx()
		defer cancel()
		call, err := c.gateway.Initiate(ctx, conv, typ)
		if c.post(evInitiateDone{attempt: id, call: call, err: err}) || err != nil || call == nil {
			return
		}
		c.endOrphan(call.ID)
	})
}

func (c *Controller) onInitiateDone(ev evInitiateDone) {
	a := c.cur
	if a == nil || a.id != ev.attempt || a.phase != phaseInitiating {
		if ev.err == nil && ev.call != nil {
			c.log.Debug().Str("call_id", string(ev.call.ID)).Msg("stale initiate result, ending orphan")
			c.goAsync(func() { c.endOrphan(ev.call.ID) })
		}
		return
	}
	if ev.err == nil && ev.call == nil {
		ev.err = domain.ErrNotFound
	}
	if ev.err != nil {
		err := ev.err
		if errors.Is(err, domain.ErrBusy) {
			err = &domain.UserBusyError{Remote: true}
		}
		c.log.Warn().Err(ev.err).Msg("initiate failed")
		c.finish(a, domain.EndReasonCancelled, err)
		return
	}

	a.call = ev.call.Clone()
	a.peerID = a.call.Peer(c.cfg.SelfID)
	if a.cancelRequested {
		c.finish(a, domain.EndReasonCancelled, domain.ErrCallCancelled)
		return
	}

	a.timer = c.clock.AfterFunc(c.cfg.RingOutTimeout, func() {
		c.post(evRingOutTimeout{attempt: a.id})
	})
	if err := c.store.Begin(a.call, state.Connecting); err != nil {
		c.finish(a, domain.EndReasonCancelled, err)
		return
	}
	if err := c.subscribe(a); err != nil {
		c.finish(a, domain.EndReasonSignalingFailed, &domain.SignalingError{Op: "subscribe", Err: err})
		return
	}
	a.phase = phaseRingingOut
	c.log.Info().Str("call_id", string(a.call.ID)).Str("callee", string(a.peerID)).Msg("ringing out")
	a.respond(result{call: a.call.Clone()})

	ring, _ := json.Marshal(a.call)
	c.publish(a, core.KindRing, ring)
	c.startMedia(a)
	c.emit(a, domain.CallEventRinging, "")
}

// endOrphan closes a call the service created after the attempt was gone.
func (c *Controller) endOrphan(callID domain.CallID) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	if err := c.gateway.End(ctx, callID); err != nil {
		c.log.Warn().Err(err).Str("call_id", string(callID)).Msg("end orphan call failed")
	}
}

func (c *Controller) onAnswer(cmd cmdAnswer) {
	a := c.cur
	if a == nil || a.phase != phaseRingingIn || a.callID() != cmd.callID {
		switch {
		case c.lastID == cmd.callID && c.lastWhy == domain.EndReasonMissed:
			cmd.reply <- result{err: &domain.TimeoutError{CallID: cmd.callID, After: RingTimeout}}
		case c.store.Snapshot().ActiveCall != nil, a != nil && a.phase != phaseRingingIn:
			cmd.reply <- result{err: &domain.UserBusyError{}}
		default:
			cmd.reply <- result{err: domain.ErrNoIncomingCall}
		}
		return
	}
	if a.answering || a.reply != nil {
		cmd.reply <- result{err: domain.ErrAnswerInProgress}
		return
	}

	a.answering = true
	a.reply = cmd.reply
	c.log.Info().Str("call_id", string(a.call.ID)).Msg("answering")

	id, callID := a.id, a.call.ID
	c.goAsync(func() {
		ctx, cancel := c.actionCtx()
		defer cancel()
		call, err := c.gateway.Answer(ctx, callID)
		c.post(evAnswerDone{attempt: id, call: call, err: err})
	})
	c.startMedia(a)
}

func (c *Controller) onAnswerDone(ev evAnswerDone) {
	a := c.cur
	if a == nil || a.id != ev.attempt || !a.answering {
		c.log.Debug().Uint64("attempt", ev.attempt).Msg("stale answer result dropped")
		return
	}
	a.answering = false
	if ev.err != nil {
		c.log.Warn().Err(ev.err).Str("call_id", string(a.call.ID)).Msg("answer failed")
		// The service already settled the call: answered on another device or gone.
		if errors.Is(ev.err, domain.ErrAlreadyAnswered) || errors.Is(ev.err, domain.ErrNotFound) {
			a.remoteEnd = true
		}
		c.finish(a, domain.EndReasonAnswerFailed, ev.err)
		return
	}
	a.answered = true
	if ev.call != nil {
		a.call = ev.call.Clone()
	}
	if a.mediaErr != nil {
		c.finish(a, domain.EndReasonMediaFailed, a.mediaErr)
		return
	}
	c.proceedAnswer(a)
}

// proceedAnswer moves ringing-in to connecting once the service accepted the
// answer and local media is in hand.
func (c *Controller) proceedAnswer(a *attempt) {
	if !a.answered || a.local == nil || a.phase != phaseRingingIn {
		return
	}
	a.stopTimer()
	c.shell.StopRing(a.call.ID)
	if err := c.store.Begin(a.call, state.Connecting); err != nil {
		c.finish(a, domain.EndReasonAnswerFailed, err)
		return
	}
	a.phase = phaseConnecting
	c.attachLocal(a)

	c.publish(a, core.KindAnswered, nil)
	c.emit(a, domain.CallEventAnswered, "")
	if !c.createSession(a) {
		return
	}
	c.log.Info().Str("call_id", string(a.call.ID)).Msg("answered, connecting")
	a.respond(result{call: a.call.Clone()})
}

func (c *Controller) onDecline(cmd cmdDecline) {
	a := c.cur
	if a == nil || a.phase != phaseRingingIn || a.callID() != cmd.callID {
		cmd.reply <- result{err: domain.ErrNoIncomingCall}
		return
	}
	c.finish(a, domain.EndReasonDeclined, nil)
	cmd.reply <- result{}
}

func (c *Controller) onHangUp(cmd cmdHangUp) {
	a := c.cur
	if a == nil {
		cmd.reply <- result{}
		return
	}
	switch a.phase {
	case phaseInitiating:
		a.cancelRequested = true
	case phaseRingingIn:
		c.finish(a, domain.EndReasonDeclined, nil)
	case phaseRingingOut:
		c.finish(a, domain.EndReasonCancelled, nil)
	default:
		c.finish(a, domain.EndReasonHangUp, nil)
	}
	cmd.reply <- result{}
}

func (c *Controller) onToggle(cmd cmdToggle) {
	a := c.cur
	if a == nil || c.store.Snapshot().ActiveCall == nil {
		cmd.reply <- result{err: domain.ErrNoActiveCall}
		return
	}
	snap := c.store.Snapshot()
	var on bool
	switch cmd.kind {
	case core.TrackAudio:
		on = !snap.IsMuted
		c.store.SetMuted(on)
	case core.TrackVideo:
		on = !snap.IsCameraOff
		c.store.SetCameraOff(on)
	}
	c.applyTrackState(a, cmd.kind, !on)
	c.log.Info().Str("call_id", string(a.callID())).Str("kind", string(cmd.kind)).Bool("off", on).Msg("track toggled")
	cmd.reply <- result{on: on}
}

// applyTrackState enables or disables local tracks of kind without renegotiation.
func (c *Controller) applyTrackState(a *attempt, kind core.TrackKind, enabled bool) {
	if a.peer != nil {
		a.peer.SetTrackEnabled(kind, enabled)
		return
	}
	if a.local == nil {
		return
	}
	for _, t := range a.local.Tracks() {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
}
