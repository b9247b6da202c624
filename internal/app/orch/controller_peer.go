package orch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/voicecall/internal/app/state"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

var errOutboxFull = errors.New("outgoing signal backlog full")

func constraintsFor(t domain.CallType) core.Constraints {
	return core.Constraints{Audio: true, Video: t == domain.CallTypeVideo}
}

func (c *Controller) startMedia(a *attempt) {
	ctx, cancel := context.WithCancel(c.runCtx)
	a.mediaCancel = cancel
	id := a.id
	cons := constraintsFor(a.callType)
	if a.call != nil {
		cons = constraintsFor(a.call.CallType)
	}
	c.goAsync(func() {
		ms, err := c.media.GetLocalStream(ctx, cons)
		if !c.post(evMediaDone{attempt: id, stream: ms, err: err}) && ms != nil {
			ms.Stop()
		}
	})
}

func (c *Controller) onMediaDone(ev evMediaDone) {
	a := c.cur
	if a == nil || a.id != ev.attempt || a.finished || a.local != nil {
		if ev.stream != nil {
			ev.stream.Stop()
			c.log.Debug().Uint64("attempt", ev.attempt).Msg("released late local stream")
		}
		return
	}
	if a.mediaCancel != nil {
		a.mediaCancel()
		a.mediaCancel = nil
	}
	if ev.err != nil {
		var mErr *domain.MediaPermissionError
		if !errors.As(ev.err, &mErr) {
			mErr = &domain.MediaPermissionError{Reason: domain.MediaDeviceNotFound, Err: ev.err}
		}
		c.log.Warn().Err(ev.err).Str("call_id", string(a.callID())).Str("reason", mErr.Reason.String()).Msg("local media failed")
		if !a.outgoing && a.answering {
			a.mediaErr = mErr
			return
		}
		c.finish(a, domain.EndReasonMediaFailed, mErr)
		return
	}
	if ev.stream == nil {
		c.finish(a, domain.EndReasonMediaFailed, &domain.MediaPermissionError{Reason: domain.MediaDeviceNotFound})
		return
	}

	a.local = ev.stream
	if a.outgoing {
		c.attachLocal(a)
		if a.remoteAnswered {
			c.createSession(a)
		}
		return
	}
	c.proceedAnswer(a)
}

// attachLocal publishes the stream to the Store and applies pending toggles.
func (c *Controller) attachLocal(a *attempt) {
	if a.local == nil {
		return
	}
	if err := c.store.SetLocalStream(a.local); err != nil {
		c.log.Debug().Err(err).Msg("local stream not attached")
	}
	snap := c.store.Snapshot()
	c.applyTrackState(a, core.TrackAudio, !snap.IsMuted)
	c.applyTrackState(a, core.TrackVideo, !snap.IsCameraOff)
}

// createSession builds the adapter for a's role and flushes buffered signals.
// It reports false when the attempt finished instead.
func (c *Controller) createSession(a *attempt) bool {
	if a.peer != nil {
		return true
	}
	peer := c.peers.NewPeer(a.call.ID)
	a.peer = peer
	var err error
	if a.outgoing {
		err = peer.CreateAsInitiator(a.local, c.peerSink(a.id))
	} else {
		err = peer.CreateAsResponder(a.local, c.peerSink(a.id))
	}
	if err != nil {
		c.finish(a, domain.EndReasonPeerFailed, &domain.PeerConnectionError{Reason: "create session", Err: err})
		return false
	}
	snap := c.store.Snapshot()
	peer.SetTrackEnabled(core.TrackAudio, !snap.IsMuted)
	peer.SetTrackEnabled(core.TrackVideo, !snap.IsCameraOff)
	c.log.Info().Str("call_id", string(a.call.ID)).Bool("initiator", a.outgoing).Int("buffered", len(a.pending)).Msg("peer session created")

	pending := a.pending
	a.pending = nil
	for _, p := range pending {
		if !c.applySignal(a, p.sig) {
			return false
		}
	}
	return true
}

func (c *Controller) peerSink(id uint64) core.PeerSink {
	return func(ev core.PeerEvent) {
		if !c.post(evPeer{attempt: id, ev: ev}) && ev.Stream != nil {
			ev.Stream.Stop()
		}
	}
}

// applySignal hands sig to the session. A negotiation failure ends the call;
// it reports false when that happened.
func (c *Controller) applySignal(a *attempt, sig core.Signal) bool {
	err := a.peer.ApplyRemoteSignal(sig)
	if err == nil {
		return true
	}
	var inv *domain.InvalidSignalError
	if errors.As(err, &inv) {
		c.log.Warn().Err(err).Str("call_id", string(a.call.ID)).Str("kind", string(sig.Kind)).Msg("invalid remote signal dropped")
		return true
	}
	var pcErr *domain.PeerConnectionError
	if !errors.As(err, &pcErr) {
		pcErr = &domain.PeerConnectionError{Reason: "apply " + string(sig.Kind), Err: err}
	}
	c.finish(a, domain.EndReasonPeerFailed, pcErr)
	return false
}

func (c *Controller) onPeer(ev evPeer) {
	a := c.cur
	if a == nil || a.id != ev.attempt || a.finished {
		if ev.ev.Stream != nil {
			ev.ev.Stream.Stop()
		}
		c.log.Debug().Uint64("attempt", ev.attempt).Str("kind", ev.ev.Kind.String()).Msg("stale peer event dropped")
		return
	}
	switch ev.ev.Kind {
	case core.PeerEventSignal:
		c.publish(a, ev.ev.Signal.Kind, ev.ev.Signal.Payload)
	case core.PeerEventStream:
		if ev.ev.Stream == nil {
			return
		}
		if a.remote != nil && a.remote != ev.ev.Stream {
			a.remote.Stop()
		}
		a.remote = ev.ev.Stream
		if err := c.store.SetRemoteStream(a.remote); err != nil {
			c.log.Debug().Err(err).Msg("remote stream not attached")
		}
		c.markActive(a)
	case core.PeerEventConnect:
		c.markActive(a)
	case core.PeerEventICEState:
		c.store.SetICEState(ev.ev.ICEState)
		c.log.Debug().Str("call_id", string(a.call.ID)).Str("ice", string(ev.ev.ICEState)).Msg("ice state")
	case core.PeerEventError:
		c.finish(a, domain.EndReasonPeerFailed, &domain.PeerConnectionError{Reason: "transport", Err: ev.ev.Err})
	case core.PeerEventClose:
		c.finish(a, domain.EndReasonPeerClosed, nil)
	}
}

func (c *Controller) markActive(a *attempt) {
	if a.phase != phaseConnecting {
		return
	}
	if err := c.store.SetCallState(state.Active); err != nil {
		c.log.Warn().Err(err).Msg("activate call")
		return
	}
	a.phase = phaseActive
	c.log.Info().Str("call_id", string(a.call.ID)).Msg("call active")
	c.emit(a, domain.CallEventConnected, "")
}

func (c *Controller) subscribe(a *attempt) error {
	callID := a.call.ID
	sub, err := c.relay.Subscribe(callID, core.RelayHandlers{
		OnSignal: func(from domain.UserID, sig core.Signal) {
			c.post(evSignal{callID: callID, from: from, sig: sig})
		},
		OnControl: func(ctl core.Control) {
			c.post(evControl{callID: callID, ctl: ctl})
		},
	})
	if err != nil {
		return err
	}
	a.sub = sub
	a.subscribed = true
	return nil
}

// publish queues a non-terminal message to the other participant.
func (c *Controller) publish(a *attempt, kind core.MessageKind, payload json.RawMessage) {
	id, callID, target := a.id, a.call.ID, a.peerID
	ok := a.out.push(func() {
		ctx, cancel := c.requestCtx()
		defer cancel()
		if err := c.relay.Publish(ctx, callID, kind, payload, target); err != nil {
			c.post(evPublishFailed{attempt: id, kind: kind, err: err})
		}
	})
	if !ok && !a.finished {
		c.goAsync(func() {
			c.post(evPublishFailed{attempt: id, kind: kind, err: errOutboxFull})
		})
	}
}

func (c *Controller) onPublishFailed(ev evPublishFailed) {
	a := c.cur
	if a == nil || a.id != ev.attempt || a.finished {
		return
	}
	c.log.Error().Err(ev.err).Str("call_id", string(a.callID())).Str("kind", string(ev.kind)).Msg("publish failed")
	c.finish(a, domain.EndReasonSignalingFailed, &domain.SignalingError{Op: "publish " + string(ev.kind), Err: ev.err})
}
