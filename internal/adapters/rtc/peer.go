package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxPendingICE bounds candidates held until the remote description arrives.
const maxPendingICE = 256

var (
	errSessionExists = errors.New("peer session already exists")
	errPeerClosed    = errors.New("peer destroyed")
	errNilSink       = errors.New("nil peer sink")
)

type localSender struct {
	track  LocalTrack
	sender *webrtc.RTPSender
}

// Peer is one negotiation session. pion callbacks never take mu; they read
// the closed flag and queue events on the emitter.
type Peer struct {
	callID domain.CallID
	api    *webrtc.API
	config webrtc.Configuration
	rtp    RTPSink
	log    zerolog.Logger

	closed    atomic.Bool
	connected atomic.Bool

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	initiator  bool
	events     *emitter
	local      core.MediaStream
	senders    []localSender
	remote     *remoteStream
	pendingICE []webrtc.ICECandidateInit
}

var _ core.PeerAdapter = (*Peer)(nil)

func newPeer(callID domain.CallID, api *webrtc.API, cfg webrtc.Configuration, sink RTPSink) *Peer {
	return &Peer{
		callID: callID,
		api:    api,
		config: cfg,
		rtp:    sink,
		log:    log.With().Str("module", "rtc").Str("call_id", string(callID)).Logger(),
		remote: &remoteStream{id: "remote-" + string(callID)},
	}
}

func (p *Peer) CreateAsInitiator(local core.MediaStream, sink core.PeerSink) error {
	return p.create(local, sink, true)
}

func (p *Peer) CreateAsResponder(local core.MediaStream, sink core.PeerSink) error {
	return p.create(local, sink, false)
}

func (p *Peer) create(local core.MediaStream, sink core.PeerSink, initiator bool) error {
	if sink == nil {
		return errNilSink
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return errPeerClosed
	}
	if p.pc != nil {
		return errSessionExists
	}

	pc, err := p.api.NewPeerConnection(p.config)
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	ev := newEmitter(sink)
	fail := func(err error) error {
		ev.close()
		p.senders = nil
		if cerr := pc.Close(); cerr != nil {
			p.log.Debug().Err(cerr).Msg("close after failed create")
		}
		return err
	}

	if err := p.attachLocal(pc, local, initiator); err != nil {
		return fail(err)
	}
	p.install(pc, ev)
	p.pc, p.events, p.local, p.initiator = pc, ev, local, initiator

	if initiator {
		offer, err := pc.CreateOffer(nil)
		if err != nil {
			p.pc, p.events = nil, nil
			return fail(fmt.Errorf("create offer: %w", err))
		}
		sig, err := encodeDescription(offer)
		if err != nil {
			p.pc, p.events = nil, nil
			return fail(err)
		}
		ev.hold()
		if err := pc.SetLocalDescription(offer); err != nil {
			p.pc, p.events = nil, nil
			return fail(fmt.Errorf("set local offer: %w", err))
		}
		ev.release(core.PeerEvent{Kind: core.PeerEventSignal, Signal: sig})
	}
	p.log.Info().Bool("initiator", initiator).Int("local_tracks", len(p.senders)).Msg("session created")
	return nil
}

// attachLocal adds sendable tracks. A session with nothing to send still
// negotiates receive-only audio and video when it makes the offer.
func (p *Peer) attachLocal(pc *webrtc.PeerConnection, local core.MediaStream, initiator bool) error {
	if local != nil {
		for _, t := range local.Tracks() {
			lt, ok := t.(LocalTrack)
			if !ok {
				p.log.Debug().Str("track_id", t.ID()).Msg("track cannot be sent, skipped")
				continue
			}
			sender, err := pc.AddTrack(lt.TrackLocal())
			if err != nil {
				return fmt.Errorf("add %s track: %w", lt.Kind(), err)
			}
			go drainRTCP(sender)
			p.senders = append(p.senders, localSender{track: lt, sender: sender})
		}
	}
	if len(p.senders) > 0 || !initiator {
		return nil
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add recvonly %s: %w", kind, err)
		}
	}
	return nil
}

// drainRTCP keeps the interceptors fed for a sender.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (p *Peer) install(pc *webrtc.PeerConnection, ev *emitter) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || p.closed.Load() {
			return
		}
		sig, err := encodeCandidate(c.ToJSON())
		if err != nil {
			p.log.Warn().Err(err).Msg("encode candidate")
			return
		}
		ev.emit(core.PeerEvent{Kind: core.PeerEventSignal, Signal: sig})
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		p.log.Debug().Str("ice_state", s.String()).Msg("ICE state")
		if p.closed.Load() {
			return
		}
		ev.emit(core.PeerEvent{Kind: core.PeerEventICEState, ICEState: domain.ICEState(s.String())})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.log.Info().Str("peer_connection_state", s.String()).Msg("peer state")
		if p.closed.Load() {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if p.connected.CompareAndSwap(false, true) {
				ev.emit(core.PeerEvent{Kind: core.PeerEventConnect})
			}
		case webrtc.PeerConnectionStateFailed:
			ev.emit(core.PeerEvent{Kind: core.PeerEventError, Err: &domain.PeerConnectionError{Reason: "ice failed"}})
		case webrtc.PeerConnectionStateClosed:
			ev.emit(core.PeerEvent{Kind: core.PeerEventClose})
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		if p.closed.Load() {
			_ = receiver.Stop()
			return
		}
		rt := newRemoteTrack(track, receiver)
		p.remote.add(rt)
		go rt.loop(p.rtp)
		ev.emit(core.PeerEvent{Kind: core.PeerEventStream, Stream: p.remote})
	})
}

func (p *Peer) ApplyRemoteSignal(sig core.Signal) error {
	if sig.Kind == core.KindSignal {
		s, err := unbundle(sig)
		if err != nil {
			return err
		}
		sig = s
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pc == nil || p.closed.Load() {
		return invalid("no open session", nil)
	}
	switch sig.Kind {
	case core.KindOffer:
		return p.applyOffer(sig.Payload)
	case core.KindAnswer:
		return p.applyAnswer(sig.Payload)
	case core.KindCandidate:
		return p.applyCandidate(sig.Payload)
	default:
		return invalid("unsupported kind "+string(sig.Kind), nil)
	}
}

func (p *Peer) applyOffer(raw json.RawMessage) error {
	if p.initiator {
		return invalid("offer received by the offering side", nil)
	}
	if p.pc.RemoteDescription() != nil {
		return invalid("renegotiation not supported", nil)
	}
	offer, err := decodeDescription(raw, webrtc.SDPTypeOffer)
	if err != nil {
		return err
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return invalid("offer rejected", err)
	}
	p.flushICE()

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return &domain.PeerConnectionError{Reason: "create answer", Err: err}
	}
	sig, err := encodeDescription(answer)
	if err != nil {
		return err
	}
	p.events.hold()
	if err := p.pc.SetLocalDescription(answer); err != nil {
		p.events.release()
		return &domain.PeerConnectionError{Reason: "set local answer", Err: err}
	}
	p.events.release(core.PeerEvent{Kind: core.PeerEventSignal, Signal: sig})
	return nil
}

func (p *Peer) applyAnswer(raw json.RawMessage) error {
	if !p.initiator {
		return invalid("answer received by the answering side", nil)
	}
	if p.pc.RemoteDescription() != nil {
		return invalid("duplicate answer", nil)
	}
	answer, err := decodeDescription(raw, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return invalid("answer rejected", err)
	}
	p.flushICE()
	return nil
}

func (p *Peer) applyCandidate(raw json.RawMessage) error {
	c, err := decodeCandidate(raw)
	if err != nil {
		return err
	}
	if c.Candidate == "" {
		// end of candidates
		return nil
	}
	if p.pc.RemoteDescription() == nil {
		if len(p.pendingICE) >= maxPendingICE {
			return invalid("candidate backlog full", nil)
		}
		p.pendingICE = append(p.pendingICE, c)
		return nil
	}
	if err := p.pc.AddICECandidate(c); err != nil {
		return invalid("candidate rejected", err)
	}
	return nil
}

func (p *Peer) flushICE() {
	pending := p.pendingICE
	p.pendingICE = nil
	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			p.log.Warn().Err(err).Msg("buffered candidate rejected")
		}
	}
	if len(pending) > 0 {
		p.log.Debug().Int("count", len(pending)).Msg("flushed buffered candidates")
	}
}

// SetTrackEnabled swaps the sender's track out so nothing is transmitted
// while disabled.
func (p *Peer) SetTrackEnabled(kind core.TrackKind, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return
	}
	for _, s := range p.senders {
		if s.track.Kind() != kind {
			continue
		}
		s.track.SetEnabled(enabled)
		var next webrtc.TrackLocal
		if enabled {
			next = s.track.TrackLocal()
		}
		if err := s.sender.ReplaceTrack(next); err != nil {
			p.log.Warn().Err(err).Str("kind", string(kind)).Bool("enabled", enabled).Msg("replace track")
		}
	}
}

func (p *Peer) Destroy() {
	if p.closed.Swap(true) {
		return
	}
	p.mu.Lock()
	pc, ev, local := p.pc, p.events, p.local
	p.pc, p.events, p.local = nil, nil, nil
	p.senders = nil
	p.pendingICE = nil
	p.mu.Unlock()

	if ev != nil {
		ev.close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			p.log.Error().Err(err).Msg("close error")
		}
	}
	if local != nil {
		local.Stop()
	}
	p.remote.Stop()
	p.log.Info().Msg("session destroyed")
}

// emitter delivers events to the sink in order from its own goroutine, so
// the sink never runs under the peer lock or inside a caller's call.
type emitter struct {
	wake chan struct{}
	done chan struct{}

	mu     sync.Mutex
	queue  []core.PeerEvent
	held   bool
	closed bool
}

func newEmitter(sink core.PeerSink) *emitter {
	e := &emitter{wake: make(chan struct{}, 1), done: make(chan struct{})}
	go e.run(sink)
	return e
}

func (e *emitter) emit(ev core.PeerEvent) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, ev)
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *emitter) run(sink core.PeerSink) {
	for {
		select {
		case <-e.done:
			return
		case <-e.wake:
		}
		for {
			e.mu.Lock()
			if e.closed || e.held || len(e.queue) == 0 {
				e.mu.Unlock()
				break
			}
			ev := e.queue[0]
			e.queue = e.queue[1:]
			e.mu.Unlock()
			sink(ev)
		}
	}
}

// hold queues events without delivering them until release.
func (e *emitter) hold() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.held = true
}

// release resumes delivery with first ahead of everything queued while held.
func (e *emitter) release(first ...core.PeerEvent) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.held = false
	if len(first) > 0 {
		e.queue = append(append([]core.PeerEvent(nil), first...), e.queue...)
	}
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.queue = nil
	close(e.done)
}
