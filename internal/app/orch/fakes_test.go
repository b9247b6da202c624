package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

type fakeTrack struct {
	id      string
	kind    core.TrackKind
	enabled atomic.Bool
	stopped atomic.Bool
}

func newFakeTrack(id string, kind core.TrackKind) *fakeTrack {
	t := &fakeTrack{id: id, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *fakeTrack) ID() string           { return t.id }
func (t *fakeTrack) Kind() core.TrackKind { return t.kind }
func (t *fakeTrack) Enabled() bool        { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(v bool)    { t.enabled.Store(v) }
func (t *fakeTrack) Stop()                { t.stopped.Store(true) }
func (t *fakeTrack) Stopped() bool        { return t.stopped.Load() }

type fakeStream struct {
	id     string
	tracks []*fakeTrack
}

func newFakeStream(id string, video bool) *fakeStream {
	s := &fakeStream{id: id, tracks: []*fakeTrack{newFakeTrack(id+"-a", core.TrackAudio)}}
	if video {
		s.tracks = append(s.tracks, newFakeTrack(id+"-v", core.TrackVideo))
	}
	return s
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []core.MediaTrack {
	out := make([]core.MediaTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *fakeStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

func (s *fakeStream) allStopped() bool {
	for _, t := range s.tracks {
		if !t.Stopped() {
			return false
		}
	}
	return true
}

func (s *fakeStream) track(kind core.TrackKind) *fakeTrack {
	for _, t := range s.tracks {
		if t.kind == kind {
			return t
		}
	}
	return nil
}

type sentMessage struct {
	callID  domain.CallID
	kind    core.MessageKind
	payload json.RawMessage
	target  domain.UserID
}

type fakeRelay struct {
	mu       sync.Mutex
	next     uint64
	subs     map[core.Subscription]fakeSub
	sent     []sentMessage
	attempts map[core.MessageKind]int
	failures map[core.MessageKind]int
	incoming func(*domain.Call, domain.UserID)
	subErr   error
}

type fakeSub struct {
	callID domain.CallID
	h      core.RelayHandlers
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		subs:     make(map[core.Subscription]fakeSub),
		attempts: make(map[core.MessageKind]int),
		failures: make(map[core.MessageKind]int),
	}
}

func (r *fakeRelay) Subscribe(callID domain.CallID, h core.RelayHandlers) (core.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subErr != nil {
		return 0, r.subErr
	}
	r.next++
	sub := core.Subscription(r.next)
	r.subs[sub] = fakeSub{callID: callID, h: h}
	return sub, nil
}

func (r *fakeRelay) Publish(_ context.Context, callID domain.CallID, kind core.MessageKind, payload json.RawMessage, target domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[kind]++
	if r.failures[kind] > 0 {
		r.failures[kind]--
		return errors.New("relay unavailable")
	}
	r.sent = append(r.sent, sentMessage{callID: callID, kind: kind, payload: payload, target: target})
	return nil
}

func (r *fakeRelay) Unsubscribe(sub core.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, sub)
}

func (r *fakeRelay) UnsubscribeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[core.Subscription]fakeSub)
}

func (r *fakeRelay) OnIncoming(fn func(*domain.Call, domain.UserID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incoming = fn
}

func (r *fakeRelay) failNext(kind core.MessageKind, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[kind] = n
}

func (r *fakeRelay) handlers(callID domain.CallID) []core.RelayHandlers {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.RelayHandlers
	for _, s := range r.subs {
		if s.callID == callID {
			out = append(out, s.h)
		}
	}
	return out
}

func (r *fakeRelay) subscribers(callID domain.CallID) int {
	return len(r.handlers(callID))
}

func (r *fakeRelay) ring(call *domain.Call, from domain.UserID) {
	r.mu.Lock()
	fn := r.incoming
	r.mu.Unlock()
	fn(call, from)
}

func (r *fakeRelay) control(callID domain.CallID, kind core.MessageKind, from domain.UserID, reason domain.EndReason) {
	for _, h := range r.handlers(callID) {
		h.OnControl(core.Control{Kind: kind, From: from, Reason: reason})
	}
}

func (r *fakeRelay) signal(callID domain.CallID, from domain.UserID, sig core.Signal) {
	for _, h := range r.handlers(callID) {
		h.OnSignal(from, sig)
	}
}

func (r *fakeRelay) sentKinds(kind core.MessageKind) []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentMessage
	for _, m := range r.sent {
		if m.kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (r *fakeRelay) attemptsFor(kind core.MessageKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[kind]
}

type fakePeer struct {
	mu        sync.Mutex
	callID    domain.CallID
	role      string
	local     core.MediaStream
	sink      core.PeerSink
	applied   []core.Signal
	enabled   map[core.TrackKind]bool
	destroyed int
	failWith  error
	applyErr  error
}

func (p *fakePeer) create(role string, local core.MediaStream, sink core.PeerSink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	if p.sink != nil {
		return errors.New("session exists")
	}
	p.role, p.local, p.sink = role, local, sink
	return nil
}

func (p *fakePeer) CreateAsInitiator(local core.MediaStream, sink core.PeerSink) error {
	return p.create("initiator", local, sink)
}

func (p *fakePeer) CreateAsResponder(local core.MediaStream, sink core.PeerSink) error {
	return p.create("responder", local, sink)
}

func (p *fakePeer) ApplyRemoteSignal(sig core.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sink == nil || p.destroyed > 0 {
		return &domain.InvalidSignalError{Reason: "no session"}
	}
	if p.applyErr != nil {
		return p.applyErr
	}
	p.applied = append(p.applied, sig)
	return nil
}

func (p *fakePeer) SetTrackEnabled(kind core.TrackKind, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled == nil {
		p.enabled = make(map[core.TrackKind]bool)
	}
	p.enabled[kind] = enabled
}

func (p *fakePeer) Destroy() {
	p.mu.Lock()
	p.destroyed++
	local := p.local
	p.mu.Unlock()
	if local != nil {
		local.Stop()
	}
}

func (p *fakePeer) emit(ev core.PeerEvent) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	sink(ev)
}

func (p *fakePeer) snapshot() (role string, applied []core.Signal, destroyed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.role, append([]core.Signal(nil), p.applied...), p.destroyed
}

func (p *fakePeer) trackEnabled(kind core.TrackKind) (bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.enabled[kind]
	return v, ok
}

type fakePeers struct {
	mu       sync.Mutex
	made     []*fakePeer
	failWith error
	applyErr error
}

func (f *fakePeers) NewPeer(callID domain.CallID) core.PeerAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{callID: callID, failWith: f.failWith, applyErr: f.applyErr}
	f.made = append(f.made, p)
	return p
}

func (f *fakePeers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.made)
}

func (f *fakePeers) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.made) == 0 {
		return nil
	}
	return f.made[len(f.made)-1]
}

func (p *fakePeer) failApply(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyErr = err
}
