package rtc

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// LocalTrack is a core.MediaTrack that can be sent on a peer connection.
// Tracks without it are ignored by the session.
type LocalTrack interface {
	core.MediaTrack
	TrackLocal() webrtc.TrackLocal
}

// RTPSink receives remote packets, for playback or recording by the caller.
type RTPSink func(kind core.TrackKind, pkt *rtp.Packet)

type trackState int32

const (
	trackOK trackState = iota
	trackMuted
	trackStopped
)

func kindOf(t webrtc.RTPCodecType) core.TrackKind {
	if t == webrtc.RTPCodecTypeVideo {
		return core.TrackVideo
	}
	return core.TrackAudio
}

// remoteTrack reads one inbound track. Muting drops packets locally.
type remoteTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
	kind     core.TrackKind
	state    atomic.Int32
	packets  atomic.Uint64
}

func newRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) *remoteTrack {
	return &remoteTrack{track: track, receiver: receiver, kind: kindOf(track.Kind())}
}

func (t *remoteTrack) ID() string           { return t.track.ID() }
func (t *remoteTrack) Kind() core.TrackKind { return t.kind }
func (t *remoteTrack) Enabled() bool        { return trackState(t.state.Load()) == trackOK }
func (t *remoteTrack) Stopped() bool        { return trackState(t.state.Load()) == trackStopped }

func (t *remoteTrack) SetEnabled(on bool) {
	next := trackMuted
	if on {
		next = trackOK
	}
	for {
		cur := t.state.Load()
		if trackState(cur) == trackStopped || t.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

func (t *remoteTrack) Stop() {
	if trackState(t.state.Swap(int32(trackStopped))) == trackStopped {
		return
	}
	if t.receiver != nil {
		_ = t.receiver.Stop()
	}
}

// Packets reports how many RTP packets arrived on the track.
func (t *remoteTrack) Packets() uint64 { return t.packets.Load() }

// loop reads until the track ends and forwards unmuted packets to sink.
func (t *remoteTrack) loop(sink RTPSink) {
	for {
		pkt, _, err := t.track.ReadRTP()
		if err != nil {
			t.state.Store(int32(trackStopped))
			return
		}
		t.packets.Add(1)
		if sink != nil && trackState(t.state.Load()) == trackOK {
			sink(t.kind, pkt)
		}
	}
}

type remoteStream struct {
	id string

	mu     sync.Mutex
	tracks []*remoteTrack
}

func (s *remoteStream) ID() string { return s.id }

func (s *remoteStream) add(t *remoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

func (s *remoteStream) Tracks() []core.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.MediaTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *remoteStream) Stop() {
	s.mu.Lock()
	tracks := append([]*remoteTrack(nil), s.tracks...)
	s.mu.Unlock()
	for _, t := range tracks {
		t.Stop()
	}
}
