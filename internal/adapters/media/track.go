// Package media acquires local capture tracks for calls.
package media

import (
	"sync/atomic"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// source is a sendable capture track. mediadevices.Track satisfies it.
type source interface {
	webrtc.TrackLocal
	Close() error
}

// Track wraps one captured device track.
type Track struct {
	src     source
	kind    core.TrackKind
	enabled atomic.Bool
	stopped atomic.Bool
}

func newTrack(src source) *Track {
	kind := core.TrackAudio
	if src.Kind() == webrtc.RTPCodecTypeVideo {
		kind = core.TrackVideo
	}
	t := &Track{src: src, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string                    { return t.src.ID() }
func (t *Track) Kind() core.TrackKind          { return t.kind }
func (t *Track) Enabled() bool                 { return t.enabled.Load() }
func (t *Track) SetEnabled(on bool)            { t.enabled.Store(on) }
func (t *Track) Stopped() bool                 { return t.stopped.Load() }
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.src }

// Stop releases the device. Later calls do nothing.
func (t *Track) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	if err := t.src.Close(); err != nil {
		log.Warn().Err(err).Str("module", "media").Str("track_id", t.src.ID()).Msg("close track")
	}
}

type Stream struct {
	id     string
	tracks []*Track
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []core.MediaTrack {
	out := make([]core.MediaTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

func stopAll(tracks []*Track) {
	for _, t := range tracks {
		t.Stop()
	}
}
