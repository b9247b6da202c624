//go:build linux

package media

import (
	"github.com/dkeye/voicecall/internal/core"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// deviceCapturer opens V4L2 cameras and microphones and encodes to VP8/Opus.
type deviceCapturer struct {
	selector *mediadevices.CodecSelector
}

func newPlatformCapturer() (Capturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	devices := mediadevices.EnumerateDevices()
	for _, d := range devices {
		log.Debug().Str("module", "media").Int("kind", int(d.Kind)).Str("label", d.Label).Msg("media device")
	}
	if len(devices) == 0 {
		log.Warn().Str("module", "media").Msg("no capture devices found")
	}

	return &deviceCapturer{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (d *deviceCapturer) RegisterCodecs(m *webrtc.MediaEngine) error {
	d.selector.Populate(m)
	return nil
}

func (d *deviceCapturer) Capture(c core.Constraints) ([]*Track, error) {
	cons := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Video {
		cons.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// MJPEG nodes on some cameras emit frames the VP8 encoder rejects.
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: 640}
			mc.Height = prop.IntRanged{Max: 480}
		}
	}
	if c.Audio {
		cons.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(cons)
	if err != nil {
		return nil, err
	}
	var out []*Track
	for _, t := range stream.GetTracks() {
		id := t.ID()
		t.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "media").Str("track_id", id).Msg("local track ended")
			}
		})
		out = append(out, newTrack(t))
	}
	return out, nil
}
