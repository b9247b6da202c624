//go:build !linux

package media

import (
	"github.com/dkeye/voicecall/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// receiveOnly is used where no capture drivers exist. Calls still negotiate
// and play remote media.
type receiveOnly struct{}

func newPlatformCapturer() (Capturer, error) {
	log.Warn().Str("module", "media").Msg("no capture drivers on this platform, calls are receive-only")
	return receiveOnly{}, nil
}

func (receiveOnly) Capture(core.Constraints) ([]*Track, error) { return nil, nil }

func (receiveOnly) RegisterCodecs(m *webrtc.MediaEngine) error { return m.RegisterDefaultCodecs() }
