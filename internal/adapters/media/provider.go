package media

import (
	"context"
	"errors"
	"io/fs"
	"strings"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Capturer opens device tracks. Capture fails as a unit when any requested
// kind cannot be opened.
type Capturer interface {
	Capture(c core.Constraints) ([]*Track, error)
	// RegisterCodecs fills a media engine with the codecs Capture encodes to.
	RegisterCodecs(m *webrtc.MediaEngine) error
}

// Provider implements core.MediaProvider on top of a Capturer.
type Provider struct {
	capturer Capturer
	log      zerolog.Logger
}

var _ core.MediaProvider = (*Provider)(nil)

func NewProvider(c Capturer) *Provider {
	return &Provider{capturer: c, log: log.With().Str("module", "media").Logger()}
}

// NewDefaultProvider captures from the platform's devices. Platforms without
// capture drivers yield receive-only streams.
func NewDefaultProvider() (*Provider, error) {
	c, err := newPlatformCapturer()
	if err != nil {
		return nil, err
	}
	return NewProvider(c), nil
}

func (p *Provider) RegisterCodecs(m *webrtc.MediaEngine) error {
	return p.capturer.RegisterCodecs(m)
}

// GetLocalStream tries the full constraints first and falls back to
// audio-only when video was requested alongside audio.
func (p *Provider) GetLocalStream(ctx context.Context, c core.Constraints) (core.MediaStream, error) {
	attempts := []core.Constraints{c}
	if c.Video && c.Audio {
		attempts = append(attempts, core.Constraints{Audio: true})
	}

	var lastErr error
	for _, a := range attempts {
		tracks, err := p.capture(ctx, a)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.log.Warn().Err(err).Bool("audio", a.Audio).Bool("video", a.Video).Msg("capture failed")
			lastErr = err
			continue
		}
		s := &Stream{id: uuid.NewString(), tracks: tracks}
		p.log.Info().Str("stream_id", s.id).Int("tracks", len(tracks)).Bool("video", a.Video).Msg("local media captured")
		return s, nil
	}
	return nil, classifyMediaError(lastErr)
}

type captureResult struct {
	tracks []*Track
	err    error
}

// capture runs the blocking device open and releases its tracks if the
// caller has given up by the time it returns.
func (p *Provider) capture(ctx context.Context, c core.Constraints) ([]*Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := make(chan captureResult, 1)
	go func() {
		tracks, err := p.capturer.Capture(c)
		done <- captureResult{tracks: tracks, err: err}
	}()
	select {
	case r := <-done:
		return r.tracks, r.err
	case <-ctx.Done():
		go func() {
			r := <-done
			stopAll(r.tracks)
		}()
		return nil, ctx.Err()
	}
}

// classifyMediaError maps device errors onto the user-facing failure reasons.
func classifyMediaError(err error) *domain.MediaPermissionError {
	var mErr *domain.MediaPermissionError
	if errors.As(err, &mErr) {
		return mErr
	}
	reason := domain.MediaDeviceNotFound
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case errors.Is(err, fs.ErrPermission),
			strings.Contains(msg, "permission"),
			strings.Contains(msg, "denied"),
			strings.Contains(msg, "not allowed"):
			reason = domain.MediaPermissionDenied
		case strings.Contains(msg, "busy"),
			strings.Contains(msg, "in use"):
			reason = domain.MediaDeviceBusy
		}
	}
	return &domain.MediaPermissionError{Reason: reason, Err: err}
}
