// Package rtc implements peer sessions on pion/webrtc.
package rtc

import (
	"fmt"
	"time"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	ICEServers []webrtc.ICEServer
	// RegisterCodecs fills the media engine. Defaults to pion's codec set.
	RegisterCodecs func(m *webrtc.MediaEngine) error

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
	// IncludeLoopback gathers 127.0.0.1 candidates. Used for in-process calls.
	IncludeLoopback bool

	// RemoteSink receives inbound RTP. Nil discards it.
	RemoteSink RTPSink
}

func DefaultConfig() Config {
	return Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		DisconnectedTimeout: 5 * time.Second,
		FailedTimeout:       25 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

// Factory shares one configured webrtc.API across all calls.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	sink   RTPSink
}

var _ core.PeerFactory = (*Factory)(nil)

func NewFactory(cfg Config) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	register := cfg.RegisterCodecs
	if register == nil {
		register = func(m *webrtc.MediaEngine) error { return m.RegisterDefaultCodecs() }
	}
	if err := register(m); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: newLoggerFactory()}
	if cfg.DisconnectedTimeout > 0 && cfg.FailedTimeout > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)
	log.Info().Str("module", "rtc").Int("ice_servers", len(cfg.ICEServers)).Msg("peer factory ready")
	return &Factory{
		api:    api,
		config: webrtc.Configuration{ICEServers: cfg.ICEServers},
		sink:   cfg.RemoteSink,
	}, nil
}

func (f *Factory) NewPeer(callID domain.CallID) core.PeerAdapter {
	return newPeer(callID, f.api, f.config, f.sink)
}
