package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/voicecall/internal/adapters/gateway"
	router "github.com/dkeye/voicecall/internal/adapters/http"
	"github.com/dkeye/voicecall/internal/adapters/media"
	"github.com/dkeye/voicecall/internal/adapters/rtc"
	"github.com/dkeye/voicecall/internal/adapters/shell"
	relay "github.com/dkeye/voicecall/internal/adapters/signal"
	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/app/orch"
	"github.com/dkeye/voicecall/internal/app/state"
	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := run(ctx); err != nil {
		log.Error().Err(err).Msg("voicecall exited")
		os.Exit(1)
	}
	log.Info().Msg("voicecall exited gracefully")
}

func run(ctx context.Context) error {
	src := config.OpenFile(config.DefaultFile())
	cfg, err := src.Load()
	if err != nil {
		return err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	clk := clock.New()
	hub := app.NewHub()
	defer hub.Close()

	store := state.NewStore()
	store.Observe(router.PublishState(hub))

	origin := uuid.NewString()
	gw, err := gateway.New(gateway.Config{
		BaseURL: cfg.Gateway.BaseURL,
		Token:   cfg.Gateway.Token,
		Timeout: cfg.Gateway.Timeout,
		Origin:  origin,
	})
	if err != nil {
		return err
	}

	// The stream only invokes its handler from Run, after sigs is assigned.
	var sigs *relay.Relay
	stream := relay.NewStream(relay.StreamConfig{
		URL:          cfg.Relay.URL,
		Token:        cfg.Gateway.Token,
		PingPeriod:   cfg.Relay.PingPeriod,
		ReadLimit:    cfg.Relay.ReadLimit,
		ReconnectMin: cfg.Relay.ReconnectMin,
		ReconnectMax: cfg.Relay.ReconnectMax,
	}, func(env relay.Envelope) { sigs.Deliver(env) }, clk)
	self := domain.UserID(cfg.SelfID)
	sigs = relay.NewRelay(self, origin, gw, stream)
	defer sigs.Close()

	provider, err := media.NewDefaultProvider()
	if err != nil {
		return fmt.Errorf("media: %w", err)
	}
	rtcCfg := rtc.DefaultConfig()
	rtcCfg.ICEServers = iceServers(cfg.ICEServers)
	rtcCfg.RegisterCodecs = provider.RegisterCodecs
	peers, err := rtc.NewFactory(rtcCfg)
	if err != nil {
		return fmt.Errorf("rtc: %w", err)
	}

	notifier := shell.NewNotifier(hub, notificationSettings(cfg.Notifications), clk)
	src.Watch(func(next *config.Config) {
		notifier.Apply(notificationSettings(next.Notifications))
		if lvl, err := zerolog.ParseLevel(next.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	})

	calls := orch.New(orch.Config{
		SelfID:         self,
		RingOutTimeout: cfg.Call.RingOutTimeout,
		RequestTimeout: cfg.Call.RequestTimeout,
	}, orch.Deps{
		Store:   store,
		Gateway: gw,
		Relay:   sigs,
		Media:   provider,
		Peers:   peers,
		Shell:   notifier,
		Events:  hub,
		Clock:   clk,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: router.SetupRouter(ctx, cfg, router.Deps{
			Calls:  calls,
			Focus:  notifier,
			Events: hub,
		}),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return calls.Run(gctx) })
	g.Go(func() error { return stream.Run(gctx) })
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("self", cfg.SelfID).Msg("voicecall started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("local api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func iceServers(in []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		out = append(out, webrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return out
}

func notificationSettings(n config.NotificationConfig) shell.Settings {
	return shell.Settings{
		Enabled:       n.Enabled,
		SoundEnabled:  n.SoundEnabled,
		SoundVolume:   n.SoundVolume,
		DesktopAlerts: n.DesktopAlerts,
		Nudge:         n.Nudge,
	}
}
