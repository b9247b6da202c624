// Package shell renders call activity as desktop feedback: sounds, alerts
// and window nudges, published to the UI event topic.
package shell

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	nudgeLimit  = 1
	nudgeWindow = 15 * time.Second
)

type EventType string

const (
	EventPlaySound    EventType = "play_sound"
	EventStopSound    EventType = "stop_sound"
	EventNotification EventType = "notification"
	EventNudge        EventType = "nudge"
	EventNotice       EventType = "notice"
)

type Sound string

const (
	SoundVideoCall Sound = "video_call"
	SoundNudge     Sound = "nudge"
)

var soundFiles = map[Sound]string{
	SoundVideoCall: "sounds/video_call.mp3",
	SoundNudge:     "sounds/nudge.mp3",
}

// Event is what the UI event stream carries for shell feedback.
type Event struct {
	Type      EventType      `json:"type"`
	CallID    domain.CallID  `json:"call_id,omitempty"`
	Sound     Sound          `json:"sound,omitempty"`
	SoundFile string         `json:"sound_file,omitempty"`
	Volume    float64        `json:"volume,omitempty"`
	Loop      bool           `json:"loop,omitempty"`
	Title     string         `json:"title,omitempty"`
	Body      string         `json:"body,omitempty"`
	Notice    *domain.Notice `json:"notice,omitempty"`
}

type Settings struct {
	Enabled       bool
	SoundEnabled  bool
	SoundVolume   int // 0-100
	DesktopAlerts bool
	Nudge         bool
}

func DefaultSettings() Settings {
	return Settings{Enabled: true, SoundEnabled: true, SoundVolume: 80, DesktopAlerts: true, Nudge: true}
}

// Volume maps the 0-100 setting onto 0.0-1.0, clamped.
func (s Settings) Volume() float64 {
	switch {
	case s.SoundVolume <= 0:
		return 0
	case s.SoundVolume >= 100:
		return 1
	default:
		return float64(s.SoundVolume) / 100
	}
}

type Notifier struct {
	pub     core.EventPublisher
	limiter *rateLimiter
	log     zerolog.Logger

	mu       sync.RWMutex
	settings Settings
	focused  bool
}

var _ core.Shell = (*Notifier)(nil)

func NewNotifier(pub core.EventPublisher, settings Settings, clk clock.Clock) *Notifier {
	return &Notifier{
		pub:      pub,
		limiter:  newRateLimiter(clk, nudgeLimit, nudgeWindow),
		log:      log.With().Str("module", "shell").Logger(),
		settings: settings,
		focused:  true,
	}
}

// Apply swaps the notification settings. Safe to call from config reloads.
func (n *Notifier) Apply(s Settings) {
	n.mu.Lock()
	n.settings = s
	n.mu.Unlock()
	n.log.Info().
		Bool("enabled", s.Enabled).
		Bool("sound", s.SoundEnabled).
		Int("volume", s.SoundVolume).
		Bool("alerts", s.DesktopAlerts).
		Bool("nudge", s.Nudge).
		Msg("notification settings applied")
}

func (n *Notifier) Settings() Settings {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.settings
}

// SetFocused records whether the main window has focus, as reported by the UI.
func (n *Notifier) SetFocused(focused bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.focused = focused
}

func (n *Notifier) Focused() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.focused
}

func (n *Notifier) state() (Settings, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.settings, n.focused
}

func (n *Notifier) Ring(call *domain.Call) {
	if call == nil {
		return
	}
	s, focused := n.state()
	if !s.Enabled {
		n.log.Debug().Str("call_id", string(call.ID)).Msg("notifications disabled, ring suppressed")
		return
	}
	if s.SoundEnabled {
		n.playSound(call.ID, SoundVideoCall, s.Volume(), true)
	}
	if s.DesktopAlerts {
		title := "Incoming voice call"
		if call.CallType == domain.CallTypeVideo {
			title = "Incoming video call"
		}
		n.publish(Event{Type: EventNotification, CallID: call.ID, Title: title, Body: "From " + string(call.InitiatorID)})
	}
	if s.Nudge && !focused {
		if n.limiter.Allow(call.InitiatorID) {
			n.publish(Event{Type: EventNudge, CallID: call.ID})
			if s.SoundEnabled {
				n.playSound(call.ID, SoundNudge, s.Volume(), false)
			}
		} else {
			n.log.Debug().Str("from", string(call.InitiatorID)).Msg("nudge rate limited")
		}
	}
}

// StopRing is sent even with notifications disabled, so a ring started
// before a settings change still stops.
func (n *Notifier) StopRing(callID domain.CallID) {
	n.publish(Event{Type: EventStopSound, CallID: callID, Sound: SoundVideoCall})
}

func (n *Notifier) MissedCall(call *domain.Call) {
	if call == nil {
		return
	}
	s, _ := n.state()
	if !s.Enabled || !s.DesktopAlerts {
		return
	}
	kind := "voice"
	if call.CallType == domain.CallTypeVideo {
		kind = "video"
	}
	n.publish(Event{
		Type:   EventNotification,
		CallID: call.ID,
		Title:  "Missed call",
		Body:   "Missed " + kind + " call from " + string(call.InitiatorID),
	})
}

// Notify forwards surfaced call errors regardless of notification settings.
func (n *Notifier) Notify(notice domain.Notice) {
	n.log.Info().Str("kind", string(notice.Kind)).Str("call_id", string(notice.CallID)).Str("title", notice.Title).Msg("notice")
	nc := notice
	n.publish(Event{Type: EventNotice, CallID: notice.CallID, Notice: &nc})
}

func (n *Notifier) playSound(callID domain.CallID, s Sound, volume float64, loop bool) {
	n.publish(Event{
		Type:      EventPlaySound,
		CallID:    callID,
		Sound:     s,
		SoundFile: soundFiles[s],
		Volume:    volume,
		Loop:      loop,
	})
}

func (n *Notifier) publish(ev Event) {
	n.pub.Publish(app.TopicUI, ev)
}
