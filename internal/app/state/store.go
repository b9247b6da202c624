// Package state holds the single authoritative record of the current call.
package state

import (
	"fmt"
	"sync"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/rs/zerolog/log"
)

// CallState is the local phase that drives UI. Distinct from domain.CallStatus.
type CallState string

const (
	Idle       CallState = "idle"
	Connecting CallState = "connecting"
	Active     CallState = "active"
	Ended      CallState = "ended"
)

// Snapshot is a consistent copy of every store field.
type Snapshot struct {
	ActiveCall   *domain.Call     `json:"active_call"`
	CallState    CallState        `json:"call_state"`
	IncomingCall *domain.Call     `json:"incoming_call"`
	LocalStream  core.MediaStream `json:"-"`
	RemoteStream core.MediaStream `json:"-"`
	IsMuted      bool             `json:"is_muted"`
	IsCameraOff  bool             `json:"is_camera_off"`
	ICEState     domain.ICEState  `json:"ice_state,omitempty"`
	Quality      domain.Quality   `json:"quality"`
	HasLocal     bool             `json:"has_local_stream"`
	HasRemote    bool             `json:"has_remote_stream"`
}

type Observer func(Snapshot)

// Store is written by one owner (the controller) and read by many.
// activeCall != nil iff callState != Idle holds after every mutation.
type Store struct {
	mu        sync.RWMutex
	snap      Snapshot
	observers []Observer
}

func NewStore() *Store {
	return &Store{snap: idleSnapshot()}
}

func idleSnapshot() Snapshot {
	return Snapshot{CallState: Idle, Quality: domain.QualityUnknown}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Store) copyLocked() Snapshot {
	out := s.snap
	out.ActiveCall = s.snap.ActiveCall.Clone()
	out.IncomingCall = s.snap.IncomingCall.Clone()
	out.HasLocal = s.snap.LocalStream != nil
	out.HasRemote = s.snap.RemoteStream != nil
	return out
}

// Observe registers fn; it is called after every mutation outside the lock.
func (s *Store) Observe(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Store) mutate(fn func(*Snapshot) error) error {
	s.mu.Lock()
	if err := fn(&s.snap); err != nil {
		s.mu.Unlock()
		return err
	}
	out := s.copyLocked()
	obs := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range obs {
		o(out)
	}
	return nil
}

// Begin sets activeCall and callState together. The incoming ring, if any, is cleared.
func (s *Store) Begin(call *domain.Call, phase CallState) error {
	if call == nil || phase == Idle {
		return fmt.Errorf("begin %v: %w", phase, domain.ErrInvalidTransition)
	}
	err := s.mutate(func(st *Snapshot) error {
		if st.ActiveCall != nil {
			return &domain.UserBusyError{}
		}
		st.ActiveCall = call.Clone()
		st.CallState = phase
		st.IncomingCall = nil
		return nil
	})
	if err == nil {
		log.Info().Str("module", "state").Str("call_id", string(call.ID)).Str("phase", string(phase)).Msg("call begun")
	}
	return err
}

// SetCallState changes the phase of the active call. Idle is only reachable through Reset.
func (s *Store) SetCallState(phase CallState) error {
	return s.mutate(func(st *Snapshot) error {
		if st.ActiveCall == nil || phase == Idle {
			return fmt.Errorf("set %v: %w", phase, domain.ErrInvalidTransition)
		}
		if st.CallState == Ended && phase != Ended {
			return fmt.Errorf("set %v after ended: %w", phase, domain.ErrInvalidTransition)
		}
		st.CallState = phase
		return nil
	})
}

// SetIncoming records the ringing call shown by the UI. nil clears it.
func (s *Store) SetIncoming(call *domain.Call) {
	_ = s.mutate(func(st *Snapshot) error {
		st.IncomingCall = call.Clone()
		return nil
	})
}

func (s *Store) SetLocalStream(ms core.MediaStream) error {
	return s.mutate(func(st *Snapshot) error {
		if ms != nil && (st.ActiveCall == nil || st.CallState == Ended) {
			return fmt.Errorf("attach local stream: %w", domain.ErrInvalidTransition)
		}
		st.LocalStream = ms
		return nil
	})
}

func (s *Store) SetRemoteStream(ms core.MediaStream) error {
	return s.mutate(func(st *Snapshot) error {
		if ms != nil && (st.ActiveCall == nil || st.CallState == Ended) {
			return fmt.Errorf("attach remote stream: %w", domain.ErrInvalidTransition)
		}
		st.RemoteStream = ms
		return nil
	})
}

func (s *Store) SetMuted(v bool) {
	_ = s.mutate(func(st *Snapshot) error {
		st.IsMuted = v
		return nil
	})
}

func (s *Store) SetCameraOff(v bool) {
	_ = s.mutate(func(st *Snapshot) error {
		st.IsCameraOff = v
		return nil
	})
}

func (s *Store) SetICEState(ice domain.ICEState) {
	_ = s.mutate(func(st *Snapshot) error {
		if st.ActiveCall == nil || st.CallState == Ended {
			return domain.ErrInvalidTransition
		}
		st.ICEState = ice
		st.Quality = ice.Quality()
		return nil
	})
}

// MarkEnded freezes the record of call. Media handles must already be released.
func (s *Store) MarkEnded(call *domain.Call) {
	_ = s.mutate(func(st *Snapshot) error {
		if st.ActiveCall == nil {
			if call == nil {
				return domain.ErrNoActiveCall
			}
			st.ActiveCall = call.Clone()
		}
		st.CallState = Ended
		st.IncomingCall = nil
		st.LocalStream = nil
		st.RemoteStream = nil
		return nil
	})
}

// Reset is the only way back to Idle. Safe to call repeatedly.
func (s *Store) Reset() {
	_ = s.mutate(func(st *Snapshot) error {
		*st = idleSnapshot()
		return nil
	})
}
