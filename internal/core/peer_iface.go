package core

import (
	"encoding/json"

	"github.com/dkeye/voicecall/internal/domain"
)

// Signal is an opaque negotiation payload. The controller forwards it unexamined.
type Signal struct {
	Kind    MessageKind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type PeerEventKind int

const (
	PeerEventSignal PeerEventKind = iota
	PeerEventStream
	PeerEventConnect
	PeerEventICEState
	PeerEventError
	PeerEventClose
)

func (k PeerEventKind) String() string {
	switch k {
	case PeerEventSignal:
		return "signal"
	case PeerEventStream:
		return "stream"
	case PeerEventConnect:
		return "connect"
	case PeerEventICEState:
		return "ice_state"
	case PeerEventError:
		return "error"
	case PeerEventClose:
		return "close"
	default:
		return "unknown"
	}
}

type PeerEvent struct {
	Kind     PeerEventKind
	Signal   Signal
	Stream   MediaStream
	ICEState domain.ICEState
	Err      error
}

// PeerSink receives adapter events. Implementations must not block.
type PeerSink func(PeerEvent)

// PeerAdapter owns at most one negotiation session at a time.
type PeerAdapter interface {
	// CreateAsInitiator fails if a session already exists.
	CreateAsInitiator(local MediaStream, sink PeerSink) error
	CreateAsResponder(local MediaStream, sink PeerSink) error
	// ApplyRemoteSignal returns *domain.InvalidSignalError when no open session exists.
	ApplyRemoteSignal(sig Signal) error
	// SetTrackEnabled flips live local tracks of kind without renegotiation.
	SetTrackEnabled(kind TrackKind, enabled bool)
	// Destroy is idempotent and stops all local and remote tracks. Emits nothing.
	Destroy()
}

// PeerFactory builds a fresh adapter per call attempt.
type PeerFactory interface {
	NewPeer(callID domain.CallID) PeerAdapter
}
