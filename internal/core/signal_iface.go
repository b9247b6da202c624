package core

import (
	"context"
	"encoding/json"

	"github.com/dkeye/voicecall/internal/domain"
)

// MessageKind tags every message carried by the relay.
type MessageKind string

const (
	KindRing MessageKind = "ring"

	KindAnswered MessageKind = "answered"
	KindDeclined MessageKind = "declined"
	KindEnded    MessageKind = "ended"
	KindMissed   MessageKind = "missed"

	KindOffer     MessageKind = "offer"
	KindAnswer    MessageKind = "answer"
	KindCandidate MessageKind = "candidate"
	// KindSignal is the bundled style: offer, answer and candidates in one payload.
	KindSignal MessageKind = "signal"
)

func (k MessageKind) IsControl() bool {
	switch k {
	case KindAnswered, KindDeclined, KindEnded, KindMissed:
		return true
	}
	return false
}

func (k MessageKind) IsSignal() bool {
	switch k {
	case KindOffer, KindAnswer, KindCandidate, KindSignal:
		return true
	}
	return false
}

// ControlPayload is the body of answered/declined/ended/missed messages.
type ControlPayload struct {
	Reason domain.EndReason `json:"reason,omitempty"`
}

type Control struct {
	Kind   MessageKind
	From   domain.UserID
	Reason domain.EndReason
}

type RelayHandlers struct {
	OnSignal  func(from domain.UserID, sig Signal)
	OnControl func(ctl Control)
}

type Subscription uint64

// SignalRelay delivers per-call messages without ordering or exactly-once guarantees.
type SignalRelay interface {
	Subscribe(callID domain.CallID, h RelayHandlers) (Subscription, error)
	Publish(ctx context.Context, callID domain.CallID, kind MessageKind, payload json.RawMessage, target domain.UserID) error
	Unsubscribe(sub Subscription)
	UnsubscribeAll()
	// OnIncoming registers the handler for user-scoped ring messages.
	OnIncoming(fn func(call *domain.Call, from domain.UserID))
}
