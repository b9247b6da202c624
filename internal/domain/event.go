package domain

import "time"

type CallEventKind string

const (
	CallEventRinging   CallEventKind = "ringing"
	CallEventIncoming  CallEventKind = "incoming"
	CallEventAnswered  CallEventKind = "answered"
	CallEventConnected CallEventKind = "connected"
	CallEventDeclined  CallEventKind = "declined"
	CallEventMissed    CallEventKind = "missed"
	CallEventEnded     CallEventKind = "ended"
	CallEventFailed    CallEventKind = "failed"
)

// CallEvent is what chat-window level UI sees for "call event for conversation X".
type CallEvent struct {
	Kind           CallEventKind  `json:"kind"`
	CallID         CallID         `json:"call_id"`
	ConversationID ConversationID `json:"conversation_id"`
	CallType       CallType       `json:"call_type"`
	Reason         EndReason      `json:"reason,omitempty"`
	At             time.Time      `json:"at"`
}

// TerminalEventKind picks the conversation event for a terminal reason.
func TerminalEventKind(r EndReason) CallEventKind {
	switch r.Status() {
	case CallStatusDeclined:
		return CallEventDeclined
	case CallStatusMissed:
		return CallEventMissed
	case CallStatusFailed:
		return CallEventFailed
	default:
		return CallEventEnded
	}
}
