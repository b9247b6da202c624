package domain

import "time"

type (
	CallID         string
	ConversationID string
)

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

// CallStatus is the server-tracked status of a call. Once terminal it never reverts.
type CallStatus string

const (
	CallStatusRinging   CallStatus = "ringing"
	CallStatusActive    CallStatus = "active"
	CallStatusDeclined  CallStatus = "declined"
	CallStatusMissed    CallStatus = "missed"
	CallStatusCancelled CallStatus = "cancelled"
	CallStatusEnded     CallStatus = "ended"
	CallStatusFailed    CallStatus = "failed"
)

func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusDeclined, CallStatusMissed, CallStatusCancelled, CallStatusEnded, CallStatusFailed:
		return true
	}
	return false
}

// Call identifies one call attempt. ID doubles as the signaling channel key.
type Call struct {
	ID             CallID         `json:"id"`
	ConversationID ConversationID `json:"conversation_id"`
	CallType       CallType       `json:"call_type"`
	InitiatorID    UserID         `json:"initiator_id"`
	CalleeID       UserID         `json:"callee_id"`
	Status         CallStatus     `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Peer returns the other participant from self's point of view.
func (c *Call) Peer(self UserID) UserID {
	if c.InitiatorID == self {
		return c.CalleeID
	}
	return c.InitiatorID
}

func (c *Call) Clone() *Call {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// EndReason explains why a call left the local state machine.
type EndReason string

const (
	EndReasonHangUp            EndReason = "hang_up"
	EndReasonRemoteEnded       EndReason = "remote_ended"
	EndReasonDeclined          EndReason = "declined"
	EndReasonRemoteDeclined    EndReason = "remote_declined"
	EndReasonCancelled         EndReason = "cancelled"
	EndReasonMissed            EndReason = "missed"
	EndReasonNoAnswer          EndReason = "no_answer"
	EndReasonAnsweredElsewhere EndReason = "answered_elsewhere"
	EndReasonBusy              EndReason = "busy"
	EndReasonMediaFailed       EndReason = "media_failed"
	EndReasonPeerFailed        EndReason = "peer_failed"
	EndReasonPeerClosed        EndReason = "peer_closed"
	EndReasonSignalingFailed   EndReason = "signaling_failed"
	EndReasonAnswerFailed      EndReason = "answer_failed"
	EndReasonShutdown          EndReason = "shutdown"
)

// Status maps a local end reason onto the terminal server status it corresponds to.
func (r EndReason) Status() CallStatus {
	switch r {
	case EndReasonDeclined, EndReasonRemoteDeclined, EndReasonBusy:
		return CallStatusDeclined
	case EndReasonMissed, EndReasonNoAnswer:
		return CallStatusMissed
	case EndReasonCancelled, EndReasonAnsweredElsewhere:
		return CallStatusCancelled
	case EndReasonMediaFailed, EndReasonPeerFailed, EndReasonSignalingFailed, EndReasonAnswerFailed:
		return CallStatusFailed
	default:
		return CallStatusEnded
	}
}
