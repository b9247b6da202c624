package orch

import (
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

// event is the tagged union consumed by the dispatch loop.
type event interface{ isEvent() }

type result struct {
	call *domain.Call
	on   bool
	err  error
}

// Local user actions.
type (
	cmdInitiate struct {
		conv     domain.ConversationID
		callType domain.CallType
		reply    chan<- result
	}
	cmdAnswer struct {
		callID domain.CallID
		reply  chan<- result
	}
	cmdDecline struct {
		callID domain.CallID
		reply  chan<- result
	}
	cmdHangUp struct {
		reply chan<- result
	}
	cmdToggle struct {
		kind  core.TrackKind
		reply chan<- result
	}
)

// Async completions. attempt identifies the call attempt that started them.
type (
	evInitiateDone struct {
		attempt uint64
		call    *domain.Call
		err     error
	}
	evAnswerDone struct {
		attempt uint64
		call    *domain.Call
		err     error
	}
	evMediaDone struct {
		attempt uint64
		stream  core.MediaStream
		err     error
	}
	evPublishFailed struct {
		attempt uint64
		kind    core.MessageKind
		err     error
	}
	evRingTimeout struct {
		attempt uint64
	}
	evRingOutTimeout struct {
		attempt uint64
	}
)

// Relay and adapter callbacks.
type (
	evRing struct {
		call *domain.Call
		from domain.UserID
	}
	evControl struct {
		callID domain.CallID
		ctl    core.Control
	}
	evSignal struct {
		callID domain.CallID
		from   domain.UserID
		sig    core.Signal
	}
	evPeer struct {
		attempt uint64
		ev      core.PeerEvent
	}
)

func (cmdInitiate) isEvent()      {}
func (cmdAnswer) isEvent()        {}
func (cmdDecline) isEvent()       {}
func (cmdHangUp) isEvent()        {}
func (cmdToggle) isEvent()        {}
func (evInitiateDone) isEvent()   {}
func (evAnswerDone) isEvent()     {}
func (evMediaDone) isEvent()      {}
func (evPublishFailed) isEvent()  {}
func (evRingTimeout) isEvent()    {}
func (evRingOutTimeout) isEvent() {}
func (evRing) isEvent()           {}
func (evControl) isEvent()        {}
func (evSignal) isEvent()         {}
func (evPeer) isEvent()           {}
