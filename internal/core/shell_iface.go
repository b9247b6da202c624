package core

//go:generate mockgen -source=shell_iface.go -destination=mocks/shell_mock.go -package=mocks

import "github.com/dkeye/voicecall/internal/domain"

// Shell is the desktop side: sounds, alerts and nudges. Never part of the state machine.
type Shell interface {
	Ring(call *domain.Call)
	StopRing(callID domain.CallID)
	MissedCall(call *domain.Call)
	Notify(n domain.Notice)
}

// EventPublisher fans out events by topic.
type EventPublisher interface {
	Publish(topic string, v any)
}
