package core

//go:generate mockgen -source=media_iface.go -destination=mocks/media_mock.go -package=mocks

import (
	"context"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// MediaTrack is one local or remote track. Stop must be idempotent.
type MediaTrack interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(bool)
	Stop()
	Stopped() bool
}

// MediaStream groups the tracks of one side of a call.
// Owned by whoever produced it; the Store only references it.
type MediaStream interface {
	ID() string
	Tracks() []MediaTrack
	// Stop stops every track. Safe to call more than once.
	Stop()
}

type Constraints struct {
	Audio bool
	Video bool
}

// MediaProvider acquires local capture. Failures are *domain.MediaPermissionError.
type MediaProvider interface {
	GetLocalStream(ctx context.Context, c Constraints) (MediaStream, error)
}
