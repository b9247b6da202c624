package domain

import "errors"

type NoticeKind string

const (
	NoticeMedia      NoticeKind = "media"
	NoticeBusy       NoticeKind = "busy"
	NoticeConnection NoticeKind = "connection"
	NoticeTimeout    NoticeKind = "timeout"
	NoticeGeneric    NoticeKind = "generic"
)

// Notice is the user-visible rendering of a surfaced call error.
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	CallID    CallID     `json:"call_id,omitempty"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Hints     []string   `json:"hints,omitempty"`
	Retryable bool       `json:"retryable"`
}

func DescribeError(err error) Notice {
	var (
		mediaErr *MediaPermissionError
		busyErr  *UserBusyError
		peerErr  *PeerConnectionError
		sigErr   *SignalingError
		toErr    *TimeoutError
	)
	switch {
	case errors.As(err, &mediaErr):
		return describeMedia(mediaErr)
	case errors.As(err, &busyErr):
		n := Notice{Kind: NoticeBusy, Title: "Already in a call"}
		if busyErr.Remote {
			n.Title = "User is busy"
			n.Message = "The person you are calling is already in another call."
		} else {
			n.Message = "Finish your current call before starting or answering another one."
		}
		return n
	case errors.As(err, &toErr):
		return Notice{
			Kind:    NoticeTimeout,
			CallID:  toErr.CallID,
			Title:   "Missed call",
			Message: "The call was not answered in time.",
		}
	case errors.As(err, &peerErr), errors.As(err, &sigErr), errors.Is(err, ErrNetwork):
		return Notice{
			Kind:    NoticeConnection,
			Title:   "Connection problem",
			Message: "The call could not be connected or was interrupted.",
			Hints: []string{
				"Check your internet connection.",
				"If you are on a VPN or corporate network, it may block calls.",
				"Try calling again in a moment.",
			},
			Retryable: true,
		}
	default:
		msg := "Something went wrong with the call."
		if err != nil {
			msg = err.Error()
		}
		return Notice{Kind: NoticeGeneric, Title: "Call failed", Message: msg, Retryable: true}
	}
}

func describeMedia(e *MediaPermissionError) Notice {
	n := Notice{Kind: NoticeMedia, Retryable: true}
	switch e.Reason {
	case MediaPermissionDenied:
		n.Title = "Microphone or camera access denied"
		n.Message = "The call needs access to your microphone (and camera for video calls)."
		n.Hints = []string{
			"Allow microphone and camera access for this app in your system privacy settings.",
			"Restart the app after changing the permission.",
		}
	case MediaDeviceNotFound:
		n.Title = "No microphone or camera found"
		n.Message = "No suitable audio or video device is connected."
		n.Hints = []string{
			"Connect a microphone or headset and try again.",
			"For video calls, check that your camera is plugged in and enabled.",
		}
	case MediaDeviceBusy:
		n.Title = "Microphone or camera is in use"
		n.Message = "Another application is using your microphone or camera."
		n.Hints = []string{
			"Close other apps that may be using the device (video conferencing, recorders).",
			"Try again once the device is free.",
		}
	}
	return n
}
