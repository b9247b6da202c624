package rtc

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// Negotiation is discrete: offer and answer carry a webrtc.SessionDescription,
// candidate a webrtc.ICECandidateInit. A bundled signal holds either shape and
// is routed by its content.

type bundled struct {
	Type      string  `json:"type"`
	SDP       string  `json:"sdp"`
	Candidate *string `json:"candidate"`
}

func invalid(reason string, err error) error {
	return &domain.InvalidSignalError{Reason: reason, Err: err}
}

func encodeDescription(d webrtc.SessionDescription) (core.Signal, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return core.Signal{}, err
	}
	kind := core.KindOffer
	if d.Type == webrtc.SDPTypeAnswer {
		kind = core.KindAnswer
	}
	return core.Signal{Kind: kind, Payload: b}, nil
}

func encodeCandidate(c webrtc.ICECandidateInit) (core.Signal, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return core.Signal{}, err
	}
	return core.Signal{Kind: core.KindCandidate, Payload: b}, nil
}

// decodeDescription parses and validates an offer or answer of the wanted type.
func decodeDescription(raw json.RawMessage, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var d webrtc.SessionDescription
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, invalid("malformed description", err)
	}
	if d.Type != want {
		return d, invalid(fmt.Sprintf("expected %s, got %s", want, d.Type), nil)
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(d.SDP)); err != nil {
		return d, invalid("unparsable sdp", err)
	}
	if len(parsed.MediaDescriptions) == 0 {
		return d, invalid("sdp without media", nil)
	}
	return d, nil
}

func decodeCandidate(raw json.RawMessage) (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, invalid("malformed candidate", err)
	}
	return c, nil
}

// unbundle turns a bundled signal into its discrete equivalent.
func unbundle(sig core.Signal) (core.Signal, error) {
	var b bundled
	if err := json.Unmarshal(sig.Payload, &b); err != nil {
		return sig, invalid("malformed bundled signal", err)
	}
	switch {
	case b.Candidate != nil:
		return core.Signal{Kind: core.KindCandidate, Payload: sig.Payload}, nil
	case b.Type == "offer" && b.SDP != "":
		return core.Signal{Kind: core.KindOffer, Payload: sig.Payload}, nil
	case b.Type == "answer" && b.SDP != "":
		return core.Signal{Kind: core.KindAnswer, Payload: sig.Payload}, nil
	default:
		return sig, invalid("bundled signal carries neither description nor candidate", nil)
	}
}
