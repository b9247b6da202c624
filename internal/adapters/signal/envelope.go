package signal

import (
	"encoding/json"
	"strings"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

// Envelope types on the relay stream.
const (
	TypeJoin    = "join"
	TypeLeave   = "leave"
	TypeMessage = "message"
)

const callChannelPrefix = "call:"

// Envelope is one frame on the relay stream. Payload is passed through unexamined
// except for ring (a Call) and control kinds (a core.ControlPayload).
type Envelope struct {
	Type    string           `json:"type"`
	Channel string           `json:"channel,omitempty"`
	Kind    core.MessageKind `json:"kind,omitempty"`
	From    domain.UserID    `json:"from,omitempty"`
	To      domain.UserID    `json:"to,omitempty"`
	Origin  string           `json:"origin,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

func CallChannel(id domain.CallID) string {
	return callChannelPrefix + string(id)
}

func callFromChannel(ch string) (domain.CallID, bool) {
	id, ok := strings.CutPrefix(ch, callChannelPrefix)
	if !ok || id == "" {
		return "", false
	}
	return domain.CallID(id), true
}
