package core

//go:generate mockgen -source=gateway_iface.go -destination=mocks/gateway_mock.go -package=mocks

import (
	"context"
	"encoding/json"

	"github.com/dkeye/voicecall/internal/domain"
)

// Gateway is the call-tracking service. Errors wrap the domain gateway sentinels.
type Gateway interface {
	Initiate(ctx context.Context, conv domain.ConversationID, callType domain.CallType) (*domain.Call, error)
	Answer(ctx context.Context, callID domain.CallID) (*domain.Call, error)
	Decline(ctx context.Context, callID domain.CallID) error
	MarkMissed(ctx context.Context, callID domain.CallID) error
	End(ctx context.Context, callID domain.CallID) error
	SendSignal(ctx context.Context, callID domain.CallID, kind MessageKind, payload json.RawMessage, target domain.UserID) error
}
