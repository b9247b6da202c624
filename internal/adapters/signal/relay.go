// Package signal carries call control and negotiation messages between the two
// participants of a call.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var errEmptyCallID = errors.New("empty call id")

// Publisher sends one message to the other participant. core.Gateway satisfies it.
type Publisher interface {
	SendSignal(ctx context.Context, callID domain.CallID, kind core.MessageKind, payload json.RawMessage, target domain.UserID) error
}

// Channels joins and leaves per-call channels on the inbound stream.
type Channels interface {
	Join(channel string)
	Leave(channel string)
}

type subscription struct {
	callID domain.CallID
	h      core.RelayHandlers
}

// Relay implements core.SignalRelay. Inbound envelopes arrive through Deliver.
type Relay struct {
	self   domain.UserID
	origin string
	pub    Publisher
	chans  Channels
	log    zerolog.Logger

	mu       sync.Mutex
	closed   bool
	next     core.Subscription
	subs     map[core.Subscription]subscription
	perCall  map[domain.CallID]int
	incoming func(*domain.Call, domain.UserID)
}

var _ core.SignalRelay = (*Relay)(nil)

// NewRelay builds a relay for self. origin identifies this process so that our
// own messages echoed back by the service are dropped. chans may be nil.
func NewRelay(self domain.UserID, origin string, pub Publisher, chans Channels) *Relay {
	return &Relay{
		self:    self,
		origin:  origin,
		pub:     pub,
		chans:   chans,
		log:     log.With().Str("module", "signal").Logger(),
		subs:    make(map[core.Subscription]subscription),
		perCall: make(map[domain.CallID]int),
	}
}

func (r *Relay) Subscribe(callID domain.CallID, h core.RelayHandlers) (core.Subscription, error) {
	if callID == "" {
		return 0, errEmptyCallID
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, domain.ErrRelayClosed
	}
	r.next++
	sub := r.next
	r.subs[sub] = subscription{callID: callID, h: h}
	r.perCall[callID]++
	first := r.perCall[callID] == 1
	r.mu.Unlock()

	if first && r.chans != nil {
		r.chans.Join(CallChannel(callID))
	}
	r.log.Debug().Str("call_id", string(callID)).Uint64("sub", uint64(sub)).Msg("subscribed")
	return sub, nil
}

func (r *Relay) Publish(ctx context.Context, callID domain.CallID, kind core.MessageKind, payload json.RawMessage, target domain.UserID) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return domain.ErrRelayClosed
	}
	if err := r.pub.SendSignal(ctx, callID, kind, payload, target); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

func (r *Relay) Unsubscribe(sub core.Subscription) {
	r.mu.Lock()
	s, ok := r.subs[sub]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.subs, sub)
	last := r.release(s.callID)
	r.mu.Unlock()

	if last && r.chans != nil {
		r.chans.Leave(CallChannel(s.callID))
	}
}

func (r *Relay) UnsubscribeAll() {
	r.mu.Lock()
	calls := make([]domain.CallID, 0, len(r.perCall))
	for id := range r.perCall {
		calls = append(calls, id)
	}
	r.subs = make(map[core.Subscription]subscription)
	r.perCall = make(map[domain.CallID]int)
	r.mu.Unlock()

	if r.chans == nil {
		return
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i] < calls[j] })
	for _, id := range calls {
		r.chans.Leave(CallChannel(id))
	}
}

// release must be called with mu held. It reports whether callID lost its last subscriber.
func (r *Relay) release(callID domain.CallID) bool {
	r.perCall[callID]--
	if r.perCall[callID] > 0 {
		return false
	}
	delete(r.perCall, callID)
	return true
}

func (r *Relay) OnIncoming(fn func(*domain.Call, domain.UserID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incoming = fn
}

// Close drops every subscription. Publish and Subscribe fail afterwards.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.UnsubscribeAll()
}

// Subscribers reports the live subscription count for callID.
func (r *Relay) Subscribers(callID domain.CallID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perCall[callID]
}

func (r *Relay) handlersFor(callID domain.CallID) []core.RelayHandlers {
	r.mu.Lock()
	defer r.mu.Unlock()
	var subs []core.Subscription
	for id, s := range r.subs {
		if s.callID == callID {
			subs = append(subs, id)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i] < subs[j] })
	out := make([]core.RelayHandlers, 0, len(subs))
	for _, id := range subs {
		out = append(out, r.subs[id].h)
	}
	return out
}

// Deliver routes one inbound envelope. Handlers run on the caller's goroutine.
func (r *Relay) Deliver(env Envelope) {
	if env.Type != TypeMessage {
		return
	}
	if env.Origin != "" && env.Origin == r.origin {
		r.log.Debug().Str("kind", string(env.Kind)).Msg("own echo dropped")
		return
	}

	switch {
	case env.Kind == core.KindRing:
		r.deliverRing(env)
	case env.Kind.IsControl():
		callID, ok := callFromChannel(env.Channel)
		if !ok {
			r.log.Warn().Str("channel", env.Channel).Str("kind", string(env.Kind)).Msg("control without call channel")
			return
		}
		var p core.ControlPayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				r.log.Warn().Err(err).Str("call_id", string(callID)).Msg("bad control payload")
			}
		}
		ctl := core.Control{Kind: env.Kind, From: env.From, Reason: p.Reason}
		for _, h := range r.handlersFor(callID) {
			if h.OnControl != nil {
				h.OnControl(ctl)
			}
		}
	case env.Kind.IsSignal():
		callID, ok := callFromChannel(env.Channel)
		if !ok {
			r.log.Warn().Str("channel", env.Channel).Str("kind", string(env.Kind)).Msg("signal without call channel")
			return
		}
		// Negotiation is between two devices; another user's payload is not ours.
		if env.To != "" && env.To != r.self {
			return
		}
		sig := core.Signal{Kind: env.Kind, Payload: env.Payload}
		for _, h := range r.handlersFor(callID) {
			if h.OnSignal != nil {
				h.OnSignal(env.From, sig)
			}
		}
	default:
		r.log.Warn().Str("kind", string(env.Kind)).Msg("unknown message kind")
	}
}

func (r *Relay) deliverRing(env Envelope) {
	if env.To != "" && env.To != r.self {
		return
	}
	var call domain.Call
	if err := json.Unmarshal(env.Payload, &call); err != nil {
		r.log.Warn().Err(err).Str("from", string(env.From)).Msg("bad ring payload")
		return
	}
	r.mu.Lock()
	fn := r.incoming
	r.mu.Unlock()
	if fn == nil {
		r.log.Debug().Str("call_id", string(call.ID)).Msg("ring with no listener")
		return
	}
	fn(&call, env.From)
}
