package app

import (
	"sync"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	TopicUI = "ui"

	subscriberBuffer = 32
)

// ConversationTopic carries domain.CallEvent for one conversation.
func ConversationTopic(id domain.ConversationID) string {
	return "conversation:" + string(id)
}

type subscriber struct {
	ch chan any
}

// Hub is an in-process topic fan-out. Slow subscribers lose messages rather than block publishers.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*subscriber]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*subscriber]struct{})}
}

// Subscribe returns a receive channel and a cancel func that closes it.
func (h *Hub) Subscribe(topic string) (<-chan any, func()) {
	sub := &subscriber{ch: make(chan any, subscriberBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()
	log.Debug().Str("module", "app.hub").Str("topic", topic).Msg("subscribed")

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { h.remove(topic, sub) })
	}
}

func (h *Hub) remove(topic string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
	close(sub.ch)
	log.Debug().Str("module", "app.hub").Str("topic", topic).Msg("unsubscribed")
}

// Publish never blocks.
func (h *Hub) Publish(topic string, v any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	dropped := 0
	for sub := range h.topics[topic] {
		select {
		case sub.ch <- v:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		log.Warn().Str("module", "app.hub").Str("topic", topic).Int("dropped", dropped).Msg("subscriber backlog full")
	}
}

func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for topic, subs := range h.topics {
		for sub := range subs {
			close(sub.ch)
		}
		delete(h.topics, topic)
	}
}
