package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	errConnClosed   = errors.New("connection closed")
)

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
)

type StreamConfig struct {
	URL          string
	Token        string
	PingPeriod   time.Duration
	ReadLimit    int64
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func (c *StreamConfig) applyDefaults() {
	if c.PingPeriod <= 0 {
		c.PingPeriod = 54 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 32768
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = 500 * time.Millisecond
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = 30 * time.Second
	}
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

// Stream is the inbound side of the relay: a websocket to the service that
// stays connected, rejoins its channels after every reconnect and hands each
// envelope to the handler.
type Stream struct {
	cfg     StreamConfig
	handler func(Envelope)
	clock   clock.Clock
	dialer  *websocket.Dialer
	log     zerolog.Logger

	mu       sync.Mutex
	channels map[string]struct{}
	conn     *wsConn
}

var _ Channels = (*Stream)(nil)

func NewStream(cfg StreamConfig, handler func(Envelope), clk clock.Clock) *Stream {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.New()
	}
	return &Stream{
		cfg:      cfg,
		handler:  handler,
		clock:    clk,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:      log.With().Str("module", "signal").Logger(),
		channels: make(map[string]struct{}),
	}
}

// Run keeps the stream connected until ctx is done.
func (s *Stream) Run(ctx context.Context) error {
	backoff := s.cfg.ReconnectMin
	for {
		connected, err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = s.cfg.ReconnectMin
		}
		s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("relay stream disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.ReconnectMax {
			backoff = s.cfg.ReconnectMax
		}
	}
}

func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Stream) Join(channel string) {
	s.mu.Lock()
	s.channels[channel] = struct{}{}
	c := s.conn
	s.mu.Unlock()
	if c != nil {
		s.sendJSON(c, Envelope{Type: TypeJoin, Channel: channel})
	}
}

func (s *Stream) Leave(channel string) {
	s.mu.Lock()
	_, ok := s.channels[channel]
	delete(s.channels, channel)
	c := s.conn
	s.mu.Unlock()
	if ok && c != nil {
		s.sendJSON(c, Envelope{Type: TypeLeave, Channel: channel})
	}
}

// session runs one connection. connected reports whether the dial succeeded.
func (s *Stream) session(ctx context.Context) (connected bool, err error) {
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	ws, _, err := s.dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return false, err
	}
	c := &wsConn{conn: ws, send: make(chan []byte, sendBuffer)}

	s.mu.Lock()
	s.conn = c
	chans := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		chans = append(chans, ch)
	}
	s.mu.Unlock()
	sort.Strings(chans)
	s.log.Info().Str("url", s.cfg.URL).Int("channels", len(chans)).Msg("relay stream connected")
	for _, ch := range chans {
		s.sendJSON(c, Envelope{Type: TypeJoin, Channel: ch})
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump(ctx, c)
	}()
	err = s.readPump(c)

	s.mu.Lock()
	if s.conn == c {
		s.conn = nil
	}
	s.mu.Unlock()
	cancel()
	c.Close()
	wg.Wait()
	return true, err
}

func (s *Stream) writePump(ctx context.Context, c *wsConn) {
	ticker := s.clock.Ticker(s.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				s.log.Error().Err(err).Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Error().Err(err).Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				s.log.Warn().Err(err).Msg("ping failed")
				c.Close()
				return
			}
		}
	}
}

func (s *Stream) readPump(c *wsConn) error {
	pongWait := s.cfg.PingPeriod * 10 / 9
	c.conn.SetReadLimit(s.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Error().Err(err).Msg("bad json")
			continue
		}
		if s.handler != nil {
			s.handler(env)
		}
	}
}

func (s *Stream) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		s.log.Warn().Err(err).Msg("sendJSON dropped")
	}
}
