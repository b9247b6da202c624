// Package gateway talks to the call-tracking service over its REST API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	headerRequestID = "X-Request-ID"
	headerOrigin    = "X-Client-Origin"
	maxErrorBody    = 4 << 10
)

// Error codes the service puts in conflict responses.
const (
	codeBusy            = "busy"
	codeAlreadyAnswered = "already_answered"
)

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Origin is stamped on relayed signals so the sender can drop its own echo.
	Origin string
}

// Client implements core.Gateway.
type Client struct {
	base   *url.URL
	token  string
	origin string
	http   *http.Client
	log    zerolog.Logger
}

var _ core.Gateway = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gateway base url %q invalid", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:   base,
		token:  cfg.Token,
		origin: cfg.Origin,
		http:   &http.Client{Timeout: timeout},
		log:    log.With().Str("module", "gateway").Logger(),
	}, nil
}

type initiateRequest struct {
	ConversationID domain.ConversationID `json:"conversation_id"`
	CallType       domain.CallType       `json:"call_type"`
}

type signalRequest struct {
	Kind    core.MessageKind `json:"kind"`
	Payload json.RawMessage  `json:"payload,omitempty"`
	Target  domain.UserID    `json:"target"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) Initiate(ctx context.Context, conv domain.ConversationID, callType domain.CallType) (*domain.Call, error) {
	var call domain.Call
	err := c.do(ctx, "initiate", "/calls", initiateRequest{ConversationID: conv, CallType: callType}, &call)
	if err != nil {
		return nil, err
	}
	return &call, nil
}

func (c *Client) Answer(ctx context.Context, callID domain.CallID) (*domain.Call, error) {
	var call domain.Call
	if err := c.do(ctx, "answer", callPath(callID, "answer"), nil, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

func (c *Client) Decline(ctx context.Context, callID domain.CallID) error {
	return c.do(ctx, "decline", callPath(callID, "decline"), nil, nil)
}

func (c *Client) MarkMissed(ctx context.Context, callID domain.CallID) error {
	return c.do(ctx, "mark_missed", callPath(callID, "missed"), nil, nil)
}

func (c *Client) End(ctx context.Context, callID domain.CallID) error {
	return c.do(ctx, "end", callPath(callID, "end"), nil, nil)
}

func (c *Client) SendSignal(ctx context.Context, callID domain.CallID, kind core.MessageKind, payload json.RawMessage, target domain.UserID) error {
	return c.do(ctx, "send_signal", callPath(callID, "signals"), signalRequest{Kind: kind, Payload: payload, Target: target}, nil)
}

func callPath(id domain.CallID, action string) string {
	return "/calls/" + url.PathEscape(string(id)) + "/" + action
}

func (c *Client) do(ctx context.Context, op, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &domain.GatewayError{Op: op, Err: err}
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+path, body)
	if err != nil {
		return &domain.GatewayError{Op: op, Err: err}
	}
	reqID := uuid.NewString()
	req.Header.Set(headerRequestID, reqID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.origin != "" {
		req.Header.Set(headerOrigin, c.origin)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("op", op).Str("request_id", reqID).Msg("request failed")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &domain.GatewayError{Op: op, Err: fmt.Errorf("%w: %w", domain.ErrNetwork, ctxErr)}
		}
		return &domain.GatewayError{Op: op, Err: fmt.Errorf("%w: %w", domain.ErrNetwork, err)}
	}
	defer resp.Body.Close()
	c.log.Debug().
		Str("op", op).
		Str("request_id", reqID).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(started)).
		Msg("response")

	if resp.StatusCode >= 300 {
		return c.statusError(op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.GatewayError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) statusError(op string, resp *http.Response) error {
	var eb errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &eb)
	}
	msg := eb.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &domain.GatewayError{
		Op:     op,
		Status: resp.StatusCode,
		Code:   eb.Code,
		Err:    fmt.Errorf("%w: %s", classify(resp.StatusCode, eb.Code), msg),
	}
}

// classify maps a service response onto the domain gateway sentinels.
func classify(status int, code string) error {
	switch {
	case code == codeBusy:
		return domain.ErrBusy
	case code == codeAlreadyAnswered:
		return domain.ErrAlreadyAnswered
	case status == http.StatusNotFound:
		return domain.ErrNotFound
	case status == http.StatusConflict:
		return domain.ErrConflict
	case status >= 500, status == http.StatusTooManyRequests:
		return domain.ErrNetwork
	default:
		return errUnexpected
	}
}

var errUnexpected = errors.New("unexpected response")
