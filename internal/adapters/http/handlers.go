package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type initiateRequest struct {
	ConversationID domain.ConversationID `json:"conversation_id"`
	CallType       domain.CallType       `json:"call_type"`
}

type callIDRequest struct {
	CallID domain.CallID `json:"call_id"`
}

type focusRequest struct {
	Focused *bool `json:"focused"`
}

type errorResponse struct {
	Error  string        `json:"error"`
	Notice domain.Notice `json:"notice"`
}

type handlers struct {
	calls CallService
	focus FocusReporter
}

func (h *handlers) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.calls.Snapshot())
}

func (h *handlers) initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	call, err := h.calls.InitiateCall(c.Request.Context(), req.ConversationID, req.CallType)
	if err != nil {
		writeError(c, "initiate", err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *handlers) answer(c *gin.Context) {
	var req callIDRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.CallID == "" {
		badRequest(c, err)
		return
	}
	call, err := h.calls.AnswerCall(c.Request.Context(), req.CallID)
	if err != nil {
		writeError(c, "answer", err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *handlers) decline(c *gin.Context) {
	var req callIDRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.CallID == "" {
		badRequest(c, err)
		return
	}
	if err := h.calls.DeclineCall(c.Request.Context(), req.CallID); err != nil {
		writeError(c, "decline", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) hangUp(c *gin.Context) {
	if err := h.calls.HangUp(c.Request.Context()); err != nil {
		writeError(c, "hang up", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) toggleMute(c *gin.Context) {
	muted, err := h.calls.ToggleMute(c.Request.Context())
	if err != nil {
		writeError(c, "toggle mute", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_muted": muted})
}

func (h *handlers) toggleCamera(c *gin.Context) {
	off, err := h.calls.ToggleCamera(c.Request.Context())
	if err != nil {
		writeError(c, "toggle camera", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_camera_off": off})
}

func (h *handlers) setFocus(c *gin.Context) {
	var req focusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Focused == nil {
		badRequest(c, err)
		return
	}
	h.focus.SetFocused(*req.Focused)
	c.Status(http.StatusNoContent)
}

func badRequest(c *gin.Context, err error) {
	msg := "missing or invalid body"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(http.StatusBadRequest, errorResponse{
		Error:  msg,
		Notice: domain.Notice{Kind: domain.NoticeGeneric, Title: "Invalid request", Message: msg},
	})
}

func writeError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Str("module", "adapters.http").Str("op", op).Int("status", status).Msg("call action failed")
	c.JSON(status, errorResponse{Error: err.Error(), Notice: domain.DescribeError(err)})
}

// statusFor maps call errors onto HTTP: busy 409, not found 404, invalid 400,
// everything else 502.
func statusFor(err error) int {
	var (
		busy *domain.UserBusyError
		inv  *domain.InvalidSignalError
	)
	switch {
	case errors.As(err, &busy),
		errors.Is(err, domain.ErrBusy),
		errors.Is(err, domain.ErrAlreadyAnswered),
		errors.Is(err, domain.ErrAnswerInProgress),
		errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoActiveCall),
		errors.Is(err, domain.ErrNoIncomingCall),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidCallType),
		errors.Is(err, domain.ErrEmptyConversation),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.As(err, &inv):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
