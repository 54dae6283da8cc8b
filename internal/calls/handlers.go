package calls

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/callwatch/internal/engine"
	"github.com/mbd888/callwatch/internal/pagination"
	"github.com/mbd888/callwatch/internal/transcript"
	"github.com/mbd888/callwatch/internal/validation"
)

// Handler provides HTTP endpoints for call evaluation.
type Handler struct {
	service *Service
}

// NewHandler creates a new calls handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the call routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/rules", h.ListRules)
	r.POST("/calls", h.StartCall)
	r.GET("/calls", h.ListCalls)

	call := r.Group("/calls/:callId", validation.CallIDParamMiddleware())
	call.GET("", h.GetCall)
	call.POST("/turns", h.SubmitTurn)
	call.GET("/turns", h.ListTurns)
	call.GET("/events", h.ListEvents)
	call.GET("/risk", h.GetRisk)
	call.POST("/end", h.EndCall)
}

// StartCall handles POST /v1/calls
func (h *Handler) StartCall(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	call, err := h.service.Start(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"call": call})
}

// ListCalls handles GET /v1/calls
func (h *Handler) ListCalls(c *gin.Context) {
	status := Status(c.Query("status"))
	if status != "" {
		if verr := validation.OneOf("status", string(status), string(StatusActive), string(StatusEnded))(); verr != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": verr.Error(),
			})
			return
		}
	}

	page, err := h.service.List(c.Request.Context(), ListOptions{
		Status: status,
		Limit:  queryInt(c, "limit", pagination.DefaultLimit),
		Cursor: c.Query("cursor"),
	})
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": err.Error(),
			})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// GetCall handles GET /v1/calls/:callId
func (h *Handler) GetCall(c *gin.Context) {
	call, err := h.service.Get(c.Request.Context(), c.Param("callId"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"call": call, "risk": call.Risk})
}

// SubmitTurn handles POST /v1/calls/:callId/turns
func (h *Handler) SubmitTurn(c *gin.Context) {
	var turn transcript.Turn
	if err := c.ShouldBindJSON(&turn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	res, err := h.service.Submit(c.Request.Context(), c.Param("callId"), turn)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

// ListTurns handles GET /v1/calls/:callId/turns
func (h *Handler) ListTurns(c *gin.Context) {
	turns, err := h.service.Turns(c.Request.Context(), c.Param("callId"), queryInt(c, "after", 0))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"turns": turns,
		"count": len(turns),
	})
}

// ListEvents handles GET /v1/calls/:callId/events
func (h *Handler) ListEvents(c *gin.Context) {
	events, err := h.service.Events(c.Request.Context(), c.Param("callId"), queryInt(c, "after", 0))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// GetRisk handles GET /v1/calls/:callId/risk
func (h *Handler) GetRisk(c *gin.Context) {
	snap, err := h.service.Risk(c.Request.Context(), c.Param("callId"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"risk": snap})
}

// EndCall handles POST /v1/calls/:callId/end
func (h *Handler) EndCall(c *gin.Context) {
	call, err := h.service.End(c.Request.Context(), c.Param("callId"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"call": call})
}

// ListRules handles GET /v1/rules
func (h *Handler) ListRules(c *gin.Context) {
	defs := h.service.Rules()
	c.JSON(http.StatusOK, gin.H{
		"rules": defs,
		"count": len(defs),
	})
}

func writeError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	var seq *engine.SequenceError

	switch {
	case errors.As(err, &seq):
		c.JSON(http.StatusConflict, gin.H{
			"error":    "out_of_sequence",
			"message":  err.Error(),
			"expected": seq.Expected,
			"got":      seq.Got,
		})
	case errors.Is(err, engine.ErrInvalidTurn):
		body := gin.H{"error": "invalid_turn", "message": err.Error()}
		if errors.As(err, &verrs) {
			body["details"] = verrs
		}
		c.JSON(http.StatusUnprocessableEntity, body)
	case errors.Is(err, ErrCallNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Call not found"})
	case errors.Is(err, ErrCallEnded):
		c.JSON(http.StatusConflict, gin.H{"error": "call_ended", "message": err.Error()})
	case errors.Is(err, ErrCallExists):
		c.JSON(http.StatusConflict, gin.H{"error": "call_exists", "message": err.Error()})
	case errors.Is(err, ErrInvalidCallID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_call_id", "message": err.Error()})
	case errors.Is(err, ErrTooManyCalls):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "capacity_exceeded", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Internal error"})
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
