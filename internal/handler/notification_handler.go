package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"ecoswap/internal/domain"
	"ecoswap/internal/matching"
	"ecoswap/internal/middleware"
	"ecoswap/internal/service"

	"github.com/gin-gonic/gin"
)

// NotificationHandler serves the proposal feed and the accept/decline flow.
type NotificationHandler struct {
	proposals  *service.ProposalService
	settlement *service.SettlementService
	client     matching.Client
	log        *slog.Logger
}

func NewNotificationHandler(proposals *service.ProposalService, settlement *service.SettlementService, client matching.Client, log *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		proposals:  proposals,
		settlement: settlement,
		client:     client,
		log:        log.With("component", "notifications"),
	}
}

func (h *NotificationHandler) List(c *gin.Context) {
	username := middleware.GetUsername(c)
	if username == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "token carries no username"})
		return
	}
	feed := h.proposals.List(c.Request.Context(), username, c.Query("state"))
	c.JSON(http.StatusOK, feed)
}

type confirmRequest struct {
	ResourceID string `json:"resource_id" binding:"required"`
	RequestID  string `json:"request_id" binding:"required"`
	Action     string `json:"action" binding:"required"`
}

// Confirm forwards the decision to the matching service. An accept settles
// right away; settlement problems are reported in the body, the confirm
// itself already happened.
func (h *NotificationHandler) Confirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resource_id, request_id and action are required"})
		return
	}
	action, err := matching.ParseAction(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	res, err := h.client.Confirm(ctx, req.ResourceID, req.RequestID, action)
	if err != nil {
		h.log.WarnContext(ctx, "confirm failed", "resource_id", req.ResourceID, "request_id", req.RequestID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "matching service unavailable"})
		return
	}

	out := gin.H{"action": action, "confirm": res}
	if action == matching.ActionAccept {
		settled, err := h.settlement.SettleAccepted(ctx, req.ResourceID, req.RequestID)
		if err != nil {
			h.log.ErrorContext(ctx, "settlement after accept failed", "resource_id", req.ResourceID, "error", err)
			settled = &service.SettleResult{Reason: domain.SettleReasonAwardSkipped}
		}
		out["settlement"] = settled
	}
	c.JSON(http.StatusOK, out)
}

type settleRequest struct {
	ResourceID string `json:"resource_id" binding:"required"`
	RequestID  string `json:"request_id"`
}

// Settle polls with the configured retry policy. A "not matched" outcome is a
// normal 200 response.
func (h *NotificationHandler) Settle(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resource_id is required"})
		return
	}
	res, err := h.settlement.TrySettle(c.Request.Context(), req.ResourceID, req.RequestID, h.settlement.Policy())
	if err != nil {
		_ = c.Error(err)
		var ext *matching.ExternalServiceError
		if errors.As(err, &ext) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "matching service unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settlement failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}

type manualMatchRequest struct {
	ResourceID string `json:"resource_id" binding:"required"`
	// Amount accepts a JSON number or a numeric string.
	Amount json.Number `json:"amount" binding:"required"`
}

// ManualMatch asks the matching service to pair a resource with the caller's
// requested amount. No points move here; the usual settle path awards them
// once the match completes.
func (h *NotificationHandler) ManualMatch(c *gin.Context) {
	username := middleware.GetUsername(c)
	if username == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "token carries no username"})
		return
	}
	var req manualMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resource_id and a numeric amount are required"})
		return
	}
	amount, err := req.Amount.Float64()
	if err != nil || amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive number"})
		return
	}
	ctx := c.Request.Context()
	res, err := h.client.ManualMatch(ctx, req.ResourceID, amount, username)
	if err != nil {
		h.log.WarnContext(ctx, "manual match failed", "resource_id", req.ResourceID, "username", username, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "matching service unavailable"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"manual": res, "award": nil})
}
