package handler

import (
	"errors"
	"net/http"
	"strconv"

	"ecoswap/internal/domain"
	"ecoswap/internal/middleware"
	"ecoswap/internal/repository"
	"ecoswap/internal/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type PointHandler struct {
	points   *service.PointService
	userRepo *repository.UserRepository
}

func NewPointHandler(points *service.PointService, userRepo *repository.UserRepository) *PointHandler {
	return &PointHandler{points: points, userRepo: userRepo}
}

// Me returns balance, lifetime earned points and the level for the caller.
func (h *PointHandler) Me(c *gin.Context) {
	status, err := h.points.BalanceStatus(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "points lookup failed"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *PointHandler) History(c *gin.Context) {
	limit := service.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > service.MaxHistoryLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}
	var before *uint
	if raw := c.Query("before_id"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before_id"})
			return
		}
		id := uint(n)
		before = &id
	}
	items, next, err := h.points.History(c.Request.Context(), middleware.GetUserID(c), limit, before)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "next_before_id": next})
}

func (h *PointHandler) AllHistory(c *gin.Context) {
	items, err := h.points.AllEntries(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

type grantRequest struct {
	UserID         uint   `json:"user_id"`
	Username       string `json:"username"`
	Amount         int64  `json:"amount" binding:"required,min=-1000000,max=1000000"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key" binding:"max=128"`
}

// Grant is the operator path for manual corrections. Negative amounts are
// allowed; the ledger keeps the audit trail.
func (h *PointHandler) Grant(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be non-zero and within ±1000000"})
		return
	}
	ctx := c.Request.Context()
	var userID uint
	switch {
	case req.UserID != 0:
		u, err := h.userRepo.GetByID(ctx, req.UserID)
		if err != nil {
			h.userLookupFailed(c, err)
			return
		}
		userID = u.ID
	case req.Username != "":
		u, err := h.userRepo.GetByUsername(ctx, req.Username)
		if err != nil {
			h.userLookupFailed(c, err)
			return
		}
		userID = u.ID
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id or username required"})
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = domain.ReasonAdminGrant
	}
	balance, err := h.points.Award(ctx, service.AwardInput{
		UserID:         userID,
		Amount:         req.Amount,
		Reason:         reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "grant failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "balance": balance})
}

func (h *PointHandler) userLookupFailed(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "user lookup failed"})
}
