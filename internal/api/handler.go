package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	apierrors "github.com/eternisai/push-relay/internal/errors"
	"github.com/eternisai/push-relay/internal/logger"
	"github.com/eternisai/push-relay/internal/notifications"
)

const (
	defaultFailuresLimit = 50
	maxFailuresLimit     = 500
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	service *notifications.Service
	db      Pinger
	logger  *logger.Logger
}

// NewHandler creates the HTTP handler. db may be nil when no database is used.
func NewHandler(service *notifications.Service, db Pinger, logger *logger.Logger) *Handler {
	return &Handler{
		service: service,
		db:      db,
		logger:  logger.WithComponent("api"),
	}
}

// SubmitNotificationRequest is the request body for sending a notification.
type SubmitNotificationRequest struct {
	RecipientID string            `json:"recipient_id" binding:"required"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Importance  string            `json:"importance" binding:"omitempty,oneof=normal important"`
	Mode        string            `json:"mode" binding:"omitempty,oneof=alert background silent"`
	Data        map[string]string `json:"data"`
	Badge       int               `json:"badge" binding:"gte=0"`
}

// SubmitNotificationResponse identifies an accepted submission.
type SubmitNotificationResponse struct {
	SubmissionID string `json:"submission_id"`
	MessageID    string `json:"message_id"`
}

// RegisterTokenRequest is the request body for reporting a device token.
type RegisterTokenRequest struct {
	RecipientID string `json:"recipient_id" binding:"required"`
	Token       string `json:"token" binding:"required"`
	Platform    string `json:"platform" binding:"omitempty,oneof=ios android unknown"`
}

// TokenResponse is the public view of a device token. The token value itself is
// never returned.
type TokenResponse struct {
	notifications.DeviceToken
	TokenPrefix string `json:"token_prefix,omitempty"`
}

// POST /api/v1/notifications
func (h *Handler) SubmitNotification(c *gin.Context) {
	var req SubmitNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BadRequest(c, "invalid request: "+err.Error(), nil)
		return
	}

	mode := notifications.DeliveryMode(req.Mode)
	if (mode == "" || mode == notifications.ModeAlert) && strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Body) == "" {
		apierrors.BadRequest(c, "alert notifications need a title or a body", nil)
		return
	}

	submit := notifications.SubmitRequest{
		RecipientID: req.RecipientID,
		Title:       req.Title,
		Body:        req.Body,
		Importance:  notifications.Importance(req.Importance),
		Mode:        mode,
		Data:        req.Data,
		Badge:       req.Badge,
	}
	if size := submit.PayloadSize(); size > notifications.MaxPayloadBytes {
		apierrors.BadRequest(c, "notification payload too large", map[string]interface{}{
			"payload_bytes": size,
			"max_bytes":     notifications.MaxPayloadBytes,
		})
		return
	}

	sub := h.service.Submit(c.Request.Context(), submit)

	c.JSON(http.StatusAccepted, SubmitNotificationResponse{
		SubmissionID: sub.ID,
		MessageID:    sub.MessageID,
	})
}

// POST /api/v1/tokens
func (h *Handler) RegisterToken(c *gin.Context) {
	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BadRequest(c, "invalid request: "+err.Error(), nil)
		return
	}

	token, err := h.service.OnTokenObserved(c.Request.Context(), req.RecipientID, req.Token, notifications.ParsePlatform(req.Platform))
	switch {
	case err == nil:
	case errors.Is(err, notifications.ErrInvalidTokenFormat):
		apierrors.BadRequest(c, "malformed push token", nil)
		return
	case errors.Is(err, notifications.ErrUnknownRecipient):
		apierrors.NotFound(c, "recipient not found", map[string]interface{}{"recipient_id": req.RecipientID})
		return
	default:
		h.logger.WithContext(c.Request.Context()).Error("failed to register push token",
			slog.String("recipient_id", req.RecipientID),
			slog.String("error", err.Error()))
		apierrors.Internal(c, "failed to register push token", nil)
		return
	}

	c.JSON(http.StatusOK, TokenResponse{DeviceToken: token, TokenPrefix: token.TokenPrefix()})
}

// GET /api/v1/tokens/health
func (h *Handler) TokenHealth(c *gin.Context) {
	health, err := h.service.GetTokenHealth(c.Request.Context())
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error("failed to read token health", slog.String("error", err.Error()))
		apierrors.Internal(c, "failed to read token health", nil)
		return
	}
	c.JSON(http.StatusOK, health)
}

// GET /api/v1/deliveries/failures?limit=N
func (h *Handler) RecentFailures(c *gin.Context) {
	limit := defaultFailuresLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			apierrors.BadRequest(c, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxFailuresLimit)
	}

	failures, err := h.service.GetRecentFailures(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error("failed to read delivery failures", slog.String("error", err.Error()))
		apierrors.Internal(c, "failed to read delivery failures", nil)
		return
	}
	if failures == nil {
		failures = []notifications.DeliveryAttempt{}
	}

	c.JSON(http.StatusOK, gin.H{"failures": failures})
}

// GET /health
func (h *Handler) Health(c *gin.Context) {
	if h.db != nil {
		if err := h.db.Ping(c.Request.Context()); err != nil {
			h.logger.WithContext(c.Request.Context()).Warn("health check failed", slog.String("error", err.Error()))
			apierrors.ServiceUnavailable(c, "database unavailable", nil)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
