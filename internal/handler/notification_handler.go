package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tradecomply/internal/repository"
)

const (
	defaultNotificationLimit = 5
	maxNotificationLimit     = 50
)

// GetNotifications returns the newest unread alerts
func (h *Handlers) GetNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultNotificationLimit)))
	if limit < 1 || limit > maxNotificationLimit {
		limit = defaultNotificationLimit
	}

	alerts, err := h.alerts.ListUnacknowledged(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to fetch notifications")
		return
	}

	responses := make([]NotificationResponse, 0, len(alerts))
	for _, alert := range alerts {
		responses = append(responses, toNotificationResponse(alert))
	}
	c.JSON(http.StatusOK, responses)
}

// AcknowledgeNotification marks an alert as read
func (h *Handlers) AcknowledgeNotification(c *gin.Context) {
	if err := h.alerts.Acknowledge(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			abortWithError(c, http.StatusNotFound, "not_found", "Notification not found")
			return
		}
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to update notification")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
