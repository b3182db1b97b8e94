package presence

import (
	"context"
	"net/http"
	"time"

	"dealerhub-realtime-svc/src/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler serves read-only presence queries for polling clients and admins.
type Handler interface {
	GetTenantPresence(c *gin.Context)
	GetOnlineUsers(c *gin.Context)
	GetUserStatus(c *gin.Context)
}

type handler struct {
	config *config.Configuration
	store  Store
}

func NewHandler(cfg *config.Configuration, store Store) Handler {
	return &handler{
		config: cfg,
		store:  store,
	}
}

func (h *handler) timeout(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), time.Duration(h.config.App.Timeout)*time.Second)
}

func (h *handler) GetTenantPresence(c *gin.Context) {
	ctx, cancel := h.timeout(c)
	defer cancel()

	tenantID := c.Param("tenantId")
	users := h.store.GetTenantUsersPresence(ctx, tenantID)

	online := 0
	for _, u := range users {
		if u.IsOnline {
			online++
		}
	}

	logrus.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"members":   len(users),
		"online":    online,
	}).Debug("Tenant presence retrieved")

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"users":       users,
			"onlineCount": online,
			"totalCount":  len(users),
		},
		"message": "Tenant presence retrieved successfully",
	})
}

func (h *handler) GetOnlineUsers(c *gin.Context) {
	ctx, cancel := h.timeout(c)
	defer cancel()

	tenantID := c.Param("tenantId")
	users := h.store.GetOnlineUsers(ctx, tenantID)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"users": users,
			"count": len(users),
		},
		"message": "Online users retrieved successfully",
	})
}

func (h *handler) GetUserStatus(c *gin.Context) {
	ctx, cancel := h.timeout(c)
	defer cancel()

	tenantID := c.Param("tenantId")
	userID := c.Param("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "User ID is required",
			"message": "Please provide a valid user ID",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"userId":   userID,
			"isOnline": h.store.IsOnline(ctx, userID, tenantID),
		},
	})
}
