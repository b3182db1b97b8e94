package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"dealerhub-realtime-svc/src/internal/auth"
	"dealerhub-realtime-svc/src/internal/models"
	"dealerhub-realtime-svc/src/internal/user"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Context keys set by RequireAuth.
const (
	ContextCognitoSub = "cognito_sub"
	ContextUserID     = "user_id"
	ContextUserEmail  = "user_email"
)

// ActivityRefresher is the presence capability used by TrackActivity.
type ActivityRefresher interface {
	UpdateActivity(ctx context.Context, userID, tenantID string)
}

// AuthMiddleware handles authentication and tenant scoping
type AuthMiddleware struct {
	verifier auth.Verifier
	users    user.Repository
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(verifier auth.Verifier, users user.Repository) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		users:    users,
	}
}

// RequireAuth validates the bearer token and resolves the internal user id
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			logrus.Debug("Authorization header missing or malformed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is required",
			})
			return
		}

		claims, err := m.verifier.Verify(token)
		if err != nil {
			logrus.WithError(err).Warn("JWT token validation failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		u, err := m.users.FindByCognitoSub(c.Request.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, models.ErrUserNotFound) {
				logrus.WithField("cognito_sub", claims.Subject).Warn("Token subject has no user")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "User not found",
				})
				return
			}
			logrus.WithError(err).Error("User lookup failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "User lookup error",
			})
			return
		}

		c.Set(ContextCognitoSub, claims.Subject)
		c.Set(ContextUserID, u.ID)
		c.Set(ContextUserEmail, claims.Email)

		logrus.WithFields(logrus.Fields{
			"user_id":     u.ID,
			"cognito_sub": claims.Subject,
		}).Debug("User authenticated successfully")

		c.Next()
	}
}

// RequireTenantAccess rejects callers that are not active members of the
// :tenantId route parameter. Must run after RequireAuth.
func (m *AuthMiddleware) RequireTenantAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(ContextUserID)
		if userID == "" {
			logrus.Error("User id not found in context - ensure RequireAuth middleware runs first")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		tenantID := c.Param("tenantId")
		err := user.RequireMembership(c.Request.Context(), m.users, tenantID, userID)
		switch {
		case err == nil:
		case errors.Is(err, models.ErrInvalidParams):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "Tenant ID is required",
			})
			return
		case errors.Is(err, models.ErrNotTenantMember):
			logrus.WithError(err).WithFields(logrus.Fields{
				"user_id":   userID,
				"tenant_id": tenantID,
			}).Warn("User attempted to access tenant without membership")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Access forbidden - not a member of this tenant",
			})
			return
		default:
			logrus.WithError(err).Error("Tenant membership check failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Tenant access check error",
			})
			return
		}

		c.Next()
	}
}

// TrackActivity refreshes the caller's presence without blocking the request.
func TrackActivity(presence ActivityRefresher, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(ContextUserID)
		tenantID := c.Param("tenantId")
		if userID != "" && tenantID != "" {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()
				presence.UpdateActivity(ctx, userID, tenantID)
			}()
		}
		c.Next()
	}
}
