package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditline/internal/authorization"
	obscontext "github.com/smallbiznis/creditline/internal/observability/context"
)

const (
	// HeaderUserID carries the authenticated platform user, set by the gateway
	// in front of this service.
	HeaderUserID      = "X-User-Id"
	contextUserIDKey  = "user_id"
	contextActorKey   = "actor"
	actorTypeUser     = "user"
	defaultCreatedBy  = "api"
	headerRetryAfter  = "Retry-After"
	headerRateLimited = "X-Rate-Limited-Reason"
)

// ActorContext resolves the calling user from HeaderUserID.
func (s *Server) ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID != "" {
			c.Set(contextUserIDKey, userID)
			c.Set(contextActorKey, authorization.UserActor(userID))
			c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), actorTypeUser, userID))
		}
		c.Next()
	}
}

// authorize checks the caller against tenantID, or authorization.PlatformDomain
// for objects that belong to no tenant.
func (s *Server) authorize(c *gin.Context, tenantID, object, action string) error {
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(c.Request.Context(), c.GetString(contextActorKey), tenantID, object, action)
}

// actorID is recorded as created_by / assigned_by on mutations.
func actorID(c *gin.Context) string {
	if userID := strings.TrimSpace(c.GetString(contextUserIDKey)); userID != "" {
		return userID
	}
	return defaultCreatedBy
}
