package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/joshmstewart/bestdayministries-sub013/internal/authorization"
	obscontext "github.com/joshmstewart/bestdayministries-sub013/internal/observability/context"
	"github.com/joshmstewart/bestdayministries-sub013/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	ActorUser = "user"

	contextPrincipalKey = "principal"
)

// AuthRequired authenticates the bearer token and checks the principal may
// perform action on object. It runs before any handler touches state.
func (s *Server) AuthRequired(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authzSvc == nil {
			AbortWithError(c, authorization.ErrForbidden)
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, authorization.ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		principal, err := s.authzSvc.Authenticate(ctx, token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		if err := s.authzSvc.Authorize(ctx, *principal, strings.TrimSpace(object), strings.TrimSpace(action)); err != nil {
			logger.FromContext(ctx).Info("admin request denied",
				zap.String("actor", principal.Actor()),
				zap.String("object", object),
				zap.String("action", action),
			)
			AbortWithError(c, err)
			return
		}

		ctx = obscontext.WithActor(ctx, ActorUser, principal.UserID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextPrincipalKey, *principal)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	if token == "" {
		return "", false
	}
	return token, true
}
