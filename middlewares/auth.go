package middlewares

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"linguahub/internal/apperr"
	"linguahub/internal/identity"
	"linguahub/internal/logger"
	"linguahub/models"
)

// Context keys set by AuthMiddleware
const (
	UserIDKey    = "userID"    // primitive.ObjectID
	UserIDHexKey = "userIDHex" // string
	EmailKey     = "email"
	IsAdminKey   = "isAdmin"
	RoleKey      = "role"
)

// LearnerResolver maps a verified identity to a learner record
type LearnerResolver interface {
	ResolveLearner(ctx context.Context, id identity.Identity) (*models.User, error)
}

// AuthMiddleware verifies the bearer token and loads the learner into the context
func AuthMiddleware(verifier identity.Verifier, resolver LearnerResolver, log *logger.Logger) gin.HandlerFunc {
	return authenticate(verifier, resolver, log, false)
}

// WebSocketAuthMiddleware also accepts the token as a "token" query parameter,
// since browsers cannot set headers on websocket upgrades.
func WebSocketAuthMiddleware(verifier identity.Verifier, resolver LearnerResolver, log *logger.Logger) gin.HandlerFunc {
	return authenticate(verifier, resolver, log, true)
}

func authenticate(verifier identity.Verifier, resolver LearnerResolver, log *logger.Logger, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				AbortWithError(c, apperr.Unauthorized("Invalid Authorization token format"))
				return
			}
			token = parts[1]
		}
		if token == "" && allowQuery {
			token = c.Query("token")
		}
		if token == "" {
			AbortWithError(c, apperr.Unauthorized("Missing Authorization token"))
			return
		}

		id, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, identity.ErrTokenExpired) {
				AbortWithError(c, apperr.Unauthorized("Token has expired"))
				return
			}
			if !errors.Is(err, identity.ErrInvalidToken) {
				log.Warn("identity provider error", "error", err)
			}
			AbortWithError(c, apperr.Unauthorized("Invalid or expired token"))
			return
		}

		user, err := resolver.ResolveLearner(c.Request.Context(), id)
		if err != nil {
			log.Error("failed to resolve learner", "subject", id.Subject, "error", err)
			AbortWithError(c, err)
			return
		}

		c.Set(UserIDKey, user.ID)
		c.Set(UserIDHexKey, user.ID.Hex())
		c.Set(EmailKey, user.Email)
		c.Set(IsAdminKey, user.IsAdmin)
		c.Set(RoleKey, user.Role)
		c.Next()
	}
}

// AbortWithError renders the API error envelope and stops the chain
func AbortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), ErrorBody(err))
}

// ErrorBody is the JSON error envelope shared by middlewares and controllers
func ErrorBody(err error) gin.H {
	body := gin.H{
		"kind":      string(apperr.KindOf(err)),
		"retryable": apperr.IsRetryable(err),
	}
	if e, ok := apperr.As(err); ok {
		body["message"] = e.Message
		if e.Kind == apperr.KindResourceExhausted {
			body["minutesUntilNextHeart"] = e.RetryAfterMinutes
		}
	} else {
		body["message"] = http.StatusText(http.StatusInternalServerError)
	}
	return gin.H{"error": body}
}
