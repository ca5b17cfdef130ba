package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

// RequireAdminJWT validates a grader JWT from the Authorization header.
func RequireAdminJWT(tokens *service.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := extractAndValidateClaims(c, tokens)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if claims.TokenType != service.TokenTypeAdmin {
			response.AbortFail(c, http.StatusForbidden, response.ErrAdminAccessOnly)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// OptionalCandidateJWT accepts anonymous requests, but a token that is
// present must be a valid candidate token.
func OptionalCandidateJWT(tokens *service.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if bearerToken(c) == "" {
			c.Next()
			return
		}

		claims, err := extractAndValidateClaims(c, tokens)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}
		if claims.TokenType != service.TokenTypeCandidate {
			response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// RequireAttemptAccess validates an attempt token (header or ?token=) and
// checks it is scoped to the attempt named by the route param.
// Also used for WebSocket upgrade requests.
func RequireAttemptAccess(tokens *service.TokenService, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		attemptID, err := uuid.Parse(c.Param(param))
		if err != nil {
			response.AbortFail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}

		if bearerToken(c) == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := extractAndValidateClaims(c, tokens)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if !claims.CanAccessAttempt(attemptID) {
			response.AbortFail(c, http.StatusForbidden, response.ErrAttemptAccessOnly)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}

	// Fallback for EventSource (SSE) and WebSocket, which cannot send headers
	return c.Query("token")
}

func extractAndValidateClaims(c *gin.Context, tokens *service.TokenService) (*service.Claims, error) {
	tokenStr := bearerToken(c)
	if tokenStr == "" {
		return nil, fmt.Errorf("authorization header or token query required")
	}
	return tokens.ValidateToken(tokenStr)
}
