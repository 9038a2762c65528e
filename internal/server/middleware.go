package server

import (
	"net/http"
	"strings"

	"github.com/fleetsutra/fastag/internal/auth"
	"github.com/gin-gonic/gin"
)

const (
	contextUserIDKey = "auth.user_id"
	contextRoleKey   = "auth.role"
)

// AuthRequired verifies the bearer token and stashes the caller's claims
// on the request context.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		claims, err := s.authSvc.Verify(token)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, claims.UserID)
		c.Set(contextRoleKey, claims.Role)
		c.Next()
	}
}

// AdminRequired rejects tokens without the admin role. Runs after
// AuthRequired, which stashes the verified claims.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if callerRole(c) != auth.RoleAdmin {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func callerUserID(c *gin.Context) int64 {
	value, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0
	}
	userID, _ := value.(int64)
	return userID
}

func callerRole(c *gin.Context) string {
	value, ok := c.Get(contextRoleKey)
	if !ok {
		return ""
	}
	role, _ := value.(string)
	return role
}

type devTokenRequest struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// IssueDevToken mints a token for local development. Only registered when
// the service runs in a development environment.
func (s *Server) IssueDevToken(c *gin.Context) {
	var req devTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID <= 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	token, expiresAt, err := s.authSvc.Issue(req.UserID, req.Role)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"token":      token,
		"expires_at": expiresAt,
	}})
}
