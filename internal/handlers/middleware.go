package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"transfer_cavity_lock/internal/models"
	"transfer_cavity_lock/internal/service"
)

const identityCtxKey = "identity"

// operatorIdentity rejects requests without a valid bearer token. The
// identity is stored in the gin context and in the request context, where
// the services pick it up to attribute commands.
func (h *Handler) operatorIdentity(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "missing Authorization header",
		})
		return
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "invalid Authorization header format",
		})
		return
	}

	id, err := h.services.ParseToken(parts[1])
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "invalid or expired token",
		})
		return
	}

	c.Set(identityCtxKey, id)
	c.Request = c.Request.WithContext(service.WithIdentity(c.Request.Context(), id))
	c.Next()
}

// requireOperator lets only accounts with the operator role through.
func (h *Handler) requireOperator(c *gin.Context) {
	id := identity(c)
	if !id.CanCommand() {
		if h.log != nil {
			h.log.Infow("command_forbidden", "operator", id.Username, "role", id.Role, "path", c.FullPath())
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "operator role required",
		})
		return
	}
	c.Next()
}

// identity returns the account stored by operatorIdentity.
func identity(c *gin.Context) models.Identity {
	v, _ := c.Get(identityCtxKey)
	id, _ := v.(models.Identity)
	return id
}
