package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/gvmbt/pvndora-shop/internal/auth"
	"github.com/gvmbt/pvndora-shop/internal/models"
)

// UserIDKey is the gin context key the auth middleware stamps.
const UserIDKey = "userID"

// Auth validates the Bearer token and stamps the user ID into the request
// context.
func Auth(tokens *auth.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format (must be Bearer)"})
			c.Abort()
			return
		}

		userID, err := tokens.Validate(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// ManagerOnly lets only users with the manager role through. Must run after
// Auth.
func ManagerOnly(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)

		var role string
		err := db.GetContext(c, &role, "SELECT role FROM users WHERE id = ?", userID)
		if err != nil || role != models.RoleManager {
			c.JSON(http.StatusForbidden, gin.H{"error": "Manager access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// UserID reads the authenticated user ID stamped by Auth.
func UserID(c *gin.Context) int64 {
	v, _ := c.Get(UserIDKey)
	id, _ := v.(int64)
	return id
}
