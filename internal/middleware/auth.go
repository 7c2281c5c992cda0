package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ReviewerKey is the gin context key holding the authenticated reviewer.
const ReviewerKey = "reviewer"

// Claims are the JWT claims issued to reviewers. The registered subject is
// the reviewer's name.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware creates a Gin middleware for JWT authentication. An empty
// secret disables authentication.
func AuthMiddleware(secret string, logger *zap.Logger) gin.HandlerFunc {
	if secret == "" {
		logger.Warn("JWT secret is empty, API authentication is disabled")
		return func(c *gin.Context) { c.Next() }
	}
	key := []byte(secret)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer <token>"})
			c.Abort()
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return key, nil
		})

		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
				c.Abort()
				return
			}
			logger.Warn("Invalid JWT token", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		if !token.Valid || claims.Subject == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set(ReviewerKey, claims.Subject)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// Reviewer returns the authenticated reviewer, or nil when authentication
// is disabled.
func Reviewer(c *gin.Context) *string {
	v, ok := c.Get(ReviewerKey)
	if !ok {
		return nil
	}
	name, ok := v.(string)
	if !ok || name == "" {
		return nil
	}
	return &name
}
