package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/polyphonica/polyphonica/internal/config"
)

const claimsKey = "authClaims"

// RequireAuth validates the bearer token and stores the claims on the context.
func RequireAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			return
		}

		tokenString, err := ExtractTokenFromHeader(authHeader)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization header",
			})
			return
		}

		claims, err := ValidateToken(cfg, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
			})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireStaff rejects non-staff users. Must run after RequireAuth.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil || !claims.IsStaff {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Staff access required",
			})
			return
		}
		c.Next()
	}
}

// ClaimsFromContext returns the validated claims, or nil outside RequireAuth.
func ClaimsFromContext(c *gin.Context) *Claims {
	value, exists := c.Get(claimsKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*Claims)
	if !ok {
		return nil
	}
	return claims
}
