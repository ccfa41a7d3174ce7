package middleware

import (
	"net/http"
	"strings"

	"github.com/aurora-mmo/social-server/config"
	"github.com/gin-gonic/gin"
)

const (
	CharacterIDKey   = "character_id"
	CharacterNameKey = "character_name"
)

// Auth validates the Bearer JWT and stores the character identity in the
// request context. Token issuance is the login gateway's job; the social
// service trusts any token signed with the shared secret.
func Auth(sec config.SecurityConfig) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx.Set(CharacterIDKey, claims.CharacterID)
		ctx.Set(CharacterNameKey, claims.CharacterName)
		ctx.Next()
	}
}

// GetCharacterID retrieves the authenticated character ID from the Gin context.
func GetCharacterID(c *gin.Context) string {
	if v, exists := c.Get(CharacterIDKey); exists {
		return v.(string)
	}
	return ""
}

// GetCharacterName retrieves the authenticated character's display name.
func GetCharacterName(c *gin.Context) string {
	if v, exists := c.Get(CharacterNameKey); exists {
		return v.(string)
	}
	return ""
}
