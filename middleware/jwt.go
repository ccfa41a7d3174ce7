package middleware

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload. Identity validation happens upstream (at the
// login gateway); this service only needs the character the token speaks for.
type Claims struct {
	CharacterID   string `json:"character_id"`
	CharacterName string `json:"character_name"`
	jwt.RegisteredClaims
}

// GenerateToken signs a JWT for the given character with the given secret and TTL.
func GenerateToken(characterID, characterName, secret string, ttl time.Duration) (string, error) {
	claims := &Claims{
		CharacterID:   characterID,
		CharacterName: characterName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates a JWT string and returns the claims.
func ParseToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.CharacterID == "" {
		return nil, errors.New("token has no character id")
	}
	return claims, nil
}
