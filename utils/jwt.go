package utils

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ducnh/coursereel/config"
)

func ExtractToken(c *gin.Context) string {
	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token
	}
	authHeader := c.GetHeader("Authorization")
	parts := strings.Fields(authHeader)
	if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
		return parts[1]
	}
	return ""
}

func ParseToken(tokenString string, config *config.EnvConfig) (*jwt.Token, error) {
	secret := []byte(config.JWT.SecretKey)
	return jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
}

// SignUploadToken issues an HMAC token scoped to the upload control plane
func SignUploadToken(userID string, config *config.EnvConfig) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"scope":   "upload",
		"exp":     time.Now().Add(time.Duration(config.JWT.Expire) * time.Second).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.JWT.SecretKey))
}

// SignManifestToken issues a short-lived token letting an external service
// read exactly one manifest stream. Carried as a query parameter because
// the services fetch plain URLs.
func SignManifestToken(manifestID string, ttl time.Duration, config *config.EnvConfig) (string, error) {
	claims := jwt.MapClaims{
		"manifest_id": manifestID,
		"scope":       "manifest_read",
		"exp":         time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.JWT.SecretKey))
}

func InjectClaimsToContext(c *gin.Context, claims jwt.MapClaims) error {
	userID, ok := claims["user_id"].(string)
	if !ok {
		return errors.New("invalid user_id claim")
	}
	c.Set("user_id", userID)
	return nil
}
