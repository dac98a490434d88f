package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ducnh/coursereel/utils"
)

// UploadAuth guards the upload control plane. Tokens are HMAC-signed and
// carry the "upload" scope.
func (m *Middlewares) UploadAuth(c *gin.Context) {
	tokenString := utils.ExtractToken(c)
	if tokenString == "" {
		utils.JSON401(c, "Unauthorized: missing token")
		c.Abort()
		return
	}

	token, err := utils.ParseToken(tokenString, m.ctrl.Config.EnvConfig)
	if err != nil || !token.Valid {
		utils.JSON401(c, "Unauthorized: invalid token")
		c.Abort()
		return
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		utils.JSON401(c, "Unauthorized: invalid claims")
		c.Abort()
		return
	}

	if scope, _ := claims["scope"].(string); scope != "upload" {
		utils.JSON401(c, "Unauthorized: wrong token scope")
		c.Abort()
		return
	}

	if err := utils.InjectClaimsToContext(c, claims); err != nil {
		utils.JSON401(c, "Unauthorized: "+err.Error())
		c.Abort()
		return
	}

	c.Next()
}
