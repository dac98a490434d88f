package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ducnh/coursereel/utils"
)

// StreamAuth guards manifest reads. The pipeline signs a token per manifest
// when it hands a stream URL to an external service; the token only opens
// the one manifest it names.
func (m *Middlewares) StreamAuth(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		tokenString = utils.ExtractToken(c)
	}
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

	if scope, _ := claims["scope"].(string); scope != "manifest_read" {
		utils.JSON401(c, "Unauthorized: wrong token scope")
		c.Abort()
		return
	}

	if manifestID, _ := claims["manifest_id"].(string); manifestID != c.Param("manifest_id") {
		utils.JSON401(c, "Unauthorized: token not valid for this manifest")
		c.Abort()
		return
	}

	c.Next()
}
