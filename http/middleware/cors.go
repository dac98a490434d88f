package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ducnh/coursereel/config"
)

// CORSMiddleware allows the upload frontend on the configured domain. In
// development every origin is allowed.
func CORSMiddleware(cfg *config.EnvConfig) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Upload-Offset"},
		ExposeHeaders:    []string{"Upload-Offset"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	if cfg.Environment.Mode == "development" {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	} else {
		corsConfig.AllowOrigins = []string{
			"https://" + cfg.DomainName,
			"https://www." + cfg.DomainName,
		}
	}

	return cors.New(corsConfig)
}
