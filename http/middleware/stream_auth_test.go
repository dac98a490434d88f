package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducnh/coursereel/config"
	"github.com/ducnh/coursereel/http/controller"
	"github.com/ducnh/coursereel/utils"
)

func newStreamAuthRouter(t *testing.T) (*gin.Engine, *config.EnvConfig) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{EnvConfig: &config.EnvConfig{}}
	cfg.EnvConfig.JWT.SecretKey = "stream-auth-test-secret"
	cfg.EnvConfig.JWT.Expire = 3600
	cfg.EnvConfig.Environment.Mode = "development"

	middles, err := NewMiddlewares(&controller.Controller{Config: cfg})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/manifests/:manifest_id/stream", middles.StreamAuth, func(c *gin.Context) {
		c.String(http.StatusOK, "bytes")
	})
	return r, cfg.EnvConfig
}

func streamStatus(r *gin.Engine, manifestID, token string) int {
	target := "/manifests/" + manifestID + "/stream"
	if token != "" {
		target += "?token=" + url.QueryEscape(token)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestStreamAuthAcceptsScopedToken(t *testing.T) {
	r, cfg := newStreamAuthRouter(t)

	token, err := utils.SignManifestToken("mani-1", time.Hour, cfg)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, streamStatus(r, "mani-1", token))
}

func TestStreamAuthRejectsMissingToken(t *testing.T) {
	r, _ := newStreamAuthRouter(t)

	assert.Equal(t, http.StatusUnauthorized, streamStatus(r, "mani-1", ""))
}

func TestStreamAuthRejectsTokenForOtherManifest(t *testing.T) {
	r, cfg := newStreamAuthRouter(t)

	token, err := utils.SignManifestToken("mani-1", time.Hour, cfg)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, streamStatus(r, "mani-2", token))
}

func TestStreamAuthRejectsUploadScopeToken(t *testing.T) {
	r, cfg := newStreamAuthRouter(t)

	// A control-plane token must not open the data plane.
	token, err := utils.SignUploadToken("user-1", cfg)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, streamStatus(r, "mani-1", token))
}

func TestStreamAuthRejectsExpiredToken(t *testing.T) {
	r, cfg := newStreamAuthRouter(t)

	token, err := utils.SignManifestToken("mani-1", -time.Minute, cfg)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, streamStatus(r, "mani-1", token))
}
