package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/ducnh/coursereel/http/controller"
)

type Middlewares struct {
	ctrl *controller.Controller

	CORSMiddleware gin.HandlerFunc
}

func NewMiddlewares(ctrl *controller.Controller) (*Middlewares, error) {
	return &Middlewares{
		ctrl:           ctrl,
		CORSMiddleware: CORSMiddleware(ctrl.Config.EnvConfig),
	}, nil
}
