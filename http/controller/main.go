package controller

import (
	"github.com/ducnh/coursereel/config"
	"github.com/ducnh/coursereel/infra"
	"github.com/ducnh/coursereel/repository"
)

type Controller struct {
	Config     *config.Config
	Infra      *infra.Infra
	Repository *repository.Repository
}

func NewController(cfg *config.Config, infra *infra.Infra, repo *repository.Repository) *Controller {
	return &Controller{
		Config:     cfg,
		Infra:      infra,
		Repository: repo,
	}
}
