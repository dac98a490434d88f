package controller

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/ducnh/coursereel/http/controller/dto"
	"github.com/ducnh/coursereel/infra"
	"github.com/ducnh/coursereel/utils"
)

const (
	depOK       = "ok"
	depDegraded = "degraded"
	depFail     = "fail"
)

// BatchHealth is the pre-flight check clients run before starting a batch
// upload. Every probed dependency is hard: an unavailable one blocks the
// batch, because bytes uploaded into a pipeline that cannot finish them are
// bytes wasted. The one soft case is a reachable database under pool
// pressure, which only warns.
func (ctrl *Controller) BatchHealth(c *gin.Context) {
	ctx := c.Request.Context()
	ext := ctrl.Config.EnvConfig.ExternalService

	var queueErr error
	if !ctrl.Infra.RabbitMQ.Healthy() {
		queueErr = errors.New("channel closed")
	}

	results := map[string]error{
		"database":      ctrl.Infra.Postgres.Ping(),
		"storage":       ctrl.Infra.Minio.Healthy(ctx),
		"queue":         queueErr,
		"extraction":    ctrl.Infra.Extraction.Probe(ctx),
		"transcription": ctrl.Infra.Transcription.Probe(ctx),
		"email":         infra.ProbeURL(ctx, ext.EmailServiceURL),
		"ai_analysis":   infra.ProbeURL(ctx, ext.AIServiceURL),
	}

	utils.JSON200(c, healthFromProbes(results, ctrl.Infra.Postgres.PoolDegraded()))
}

// healthFromProbes folds per-dependency probe results into the pre-flight
// response. Any probe failure marks the batch not ready.
func healthFromProbes(results map[string]error, poolDegraded bool) dto.HealthResponse {
	deps := make(map[string]string, len(results))
	warnings := make([]string, 0)
	ready := true

	for name, err := range results {
		if err != nil {
			deps[name] = depFail
			ready = false
			continue
		}
		deps[name] = depOK
	}

	if poolDegraded && deps["database"] == depOK {
		deps["database"] = depDegraded
		warnings = append(warnings, "database connection pool under pressure")
	}

	return dto.HealthResponse{
		Dependencies:  deps,
		ReadyForBatch: ready,
		Warnings:      warnings,
	}
}
