package controller

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func allHealthy() map[string]error {
	return map[string]error{
		"database":      nil,
		"storage":       nil,
		"queue":         nil,
		"extraction":    nil,
		"transcription": nil,
		"email":         nil,
		"ai_analysis":   nil,
	}
}

func TestHealthAllDependenciesUpIsReady(t *testing.T) {
	resp := healthFromProbes(allHealthy(), false)

	assert.True(t, resp.ReadyForBatch)
	assert.Empty(t, resp.Warnings)
	for name, status := range resp.Dependencies {
		assert.Equal(t, depOK, status, name)
	}
}

func TestHealthAnyDependencyDownBlocksBatch(t *testing.T) {
	// Each of these feeds a pipeline step or delivery the batch depends on;
	// an unavailable one means the uploaded bytes cannot be finished.
	for _, name := range []string{"database", "storage", "queue", "extraction", "transcription", "email", "ai_analysis"} {
		results := allHealthy()
		results[name] = errors.New("connection refused")

		resp := healthFromProbes(results, false)

		assert.False(t, resp.ReadyForBatch, "%s down must block the batch", name)
		assert.Equal(t, depFail, resp.Dependencies[name], name)
	}
}

func TestHealthPoolPressureWarnsWithoutBlocking(t *testing.T) {
	resp := healthFromProbes(allHealthy(), true)

	assert.True(t, resp.ReadyForBatch)
	assert.Equal(t, depDegraded, resp.Dependencies["database"])
	assert.NotEmpty(t, resp.Warnings)
}

func TestHealthUnreachableDatabaseOutranksPoolPressure(t *testing.T) {
	results := allHealthy()
	results["database"] = errors.New("no route to host")

	resp := healthFromProbes(results, true)

	assert.False(t, resp.ReadyForBatch)
	assert.Equal(t, depFail, resp.Dependencies["database"])
}
