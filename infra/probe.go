package infra

import (
	"context"
	"net/http"
	"time"
)

var probeClient = &http.Client{Timeout: 5 * time.Second}

// ProbeURL health-checks an external collaborator that has no dedicated
// client (email, AI analysis).
func ProbeURL(ctx context.Context, baseURL string) error {
	return probeHealth(ctx, probeClient, baseURL)
}
