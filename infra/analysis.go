package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ducnh/coursereel/config"
	"github.com/hashicorp/go-retryablehttp"
)

// AnalysisService calls the AI content-analysis service. Unlike extraction
// and transcription this is a synchronous request: the analysis of an
// already-transcribed module finishes within one call.
type AnalysisService struct {
	BaseURL string
	client  *retryablehttp.Client
}

type AnalysisRequest struct {
	ModuleID       string   `json:"module_id"`
	Title          string   `json:"title"`
	Frames         []string `json:"frames"`
	TranscriptPath string   `json:"transcript_path"`
}

type AnalysisResult struct {
	Summary string   `json:"summary"`
	Topics  []string `json:"topics"`
}

func InitAnalysisService(cfg *config.EnvConfig) *AnalysisService {
	if cfg.ExternalService.AIServiceURL == "" {
		panic("AI service URL is not configured")
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 4
	client.RetryWaitMin = 2 * time.Second
	client.RetryWaitMax = 30 * time.Second
	client.HTTPClient.Timeout = 2 * time.Minute
	client.Logger = nil

	return &AnalysisService{
		BaseURL: cfg.ExternalService.AIServiceURL,
		client:  client,
	}
}

// Analyze runs content analysis over a module's extracted artifacts.
func (s *AnalysisService) Analyze(ctx context.Context, request AnalysisRequest) (*AnalysisResult, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/v1/analysis", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call analysis service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("analysis service returned %d: %s", resp.StatusCode, raw)
	}

	var result AnalysisResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode analysis response: %w", err)
	}

	return &result, nil
}
