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

// Fixed extraction parameters for every job
const (
	ExtractionSamplingRate = 0.5 // frames per second
	ExtractionTargetWidth  = 1280
)

// ExtractionService is the client for the external frame-extraction service:
// submit a job, poll it until it reports a terminal state.
type ExtractionService struct {
	BaseURL string
	client  *retryablehttp.Client
	poll    *http.Client
}

// ExtractionJobStatus is one poll response
type ExtractionJobStatus struct {
	Status string   `json:"status"` // queued | processing | completed | failed
	Frames []string `json:"frames,omitempty"`
	Error  string   `json:"error,omitempty"`
}

func InitExtractionService(cfg *config.EnvConfig) *ExtractionService {
	if cfg.ExternalService.ExtractionServiceURL == "" {
		panic("Extraction service URL is not configured")
	}

	// Job creation is retried on transient responses (429/5xx), up to five
	// attempts with exponential backoff. Polling is not retried; a failed
	// poll is just observed again on the next tick.
	client := retryablehttp.NewClient()
	client.RetryMax = 4
	client.RetryWaitMin = 2 * time.Second
	client.RetryWaitMax = 30 * time.Second
	client.Logger = nil

	return &ExtractionService{
		BaseURL: cfg.ExternalService.ExtractionServiceURL,
		client:  client,
		poll:    &http.Client{Timeout: 30 * time.Second},
	}
}

type submitExtractionRequest struct {
	VideoURL     string  `json:"video_url"`
	SamplingRate float64 `json:"sampling_rate"`
	TargetWidth  int     `json:"target_width"`
}

type submitExtractionResponse struct {
	JobID string `json:"job_id"`
}

// SubmitJob creates an extraction job for the given video reference and
// returns the job id.
func (s *ExtractionService) SubmitJob(ctx context.Context, videoURL string) (string, error) {
	payload := submitExtractionRequest{
		VideoURL:     videoURL,
		SamplingRate: ExtractionSamplingRate,
		TargetWidth:  ExtractionTargetWidth,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode extraction request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/v1/extractions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to submit extraction job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("extraction service returned %d: %s", resp.StatusCode, raw)
	}

	var response submitExtractionResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode extraction response: %w", err)
	}

	return response.JobID, nil
}

// PollJob fetches the current status of an extraction job.
func (s *ExtractionService) PollJob(ctx context.Context, jobID string) (*ExtractionJobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/v1/extractions/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}

	resp, err := s.poll.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to poll extraction job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("extraction poll returned %d: %s", resp.StatusCode, raw)
	}

	var status ExtractionJobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode poll response: %w", err)
	}

	return &status, nil
}

// Probe checks service availability for the batch pre-flight.
func (s *ExtractionService) Probe(ctx context.Context) error {
	return probeHealth(ctx, s.poll, s.BaseURL)
}

// probeHealth does a short GET /health against an external collaborator.
func probeHealth(ctx context.Context, client *http.Client, baseURL string) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health probe returned %d", resp.StatusCode)
	}
	return nil
}
