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

// TranscriptionService is the client for the external transcription service.
// Same submit/poll shape as the extraction service.
type TranscriptionService struct {
	BaseURL string
	client  *retryablehttp.Client
	poll    *http.Client
}

type TranscriptionJobStatus struct {
	Status         string `json:"status"` // queued | processing | completed | failed
	TranscriptPath string `json:"transcript_path,omitempty"`
	Error          string `json:"error,omitempty"`
}

func InitTranscriptionService(cfg *config.EnvConfig) *TranscriptionService {
	if cfg.ExternalService.TranscriptionServiceURL == "" {
		panic("Transcription service URL is not configured")
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 4
	client.RetryWaitMin = 2 * time.Second
	client.RetryWaitMax = 30 * time.Second
	client.Logger = nil

	return &TranscriptionService{
		BaseURL: cfg.ExternalService.TranscriptionServiceURL,
		client:  client,
		poll:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SubmitJob creates a transcription job for a video reference.
func (s *TranscriptionService) SubmitJob(ctx context.Context, videoURL string) (string, error) {
	body, err := json.Marshal(map[string]string{"video_url": videoURL})
	if err != nil {
		return "", fmt.Errorf("failed to encode transcription request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/v1/transcriptions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create transcription request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to submit transcription job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, raw)
	}

	var response struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode transcription response: %w", err)
	}

	return response.JobID, nil
}

// PollJob fetches the current status of a transcription job.
func (s *TranscriptionService) PollJob(ctx context.Context, jobID string) (*TranscriptionJobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/v1/transcriptions/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}

	resp, err := s.poll.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to poll transcription job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("transcription poll returned %d: %s", resp.StatusCode, raw)
	}

	var status TranscriptionJobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode poll response: %w", err)
	}

	return &status, nil
}

// Probe checks service availability for the batch pre-flight.
func (s *TranscriptionService) Probe(ctx context.Context) error {
	return probeHealth(ctx, s.poll, s.BaseURL)
}
