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

// NotifyService sends the course-ready mail through the email service.
// Delivery is best effort: a course is complete whether or not the mail
// goes out.
type NotifyService struct {
	BaseURL string
	client  *retryablehttp.Client
}

func InitNotifyService(cfg *config.EnvConfig) *NotifyService {
	if cfg.ExternalService.EmailServiceURL == "" {
		panic("Email service URL is not configured")
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = nil

	return &NotifyService{
		BaseURL: cfg.ExternalService.EmailServiceURL,
		client:  client,
	}
}

// SendCourseReady notifies the author that all modules finished processing.
func (s *NotifyService) SendCourseReady(ctx context.Context, email, courseTitle string) error {
	body, err := json.Marshal(map[string]string{
		"to":       email,
		"template": "course_ready",
		"title":    courseTitle,
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/v1/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("email service returned %d: %s", resp.StatusCode, raw)
	}
	return nil
}
