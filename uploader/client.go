package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ducnh/coursereel/http/controller/dto"
)

// Client talks to the upload API. Control-plane calls go through a retrying
// HTTP client whose policy matches the transport rules: 429 and 5xx are
// retried with backoff, any other 4xx is not. Data-plane calls (presigned
// PUTs, resumable frames) manage their own retries so the engines can emit
// per-attempt events.
type Client struct {
	BaseURL string
	Token   string

	retry *retryablehttp.Client
	plain *http.Client
}

func NewClient(baseURL, token string) *Client {
	retry := retryablehttp.NewClient()
	retry.RetryMax = 4
	retry.RetryWaitMin = 1 * time.Second
	retry.RetryWaitMax = 30 * time.Second
	retry.Logger = nil

	return &Client{
		BaseURL: baseURL,
		Token:   token,
		retry:   retry,
		plain:   &http.Client{Timeout: 5 * time.Minute},
	}
}

type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

// doJSON runs one control-plane call and decodes the response. Error
// statuses come back as apiError; sentinel translation happens only at the
// endpoints whose protocol defines those statuses, so a 409 from an
// unrelated endpoint is never mistaken for an offset conflict.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.retry.Do(req)
	if err != nil {
		return &TransportError{Retryable: true, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return &apiError{StatusCode: resp.StatusCode, Message: string(raw)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) InitChunked(ctx context.Context, req dto.InitChunkedUploadRequest) (*dto.InitChunkedUploadResponse, error) {
	var resp dto.InitChunkedUploadResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/coursereel/uploads/chunked/init", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) PresignChunk(ctx context.Context, req dto.PresignChunkRequest) (*dto.PresignChunkResponse, error) {
	var resp dto.PresignChunkResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/coursereel/uploads/chunked/presign", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ConfirmChunk(ctx context.Context, req dto.ChunkUploadedRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/coursereel/uploads/chunked/chunk", req, nil)
}

func (c *Client) CompleteChunked(ctx context.Context, req dto.CompleteChunkedUploadRequest) (*dto.CompleteChunkedUploadResponse, error) {
	var resp dto.CompleteChunkedUploadResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/coursereel/uploads/chunked/complete", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) AbortChunked(ctx context.Context, uploadID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/coursereel/uploads/chunked/"+uploadID, nil, nil)
}

func (c *Client) CreateResumable(ctx context.Context, req dto.CreateResumableRequest) (*dto.CreateResumableResponse, error) {
	var resp dto.CreateResumableResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/coursereel/uploads/resumable", req, &resp); err != nil {
		var ae *apiError
		if errors.As(err, &ae) && ae.StatusCode == http.StatusRequestEntityTooLarge {
			return nil, ErrPayloadTooLarge
		}
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ResumableOffset(ctx context.Context, uploadID string) (*dto.ResumableOffsetResponse, error) {
	var resp dto.ResumableOffsetResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/coursereel/uploads/resumable/"+uploadID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PatchFrame sends one resumable frame at the given offset. No automatic
// retries: the transport decides per attempt, because a 409 must discard the
// whole session rather than repeat the call.
func (c *Client) PatchFrame(ctx context.Context, uploadID string, offset int64, frame []byte) (*dto.ResumableOffsetResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		c.BaseURL+"/api/v1/coursereel/uploads/resumable/"+uploadID, bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("failed to create frame request: %w", err)
	}
	req.Header.Set("Content-Type", "application/offset+octet-stream")
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Upload-Offset", strconv.FormatInt(offset, 10))
	req.ContentLength = int64(len(frame))

	resp, err := c.plain.Do(req)
	if err != nil {
		return nil, &TransportError{Retryable: true, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return nil, ErrOffsetConflict
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return nil, ErrPayloadTooLarge
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		raw, _ := io.ReadAll(resp.Body)
		return nil, &TransportError{Retryable: true, Message: fmt.Sprintf("server returned %d: %s", resp.StatusCode, raw)}
	case resp.StatusCode >= 400:
		raw, _ := io.ReadAll(resp.Body)
		return nil, &TransportError{Retryable: false, Message: fmt.Sprintf("server returned %d: %s", resp.StatusCode, raw)}
	}

	var out dto.ResumableOffsetResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode frame response: %w", err)
	}
	return &out, nil
}

// PutPresigned streams one byte range to a presigned storage URL
func (c *Client) PutPresigned(ctx context.Context, url string, data io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, data)
	if err != nil {
		return fmt.Errorf("failed to create put request: %w", err)
	}
	req.ContentLength = size

	resp, err := c.plain.Do(req)
	if err != nil {
		return &TransportError{Retryable: true, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return &TransportError{Retryable: retryable, Message: fmt.Sprintf("storage returned %d: %s", resp.StatusCode, raw)}
	}
	return nil
}

// StatObject probes whether an object is actually readable in storage
func (c *Client) StatObject(ctx context.Context, bucket, path string) (*dto.StatObjectResponse, error) {
	var resp dto.StatObjectResponse
	query := url.Values{"bucket": {bucket}, "path": {path}}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/coursereel/uploads/stat?"+query.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ManifestExists probes that a chunk manifest is readable server-side
func (c *Client) ManifestExists(ctx context.Context, manifestID string) error {
	return c.doJSON(ctx, http.MethodGet, "/api/v1/coursereel/manifests/"+manifestID, nil, nil)
}

func (c *Client) BatchHealth(ctx context.Context) (*dto.HealthResponse, error) {
	var resp dto.HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/coursereel/health/batch", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) FinalizeCourse(ctx context.Context, req dto.FinalizeCourseRequest) (*dto.FinalizeCourseResponse, error) {
	var resp dto.FinalizeCourseResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/coursereel/courses/finalize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
