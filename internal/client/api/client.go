package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/coeditd/coeditd/pkg/api"
)

// ErrNotFound is returned when the server does not know the document.
var ErrNotFound = errors.New("document not found")

// ConflictError is returned when a save loses the compare-and-set race.
// The server applied nothing; Latest carries the winning state so the
// caller can fast-forward.
type ConflictError struct {
	Latest *api.SaveConflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("save conflict: latest version is %d", e.Latest.LatestVersion)
}

// RateLimitedError is returned on 429. RetryAfter is the server's hint;
// zero when the header was missing or malformed.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Client is the HTTP client for the document API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates an API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// SetToken sets the bearer token attached to every request.
func (c *Client) SetToken(token string) {
	c.token = token
}

// CreateDocument creates a blank or pre-filled document.
func (c *Client) CreateDocument(ctx context.Context, req api.CreateDocumentRequest) (*api.CreateDocumentResponse, error) {
	var resp api.CreateDocumentResponse
	err := c.doRequest(ctx, "POST", "/api/v1/documents", req, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("create document request failed: %w", err)
	}
	return &resp, nil
}

// GetDocument fetches the reconciled document state.
func (c *Client) GetDocument(ctx context.Context, documentID string) (*api.DocumentResponse, error) {
	var resp api.DocumentResponse
	url := fmt.Sprintf("/api/v1/documents/%s", documentID)
	err := c.doRequest(ctx, "GET", url, nil, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("get document request failed: %w", err)
	}
	return &resp, nil
}

// SaveDocument submits one conditional save. The op id is sent both in the
// body and as the Idempotency-Key header, so replaying the same request
// after a lost response is safe.
func (c *Client) SaveDocument(ctx context.Context, documentID string, req api.SaveRequest) (*api.SaveAccepted, error) {
	var resp api.SaveAccepted
	url := fmt.Sprintf("/api/v1/documents/%s", documentID)
	headers := map[string]string{api.IdempotencyKeyHeader: req.OpID}
	err := c.doRequest(ctx, "PATCH", url, req, headers, &resp)
	if err != nil {
		return nil, fmt.Errorf("save document request failed: %w", err)
	}
	return &resp, nil
}

// doRequest performs one HTTP exchange, mapping the domain status codes
// (404, 409, 429) to typed errors the caller can match on.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, headers map[string]string, result interface{}) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		conflict := &api.SaveConflict{}
		if err := json.Unmarshal(respBody, conflict); err != nil {
			return fmt.Errorf("failed to decode conflict response: %w", err)
		}
		return &ConflictError{Latest: conflict}
	case http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// parseRetryAfter handles the delay-seconds form of the header.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
