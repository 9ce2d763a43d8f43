// Package transport is the HTTP client for the remote sync API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
)

// Result statuses reported by the server per pushed operation.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation is one queued mutation on the wire.
type Operation struct {
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	TableName string          `json:"tableName"`
	RecordID  string          `json:"recordId"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// PushRequest uploads a batch of operations.
type PushRequest struct {
	DeviceID   string      `json:"deviceId"`
	Operations []Operation `json:"operations"`
}

// PushResult is the server's verdict on one operation.
type PushResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// PushResponse lists per-operation results, in any order.
type PushResponse struct {
	Results []PushResult `json:"results"`
}

// PullRequest asks for changes since LastSyncAt. A nil LastSyncAt
// requests a full snapshot.
type PullRequest struct {
	DeviceID   string  `json:"deviceId"`
	LastSyncAt *string `json:"lastSyncAt,omitempty"`
}

// PullResponse carries the changefeed grouped by entity type.
type PullResponse struct {
	SyncedAt string                       `json:"syncedAt"`
	Changes  map[string][]json.RawMessage `json:"changes"`
}

// Client is the remote API used by the push and pull pipelines.
type Client interface {
	Push(ctx context.Context, token string, req *PushRequest) (*PushResponse, error)
	Pull(ctx context.Context, token string, req *PullRequest) (*PullResponse, error)
}

// HTTPClient implements Client over JSON POST requests.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client for baseURL. timeout bounds every call;
// zero means 30 seconds.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured endpoint.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Push sends a batch to {base}/sync/push.
func (c *HTTPClient) Push(ctx context.Context, token string, req *PushRequest) (*PushResponse, error) {
	var resp PushResponse
	if err := c.post(ctx, "/sync/push", token, req.DeviceID, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches the changefeed from {base}/sync/pull.
func (c *HTTPClient) Pull(ctx context.Context, token string, req *PullRequest) (*PullResponse, error) {
	var resp PullResponse
	if err := c.post(ctx, "/sync/pull", token, req.DeviceID, req, &resp); err != nil {
		return nil, err
	}
	if resp.SyncedAt == "" {
		return nil, apperrors.New(apperrors.ErrServer, "pull response missing syncedAt")
	}
	return &resp, nil
}

func (c *HTTPClient) post(ctx context.Context, path, token, deviceID string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if deviceID != "" {
		req.Header.Set("X-Device-ID", deviceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, "request to "+path+" failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, "failed to read response from "+path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.Newf(apperrors.ErrAuthentication, "server rejected credentials (%d)", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return apperrors.New(apperrors.ErrServer, fmt.Sprintf("%s returned %d: %s", path, resp.StatusCode, snippet(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.Wrap(apperrors.ErrServer, "malformed response from "+path, err)
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
