package serverconn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// RESTClient is the session controller's view of the server's REST v1 API
// for challenge and friend-request actions.
type RESTClient interface {
	AcceptChallenge(ctx context.Context, challengeID string) error
	DeclineChallenge(ctx context.Context, challengeID, code, message string) error
	AcceptFriendRequest(ctx context.Context, fromUser string) error
}

// HTTPRESTClient is a RESTClient backed by hashicorp/go-retryablehttp, so
// transient server-side failures on accept/decline are retried with
// backoff before the session controller gives up and falls back to a
// decline.
type HTTPRESTClient struct {
	baseURL string
	apiKey  string
	client  *retryablehttp.Client
}

// NewHTTPRESTClient returns a RESTClient rooted at baseURL (e.g.
// "https://online-go.com/api/v1") using apiKey for Bearer authentication.
func NewHTTPRESTClient(baseURL, apiKey string, logger *slog.Logger) *HTTPRESTClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = slogAdapter{logger}
	return &HTTPRESTClient{baseURL: baseURL, apiKey: apiKey, client: rc}
}

func (c *HTTPRESTClient) do(ctx context.Context, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("serverconn: marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("serverconn: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("serverconn: request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("serverconn: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	return nil
}

// AcceptChallenge implements RESTClient.
func (c *HTTPRESTClient) AcceptChallenge(ctx context.Context, challengeID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/me/challenges/%s/accept", challengeID), struct{}{})
}

// RejectionDetails is the optional machine-readable reason attached to a
// decline.
type RejectionDetails struct {
	RejectionCode string         `json:"rejection_code"`
	Details       map[string]any `json:"details,omitempty"`
}

type declineBody struct {
	Delete           bool              `json:"delete"`
	Message          string            `json:"message"`
	RejectionDetails *RejectionDetails `json:"rejection_details,omitempty"`
}

// DeclineChallenge implements RESTClient.
func (c *HTTPRESTClient) DeclineChallenge(ctx context.Context, challengeID, code, message string) error {
	body := declineBody{Delete: true, Message: message}
	if code != "" {
		body.RejectionDetails = &RejectionDetails{RejectionCode: code}
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/me/challenges/%s", challengeID), body)
}

// AcceptFriendRequest implements RESTClient.
func (c *HTTPRESTClient) AcceptFriendRequest(ctx context.Context, fromUser string) error {
	return c.do(ctx, http.MethodPost, "/me/friends/invitations", map[string]string{"from_user": fromUser})
}

// slogAdapter satisfies retryablehttp.LeveledLogger over a *slog.Logger.
type slogAdapter struct{ logger *slog.Logger }

func (a slogAdapter) Error(msg string, kv ...any) { a.logger.Error(msg, kv...) }
func (a slogAdapter) Info(msg string, kv ...any)  { a.logger.Info(msg, kv...) }
func (a slogAdapter) Debug(msg string, kv ...any) { a.logger.Debug(msg, kv...) }
func (a slogAdapter) Warn(msg string, kv ...any)  { a.logger.Warn(msg, kv...) }
