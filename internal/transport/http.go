package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseBytes = 4 << 20

// HTTPClient posts actions to {BaseURL}/actions/{action}.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPClient) Call(ctx context.Context, action string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Action: action, Code: "bad_request", Message: "failed to marshal payload", Err: err}
	}

	endpoint := c.baseURL + "/actions/" + url.PathEscape(action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Action: action, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return nil, Cancelled(action, ctx.Err())
		}
		return nil, &Error{Action: action, Code: "unavailable", Message: "failed to send request", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, Cancelled(action, ctx.Err())
		}
		return nil, &Error{Action: action, Code: "unavailable", Message: "failed to read response", Err: err}
	}

	if resp.StatusCode >= 300 {
		var eb errorBody
		if jsonErr := json.Unmarshal(data, &eb); jsonErr != nil || eb.Error == "" {
			eb.Error = fmt.Sprintf("http_%d", resp.StatusCode)
			eb.Details = strings.TrimSpace(string(data))
		}
		return nil, &Error{Action: action, Code: eb.Error, Message: eb.Details}
	}

	return json.RawMessage(data), nil
}
