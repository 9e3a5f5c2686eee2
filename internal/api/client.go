// Package api is a typed client for the study REST API. All study data
// (participants, questions, responses, scoring) lives behind this API; the
// front-end only holds transient copies of what it returns.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// defaultErrorMessage is shown when the server returns a failure status
// without a parseable error payload.
const defaultErrorMessage = "Request failed"

// RequestError is a failed API call. Message carries the server-provided
// detail string when the error payload had one.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

// Client calls the study REST API at a configured base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the API at baseURL (e.g. "http://localhost:8000/api").
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// do issues one request and decodes the response into out (skipped when out
// is nil or the body is empty). Non-2xx statuses become a *RequestError with
// the server's detail message.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.requestError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		slog.Warn("malformed API response", "method", method, "path", path, "error", err)
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// requestError extracts the {"detail": "..."} payload from a failure
// response, falling back to a fixed message when absent or unparseable.
func (c *Client) requestError(resp *http.Response) error {
	message := defaultErrorMessage
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Detail != "" {
		message = payload.Detail
	}
	return &RequestError{Status: resp.StatusCode, Message: message}
}
