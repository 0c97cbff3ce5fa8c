// Package apiclient talks to a running OverhearOps server. The CLI uses it
// to push replayed messages into a remote thread and to trigger runs there.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/overhearops/overhearops/internal/domain/message"
	"github.com/overhearops/overhearops/internal/domain/run"
	"github.com/overhearops/overhearops/internal/resilience"
)

// Client calls the /api/v1 routes of a server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a client for baseURL, e.g. http://localhost:8080.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetBreaker routes every call through b.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Deliver posts one message to the thread's events endpoint, so a Client
// can serve as a replay sink.
func (c *Client) Deliver(ctx context.Context, threadID string, msg message.Message, _ float64) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := c.doRequest(ctx, http.MethodPost, "/api/v1/threads/"+url.PathEscape(threadID)+"/events", body); err != nil {
		return fmt.Errorf("post event %s: %w", msg.ID, err)
	}
	return nil
}

// StartRun runs the pipeline on the thread's latest message.
func (c *Client) StartRun(ctx context.Context, threadID string) (*run.Record, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/api/v1/threads/"+url.PathEscape(threadID)+"/runs", nil)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	var rec run.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &rec, nil
}

// GetRun fetches a stored run record.
func (c *Client) GetRun(ctx context.Context, runID string) (*run.Record, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(runID), nil)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	var rec run.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &rec, nil
}

// StatusError is returned for 4xx and 5xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			var e struct {
				Error string `json:"error"`
			}
			msg := strings.TrimSpace(string(data))
			if json.Unmarshal(data, &e) == nil && e.Error != "" {
				msg = e.Error
			}
			return &StatusError{Code: resp.StatusCode, Message: msg}
		}
		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}
	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
