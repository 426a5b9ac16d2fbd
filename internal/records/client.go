package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/fedhost/internal/log"
	"github.com/zjrosen/fedhost/internal/sharedstate"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Client is the sharedstate.Service backed by the record service.
type Client struct {
	base string
	http *http.Client
}

var _ sharedstate.Service = (*Client)(nil)

// NewClient creates a client for the service at baseURL. A nil httpClient
// uses one with a 10s timeout; per-call deadlines come from ctx.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Fetch implements sharedstate.Service.
func (c *Client) Fetch(ctx context.Context) (sharedstate.Record, error) {
	return c.do(ctx, http.MethodGet, nil)
}

// Persist implements sharedstate.Service.
func (c *Client) Persist(ctx context.Context, record sharedstate.Record) (sharedstate.Record, error) {
	return c.do(ctx, http.MethodPut, record)
}

func (c *Client) do(ctx context.Context, method string, body sharedstate.Record) (sharedstate.Record, error) {
	url := c.base + "/user"

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode record: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	reqID := uuid.NewString()
	req.Header.Set(HeaderRequestID, reqID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Method: method, URL: url, StatusCode: resp.StatusCode}
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &body) == nil {
			serr.Message = body.Error
		}
		log.Warn(log.CatRecords, "Record service error", "method", method, "status", resp.StatusCode, "request_id", reqID)
		return nil, serr
	}

	var rec sharedstate.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
