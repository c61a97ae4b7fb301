package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"printkiosk/internal/api"
)

const clientTimeout = 30 * time.Second

// apiClient talks to a running daemon over its HTTP API.
type apiClient struct {
	addr  string
	token string
	http  *http.Client
}

func newAPIClient(addr, token string) *apiClient {
	return &apiClient{
		addr:  addr,
		token: token,
		http:  &http.Client{Timeout: clientTimeout},
	}
}

func (c *apiClient) Print(ctx context.Context, req api.PrintRequest) (api.PrintResponse, int, error) {
	var resp api.PrintResponse
	status, err := c.do(ctx, http.MethodPost, "/print", req, &resp)
	return resp, status, err
}

func (c *apiClient) Cancel(ctx context.Context, id string) (api.JobView, error) {
	var resp api.JobItemResponse
	_, err := c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(id)+"/cancel", nil, &resp)
	return resp.Job, err
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://"+c.addr+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, c.wrapDialError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr api.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.ErrorMessage != "" {
			return resp.StatusCode, fmt.Errorf("daemon rejected request (%d): %s", resp.StatusCode, apiErr.ErrorMessage)
		}
		return resp.StatusCode, fmt.Errorf("daemon rejected request: %s", resp.Status)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *apiClient) wrapDialError(err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; start it with `kiosk serve`", c.addr)
	}
	return fmt.Errorf("connect to daemon at %s: %w", c.addr, err)
}
