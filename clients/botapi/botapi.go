// Package botapi is a client for the dashboard's JSON API.
package botapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"botwatch/internal/store"

	"go.uber.org/zap"
)

type Client struct {
	logger  *zap.Logger
	baseURL string
	http    *http.Client
}

func NewClient(logger *zap.Logger, baseURL string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Message)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil {
			if e.Message != "" {
				msg = e.Message
			} else if e.Detail != "" {
				msg = e.Detail
			}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// BotStatuses fetches /api/bots/status.
func (c *Client) BotStatuses(ctx context.Context) ([]store.BotStatus, error) {
	var resp struct {
		Bots  []store.BotStatus `json:"bots"`
		Count int               `json:"count"`
	}
	if err := c.getJSON(ctx, "/api/bots/status", &resp); err != nil {
		return nil, err
	}
	return resp.Bots, nil
}

// Registry fetches /api/bots/registered.
func (c *Client) Registry(ctx context.Context) ([]store.RegistryEntry, error) {
	var resp struct {
		Bots []store.RegistryEntry `json:"bots"`
	}
	if err := c.getJSON(ctx, "/api/bots/registered", &resp); err != nil {
		return nil, err
	}
	return resp.Bots, nil
}

// ChartData is the /api/charts/data payload.
type ChartData struct {
	Events []store.ChartPoint `json:"events"`
	Count  int                `json:"count"`
	KPIs   store.KPIs         `json:"kpis"`
}

// ChartData fetches /api/charts/data.
func (c *Client) ChartData(ctx context.Context) (ChartData, error) {
	var resp ChartData
	err := c.getJSON(ctx, "/api/charts/data", &resp)
	return resp, err
}

// Live fetches /api/live/{metric}.
func (c *Client) Live(ctx context.Context, metric string) (store.LiveSeries, error) {
	var resp store.LiveSeries
	err := c.getJSON(ctx, "/api/live/"+url.PathEscape(metric), &resp)
	return resp, err
}

// Health reports whether /health answers ok.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.getJSON(ctx, "/health", &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("unexpected health status %q", resp.Status)
	}
	return nil
}
