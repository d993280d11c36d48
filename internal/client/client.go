// Package client implements the game-server side of the delivery protocol:
// a typed HTTP client plus a poll/claim/acknowledge runner that server
// plugins embed.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rustshop-api/internal/model"
)

// APIError is a structured error returned by the fulfillment API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// envelope is the wire shape every API response uses.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Count   *int            `json:"count,omitempty"`
	Error   *APIError       `json:"error,omitempty"`
}

// Config holds client connection settings.
type Config struct {
	// BaseURL is the API root, e.g. "https://shop.example.com".
	BaseURL string
	// APIKey is the per-server or global key sent as X-API-Key. May be
	// empty against open deployments.
	APIKey  string
	Timeout time.Duration
}

// Client is a typed HTTP client for the delivery protocol.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a protocol client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Pending returns the player's visible pending entries without claiming
// them.
func (c *Client) Pending(ctx context.Context, steamID string) ([]model.CartEntry, error) {
	var entries []model.CartEntry
	err := c.do(ctx, http.MethodGet, "/api/plugin/pending?steam_id="+steamID, nil, &entries)
	return entries, err
}

type claimRequest struct {
	SteamID string `json:"steam_id"`
}

// Claim atomically claims the player's visible pending entries for this
// caller. The returned entries are in delivering state and must each be
// acknowledged.
func (c *Client) Claim(ctx context.Context, steamID string) ([]model.CartEntry, error) {
	var entries []model.CartEntry
	err := c.do(ctx, http.MethodPost, "/api/plugin/claim", claimRequest{SteamID: steamID}, &entries)
	return entries, err
}

type updateRequest struct {
	EntryID string `json:"entry_id"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Acknowledge reports a delivery outcome for a claimed entry. Outcome is
// one of "delivering", "delivered" or "failed"; deliveryErr travels with
// "failed" only.
func (c *Client) Acknowledge(ctx context.Context, entryID, outcome, deliveryErr string) error {
	req := updateRequest{EntryID: entryID, Status: outcome, Error: deliveryErr}
	return c.do(ctx, http.MethodPost, "/api/plugin/update", req, nil)
}

// HeartbeatInfo is the telemetry sent with each heartbeat.
type HeartbeatInfo struct {
	CurrentPlayers int    `json:"current_players"`
	MaxPlayers     int    `json:"max_players,omitempty"`
	MapName        string `json:"map_name,omitempty"`
}

type heartbeatRequest struct {
	APIKey string `json:"api_key,omitempty"`
	HeartbeatInfo
}

// Heartbeat reports liveness telemetry. Requires a per-server key.
func (c *Client) Heartbeat(ctx context.Context, info HeartbeatInfo) error {
	req := heartbeatRequest{APIKey: c.apiKey, HeartbeatInfo: info}
	return c.do(ctx, http.MethodPost, "/api/plugin/heartbeat", req, nil)
}

// do runs one request/response cycle against the API, unwrapping the
// response envelope into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&env); err != nil {
		return fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}

	if !env.Success {
		apiErr := env.Error
		if apiErr == nil {
			apiErr = &APIError{Code: "UNKNOWN", Message: "request failed"}
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	return nil
}
