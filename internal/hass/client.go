// Package hass provides a client for reading entity states from the Home
// Assistant REST API.
package hass

import (
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

const (
	requestTimeout = 10 * time.Second
	maxBodySize    = 1 << 20 // 1 MB
	userAgent      = "devcost/1.0"
)

var (
	// ErrUnauthorized indicates the access token is missing or invalid.
	ErrUnauthorized = errors.New("hass: unauthorized (access token missing or invalid)")
	// ErrNotFound indicates the entity does not exist.
	ErrNotFound = errors.New("hass: entity not found")
)

// Client talks to one Home Assistant instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for baseURL authenticated with a long-lived
// access token. Returns nil if baseURL is empty.
func NewClient(baseURL, token string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil
	}
	return &Client{
		baseURL: baseURL,
		token:   strings.TrimSpace(token),
		http:    &http.Client{},
	}
}

// State returns the current state of entityID.
func (c *Client) State(ctx context.Context, entityID string) (EntityState, error) {
	body, err := c.get(ctx, "/api/states/"+url.PathEscape(entityID))
	if err != nil {
		return EntityState{}, err
	}

	var st EntityState
	if err := json.Unmarshal(body, &st); err != nil {
		return EntityState{}, fmt.Errorf("hass: parsing state of %s: %w", entityID, err)
	}
	return st, nil
}

// RawState returns the raw state string of entityID. Any failure is reported
// as the state "unavailable" together with the error.
func (c *Client) RawState(ctx context.Context, entityID string) (string, error) {
	st, err := c.State(ctx, entityID)
	if err != nil {
		return StateUnavailable, err
	}
	return st.State, nil
}

// Currency returns the currency configured on the instance.
func (c *Client) Currency(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "/api/config")
	if err != nil {
		return "", err
	}

	var cfg InstanceConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return "", fmt.Errorf("hass: parsing config: %w", err)
	}
	if cfg.Currency == "" {
		return "", errors.New("hass: instance has no currency configured")
	}
	return cfg.Currency, nil
}

// get performs an authenticated GET request and returns the response body.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("hass: creating request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hass: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	case http.StatusNotFound:
		return nil, ErrNotFound
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("hass: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("hass: reading response: %w", err)
	}
	return body, nil
}
