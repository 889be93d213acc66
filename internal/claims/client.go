// Package claims talks to the downstream claims management API.
package claims

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Policyholder is the record created downstream for every confirmed identity.
type Policyholder struct {
	Name     string   `json:"name"`
	Age      int      `json:"age"`
	Policies []string `json:"policies"`
}

// Client calls the claims API on behalf of a freshly confirmed user.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a claims API client with the given per-call timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// CreatePolicyholder posts p authenticated with the bearer token. Only 201 Created counts
// as success.
func (c *Client) CreatePolicyholder(ctx context.Context, token string, p Policyholder) error {
	if p.Policies == nil {
		p.Policies = []string{}
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal policyholder: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/policyholder", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create policyholder request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute policyholder request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("policyholder request failed: status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}
