// Package tui implements a read-only bubbletea dashboard over the
// debug API: a slimmed-down dashboard compared to a full process
// manager's TUI, since this driver only ever has one thing to show —
// profile peaks, descendant rows, and the admission forecast.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client polls the debug API exposed by internal/api.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a Client against baseURL (e.g. "http://127.0.0.1:9091").
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// StatusSummary mirrors internal/api's /status response.
type StatusSummary struct {
	ProfileCount   int   `json:"profile_count"`
	DescendantRows int   `json:"descendant_rows"`
	ImminentMB     int64 `json:"imminent_mb"`
}

// ProfileRow mirrors one internal/profile.FileProfile entry as returned
// by the API's JSON encoding.
type ProfileRow struct {
	Filename     string    `json:"Filename"`
	PeakMemoryMB int64     `json:"PeakMemoryMB"`
	LastUsed     time.Time `json:"LastUsed"`
}

// DescendantRow mirrors one internal/descendant.Row entry.
type DescendantRow struct {
	PID        int32 `json:"PID"`
	ProfileIdx int   `json:"ProfileIdx"`
	CurrentMB  int64 `json:"CurrentMB"`
	PeakMB     int64 `json:"PeakMB"`
	OldPeakMB  int64 `json:"OldPeakMB"`
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("tui: build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tui: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tui: %s returned status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Status fetches the current admission summary.
func (c *Client) Status(ctx context.Context) (StatusSummary, error) {
	var out StatusSummary
	err := c.get(ctx, "/api/v1/status", &out)
	return out, err
}

// Profiles fetches the sorted profile snapshot.
func (c *Client) Profiles(ctx context.Context) ([]ProfileRow, error) {
	var out struct {
		Profiles []ProfileRow `json:"profiles"`
	}
	err := c.get(ctx, "/api/v1/profiles", &out)
	return out.Profiles, err
}

// Descendants fetches the live descendant row table.
func (c *Client) Descendants(ctx context.Context) ([]DescendantRow, error) {
	var out struct {
		Rows []DescendantRow `json:"rows"`
	}
	err := c.get(ctx, "/api/v1/descendants", &out)
	return out.Rows, err
}
