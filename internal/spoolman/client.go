// Package spoolman implements the §6.4 filament-inventory HTTP contract:
// a single call, updateUsage(spoolId, payload) -> Spool, against an
// external Spoolman-like service. Grounded on
// modules/discordwebhook/sender.go's func-type collaborator plus its real
// net/http.Client implementation — the Usage Tracker depends on the
// UsageUpdater interface, never on this package's HTTP details.
package spoolman

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
)

// UsagePayload is the request body for updateUsage. Exactly one of
// UseWeight/UseLength must be set; MarshalJSON enforces this at encode time
// since Go's struct tags can't express "exactly one of" directly.
type UsagePayload struct {
	UseWeight *float64 // grams
	UseLength *float64 // millimeters
}

func (p UsagePayload) MarshalJSON() ([]byte, error) {
	if p.UseWeight != nil && p.UseLength != nil {
		return nil, fmt.Errorf("spoolman: payload may set use_weight or use_length, not both")
	}
	if p.UseWeight == nil && p.UseLength == nil {
		return nil, fmt.Errorf("spoolman: payload requires use_weight or use_length")
	}
	body := struct {
		UseWeight *float64 `json:"use_weight,omitempty"`
		UseLength *float64 `json:"use_length,omitempty"`
	}{UseWeight: p.UseWeight, UseLength: p.UseLength}
	return json.Marshal(body)
}

// UsageUpdater is the external collaborator the Usage Tracker depends on.
// Implemented by *Client; fakeable for tests.
type UsageUpdater interface {
	UpdateUsage(ctx context.Context, spoolID int64, payload UsagePayload) (model.Spool, error)
}

// Client is the real HTTP implementation, posting to a Spoolman-compatible
// REST endpoint at BaseURL + "/api/v1/spool/{id}/use".
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client against baseURL (no trailing slash expected).
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) UpdateUsage(ctx context.Context, spoolID int64, payload UsagePayload) (model.Spool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return model.Spool{}, err
	}

	url := fmt.Sprintf("%s/api/v1/spool/%d/use", c.baseURL, spoolID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return model.Spool{}, fmt.Errorf("spoolman: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Spool{}, fmt.Errorf("spoolman: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return model.Spool{}, fmt.Errorf("spoolman: status %d: %s", resp.StatusCode, string(raw))
	}

	var wire struct {
		ID       int64  `json:"id"`
		Material string `json:"material"`
		Filament struct {
			Material string `json:"material"`
		} `json:"filament"`
		RemainingWeight float64 `json:"remaining_weight"`
		RemainingLength float64 `json:"remaining_length"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return model.Spool{}, fmt.Errorf("spoolman: decoding response: %w", err)
	}

	material := wire.Material
	if material == "" {
		material = wire.Filament.Material
	}
	return model.Spool{
		ID:          wire.ID,
		Material:    material,
		RemainingG:  wire.RemainingWeight,
		RemainingMM: wire.RemainingLength,
	}, nil
}
