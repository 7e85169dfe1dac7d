// Package bootstrap fetches the change-id the crawler should start from.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// NextChangeID issues a single GET against url and returns the
// "next_change_id" field of the JSON document it returns, matching the
// upstream stats endpoint used once at process startup.
func NextChangeID(ctx context.Context, client *http.Client, url string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("bootstrap: build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("bootstrap: request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bootstrap: %s returned status %d", url, resp.StatusCode)
	}

	var doc struct {
		NextChangeID string `json:"next_change_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("bootstrap: decode response from %s: %w", url, err)
	}
	if doc.NextChangeID == "" {
		return "", fmt.Errorf("bootstrap: %s response missing next_change_id", url)
	}
	return doc.NextChangeID, nil
}
