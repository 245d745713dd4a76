package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/otiai10/quakecast/internal/quake"
)

const (
	snapshotTimeout = 10 * time.Second
	maxSnapshotSize = 1 << 20
)

// fetchSnapshot GETs the latest-known-event endpoint. 204 yields no events.
// The body may be a single object or an array of push-channel payloads.
func fetchSnapshot(ctx context.Context, client *http.Client, url, bearer string) ([]quake.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return quake.NormalizeAll(quake.DecodeItems(body), quake.FromPushChannelPayload), nil
}
