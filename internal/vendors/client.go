// Package vendors implements the HTTP clients for the three security
// platforms. Each client speaks its vendor's REST dialect and returns raw
// records for the source adapters; nothing here interprets the payloads.
package vendors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/soctower/soctower/internal/eventcache"
	"github.com/soctower/soctower/internal/incident"
	"github.com/soctower/soctower/internal/sources"
	"github.com/soctower/soctower/internal/timeutil"
)

// ErrMissingCredentials marks an integration whose API key is not set; its
// vendor calls are skipped for the request without affecting other
// integrations.
var ErrMissingCredentials = errors.New("integration credentials not configured")

// Credentials carries the per-request secret material for one integration.
// It is passed into each call explicitly; clients hold no credential state.
type Credentials struct {
	APIKey string
}

// TimeRange bounds an incident query in epoch milliseconds.
type TimeRange struct {
	FromMs int64
	ToMs   int64
}

// Client is one vendor's API surface.
type Client interface {
	Vendor() incident.SourceVendor

	// FetchIncidents returns the vendor's raw alert and case records for
	// the window, in the vendor's native order.
	FetchIncidents(ctx context.Context, creds Credentials, window TimeRange) ([]sources.RawRecord, error)

	// FetchRelatedEvents returns the drill-down events behind one incident.
	FetchRelatedEvents(ctx context.Context, creds Credentials, parentID string) ([]eventcache.VendorEvent, error)
}

// ForVendor builds the client for a vendor.
func ForVendor(vendor incident.SourceVendor, baseURL string, timeout time.Duration) (Client, error) {
	switch vendor {
	case incident.VendorCloudXDR:
		return NewCloudXDRClient(baseURL, timeout), nil
	case incident.VendorOffenseSIEM:
		return NewOffenseClient(baseURL, timeout), nil
	case incident.VendorHostAgent:
		return NewHostAgentClient(baseURL, timeout), nil
	default:
		return nil, fmt.Errorf("unknown vendor %q", vendor)
	}
}

// getJSON performs an authenticated GET and decodes the response body.
func getJSON(ctx context.Context, hc *http.Client, url, authHeader, authValue string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if authValue != "" {
		req.Header.Set(authHeader, authValue)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeRaw unmarshals one vendor object into its typed record and keeps the
// full object as the drill-down payload.
func decodeRaw[T any](raw json.RawMessage) (T, map[string]any, error) {
	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return rec, nil, err
	}
	return rec, payload, nil
}

// wireEvent is the shape all three platforms use for related-event listings,
// modulo timestamp encoding.
type wireEvent struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	SourceIP   string         `json:"source_ip"`
	DestIP     string         `json:"destination_ip"`
	SourcePort int            `json:"source_port"`
	DestPort   int            `json:"destination_port"`
	Protocol   string         `json:"protocol"`
	Severity   any            `json:"severity"`
	CapturedAt any            `json:"captured_at"`
	Payload    map[string]any `json:"payload"`
}

func (w wireEvent) toCacheEvent() eventcache.VendorEvent {
	ev := eventcache.VendorEvent{
		ExternalID:      w.ID,
		Name:            w.Name,
		SourceIP:        w.SourceIP,
		DestinationIP:   w.DestIP,
		SourcePort:      w.SourcePort,
		DestinationPort: w.DestPort,
		Protocol:        w.Protocol,
		SeverityRaw:     w.Severity,
		Payload:         w.Payload,
	}
	if ms, ok := timeutil.Millis(w.CapturedAt); ok {
		ev.CapturedAtMs = ms
	}
	return ev
}

func toCacheEvents(wire []wireEvent) []eventcache.VendorEvent {
	events := make([]eventcache.VendorEvent, 0, len(wire))
	for _, w := range wire {
		events = append(events, w.toCacheEvent())
	}
	return events
}
