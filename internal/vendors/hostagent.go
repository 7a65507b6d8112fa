package vendors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/soctower/soctower/internal/eventcache"
	"github.com/soctower/soctower/internal/incident"
	"github.com/soctower/soctower/internal/sources"
)

// HostAgentClient talks to the host-agent detection platform.
type HostAgentClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHostAgentClient builds a client with the given request timeout.
func NewHostAgentClient(baseURL string, timeout time.Duration) *HostAgentClient {
	return &HostAgentClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HostAgentClient) Vendor() incident.SourceVendor { return incident.VendorHostAgent }

type hostAgentIncidentsResponse struct {
	Alerts []json.RawMessage `json:"alerts"`
	Cases  []json.RawMessage `json:"cases"`
}

func (c *HostAgentClient) FetchIncidents(ctx context.Context, creds Credentials, window TimeRange) ([]sources.RawRecord, error) {
	if creds.APIKey == "" {
		return nil, ErrMissingCredentials
	}

	q := url.Values{}
	q.Set("from", strconv.FormatInt(window.FromMs, 10))
	q.Set("to", strconv.FormatInt(window.ToMs, 10))
	endpoint := fmt.Sprintf("%s/api/v1/detections?%s", c.baseURL, q.Encode())

	var resp hostAgentIncidentsResponse
	if err := getJSON(ctx, c.httpClient, endpoint, "Authorization", "Bearer "+creds.APIKey, &resp); err != nil {
		return nil, fmt.Errorf("host agent detections: %w", err)
	}

	records := make([]sources.RawRecord, 0, len(resp.Alerts)+len(resp.Cases))
	for _, raw := range resp.Alerts {
		alert, payload, err := decodeRaw[sources.HostAgentAlert](raw)
		if err != nil {
			return nil, fmt.Errorf("host agent alert: %w", err)
		}
		alert.Payload = payload
		records = append(records, alert)
	}
	for _, raw := range resp.Cases {
		kase, payload, err := decodeRaw[sources.HostAgentCase](raw)
		if err != nil {
			return nil, fmt.Errorf("host agent case: %w", err)
		}
		kase.Payload = payload
		records = append(records, kase)
	}
	return records, nil
}

func (c *HostAgentClient) FetchRelatedEvents(ctx context.Context, creds Credentials, parentID string) ([]eventcache.VendorEvent, error) {
	if creds.APIKey == "" {
		return nil, ErrMissingCredentials
	}

	endpoint := fmt.Sprintf("%s/api/v1/detections/%s/events", c.baseURL, url.PathEscape(parentID))
	var wire []wireEvent
	if err := getJSON(ctx, c.httpClient, endpoint, "Authorization", "Bearer "+creds.APIKey, &wire); err != nil {
		return nil, fmt.Errorf("host agent events: %w", err)
	}
	return toCacheEvents(wire), nil
}
