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

// CloudXDRClient talks to the cloud XDR platform's query API.
type CloudXDRClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewCloudXDRClient builds a client with the given request timeout.
func NewCloudXDRClient(baseURL string, timeout time.Duration) *CloudXDRClient {
	return &CloudXDRClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *CloudXDRClient) Vendor() incident.SourceVendor { return incident.VendorCloudXDR }

type cloudXDRIncidentsResponse struct {
	Alerts []json.RawMessage `json:"alerts"`
	Cases  []json.RawMessage `json:"cases"`
}

func (c *CloudXDRClient) FetchIncidents(ctx context.Context, creds Credentials, window TimeRange) ([]sources.RawRecord, error) {
	if creds.APIKey == "" {
		return nil, ErrMissingCredentials
	}

	q := url.Values{}
	q.Set("from", strconv.FormatInt(window.FromMs, 10))
	q.Set("to", strconv.FormatInt(window.ToMs, 10))
	endpoint := fmt.Sprintf("%s/api/v1/incidents?%s", c.baseURL, q.Encode())

	var resp cloudXDRIncidentsResponse
	if err := getJSON(ctx, c.httpClient, endpoint, "Authorization", "Bearer "+creds.APIKey, &resp); err != nil {
		return nil, fmt.Errorf("cloud xdr incidents: %w", err)
	}

	records := make([]sources.RawRecord, 0, len(resp.Alerts)+len(resp.Cases))
	for _, raw := range resp.Alerts {
		alert, payload, err := decodeRaw[sources.CloudXDRAlert](raw)
		if err != nil {
			return nil, fmt.Errorf("cloud xdr alert: %w", err)
		}
		alert.Payload = payload
		records = append(records, alert)
	}
	for _, raw := range resp.Cases {
		kase, payload, err := decodeRaw[sources.CloudXDRCase](raw)
		if err != nil {
			return nil, fmt.Errorf("cloud xdr case: %w", err)
		}
		kase.Payload = payload
		records = append(records, kase)
	}
	return records, nil
}

func (c *CloudXDRClient) FetchRelatedEvents(ctx context.Context, creds Credentials, parentID string) ([]eventcache.VendorEvent, error) {
	if creds.APIKey == "" {
		return nil, ErrMissingCredentials
	}

	endpoint := fmt.Sprintf("%s/api/v1/incidents/%s/events", c.baseURL, url.PathEscape(parentID))
	var wire []wireEvent
	if err := getJSON(ctx, c.httpClient, endpoint, "Authorization", "Bearer "+creds.APIKey, &wire); err != nil {
		return nil, fmt.Errorf("cloud xdr events: %w", err)
	}
	return toCacheEvents(wire), nil
}
