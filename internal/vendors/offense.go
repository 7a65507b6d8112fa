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

// OffenseClient talks to the offense-based SIEM. This platform authenticates
// with a SEC token header rather than a bearer token.
type OffenseClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOffenseClient builds a client with the given request timeout.
func NewOffenseClient(baseURL string, timeout time.Duration) *OffenseClient {
	return &OffenseClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *OffenseClient) Vendor() incident.SourceVendor { return incident.VendorOffenseSIEM }

func (c *OffenseClient) FetchIncidents(ctx context.Context, creds Credentials, window TimeRange) ([]sources.RawRecord, error) {
	if creds.APIKey == "" {
		return nil, ErrMissingCredentials
	}

	q := url.Values{}
	q.Set("filter", fmt.Sprintf("start_time >= %d AND start_time <= %d", window.FromMs, window.ToMs))
	endpoint := fmt.Sprintf("%s/api/siem/offenses?%s", c.baseURL, q.Encode())

	var raws []json.RawMessage
	if err := getJSON(ctx, c.httpClient, endpoint, "SEC", creds.APIKey, &raws); err != nil {
		return nil, fmt.Errorf("offense list: %w", err)
	}

	records := make([]sources.RawRecord, 0, len(raws))
	for _, raw := range raws {
		offense, payload, err := decodeRaw[sources.OffenseRecord](raw)
		if err != nil {
			return nil, fmt.Errorf("offense record: %w", err)
		}
		offense.Payload = payload
		records = append(records, offense)
	}
	return records, nil
}

func (c *OffenseClient) FetchRelatedEvents(ctx context.Context, creds Credentials, parentID string) ([]eventcache.VendorEvent, error) {
	if creds.APIKey == "" {
		return nil, ErrMissingCredentials
	}
	if _, err := strconv.ParseInt(parentID, 10, 64); err != nil {
		return nil, fmt.Errorf("offense id %q is not numeric: %w", parentID, err)
	}

	endpoint := fmt.Sprintf("%s/api/siem/offenses/%s/events?limit=%d",
		c.baseURL, url.PathEscape(parentID), eventcache.MaxEventsPerParent)
	var wire []wireEvent
	if err := getJSON(ctx, c.httpClient, endpoint, "SEC", creds.APIKey, &wire); err != nil {
		return nil, fmt.Errorf("offense events: %w", err)
	}
	return toCacheEvents(wire), nil
}
