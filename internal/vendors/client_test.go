package vendors

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/soctower/soctower/internal/sources"
)

func TestCloudXDRClient_FetchIncidents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer xdr-key" {
			t.Errorf("auth header = %q", got)
		}
		if r.URL.Path != "/api/v1/incidents" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("from") != "1700000000000" {
			t.Errorf("from = %q", r.URL.Query().Get("from"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"alerts": [{"id": "a-1", "name": "beacon", "status": "In Progress", "score": 85, "alert_time": 1700000000000, "tenant": "prod"}],
			"cases":  [{"id": "c-1", "name": "intrusion", "status": "Open", "created_at": 1700000300000}]
		}`))
	}))
	defer srv.Close()

	client := NewCloudXDRClient(srv.URL, 5*time.Second)
	records, err := client.FetchIncidents(context.Background(),
		Credentials{APIKey: "xdr-key"},
		TimeRange{FromMs: 1_700_000_000_000, ToMs: 1_700_086_400_000})
	if err != nil {
		t.Fatalf("FetchIncidents: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	alert, ok := records[0].(sources.CloudXDRAlert)
	if !ok {
		t.Fatalf("record 0 is %T, want CloudXDRAlert", records[0])
	}
	if alert.ID != "a-1" || alert.Score != 85 {
		t.Errorf("alert = %+v", alert)
	}
	if alert.Payload["tenant"] != "prod" {
		t.Errorf("payload not retained: %v", alert.Payload)
	}

	if _, ok := records[1].(sources.CloudXDRCase); !ok {
		t.Errorf("record 1 is %T, want CloudXDRCase", records[1])
	}
}

func TestClients_MissingCredentials(t *testing.T) {
	clients := []Client{
		NewCloudXDRClient("http://unused", time.Second),
		NewOffenseClient("http://unused", time.Second),
		NewHostAgentClient("http://unused", time.Second),
	}
	for _, c := range clients {
		_, err := c.FetchIncidents(context.Background(), Credentials{}, TimeRange{})
		if !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("%s: err = %v, want ErrMissingCredentials", c.Vendor(), err)
		}
		_, err = c.FetchRelatedEvents(context.Background(), Credentials{}, "1")
		if !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("%s events: err = %v, want ErrMissingCredentials", c.Vendor(), err)
		}
	}
}

func TestOffenseClient_SecTokenAndEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("SEC"); got != "siem-token" {
			t.Errorf("SEC header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/siem/offenses":
			w.Write([]byte(`[{"id": 42, "description": "port scan", "status": "Open", "magnitude": 6, "start_time": 1700000000000}]`))
		case "/api/siem/offenses/42/events":
			// captured_at in epoch seconds must come back in milliseconds.
			w.Write([]byte(`[{"id": "ev-1", "name": "Firewall Deny", "source_ip": "10.0.0.8", "captured_at": 1700000000}]`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewOffenseClient(srv.URL, 5*time.Second)
	creds := Credentials{APIKey: "siem-token"}

	records, err := client.FetchIncidents(context.Background(), creds, TimeRange{})
	if err != nil {
		t.Fatalf("FetchIncidents: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	offense, ok := records[0].(sources.OffenseRecord)
	if !ok || offense.ID != 42 {
		t.Fatalf("record = %+v", records[0])
	}

	events, err := client.FetchRelatedEvents(context.Background(), creds, "42")
	if err != nil {
		t.Fatalf("FetchRelatedEvents: %v", err)
	}
	if len(events) != 1 || events[0].ExternalID != "ev-1" {
		t.Fatalf("events = %+v", events)
	}
	if events[0].CapturedAtMs != 1_700_000_000_000 {
		t.Errorf("capturedAt = %d, want milliseconds", events[0].CapturedAtMs)
	}

	if _, err := client.FetchRelatedEvents(context.Background(), creds, "not-a-number"); err == nil {
		t.Error("non-numeric offense id should fail")
	}
}

func TestHostAgentClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewHostAgentClient(srv.URL, 5*time.Second)
	if _, err := client.FetchIncidents(context.Background(), Credentials{APIKey: "k"}, TimeRange{}); err == nil {
		t.Error("502 should surface as an error")
	}
}

func TestHostAgentClient_FetchIncidents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"alerts": [{"id": "wz-1", "title": "rootkit", "status": "New", "severity": "high", "timestamp": "2024-01-01T00:00:00Z"}],
			"cases":  [{"id": "case-1", "name": "cluster", "status": "Open", "severity": "critical",
			            "created_at": 1700001800000,
			            "alerts": [{"id": "wz-0", "timestamp": 1700000000000}]}]
		}`))
	}))
	defer srv.Close()

	client := NewHostAgentClient(srv.URL, 5*time.Second)
	records, err := client.FetchIncidents(context.Background(), Credentials{APIKey: "k"}, TimeRange{})
	if err != nil {
		t.Fatalf("FetchIncidents: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	kase, ok := records[1].(sources.HostAgentCase)
	if !ok {
		t.Fatalf("record 1 is %T, want HostAgentCase", records[1])
	}
	if len(kase.Alerts) != 1 || kase.Alerts[0].ID != "wz-0" {
		t.Errorf("attached alerts = %+v", kase.Alerts)
	}
}
