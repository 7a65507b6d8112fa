package eventcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS vendor_events (
	external_id        TEXT PRIMARY KEY,
	parent_incident_id TEXT NOT NULL,
	event_name         TEXT NOT NULL DEFAULT '',
	source_ip          TEXT NOT NULL DEFAULT '',
	destination_ip     TEXT NOT NULL DEFAULT '',
	source_port        INTEGER NOT NULL DEFAULT 0,
	destination_port   INTEGER NOT NULL DEFAULT 0,
	protocol           TEXT NOT NULL DEFAULT '',
	severity_raw       JSONB,
	captured_at_ms     BIGINT NOT NULL DEFAULT 0,
	payload            JSONB,
	metadata           JSONB
);
CREATE INDEX IF NOT EXISTS vendor_events_parent_idx ON vendor_events (parent_incident_id, captured_at_ms DESC);
`

// PostgresStore persists cached vendor events in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the events table and index if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensuring vendor_events schema: %w", err)
	}
	return nil
}

// Replace swaps the cached set for a parent in one transaction so readers
// never see a mix of two fetch generations.
func (s *PostgresStore) Replace(ctx context.Context, parentID string, events []VendorEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning replace tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vendor_events WHERE parent_incident_id = $1`, parentID); err != nil {
		return fmt.Errorf("deleting stale events: %w", err)
	}

	const insert = `
		INSERT INTO vendor_events (
			external_id, parent_incident_id, event_name,
			source_ip, destination_ip, source_port, destination_port, protocol,
			severity_raw, captured_at_ms, payload, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (external_id) DO UPDATE SET
			parent_incident_id = EXCLUDED.parent_incident_id,
			event_name = EXCLUDED.event_name,
			source_ip = EXCLUDED.source_ip,
			destination_ip = EXCLUDED.destination_ip,
			source_port = EXCLUDED.source_port,
			destination_port = EXCLUDED.destination_port,
			protocol = EXCLUDED.protocol,
			severity_raw = EXCLUDED.severity_raw,
			captured_at_ms = EXCLUDED.captured_at_ms,
			payload = EXCLUDED.payload,
			metadata = EXCLUDED.metadata`

	for _, ev := range events {
		severityRaw, err := jsonColumn(ev.SeverityRaw)
		if err != nil {
			return fmt.Errorf("encoding severity for event %s: %w", ev.ExternalID, err)
		}
		payload, err := jsonColumn(ev.Payload)
		if err != nil {
			return fmt.Errorf("encoding payload for event %s: %w", ev.ExternalID, err)
		}
		metadata, err := jsonColumn(ev.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for event %s: %w", ev.ExternalID, err)
		}
		if _, err := tx.ExecContext(ctx, insert,
			ev.ExternalID, parentID, ev.Name,
			ev.SourceIP, ev.DestinationIP, ev.SourcePort, ev.DestinationPort, ev.Protocol,
			severityRaw, ev.CapturedAtMs, payload, metadata,
		); err != nil {
			return fmt.Errorf("inserting event %s: %w", ev.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing replace tx: %w", err)
	}
	return nil
}

// List returns the cached events for a parent, newest first.
func (s *PostgresStore) List(ctx context.Context, parentID string) ([]VendorEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_id, parent_incident_id, event_name,
		       source_ip, destination_ip, source_port, destination_port, protocol,
		       severity_raw, captured_at_ms, payload, metadata
		FROM vendor_events
		WHERE parent_incident_id = $1
		ORDER BY captured_at_ms DESC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []VendorEvent
	for rows.Next() {
		var (
			ev          VendorEvent
			severityRaw []byte
			payload     []byte
			metadata    []byte
		)
		if err := rows.Scan(
			&ev.ExternalID, &ev.ParentID, &ev.Name,
			&ev.SourceIP, &ev.DestinationIP, &ev.SourcePort, &ev.DestinationPort, &ev.Protocol,
			&severityRaw, &ev.CapturedAtMs, &payload, &metadata,
		); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		if len(severityRaw) > 0 {
			if err := json.Unmarshal(severityRaw, &ev.SeverityRaw); err != nil {
				return nil, fmt.Errorf("decoding severity for event %s: %w", ev.ExternalID, err)
			}
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("decoding payload for event %s: %w", ev.ExternalID, err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata for event %s: %w", ev.ExternalID, err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// jsonColumn encodes a value for a JSONB column, keeping SQL NULL for empty
// values.
func jsonColumn(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
