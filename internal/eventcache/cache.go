// Package eventcache persists a vendor's drill-down event records keyed by
// parent incident id, so repeated views of the same incident do not re-fetch
// from the vendor. Refreshes follow a replace-on-refresh policy: the cached
// set for a parent is always exactly one fetch generation, never a mix.
package eventcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// MaxEventsPerParent caps how many events one refresh stores.
const MaxEventsPerParent = 50

// ErrUnknownParent is returned when a refresh targets an incident id that
// does not resolve to a known record; the cache is left untouched so no
// orphaned rows are created.
var ErrUnknownParent = errors.New("parent incident not found")

// VendorEvent is one cached drill-down event.
type VendorEvent struct {
	ExternalID      string         `json:"external_id"`
	ParentID        string         `json:"parent_incident_id"`
	Name            string         `json:"event_name"`
	SourceIP        string         `json:"source_ip,omitempty"`
	DestinationIP   string         `json:"destination_ip,omitempty"`
	SourcePort      int            `json:"source_port,omitempty"`
	DestinationPort int            `json:"destination_port,omitempty"`
	Protocol        string         `json:"protocol,omitempty"`
	SeverityRaw     any            `json:"severity_raw,omitempty"`
	CapturedAtMs    int64          `json:"captured_at_ms"`
	Payload         map[string]any `json:"payload,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Store persists cached events. Replace must make the delete-then-insert
// visible as one generation for the parent.
type Store interface {
	Replace(ctx context.Context, parentID string, events []VendorEvent) error
	List(ctx context.Context, parentID string) ([]VendorEvent, error)
}

// ParentResolver reports whether an incident id resolves to a known record.
type ParentResolver interface {
	ParentExists(ctx context.Context, parentID string) (bool, error)
}

// ParentResolverFunc adapts a function to the ParentResolver interface.
type ParentResolverFunc func(ctx context.Context, parentID string) (bool, error)

func (f ParentResolverFunc) ParentExists(ctx context.Context, parentID string) (bool, error) {
	return f(ctx, parentID)
}

// FetchFunc retrieves the most recent vendor events for a parent incident.
type FetchFunc func(ctx context.Context) ([]VendorEvent, error)

// Cache coordinates reads and refreshes over a Store. Refreshes for the same
// parent are serialized with a per-key lock; different parents proceed in
// parallel.
type Cache struct {
	store    Store
	resolver ParentResolver
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*parentLock
}

type parentLock struct {
	mu   sync.Mutex
	refs int
}

// New builds a cache over the given store and parent resolver.
func New(store Store, resolver ParentResolver, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:    store,
		resolver: resolver,
		logger:   logger,
		locks:    make(map[string]*parentLock),
	}
}

// Refresh replaces the cached events for a parent with a fresh vendor fetch.
// It verifies the parent resolves to a known record before mutating anything
// and returns the stored set.
func (c *Cache) Refresh(ctx context.Context, parentID string, fetch FetchFunc) ([]VendorEvent, error) {
	unlock := c.lockParent(parentID)
	defer unlock()

	ok, err := c.resolver.ParentExists(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("resolving parent %s: %w", parentID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParent, parentID)
	}

	events, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching events for %s: %w", parentID, err)
	}
	if len(events) > MaxEventsPerParent {
		events = events[:MaxEventsPerParent]
	}
	for i := range events {
		events[i].ParentID = parentID
	}

	if err := c.store.Replace(ctx, parentID, events); err != nil {
		return nil, fmt.Errorf("replacing events for %s: %w", parentID, err)
	}
	c.logger.Debug("event cache refreshed",
		zap.String("parent_id", parentID),
		zap.Int("events", len(events)))
	return events, nil
}

// Events is the read path: cached events are returned directly, and the
// vendor is only called when the cache holds nothing for the parent.
func (c *Cache) Events(ctx context.Context, parentID string, fetch FetchFunc) ([]VendorEvent, error) {
	cached, err := c.store.List(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("listing events for %s: %w", parentID, err)
	}
	if len(cached) > 0 {
		return cached, nil
	}
	return c.Refresh(ctx, parentID, fetch)
}

// lockParent acquires the per-parent mutex, creating it on first use and
// dropping it once no refresh holds a reference.
func (c *Cache) lockParent(parentID string) (unlock func()) {
	c.mu.Lock()
	l, ok := c.locks[parentID]
	if !ok {
		l = &parentLock{}
		c.locks[parentID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, parentID)
		}
		c.mu.Unlock()
	}
}
