// Package broadcast fans database-derived snapshots out to many concurrent
// observers over three independent feeds, each on its own cadence:
//
//	combined  3s  positions + recent trades + recent chat
//	price     1s  oracle snapshot of all tracked symbols
//	equity    20s downsampled equity curve per agent
//
// Each feed runs its own loop, started lazily on the first subscriber and
// stopped when the last one leaves.
package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arenalabs/arena-engine/internal/oracle"
	"github.com/arenalabs/arena-engine/internal/store"
)

// Feed names accepted by Subscribe and reported by Status.
const (
	FeedCombined = "combined"
	FeedPrice    = "price"
	FeedEquity   = "equity"
)

// Default publish cadences.
const (
	CombinedInterval = 3 * time.Second
	PriceInterval    = 1 * time.Second
	EquityInterval   = 20 * time.Second
)

// Handle identifies one subscription for later Unsubscribe.
type Handle struct {
	feed string
	id   uuid.UUID
}

// FeedStatus is one feed's entry in the status query.
type FeedStatus struct {
	Feed        string `json:"feed"`
	Subscribers int    `json:"subscribers"`
	Running     bool   `json:"running"`
	Interval    string `json:"interval"`
}

// Registry owns the three feeds. Construct one per service instance.
type Registry struct {
	store  store.Store
	oracle oracle.Oracle
	feeds  map[string]*feed
}

// NewRegistry creates a registry with the default cadences.
func NewRegistry(st store.Store, orc oracle.Oracle) *Registry {
	return NewRegistryWithIntervals(st, orc, CombinedInterval, PriceInterval, EquityInterval)
}

// NewRegistryWithIntervals creates a registry with explicit cadences. For
// tests that cannot wait on production tick rates.
func NewRegistryWithIntervals(st store.Store, orc oracle.Oracle, combined, price, equity time.Duration) *Registry {
	r := &Registry{store: st, oracle: orc}

	r.feeds = map[string]*feed{
		FeedCombined: newFeed(FeedCombined, combined, r.buildCombined, nil),
		FeedPrice: newFeed(FeedPrice, price,
			func(ctx context.Context) ([]byte, error) { return r.buildPrices(ctx, TypePriceUpdate) },
			func(ctx context.Context) ([]byte, error) { return r.buildPrices(ctx, TypeInitialPrices) },
		),
		FeedEquity: newFeed(FeedEquity, equity,
			func(ctx context.Context) ([]byte, error) { return r.buildEquity(ctx, TypeEquityUpdate) },
			func(ctx context.Context) ([]byte, error) { return r.buildEquity(ctx, TypeInitialEquity) },
		),
	}
	return r
}

// Subscribe attaches sink to the named feed, delivering the on-connect
// snapshot where the feed has one and starting the publish loop if idle.
func (r *Registry) Subscribe(ctx context.Context, feedName string, sink Sink) (Handle, error) {
	f, ok := r.feeds[feedName]
	if !ok {
		return Handle{}, fmt.Errorf("broadcast: unknown feed %q", feedName)
	}
	return Handle{feed: feedName, id: f.subscribe(ctx, sink)}, nil
}

// Unsubscribe detaches the subscription. The loop stops when the feed's
// subscriber set becomes empty; in-flight publishes are unaffected.
func (r *Registry) Unsubscribe(h Handle) {
	if f, ok := r.feeds[h.feed]; ok {
		f.unsubscribe(h.id)
	}
}

// Status reports subscriber count and loop state per feed.
func (r *Registry) Status() []FeedStatus {
	out := make([]FeedStatus, 0, len(r.feeds))
	for _, name := range []string{FeedCombined, FeedPrice, FeedEquity} {
		f := r.feeds[name]
		count, running := f.status()
		out = append(out, FeedStatus{
			Feed:        name,
			Subscribers: count,
			Running:     running,
			Interval:    f.interval.String(),
		})
	}
	return out
}
