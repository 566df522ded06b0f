package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arenalabs/arena-engine/internal/metrics"
)

// Sink receives serialized feed messages for one subscriber. Implementations
// must be safe for concurrent Send calls; a Send error marks the subscriber
// dead and it is dropped from the feed.
type Sink interface {
	Send(data []byte) error
	Close() error
}

// feed is one broadcast channel: a subscriber set plus a lazily started
// publish loop. Idle (no subscribers, no loop) → first subscribe starts the
// loop → last unsubscribe cancels it. The start/stop transitions and the
// subscriber set share one mutex, so two "first" subscribers cannot both
// start a loop.
type feed struct {
	name     string
	interval time.Duration

	// build serializes the periodic payload. snapshot, when non-nil, builds
	// the one-shot message sent to a subscriber on connect, before it joins
	// the periodic set.
	build    func(ctx context.Context) ([]byte, error)
	snapshot func(ctx context.Context) ([]byte, error)

	mu      sync.Mutex
	subs    map[uuid.UUID]Sink
	running bool
	cancel  context.CancelFunc
}

func newFeed(name string, interval time.Duration, build, snapshot func(ctx context.Context) ([]byte, error)) *feed {
	return &feed{
		name:     name,
		interval: interval,
		build:    build,
		snapshot: snapshot,
		subs:     make(map[uuid.UUID]Sink),
	}
}

// subscribe registers sink and starts the publish loop if this is the first
// subscriber. The on-connect snapshot, if any, is delivered before the sink
// joins the periodic set; a snapshot failure is logged, not fatal.
func (f *feed) subscribe(ctx context.Context, sink Sink) uuid.UUID {
	if f.snapshot != nil {
		if data, err := f.snapshot(ctx); err != nil {
			slog.Error("initial snapshot build failed", "feed", f.name, "err", err)
		} else if err := sink.Send(data); err != nil {
			slog.Warn("initial snapshot send failed", "feed", f.name, "err", err)
		}
	}

	id := uuid.New()

	f.mu.Lock()
	f.subs[id] = sink
	total := len(f.subs)
	if !f.running {
		loopCtx, cancel := context.WithCancel(context.Background())
		f.cancel = cancel
		f.running = true
		go f.run(loopCtx)
	}
	f.mu.Unlock()

	metrics.Subscribers.WithLabelValues(f.name).Set(float64(total))
	slog.Info("subscriber joined", "feed", f.name, "total", total)
	return id
}

// unsubscribe removes the subscriber and cancels the loop when the set
// becomes empty. An in-flight tick is unaffected; cancellation takes effect
// at the next ticker wait.
func (f *feed) unsubscribe(id uuid.UUID) {
	f.mu.Lock()
	sink, ok := f.subs[id]
	if ok {
		delete(f.subs, id)
	}
	total := len(f.subs)
	if ok && total == 0 && f.running {
		f.cancel()
		f.cancel = nil
		f.running = false
	}
	f.mu.Unlock()

	if !ok {
		return
	}
	sink.Close()
	metrics.Subscribers.WithLabelValues(f.name).Set(float64(total))
	slog.Info("subscriber left", "feed", f.name, "total", total)
}

// status returns the subscriber count and whether the loop is running.
func (f *feed) status() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs), f.running
}

// run is the publish loop. Feed-level errors are logged and retried on the
// next tick; the loop terminates only through context cancellation.
func (f *feed) run(ctx context.Context) {
	slog.Info("publish loop started", "feed", f.name, "interval", f.interval)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("publish loop stopped", "feed", f.name)
			return
		case <-ticker.C:
			f.publish(ctx)
		}
	}
}

// publish builds the payload once and delivers it to a snapshot of the
// subscriber set, each send independent. Failed subscribers are dropped;
// one bad connection never blocks the rest or kills the loop.
func (f *feed) publish(ctx context.Context) {
	start := time.Now()

	f.mu.Lock()
	if len(f.subs) == 0 {
		f.mu.Unlock()
		return
	}
	targets := make(map[uuid.UUID]Sink, len(f.subs))
	for id, sink := range f.subs {
		targets[id] = sink
	}
	f.mu.Unlock()

	data, err := f.build(ctx)
	if err != nil {
		slog.Error("payload build failed", "feed", f.name, "err", err)
		return
	}

	var wg sync.WaitGroup
	var failedMu sync.Mutex
	var failed []uuid.UUID

	for id, sink := range targets {
		wg.Add(1)
		go func(id uuid.UUID, sink Sink) {
			defer wg.Done()
			if err := sink.Send(data); err != nil {
				failedMu.Lock()
				failed = append(failed, id)
				failedMu.Unlock()
				slog.Warn("send failed, dropping subscriber", "feed", f.name, "err", err)
			}
		}(id, sink)
	}
	wg.Wait()

	for _, id := range failed {
		f.unsubscribe(id)
	}

	metrics.PublishDuration.WithLabelValues(f.name).Observe(time.Since(start).Seconds())
}
