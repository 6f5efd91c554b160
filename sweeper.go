package devicepair

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically evicts device codes older than the TTL.
type Sweeper struct {
	store    DeviceCodeStore
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	monitor  Monitor
	metrics  *Metrics

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewSweeper creates a sweeper for store. It does nothing until Start is called.
// A nil logger falls back to slog.Default.
func NewSweeper(store DeviceCodeStore, ttl, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		monitor:  &NoopMonitor{},
		done:     make(chan struct{}),
	}
}

// NewSweeper creates a sweeper using the broker's store, TTL, interval and instrumentation.
func (b *Broker) NewSweeper() *Sweeper {
	s := NewSweeper(b.store, b.config.CodeTTL, b.config.SweepInterval, b.logger())
	s.monitor = b.monitor()
	s.metrics = b.metrics()
	return s
}

// Start launches the sweep loop. It stops when ctx is cancelled or Close is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop(ctx)
	})
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	removed := s.store.Sweep(s.ttl)
	live := s.store.Len()
	s.metrics.swept(removed)
	s.metrics.setLiveEntries(live)
	if removed == 0 {
		return
	}

	s.logger.Debug("swept expired device codes", "removed", removed, "live", live)
	if err := s.monitor.AuditEntriesSwept(ctx, removed); err != nil {
		s.logger.Warn("audit entries swept", "error", err)
	}
}

// Close stops the sweeper and waits for the loop to exit.
func (s *Sweeper) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}
