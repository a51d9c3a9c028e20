package sync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// CoordinatorConfig contains coordinator configuration.
type CoordinatorConfig struct {
	// DrainInterval is how often to drain while online.
	DrainInterval time.Duration
}

// DefaultCoordinatorConfig returns default coordinator configuration.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		DrainInterval: 30 * time.Second,
	}
}

// Coordinator drives the engine from connectivity transitions and a periodic
// tick. Going online triggers an immediate drain; going offline stops
// scheduling new cycles without aborting the one in flight.
type Coordinator struct {
	config CoordinatorConfig
	engine *Engine

	// connectivity delivers online/offline transitions from the platform.
	connectivity <-chan bool

	online  atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
}

// NewCoordinator creates a coordinator. The connectivity channel delivers
// true for online and false for offline; the initial state is offline until
// the first signal arrives.
func NewCoordinator(config CoordinatorConfig, engine *Engine, connectivity <-chan bool) *Coordinator {
	if config.DrainInterval <= 0 {
		config.DrainInterval = DefaultCoordinatorConfig().DrainInterval
	}
	return &Coordinator{
		config:       config,
		engine:       engine,
		connectivity: connectivity,
		stopCh:       make(chan struct{}),
	}
}

// Start runs startup reconciliation and launches the scheduling loop.
// Stale processing operations from a prior run are demoted before the first
// drain so a crash mid-request never loses work.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("coordinator already started")
	}
	c.stopCh = make(chan struct{})

	if _, err := c.engine.Recover(ctx); err != nil {
		c.started.Store(false)
		return err
	}

	c.wg.Add(1)
	go c.run(ctx)

	slog.Info("sync coordinator started", "drain_interval", c.config.DrainInterval)
	return nil
}

// Stop cancels scheduling of future drain cycles. An operation already sent
// to the remote collaborator resolves on its own; there is no mid-flight
// abort.
func (c *Coordinator) Stop() {
	if !c.started.CompareAndSwap(true, false) {
		return
	}
	close(c.stopCh)
	c.wg.Wait()
	slog.Info("sync coordinator stopped")
}

// Running reports whether the coordinator loop is active.
func (c *Coordinator) Running() bool {
	return c.started.Load()
}

// Online reports the last observed connectivity state.
func (c *Coordinator) Online() bool {
	return c.online.Load()
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return

		case online, ok := <-c.connectivity:
			if !ok {
				slog.Warn("connectivity signal closed")
				return
			}
			was := c.online.Swap(online)
			if online && !was {
				slog.Info("connectivity restored, draining")
				c.drain(ctx)
			} else if !online && was {
				slog.Info("connectivity lost, pausing drain scheduling")
			}

		case <-ticker.C:
			if c.online.Load() {
				c.drain(ctx)
			}
		}
	}
}

func (c *Coordinator) drain(ctx context.Context) {
	result, err := c.engine.Drain(ctx)
	if err != nil {
		if errors.Is(err, ErrAlreadySyncing) {
			slog.Debug("drain already in progress, skipping trigger")
			return
		}
		// Storage errors are fatal to this cycle only; the next trigger
		// retries.
		slog.Error("drain cycle failed", "error", err)
		return
	}

	if result.Total > 0 {
		slog.Debug("drain complete",
			"synced", result.Synced,
			"skipped", result.Skipped,
			"failed", result.Failed,
		)
	}
}
