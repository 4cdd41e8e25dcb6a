// Package drain coordinates graceful shutdown of the engine's background
// goroutines. Webhook deliveries and their retries (C10) register with a
// Coordinator on start and release on completion; pattern and
// change-tracker persistence does not register and is saved by the engine
// after draining. Shutdown waits for a quiet period with zero active work
// before reporting drained,
// so a caller holding a cancelled context can still flush state to disk.
package drain

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ActiveChecker reports whether a component has outstanding work beyond
// what Coordinator.Track is already counting (e.g. a webhook dispatcher's
// internal retry queue depth).
type ActiveChecker func() bool

// Coordinator tracks outstanding background work and signals when the
// engine has gone quiet for a full QuietPeriod, so shutdown can proceed
// without cutting off an in-flight webhook delivery or retry.
type Coordinator struct {
	quietPeriod  time.Duration
	logger       *slog.Logger
	active       int64
	lastActivity time.Time
	mu           sync.RWMutex
	doneChan     chan struct{}
	stopChan     chan struct{}
	activeCheck  ActiveChecker
}

// Config configures a Coordinator.
type Config struct {
	// QuietPeriod is how long the coordinator must observe zero active
	// work before considering the engine drained. Zero disables draining
	// (Start closes Drained() immediately).
	QuietPeriod time.Duration
	Logger      *slog.Logger
	// ActiveCheck is an optional extra busy-check consulted alongside the
	// Track-based counter.
	ActiveCheck ActiveChecker
}

// NewCoordinator builds a Coordinator from cfg.
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{
		quietPeriod:  cfg.QuietPeriod,
		logger:       cfg.Logger,
		lastActivity: time.Now(),
		doneChan:     make(chan struct{}),
		stopChan:     make(chan struct{}),
		activeCheck:  cfg.ActiveCheck,
	}
}

// Track marks the start of one unit of background work and returns a
// function the caller must invoke exactly once when that work completes.
func (c *Coordinator) Track() func() {
	atomic.AddInt64(&c.active, 1)
	c.touch()

	var released int32
	return func() {
		if !atomic.CompareAndSwapInt32(&released, 0, 1) {
			return
		}
		atomic.AddInt64(&c.active, -1)
		c.touch()
	}
}

func (c *Coordinator) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// Start begins monitoring for a drained state. Safe to call even when
// QuietPeriod is zero; in that case Drained() closes immediately.
func (c *Coordinator) Start() {
	if c.quietPeriod <= 0 {
		close(c.doneChan)
		return
	}
	go c.run()
}

// Stop halts monitoring without necessarily having drained.
func (c *Coordinator) Stop() {
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
}

// Drained returns a channel closed once the coordinator has observed zero
// active work for a full QuietPeriod.
func (c *Coordinator) Drained() <-chan struct{} {
	return c.doneChan
}

func (c *Coordinator) run() {
	checkInterval := c.quietPeriod / 6
	if checkInterval < 100*time.Millisecond {
		checkInterval = 100 * time.Millisecond
	}
	if checkInterval > 5*time.Second {
		checkInterval = 5 * time.Second
	}

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			active := atomic.LoadInt64(&c.active)
			c.mu.RLock()
			idleTime := time.Since(c.lastActivity)
			c.mu.RUnlock()

			busy := false
			if c.activeCheck != nil {
				busy = c.activeCheck()
			}
			if active > 0 || busy {
				c.touch()
				idleTime = 0
			}

			if active == 0 && !busy && idleTime >= c.quietPeriod {
				if c.logger != nil {
					c.logger.Info("background work drained", "quiet_period", c.quietPeriod)
				}
				close(c.doneChan)
				return
			}
		}
	}
}
