package sessionx

import (
	"sync"
	"time"

	"github.com/convokit/convokit/pkg/logx"
)

// Sweeper runs CleanupExpiredSessions on a fixed interval for backends
// without native expiry. One failed or panicking sweep is logged and the
// loop continues to its next scheduled run; the loop is never restarted
// by anything else, so Start must be called exactly once.
type Sweeper struct {
	store    Store
	interval time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewSweeper creates a sweeper for the given store
func NewSweeper(store Store, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Subsequent calls are no-ops.
func (sw *Sweeper) Start() {
	sw.startOnce.Do(func() {
		logx.WithField("interval", sw.interval).Info("Session expiry sweeper started")
		go sw.run()
	})
}

// Stop terminates the loop and waits for the in-flight sweep to finish.
// Must only be called after Start.
func (sw *Sweeper) Stop() {
	sw.stopOnce.Do(func() {
		close(sw.stop)
	})
	<-sw.done
	logx.Info("Session expiry sweeper stopped")
}

func (sw *Sweeper) run() {
	defer close(sw.done)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.sweepOnce()
		case <-sw.stop:
			return
		}
	}
}

func (sw *Sweeper) sweepOnce() {
	defer func() {
		if r := recover(); r != nil {
			logx.WithField("panic", r).Error("Session sweep panicked")
		}
	}()

	removed, err := sw.store.CleanupExpiredSessions()
	if err != nil {
		logx.WithError(err).Error("Session sweep failed")
		return
	}
	if removed > 0 {
		logx.WithField("removed", removed).Info("Session sweep completed")
	}
}
