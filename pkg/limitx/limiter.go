// Package limitx provides per-identifier sliding-window admission
// control for inbound conversation traffic.
package limitx

import (
	"sync"
	"time"

	"github.com/convokit/convokit/pkg/logx"
)

// Decision is the outcome of one admission check. Checks never fail:
// an identifier with no tracked state simply has no prior requests.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits at most maxRequests events per identifier within a
// trailing window. State is a mutex-guarded map of request timestamps;
// a background prune loop drops identifiers that have gone quiet so
// memory stays bounded even for one-off senders.
type Limiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time

	maxRequests int
	window      time.Duration
	now         func() time.Time

	pruneInterval time.Duration
	startOnce     sync.Once
	stopOnce      sync.Once
	stop          chan struct{}
	done          chan struct{}
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides the time source for tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithPruneInterval overrides the idle-identifier prune cadence
func WithPruneInterval(d time.Duration) Option {
	return func(l *Limiter) {
		l.pruneInterval = d
	}
}

// New creates a sliding-window limiter
func New(maxRequests int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		requests:      make(map[string][]time.Time),
		maxRequests:   maxRequests,
		window:        window,
		now:           time.Now,
		pruneInterval: 5 * time.Minute,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	logx.WithFields(logx.Fields{
		"max_requests": maxRequests,
		"window":       window,
	}).Info("Rate limiter initialized")

	return l
}

// Check records the request when admitted and returns the decision.
// When denied, RetryAfter is the time until the oldest surviving
// request slides out of the window.
func (l *Limiter) Check(identifier string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	recent := pruneBefore(l.requests[identifier], cutoff)

	if len(recent) >= l.maxRequests {
		l.requests[identifier] = recent
		// A non-positive limit denies everything; with no timestamp to
		// slide out of the window, the full window is the wait hint.
		retryAfter := l.window
		if len(recent) > 0 {
			retryAfter = recent[0].Add(l.window).Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
	}

	recent = append(recent, now)
	l.requests[identifier] = recent
	return Decision{Allowed: true, Remaining: l.maxRequests - len(recent)}
}

// TrackedIdentifiers returns how many identifiers currently hold state
func (l *Limiter) TrackedIdentifiers() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.requests)
}

// StartPruning launches the background prune loop. Subsequent calls are
// no-ops.
func (l *Limiter) StartPruning() {
	l.startOnce.Do(func() {
		logx.WithField("interval", l.pruneInterval).Info("Rate limiter prune loop started")
		go l.run()
	})
}

// Stop terminates the prune loop. Must only be called after StartPruning.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
	<-l.done
}

func (l *Limiter) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.pruneIdle()
		case <-l.stop:
			return
		}
	}
}

// pruneIdle drops identifiers with no requests newer than twice the
// window. The doubled cutoff keeps entries that an in-flight Check may
// still be counting.
func (l *Limiter) pruneIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-2 * l.window)
	pruned := 0
	for id, stamps := range l.requests {
		if len(pruneBefore(stamps, cutoff)) == 0 {
			delete(l.requests, id)
			pruned++
		}
	}

	if pruned > 0 {
		logx.WithField("pruned", pruned).Debug("Idle rate-limit identifiers removed")
	}
}

// pruneBefore drops timestamps older than cutoff, preserving order
func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && stamps[idx].Before(cutoff) {
		idx++
	}
	return stamps[idx:]
}
