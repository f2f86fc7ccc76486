package main

import (
	"context"
	"errors"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/time/rate"
)

const (
	defaultSendInterval  = 2 * time.Second
	defaultRetryAfter    = 10 * time.Second
	limiterIdleTTL       = 60 * time.Second
	limiterSweepInterval = 60 * time.Second
)

type recipientWindow struct {
	limiter  *rate.Limiter
	lastSend time.Time
}

// RateLimiter paces every outbound action per recipient. Callers never see
// provider throttling errors; Do reports success as a bool.
type RateLimiter struct {
	interval   time.Duration
	retryAfter time.Duration
	log        waLog.Logger
	now        func() time.Time

	mu      sync.Mutex
	windows map[string]*recipientWindow
}

func NewRateLimiter(interval, retryAfter time.Duration, log waLog.Logger) *RateLimiter {
	if interval <= 0 {
		interval = defaultSendInterval
	}
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}
	if log == nil {
		log = waLog.Noop
	}
	return &RateLimiter{
		interval:   interval,
		retryAfter: retryAfter,
		log:        log,
		now:        time.Now,
		windows:    make(map[string]*recipientWindow),
	}
}

func (r *RateLimiter) window(recipient string) *recipientWindow {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[recipient]
	if !ok {
		w = &recipientWindow{limiter: rate.NewLimiter(rate.Every(r.interval), 1)}
		r.windows[recipient] = w
	}
	w.lastSend = r.now()
	return w
}

// Do waits for the recipient's slot and runs op. A throttling error gets one
// retry after retryAfter; a dropped connection gives up immediately.
func (r *RateLimiter) Do(ctx context.Context, recipient string, op func(context.Context) error) bool {
	w := r.window(recipient)
	if err := w.limiter.Wait(ctx); err != nil {
		r.log.Warnf("⏳ [RATE] Wait for %s aborted: %v", recipient, err)
		return false
	}

	err := op(ctx)
	switch {
	case err == nil:
		r.touch(recipient)
		return true
	case errors.Is(err, ErrNotConnected):
		r.log.Warnf("🔌 [RATE] Not connected, dropping send to %s", recipient)
		return false
	case errors.Is(err, ErrRateLimited):
		r.log.Warnf("⚠️ [RATE] Throttled on %s, retrying in %s", recipient, r.retryAfter)
	default:
		r.log.Errorf("❌ [SEND] %s: %v", recipient, err)
		return false
	}

	t := time.NewTimer(r.retryAfter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
	}
	if err = op(ctx); err != nil {
		r.log.Errorf("❌ [SEND] Retry to %s failed: %v", recipient, err)
		return false
	}
	r.touch(recipient)
	return true
}

func (r *RateLimiter) touch(recipient string) {
	r.mu.Lock()
	if w, ok := r.windows[recipient]; ok {
		w.lastSend = r.now()
	}
	r.mu.Unlock()
}

// Sweep evicts recipients that have been idle for longer than the TTL.
func (r *RateLimiter) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, w := range r.windows {
		if now.Sub(w.lastSend) > limiterIdleTTL {
			delete(r.windows, k)
			n++
		}
	}
	return n
}

// Tracked is the number of recipients with a live window.
func (r *RateLimiter) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// Run sweeps idle windows until ctx is done.
func (r *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.Sweep(now); n > 0 {
				r.log.Debugf("🧹 [RATE] Swept %d idle recipients", n)
			}
		}
	}
}
