package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var (
	ErrReaperAlreadyRunning = errors.New("reaper is already running")
	ErrReaperNotRunning     = errors.New("reaper is not running")
)

// ReaperConfig controls the expiry sweep
type ReaperConfig struct {
	Interval           time.Duration
	InactivityDeadline time.Duration // minimum age of a session before it can expire
	IdleWindow         time.Duration // minimum time since the last membership change
	ClosedRetention    time.Duration // how long tombstones answer "session closed"; 0 purges on the next sweep
}

// DefaultReaperConfig returns the production sweep settings
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval:           time.Minute,
		InactivityDeadline: 30 * time.Minute,
		IdleWindow:         10 * time.Minute,
		ClosedRetention:    time.Hour,
	}
}

// Reaper periodically abandons forming sessions that never started
// TECHNICAL DISCOVERY: The sweep snapshots IDs first and then goes through the
// same per-session critical section as every other operation, so it can run
// concurrently with joins and starts without a global lock
type Reaper struct {
	manager *Manager
	config  ReaperConfig

	shutdownChannel chan struct{}
	done            chan struct{}
	running         bool
	mu              sync.Mutex
}

// NewReaper creates a reaper for manager's sessions
func NewReaper(manager *Manager, config ReaperConfig) *Reaper {
	return &Reaper{
		manager: manager,
		config:  config,
	}
}

// Start begins periodic sweeping
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrReaperAlreadyRunning
	}
	r.running = true
	r.shutdownChannel = make(chan struct{})
	r.done = make(chan struct{})

	log.Printf("Starting session reaper: interval=%v deadline=%v idle=%v",
		r.config.Interval, r.config.InactivityDeadline, r.config.IdleWindow)
	go r.run(ctx, r.shutdownChannel, r.done)
	return nil
}

// Stop halts sweeping and waits for an in-flight sweep to finish
func (r *Reaper) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrReaperNotRunning
	}
	r.running = false
	close(r.shutdownChannel)
	done := r.done
	r.mu.Unlock()

	<-done
	log.Println("Session reaper stopped")
	return nil
}

// Sweep runs one expiry pass and returns the IDs of the sessions it abandoned
func (r *Reaper) Sweep(ctx context.Context) []string {
	expired := []string{}
	for _, sessionID := range r.manager.registry.IDs() {
		if ctx.Err() != nil {
			break
		}
		ok, err := r.manager.Expire(ctx, sessionID, r.config.InactivityDeadline, r.config.IdleWindow)
		if err != nil {
			log.Printf("Reaper failed to expire session %s: %v", sessionID, err)
			continue
		}
		if ok {
			expired = append(expired, sessionID)
		}
	}

	// Zero retention drops every tombstone on the next sweep
	cutoff := r.manager.registry.now().Add(-r.config.ClosedRetention)
	if purged := r.manager.registry.PurgeClosed(cutoff); purged > 0 {
		log.Printf("Reaper purged %d closed session records", purged)
	}
	return expired
}

func (r *Reaper) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if expired := r.Sweep(ctx); len(expired) > 0 {
				log.Printf("Reaper expired %d sessions", len(expired))
			}
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}
