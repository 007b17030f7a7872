// Package reaper recovers work orphaned by crashed workers. It sweeps the
// processing index for events claimed longer ago than the grace period and
// either requeues them or, once the attempt budget is spent, force-fails
// them. A second sweep fires TIMEOUT at agent runs whose waiting deadline
// has passed, so a run suspended on input or on another agent can never
// hang forever.
package reaper

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/waymarkhq/waymark/internal/metrics"
	"github.com/waymarkhq/waymark/pkg/agentstate"
	"github.com/waymarkhq/waymark/pkg/event"
)

// Defaults applied by Config.Normalize.
const (
	DefaultInterval    = 30 * time.Second
	DefaultGracePeriod = 5 * time.Minute
	DefaultMaxAttempts = 3
)

// Config tunes the sweep cadence and patience.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// GracePeriod an event may sit in processing before it counts as stuck.
	// It must be longer than the slowest tier deadline or the reaper will
	// steal work from live handlers.
	GracePeriod time.Duration
	// MaxAttempts mirrors the dispatcher budget; a stuck event at the
	// budget is force-failed instead of requeued.
	MaxAttempts int
}

// Normalize fills in defaults for anything left zero.
func (c *Config) Normalize() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
}

// Reaper periodically sweeps stuck events and expired waits.
type Reaper struct {
	client  *event.Client
	store   *agentstate.Store
	metrics *metrics.Metrics // may be nil in tests
	config  Config
}

// New creates a reaper. m may be nil to disable instrumentation.
func New(client *event.Client, store *agentstate.Store, m *metrics.Metrics, cfg Config) *Reaper {
	cfg.Normalize()
	return &Reaper{
		client:  client,
		store:   store,
		metrics: m,
		config:  cfg,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logEvent("reaper_started", map[string]interface{}{
		"interval_s": r.config.Interval.Seconds(),
		"grace_s":    r.config.GracePeriod.Seconds(),
	})

	for {
		select {
		case <-ctx.Done():
			r.logEvent("reaper_stopped", map[string]interface{}{})
			return nil
		case <-ticker.C:
			if err := r.SweepStuck(ctx); err != nil {
				log.Printf("[Reaper] stuck sweep error: %v", err)
			}
			if err := r.SweepExpiredWaits(ctx); err != nil {
				log.Printf("[Reaper] wait sweep error: %v", err)
			}
		}
	}
}

// SweepStuck requeues or force-fails every event that has sat in
// processing longer than the grace period.
func (r *Reaper) SweepStuck(ctx context.Context) error {
	cutoff := time.Now().Add(-r.config.GracePeriod).UnixMilli()
	ids, err := r.client.StuckProcessing(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("listing stuck events: %w", err)
	}

	for _, id := range ids {
		if err := r.reapOne(ctx, id); err != nil {
			log.Printf("[Reaper] error reaping %s: %v", id, err)
		}
	}
	return nil
}

func (r *Reaper) reapOne(ctx context.Context, id string) error {
	ev, err := r.client.Get(ctx, id)
	if err != nil {
		if event.IsNotFound(err) {
			// Hash expired or was deleted; nothing to recover.
			return nil
		}
		return err
	}
	if ev.Status != event.StatusProcessing {
		// The worker finished between the index read and here.
		return nil
	}

	if ev.RetryCount+1 < r.config.MaxAttempts {
		if err := r.client.Requeue(ctx, id); err != nil {
			return fmt.Errorf("requeueing stuck event: %w", err)
		}
		r.logEvent("stuck_event_requeued", map[string]interface{}{
			"event_id": id,
			"type":     ev.Type,
			"attempt":  ev.RetryCount + 1,
		})
	} else {
		message := fmt.Sprintf("reaped after %d attempts", ev.RetryCount+1)
		if err := r.client.MarkFailed(ctx, id, message); err != nil {
			return fmt.Errorf("force-failing stuck event: %w", err)
		}
		r.logEvent("stuck_event_failed", map[string]interface{}{
			"event_id": id,
			"type":     ev.Type,
			"attempts": ev.RetryCount + 1,
		})
	}
	if r.metrics != nil {
		r.metrics.EventsReaped.Inc()
	}
	return nil
}

// SweepExpiredWaits fires TIMEOUT at every agent run whose waiting
// deadline has passed. The transition script removes the run from the
// waiting index, so each expiry is delivered once.
func (r *Reaper) SweepExpiredWaits(ctx context.Context) error {
	keys, err := r.store.ExpiredWaits(ctx, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("listing expired waits: %w", err)
	}

	for _, key := range keys {
		_, err := r.store.Transition(ctx, key, agentstate.SignalTimeout, agentstate.NoContext(), nil)
		if err != nil {
			if agentstate.IsNotFound(err) || agentstate.IsIllegalTransition(err) {
				// The run moved on its own between the index read and here.
				continue
			}
			log.Printf("[Reaper] error timing out %s: %v", key, err)
			continue
		}
		r.logEvent("wait_expired", map[string]interface{}{
			"agent": key.AgentName,
			"user":  key.UserID,
			"task":  key.TaskID,
		})
		if r.metrics != nil {
			r.metrics.WaitsExpired.Inc()
		}
	}
	return nil
}

// logEvent logs a structured event in JSON format.
func (r *Reaper) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "reaper"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Reaper] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
