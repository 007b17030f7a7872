package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/waymarkhq/waymark/internal/metrics"
	"github.com/waymarkhq/waymark/pkg/event"
)

// Defaults applied by Config.Normalize for tiers left unconfigured.
const (
	DefaultMaxAttempts  = 3
	DefaultPollTimeout  = 1 * time.Second
	DefaultTierWorkers  = 2
	DefaultTierDeadline = 60 * time.Second
)

// Config sizes the worker pools and their processing deadlines.
type Config struct {
	// Workers is the pool size per tier queue name.
	Workers map[string]int
	// Deadlines bounds handler wall time per tier queue name.
	Deadlines map[string]time.Duration
	// MaxAttempts is the total attempt budget per event, including the first.
	MaxAttempts int
	// PollTimeout is the BLPOP block duration; it bounds shutdown latency.
	PollTimeout time.Duration
}

// Normalize fills in defaults for anything left zero.
func (c *Config) Normalize() {
	if c.Workers == nil {
		c.Workers = make(map[string]int)
	}
	if c.Deadlines == nil {
		c.Deadlines = make(map[string]time.Duration)
	}
	for _, queue := range event.Queues {
		if c.Workers[queue] <= 0 {
			c.Workers[queue] = DefaultTierWorkers
		}
		if c.Deadlines[queue] <= 0 {
			c.Deadlines[queue] = DefaultTierDeadline
		}
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
}

// Dispatcher owns the per-tier worker pools.
type Dispatcher struct {
	client   *event.Client
	registry *Registry
	metrics  *metrics.Metrics // may be nil in tests
	config   Config
}

// NewDispatcher creates a dispatcher. m may be nil to disable instrumentation.
func NewDispatcher(client *event.Client, registry *Registry, m *metrics.Metrics, cfg Config) *Dispatcher {
	cfg.Normalize()
	return &Dispatcher{
		client:   client,
		registry: registry,
		metrics:  m,
		config:   cfg,
	}
}

// Run starts every tier pool and blocks until ctx is cancelled and all
// workers have drained their in-flight event. It refuses to start unless
// the registry covers the full closed set of event types.
func (d *Dispatcher) Run(ctx context.Context) error {
	if missing := d.registry.MissingTypes(); len(missing) > 0 {
		return fmt.Errorf("registry has no handler for event types %v", missing)
	}

	var wg sync.WaitGroup
	for _, queue := range event.Queues {
		for i := 0; i < d.config.Workers[queue]; i++ {
			wg.Add(1)
			go func(queue string, worker int) {
				defer wg.Done()
				d.workerLoop(ctx, queue, worker)
			}(queue, i)
		}
	}

	d.logEvent("dispatcher_started", map[string]interface{}{
		"workers": d.config.Workers,
	})

	wg.Wait()
	d.logEvent("dispatcher_stopped", map[string]interface{}{})
	return nil
}

// workerLoop pulls event IDs from one tier queue until ctx is cancelled.
func (d *Dispatcher) workerLoop(ctx context.Context, queue string, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		id, err := d.client.Dequeue(ctx, queue, d.config.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Dispatch] worker %s/%d dequeue error: %v", queue, worker, err)
			continue
		}
		if id == "" {
			continue
		}

		if err := d.process(ctx, queue, id); err != nil {
			log.Printf("[Dispatch] worker %s/%d error processing %s: %v", queue, worker, id, err)
		}
	}
}

// process claims one event, runs its handler, and records the outcome.
// A dequeued ID whose event lost the claim race is dropped silently; that
// is the idempotency guard working, not an error.
func (d *Dispatcher) process(ctx context.Context, queue, id string) error {
	skip, err := d.client.ShouldSkip(ctx, id)
	if err != nil {
		return fmt.Errorf("idempotency check for %s: %w", id, err)
	}
	if skip.Skip {
		d.logEvent("event_skipped", map[string]interface{}{
			"event_id": id,
			"reason":   skip.Reason,
		})
		if d.metrics != nil {
			d.metrics.EventsSkipped.Inc()
		}
		return nil
	}

	ev, err := d.client.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching claimed event %s: %w", id, err)
	}

	handler, ok := d.registry.HandlerFor(ev.Type)
	if !ok {
		d.failEvent(ctx, queue, ev, fmt.Sprintf("no handler registered for event type %s", ev.Type))
		return nil
	}

	start := time.Now()
	handlerErr := d.invoke(ctx, queue, handler, ev)
	if d.metrics != nil {
		d.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	}

	if handlerErr == nil {
		if err := d.client.MarkCompleted(ctx, id); err != nil {
			return fmt.Errorf("completing %s: %w", id, err)
		}
		d.logEvent("event_completed", map[string]interface{}{
			"event_id":    id,
			"type":        ev.Type,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if d.metrics != nil {
			d.metrics.EventsProcessed.WithLabelValues(queue, "completed").Inc()
		}
		return nil
	}

	// RetryCount was taken before this attempt, so attempts so far is +1.
	if IsTransient(handlerErr) && ev.RetryCount+1 < d.config.MaxAttempts {
		if err := d.client.Requeue(ctx, id); err != nil {
			return fmt.Errorf("requeueing %s: %w", id, err)
		}
		d.logEvent("event_requeued", map[string]interface{}{
			"event_id": id,
			"type":     ev.Type,
			"attempt":  ev.RetryCount + 1,
			"error":    handlerErr.Error(),
		})
		if d.metrics != nil {
			d.metrics.EventsProcessed.WithLabelValues(queue, "requeued").Inc()
		}
		return nil
	}

	d.failEvent(ctx, queue, ev, handlerErr.Error())
	return nil
}

// invoke runs the handler under the tier deadline with panic containment.
func (d *Dispatcher) invoke(ctx context.Context, queue string, handler HandlerFunc, ev *event.Event) (err error) {
	handlerCtx, cancel := context.WithTimeout(ctx, d.config.Deadlines[queue])
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = Fatal(fmt.Errorf("handler panic: %v", r))
		}
	}()

	return handler(handlerCtx, ev)
}

func (d *Dispatcher) failEvent(ctx context.Context, queue string, ev *event.Event, message string) {
	if err := d.client.MarkFailed(ctx, ev.ID, message); err != nil {
		log.Printf("[Dispatch] failed to mark %s failed: %v", ev.ID, err)
		return
	}
	d.logEvent("event_failed", map[string]interface{}{
		"event_id": ev.ID,
		"type":     ev.Type,
		"error":    message,
	})
	if d.metrics != nil {
		d.metrics.EventsProcessed.WithLabelValues(queue, "failed").Inc()
	}
}

// logEvent logs a structured event in JSON format.
func (d *Dispatcher) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "dispatch"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Dispatch] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
