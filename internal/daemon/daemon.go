// Package daemon assembles the orchestration core: the dispatcher pools,
// the global listener, the reaper, and the health/metrics endpoint, all
// wired from one WaymarkConfig and torn down together on shutdown.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/waymarkhq/waymark/internal/agents"
	"github.com/waymarkhq/waymark/internal/config"
	"github.com/waymarkhq/waymark/internal/dispatch"
	"github.com/waymarkhq/waymark/internal/listener"
	"github.com/waymarkhq/waymark/internal/metrics"
	"github.com/waymarkhq/waymark/internal/reaper"
	"github.com/waymarkhq/waymark/internal/tools"
	"github.com/waymarkhq/waymark/pkg/agentstate"
	"github.com/waymarkhq/waymark/pkg/event"
)

// queueDepthInterval is how often the daemon samples tier queue depths
// into the depth gauge.
const queueDepthInterval = 10 * time.Second

// Daemon owns every long-running component of one Waymark instance.
type Daemon struct {
	cfg *config.WaymarkConfig

	client   *event.Client
	store    *agentstate.Store
	metrics  *metrics.Metrics
	registry *dispatch.Registry

	dispatcher *dispatch.Dispatcher
	listener   *listener.Listener
	reaper     *reaper.Reaper
	health     *HealthServer
}

// New wires a daemon from config. Nothing runs until Run is called.
func New(cfg *config.WaymarkConfig) (*Daemon, error) {
	redisOpts := &redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	}

	client, err := event.NewClient(redisOpts, cfg.Instance)
	if err != nil {
		return nil, fmt.Errorf("creating event client: %w", err)
	}

	store, err := agentstate.NewStore(redisOpts, cfg.Instance)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("creating agent state store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg, cfg.Instance)

	toolTimeouts := make(map[string]time.Duration, len(cfg.Tools.Timeouts))
	for id, d := range cfg.Tools.Timeouts {
		toolTimeouts[id] = d.Std()
	}
	executor := tools.NewHTTPExecutor(cfg.Tools.Endpoint, toolTimeouts)

	runner := agents.NewRunner(store, executor, agents.Options{
		MaxAdaptations:  cfg.Runner.MaxAdaptations,
		ApprovalTimeout: cfg.Runner.ApprovalTimeout.Std(),
	})

	registry := dispatch.NewRegistry()
	if err := agents.RegisterHandlers(registry, runner); err != nil {
		client.Close()
		store.Close()
		return nil, fmt.Errorf("registering agent handlers: %w", err)
	}

	dispatchCfg := dispatch.Config{
		Workers:     make(map[string]int),
		Deadlines:   make(map[string]time.Duration),
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		PollTimeout: cfg.Dispatch.PollTimeout.Std(),
	}
	for tier, tc := range cfg.Dispatch.Tiers {
		dispatchCfg.Workers[tier] = tc.Workers
		dispatchCfg.Deadlines[tier] = tc.Deadline.Std()
	}

	d := &Daemon{
		cfg:      cfg,
		client:   client,
		store:    store,
		metrics:  m,
		registry: registry,

		dispatcher: dispatch.NewDispatcher(client, registry, m, dispatchCfg),
		listener: listener.New(client, redisOpts, cfg.Instance, m, listener.Config{
			RejectionThreshold: cfg.Listener.RejectionThreshold,
			RejectionWindow:    cfg.Listener.RejectionWindow.Std(),
			StallThreshold:     cfg.Listener.StallThreshold.Std(),
			StallSweepInterval: cfg.Listener.StallSweepInterval.Std(),
			SkillGapThreshold:  cfg.Listener.SkillGapThreshold,
		}),
		reaper: reaper.New(client, store, m, reaper.Config{
			Interval:    cfg.Reaper.Interval.Std(),
			GracePeriod: cfg.Reaper.GracePeriod.Std(),
			MaxAttempts: cfg.Dispatch.MaxAttempts,
		}),
		health: NewHealthServer(client, reg, cfg.Server.Addr),
	}
	return d, nil
}

// Registry exposes the handler registry. Every known event type is
// already bound at construction; embedders replace behaviour by wrapping
// the daemon, not by re-registering types.
func (d *Daemon) Registry() *dispatch.Registry {
	return d.registry
}

// Run starts everything and blocks until ctx is cancelled, then tears the
// components down and closes the Redis connections.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.client.Ping(ctx); err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", d.cfg.Redis.Addr, err)
	}

	if err := d.health.Start(); err != nil {
		return fmt.Errorf("starting health server: %w", err)
	}

	d.logEvent("daemon_started", map[string]interface{}{
		"redis":  d.cfg.Redis.Addr,
		"server": d.cfg.Server.Addr,
	})

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				log.Printf("[Daemon] %s exited with error: %v", name, err)
			}
		}()
	}

	run("dispatcher", d.dispatcher.Run)
	run("listener", d.listener.Run)
	run("reaper", d.reaper.Run)
	run("queue-depth", d.sampleQueueDepths)

	<-ctx.Done()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.health.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Daemon] health server shutdown error: %v", err)
	}

	d.listener.Close()
	d.store.Close()
	d.client.Close()

	d.logEvent("daemon_stopped", map[string]interface{}{})
	return nil
}

// sampleQueueDepths keeps the per-tier depth gauge current.
func (d *Daemon) sampleQueueDepths(ctx context.Context) error {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, queue := range event.Queues {
				depth, err := d.client.QueueDepth(ctx, queue)
				if err != nil {
					continue
				}
				d.metrics.QueueDepth.WithLabelValues(queue).Set(float64(depth))
			}
		}
	}
}

// logEvent logs a structured event in JSON format.
func (d *Daemon) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "daemon"
	data["event_type"] = eventType
	data["instance"] = d.cfg.Instance

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Daemon] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
