package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/waymarkhq/waymark/internal/metrics"
	"github.com/waymarkhq/waymark/pkg/event"
)

// Defaults applied by Config.Normalize.
const (
	DefaultRejectionThreshold = 3
	DefaultRejectionWindow    = 14 * 24 * time.Hour
	DefaultStallThreshold     = 14 * 24 * time.Hour
	DefaultStallSweepInterval = time.Hour
	DefaultSkillGapThreshold  = 3
)

// significantTypes is the closed allow-list of event types the detectors
// care about. Everything else on the broadcast is dropped after a debug
// log line.
var significantTypes = map[event.Type]bool{
	event.TypeRejectionParsed:      true,
	event.TypeInterviewCompleted:   true,
	event.TypeApplicationSubmitted: true,
	event.TypeSkillVerified:        true,
	event.TypeJobMatchFound:        true,
}

// Config tunes the pattern windows and thresholds.
type Config struct {
	// RejectionThreshold rejections inside RejectionWindow trigger a repath.
	RejectionThreshold int
	RejectionWindow    time.Duration
	// StallThreshold without an application submission marks a user stalled.
	StallThreshold     time.Duration
	StallSweepInterval time.Duration
	// SkillGapThreshold mentions of one missing skill produce an insight.
	SkillGapThreshold int
}

// Normalize fills in defaults for anything left zero.
func (c *Config) Normalize() {
	if c.RejectionThreshold <= 0 {
		c.RejectionThreshold = DefaultRejectionThreshold
	}
	if c.RejectionWindow <= 0 {
		c.RejectionWindow = DefaultRejectionWindow
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = DefaultStallThreshold
	}
	if c.StallSweepInterval <= 0 {
		c.StallSweepInterval = DefaultStallSweepInterval
	}
	if c.SkillGapThreshold <= 0 {
		c.SkillGapThreshold = DefaultSkillGapThreshold
	}
}

// detectorFunc analyses one significant event. Errors are advisory.
type detectorFunc func(ctx context.Context, ev *event.Event) error

type detector struct {
	name string
	fn   detectorFunc
}

// Listener consumes the event broadcast and runs the pattern detectors.
type Listener struct {
	client       *event.Client
	rdb          *redis.Client
	instanceName string
	metrics      *metrics.Metrics // may be nil in tests
	config       Config
	detectors    map[event.Type][]detector
}

// New creates a listener with the shipped detector set. m may be nil to
// disable instrumentation.
func New(client *event.Client, redisOpts *redis.Options, instanceName string, m *metrics.Metrics, cfg Config) *Listener {
	cfg.Normalize()
	l := &Listener{
		client:       client,
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
		metrics:      m,
		config:       cfg,
	}
	l.detectors = map[event.Type][]detector{
		event.TypeRejectionParsed: {
			{name: "rejection_streak", fn: l.detectRejectionStreak},
			{name: "skill_gap", fn: l.detectSkillGap},
		},
	}
	return l
}

// Close releases the listener's Redis connection.
func (l *Listener) Close() error {
	return l.rdb.Close()
}

// Run consumes the broadcast and sweeps for stalled users until ctx is
// cancelled.
func (l *Listener) Run(ctx context.Context) error {
	sub, err := l.client.SubscribeEvents(ctx)
	if err != nil {
		return fmt.Errorf("subscribing to event broadcast: %w", err)
	}
	defer sub.Close()

	ticker := time.NewTicker(l.config.StallSweepInterval)
	defer ticker.Stop()

	l.logEvent("listener_started", map[string]interface{}{
		"rejection_threshold": l.config.RejectionThreshold,
		"stall_threshold_s":   l.config.StallThreshold.Seconds(),
	})

	for {
		select {
		case <-ctx.Done():
			l.logEvent("listener_stopped", map[string]interface{}{})
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			l.Observe(ctx, ev)

		case err, ok := <-sub.Errors():
			if !ok {
				return nil
			}
			log.Printf("[Listener] subscription error: %v", err)

		case <-ticker.C:
			if err := l.SweepStalled(ctx); err != nil {
				log.Printf("[Listener] stall sweep error: %v", err)
			}
		}
	}
}

// Observe runs every matching detector against one broadcast event.
// Detector failures never propagate; the broadcast is advisory.
func (l *Listener) Observe(ctx context.Context, ev *event.Event) {
	if l.metrics != nil {
		l.metrics.EventsObserved.WithLabelValues(event.QueueFor(ev.Priority)).Inc()
	}

	if !significantTypes[ev.Type] {
		return
	}

	if err := l.touchActivity(ctx, ev); err != nil {
		log.Printf("[Listener] error recording activity for %s: %v", ev.ID, err)
	}

	for _, d := range l.detectors[ev.Type] {
		if err := l.runDetector(ctx, d, ev); err != nil {
			log.Printf("[Listener] detector %s failed on %s: %v", d.name, ev.ID, err)
			if l.metrics != nil {
				l.metrics.ListenerErrors.Inc()
			}
		}
	}
}

// runDetector contains a single detector call, converting panics to errors.
func (l *Listener) runDetector(ctx context.Context, d detector, ev *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panic: %v", r)
		}
	}()
	return d.fn(ctx, ev)
}

// touchActivity keeps the drought clock. A submission resets the user's
// clock; any other significant event only starts it if absent, so a user
// who interviews but never applies still goes stalled eventually.
func (l *Listener) touchActivity(ctx context.Context, ev *event.Event) error {
	user := payloadUserID(ev)
	if user == "" {
		return nil
	}

	key := lastActivityKey(l.instanceName)
	member := redis.Z{Score: float64(time.Now().UnixMilli()), Member: user}
	if ev.Type == event.TypeApplicationSubmitted {
		return l.rdb.ZAdd(ctx, key, member).Err()
	}
	return l.rdb.ZAddNX(ctx, key, member).Err()
}

// detectRejectionStreak counts rejections per user inside the sliding
// window and closes the feedback loop when the threshold is hit: a
// ROADMAP_REPATH_NEEDED event goes back onto the bus and the window is
// reset so one streak fires exactly once.
func (l *Listener) detectRejectionStreak(ctx context.Context, ev *event.Event) error {
	user := payloadUserID(ev)
	if user == "" {
		return fmt.Errorf("rejection event %s has no user_id", ev.ID)
	}

	key := windowKey(l.instanceName, string(ev.Type), user)
	now := time.Now().UnixMilli()
	floor := now - l.config.RejectionWindow.Milliseconds()

	pipe := l.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: ev.ID})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(floor, 10))
	count := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("updating rejection window: %w", err)
	}

	streak := int(count.Val())
	if streak < l.config.RejectionThreshold {
		return nil
	}

	if err := l.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("resetting rejection window: %w", err)
	}

	repathID, err := l.client.PublishNew(ctx, event.TypeRoadmapRepathNeeded, map[string]any{
		"user_id": user,
		"trigger": InsightRejectionStreak,
		"streak":  streak,
	})
	if err != nil {
		return fmt.Errorf("publishing repath event: %w", err)
	}

	insight := &Insight{
		Kind:   InsightRejectionStreak,
		UserID: user,
		Detail: map[string]any{"streak": streak, "repath_event_id": repathID},
	}
	if err := saveInsight(ctx, l.rdb, l.instanceName, insight); err != nil {
		return err
	}

	l.logEvent("rejection_streak_detected", map[string]interface{}{
		"user_id":         user,
		"streak":          streak,
		"repath_event_id": repathID,
	})
	return nil
}

// detectSkillGap aggregates missing-skill mentions across rejection
// payloads per user. Each skill that crosses the threshold produces one
// insight and resets its counter.
func (l *Listener) detectSkillGap(ctx context.Context, ev *event.Event) error {
	user := payloadUserID(ev)
	if user == "" {
		return fmt.Errorf("rejection event %s has no user_id", ev.ID)
	}

	skills := payloadStrings(ev, "missing_skills")
	if len(skills) == 0 {
		return nil
	}

	key := skillGapKey(l.instanceName, user)
	for _, skill := range skills {
		count, err := l.rdb.ZIncrBy(ctx, key, 1, skill).Result()
		if err != nil {
			return fmt.Errorf("counting skill gap %q: %w", skill, err)
		}
		if int(count) < l.config.SkillGapThreshold {
			continue
		}
		if err := l.rdb.ZRem(ctx, key, skill).Err(); err != nil {
			return fmt.Errorf("resetting skill gap %q: %w", skill, err)
		}

		insight := &Insight{
			Kind:   InsightSkillGap,
			UserID: user,
			Detail: map[string]any{"skill": skill, "mentions": int(count)},
		}
		if err := saveInsight(ctx, l.rdb, l.instanceName, insight); err != nil {
			return err
		}
		l.logEvent("skill_gap_detected", map[string]interface{}{
			"user_id":  user,
			"skill":    skill,
			"mentions": int(count),
		})
	}
	return nil
}

// SweepStalled writes an insight for every user whose activity clock has
// gone quiet for longer than the stall threshold, then restarts their
// clock so the insight fires once per drought.
func (l *Listener) SweepStalled(ctx context.Context) error {
	cutoff := time.Now().Add(-l.config.StallThreshold).UnixMilli()
	key := lastActivityKey(l.instanceName)

	users, err := l.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("listing stalled users: %w", err)
	}

	now := float64(time.Now().UnixMilli())
	for _, user := range users {
		insight := &Insight{
			Kind:   InsightStalledActivity,
			UserID: user,
			Detail: map[string]any{"threshold_hours": l.config.StallThreshold.Hours()},
		}
		if err := saveInsight(ctx, l.rdb, l.instanceName, insight); err != nil {
			log.Printf("[Listener] error saving stall insight for %s: %v", user, err)
			continue
		}
		if err := l.rdb.ZAdd(ctx, key, redis.Z{Score: now, Member: user}).Err(); err != nil {
			log.Printf("[Listener] error restarting activity clock for %s: %v", user, err)
		}
		l.logEvent("stalled_activity_detected", map[string]interface{}{
			"user_id": user,
		})
	}
	return nil
}

// payloadUserID extracts the user_id field common to significant payloads.
func payloadUserID(ev *event.Event) string {
	if ev.Payload == nil {
		return ""
	}
	user, _ := ev.Payload["user_id"].(string)
	return user
}

// payloadStrings extracts a string-array payload field, tolerating the
// []any shape JSON decoding produces.
func payloadStrings(ev *event.Event, field string) []string {
	if ev.Payload == nil {
		return nil
	}
	switch v := ev.Payload[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// logEvent logs a structured event in JSON format.
func (l *Listener) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "listener"
	data["event_type"] = eventType
	data["instance"] = l.instanceName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Listener] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
