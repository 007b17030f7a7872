package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Insight kinds produced by the shipped detectors.
const (
	InsightRejectionStreak = "rejection_streak"
	InsightStalledActivity = "stalled_activity"
	InsightSkillGap        = "skill_gap"
)

// Insight is an advisory observation produced by a detector. Insights are
// persisted for coaching surfaces to read; they carry no processing
// obligations.
type Insight struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	UserID      string         `json:"user_id"`
	Detail      map[string]any `json:"detail,omitempty"`
	CreatedAtMs int64          `json:"created_at_ms"`
}

// insightKey returns the hash key for one insight record.
// Pattern: waymark:{instance_name}:insight:{id}
func insightKey(instanceName, id string) string {
	return fmt.Sprintf("waymark:%s:insight:%s", instanceName, id)
}

// historyKey returns the append-only pattern-history list key.
// Pattern: waymark:{instance_name}:pattern_history
func historyKey(instanceName string) string {
	return fmt.Sprintf("waymark:%s:pattern_history", instanceName)
}

// windowKey returns the per-user sliding-window ZSET for one event type,
// scored by event creation time.
// Pattern: waymark:{instance_name}:window:{event_type}:{user_id}
func windowKey(instanceName, eventType, userID string) string {
	return fmt.Sprintf("waymark:%s:window:%s:%s", instanceName, eventType, userID)
}

// lastActivityKey returns the ZSET of users scored by their most recent
// application-submitted time, used by the drought sweep.
// Pattern: waymark:{instance_name}:last_activity
func lastActivityKey(instanceName string) string {
	return fmt.Sprintf("waymark:%s:last_activity", instanceName)
}

// skillGapKey returns the per-user ZSET counting missing-skill mentions
// across rejection events.
// Pattern: waymark:{instance_name}:skill_gaps:{user_id}
func skillGapKey(instanceName, userID string) string {
	return fmt.Sprintf("waymark:%s:skill_gaps:%s", instanceName, userID)
}

// saveInsight persists the insight hash and appends it to the pattern
// history list.
func saveInsight(ctx context.Context, rdb *redis.Client, instanceName string, in *Insight) error {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.CreatedAtMs == 0 {
		in.CreatedAtMs = time.Now().UnixMilli()
	}

	detail, err := json.Marshal(in.Detail)
	if err != nil {
		return fmt.Errorf("encoding insight detail: %w", err)
	}

	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, insightKey(instanceName, in.ID), map[string]interface{}{
		"id":            in.ID,
		"kind":          in.Kind,
		"user_id":       in.UserID,
		"detail":        string(detail),
		"created_at_ms": in.CreatedAtMs,
	})
	pipe.RPush(ctx, historyKey(instanceName), in.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("persisting insight: %w", err)
	}
	return nil
}

// GetInsight reads one insight record back.
func GetInsight(ctx context.Context, rdb *redis.Client, instanceName, id string) (*Insight, error) {
	hash, err := rdb.HGetAll(ctx, insightKey(instanceName, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading insight: %w", err)
	}
	if len(hash) == 0 {
		return nil, redis.Nil
	}

	in := &Insight{
		ID:     hash["id"],
		Kind:   hash["kind"],
		UserID: hash["user_id"],
	}
	if raw := hash["detail"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &in.Detail); err != nil {
			return nil, fmt.Errorf("decoding insight detail: %w", err)
		}
	}
	in.CreatedAtMs, _ = strconv.ParseInt(hash["created_at_ms"], 10, 64)
	return in, nil
}

// History returns the insight IDs recorded so far, oldest first.
func History(ctx context.Context, rdb *redis.Client, instanceName string) ([]string, error) {
	ids, err := rdb.LRange(ctx, historyKey(instanceName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading pattern history: %w", err)
	}
	return ids, nil
}
