package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrDuplicateEvent is returned by Publish when an event with the same ID
// already exists. The original record is left untouched and nothing is
// re-enqueued; callers treat this as success-without-work.
var ErrDuplicateEvent = errors.New("event already exists")

// ErrInvalidTransition is returned when a terminal marker is applied to an
// event that is not in the processing state. Status never moves backward.
var ErrInvalidTransition = errors.New("event status transition not permitted")

// Client provides instance-scoped Redis operations for the event bus.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new event bus client for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: Waymark instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// New builds a pending event of the given type with a fresh UUID and the
// priority derived from the type. Callers may adjust SourceAgent,
// TargetAgent, or Priority before publishing.
func New(t Type, payload map[string]any) *Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Event{
		ID:          uuid.New().String(),
		Type:        t,
		Payload:     payload,
		Status:      StatusPending,
		Priority:    PriorityFor(t),
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

// Publish durably records a pending event, enqueues its ID on the tier queue
// matching its priority, and broadcasts the event JSON on the instance event
// channel for the global listener.
//
// Publish never silently drops: a storage failure is returned loudly, and a
// duplicate ID returns ErrDuplicateEvent without touching the existing record.
func (c *Client) Publish(ctx context.Context, e *Event) error {
	if e.Status != StatusPending {
		return fmt.Errorf("cannot publish event in status %q: %w", e.Status, ErrInvalidTransition)
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	hash, err := ToHash(e)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	keys := []string{
		Key(c.instanceName, e.ID),
		QueueKey(c.instanceName, QueueFor(e.Priority)),
	}
	args := append([]interface{}{e.ID}, hashArgs(hash)...)

	created, err := createScript.Run(ctx, c.rdb, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to write event to Redis: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("event %s: %w", e.ID, ErrDuplicateEvent)
	}

	eventJSON, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event for broadcast: %w", err)
	}

	channel := EventsChannel(c.instanceName)
	if err := c.rdb.Publish(ctx, channel, eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to broadcast event: %w", err)
	}

	return nil
}

// PublishNew creates and publishes a pending event of the given type,
// returning the new event's ID.
func (c *Client) PublishNew(ctx context.Context, t Type, payload map[string]any) (string, error) {
	e := New(t, payload)
	if err := c.Publish(ctx, e); err != nil {
		return "", err
	}
	return e.ID, nil
}

// SkipReason explains why the idempotency guard told a worker to skip.
type SkipReason string

const (
	// ReasonAlreadyProcessing means another worker holds the claim.
	ReasonAlreadyProcessing SkipReason = "already_processing"

	// ReasonAlreadyCompleted means the event was fully processed before.
	ReasonAlreadyCompleted SkipReason = "already_completed"

	// ReasonAlreadyFailed means the event already reached terminal failure.
	ReasonAlreadyFailed SkipReason = "already_failed"

	// ReasonNotFound means no such event exists in the store.
	ReasonNotFound SkipReason = "not_found"
)

// SkipResult is the idempotency guard's verdict for a single event ID.
type SkipResult struct {
	Skip   bool
	Reason SkipReason // empty when Skip is false
}

// ShouldSkip is the idempotency guard's atomic check-and-claim.
//
// If the event is pending, it is flipped to processing in the same server-side
// operation and the caller receives Skip=false: it now owns the event and must
// eventually call MarkCompleted or MarkFailed. Any other status returns
// Skip=true with the reason. Exactly one of N concurrent callers on the same
// ID receives Skip=false.
func (c *Client) ShouldSkip(ctx context.Context, eventID string) (SkipResult, error) {
	keys := []string{
		Key(c.instanceName, eventID),
		ProcessingIndexKey(c.instanceName),
	}

	verdict, err := claimScript.Run(ctx, c.rdb, keys, time.Now().UnixMilli(), eventID).Text()
	if err != nil {
		return SkipResult{}, fmt.Errorf("failed to run claim check: %w", err)
	}

	switch verdict {
	case "claimed":
		return SkipResult{Skip: false}, nil
	case "not_found":
		return SkipResult{Skip: true, Reason: ReasonNotFound}, nil
	case "already_processing":
		return SkipResult{Skip: true, Reason: ReasonAlreadyProcessing}, nil
	case "already_completed":
		return SkipResult{Skip: true, Reason: ReasonAlreadyCompleted}, nil
	case "already_failed":
		return SkipResult{Skip: true, Reason: ReasonAlreadyFailed}, nil
	default:
		return SkipResult{}, fmt.Errorf("unexpected claim verdict: %q", verdict)
	}
}

// MarkCompleted records the terminal completed state for a claimed event.
// Returns ErrInvalidTransition if the event is not in processing, or a
// not-found error if the event does not exist.
func (c *Client) MarkCompleted(ctx context.Context, eventID string) error {
	return c.markTerminal(ctx, completeScript, eventID, "")
}

// MarkFailed records the terminal failed state for a claimed event with a
// human-readable error summary, and increments retry_count.
func (c *Client) MarkFailed(ctx context.Context, eventID, message string) error {
	return c.markTerminal(ctx, failScript, eventID, message)
}

func (c *Client) markTerminal(ctx context.Context, script *redis.Script, eventID, message string) error {
	keys := []string{
		Key(c.instanceName, eventID),
		ProcessingIndexKey(c.instanceName),
	}

	args := []interface{}{time.Now().UnixMilli()}
	if message == "" {
		args = append(args, eventID)
	} else {
		args = append(args, message, eventID)
	}

	verdict, err := script.Run(ctx, c.rdb, keys, args...).Text()
	if err != nil {
		return fmt.Errorf("failed to run terminal transition: %w", err)
	}

	switch verdict {
	case "ok":
		return nil
	case "not_found":
		return redis.Nil
	default:
		return fmt.Errorf("event %s in status %q: %w", eventID, verdict, ErrInvalidTransition)
	}
}

// MarkProcessing refreshes a claimed event's processing timestamp. It is an
// idempotent secondary marker used by long-running handlers so the reaper
// does not mistake a live handler for a crashed one. It never claims: use
// ShouldSkip for that.
func (c *Client) MarkProcessing(ctx context.Context, eventID string) error {
	keys := []string{
		Key(c.instanceName, eventID),
		ProcessingIndexKey(c.instanceName),
	}

	verdict, err := touchScript.Run(ctx, c.rdb, keys, time.Now().UnixMilli(), eventID).Text()
	if err != nil {
		return fmt.Errorf("failed to refresh processing marker: %w", err)
	}
	if verdict == "not_found" {
		return redis.Nil
	}
	return nil
}

// Get retrieves an event by ID.
// Returns (nil, redis.Nil) if the event doesn't exist.
// Use IsNotFound() to check for not-found errors.
func (c *Client) Get(ctx context.Context, eventID string) (*Event, error) {
	key := Key(c.instanceName, eventID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read event from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	ev, err := FromHash(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize event: %w", err)
	}

	return ev, nil
}

// Exists checks if an event exists without fetching it.
func (c *Client) Exists(ctx context.Context, eventID string) (bool, error) {
	key := Key(c.instanceName, eventID)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check event existence: %w", err)
	}
	return exists > 0, nil
}

// Dequeue pops the oldest pending event ID from a tier queue, blocking up to
// timeout. Returns ("", nil) when the queue stayed empty for the full wait.
func (c *Client) Dequeue(ctx context.Context, tier string, timeout time.Duration) (string, error) {
	result, err := c.rdb.BLPop(ctx, timeout, QueueKey(c.instanceName, tier)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to dequeue from tier %q: %w", tier, err)
	}

	// BLPop returns [key, value]
	if len(result) != 2 {
		return "", fmt.Errorf("unexpected BLPOP reply length %d", len(result))
	}
	return result[1], nil
}

// QueueDepth reports the number of queued event IDs in a tier.
func (c *Client) QueueDepth(ctx context.Context, tier string) (int64, error) {
	depth, err := c.rdb.LLen(ctx, QueueKey(c.instanceName, tier)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth for tier %q: %w", tier, err)
	}
	return depth, nil
}

// StuckProcessing returns the IDs of events claimed before the cutoff that
// never reached a terminal state. This is the reaper's scan primitive.
func (c *Client) StuckProcessing(ctx context.Context, cutoffMs int64) ([]string, error) {
	ids, err := c.rdb.ZRangeByScore(ctx, ProcessingIndexKey(c.instanceName), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoffMs),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan processing index: %w", err)
	}
	return ids, nil
}

// Requeue reclassifies a stuck processing event back to pending, increments
// retry_count, and re-enters it at the tail of its tier queue. The status
// check and requeue are one atomic script, so a handler completing at the
// same moment wins and the requeue becomes a no-op error.
func (c *Client) Requeue(ctx context.Context, eventID string) error {
	ev, err := c.Get(ctx, eventID)
	if err != nil {
		return err
	}

	keys := []string{
		Key(c.instanceName, eventID),
		ProcessingIndexKey(c.instanceName),
		QueueKey(c.instanceName, QueueFor(ev.Priority)),
	}

	verdict, err := requeueScript.Run(ctx, c.rdb, keys, eventID).Text()
	if err != nil {
		return fmt.Errorf("failed to requeue event: %w", err)
	}

	switch verdict {
	case "ok":
		return nil
	case "not_found":
		return redis.Nil
	default:
		return fmt.Errorf("event %s in status %q: %w", eventID, verdict, ErrInvalidTransition)
	}
}

// ScanIDs returns every event ID starting with the given prefix. Intended
// for CLI short-ID resolution, not hot paths: it walks the keyspace with SCAN.
func (c *Client) ScanIDs(ctx context.Context, idPrefix string) ([]string, error) {
	pattern := Key(c.instanceName, idPrefix) + "*"
	keyPrefix := Key(c.instanceName, "")

	var ids []string
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan event keyspace: %w", err)
	}
	return ids, nil
}

// ListByStatus scans the event keyspace and returns every event whose status
// is in the given set. Intended for the CLI and recovery tooling, not hot
// paths: it walks the keyspace with SCAN.
func (c *Client) ListByStatus(ctx context.Context, statuses ...Status) ([]*Event, error) {
	want := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	var events []*Event
	iter := c.rdb.Scan(ctx, 0, KeyPattern(c.instanceName), 100).Iterator()
	for iter.Next(ctx) {
		hashData, err := c.rdb.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read event %q: %w", iter.Val(), err)
		}
		if len(hashData) == 0 {
			continue
		}

		ev, err := FromHash(hashData)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize event %q: %w", iter.Val(), err)
		}

		if len(want) == 0 || want[ev.Status] {
			events = append(events, ev)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan event keyspace: %w", err)
	}

	return events, nil
}

// Subscription represents an active Pub/Sub subscription to the event
// broadcast channel. Caller must call Close() when done to clean up
// resources. Subscriptions deliver full event objects via Events().
type Subscription struct {
	events <-chan *Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of broadcast events.
// The channel will be closed when the subscription is closed or the context
// is cancelled.
func (s *Subscription) Events() <-chan *Event {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors include JSON unmarshaling failures and other non-fatal issues.
// The subscription continues after errors - messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeEvents subscribes to the copy-of-everything broadcast channel for
// this instance. This is the global listener's feed: delivery is Redis
// Pub/Sub at-most-once, which is acceptable because the listener performs
// advisory analysis, never primary processing.
//
// Events are delivered on a buffered channel to prevent blocking. Caller
// must call subscription.Close() when done; context cancellation also stops
// the subscription.
func (c *Client) SubscribeEvents(ctx context.Context) (*Subscription, error) {
	channel := EventsChannel(c.instanceName)
	pubsub := c.rdb.Subscribe(ctx, channel)

	eventsChan := make(chan *Event, 64)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal broadcast event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error
// (redis.Nil). Use this to check if Get or a terminal marker reported that
// the event does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
