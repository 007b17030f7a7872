package agentstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrAlreadyExists is returned by Create when a record for the run key is
// already present. Starting over requires a fresh task_id.
var ErrAlreadyExists = errors.New("agent state already exists for run key")

// createStateScript writes a new record unless the run key is taken.
// KEYS[1] = state key
// ARGV[1..] = alternating hash field/value pairs
var createStateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
for i = 1, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
return 1
`)

// transitionScript applies one validated transition atomically: it
// compare-and-swaps current_state, rewrites the context, appends the audit
// row, and maintains the waiting index, all in one server-side operation.
// Both the state update and the audit write succeed or neither does.
// KEYS[1] = state key, KEYS[2] = transitions list key, KEYS[3] = waiting index
// ARGV[1] = expected from state, ARGV[2] = to state, ARGV[3] = context JSON,
// ARGV[4] = now (unix ms), ARGV[5] = audit row JSON,
// ARGV[6] = waiting deadline score ('' when not waiting), ARGV[7] = index member
// Returns 'ok', 'not_found', or the actual current state on a lost race.
var transitionScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'current_state')
if cur == false then
  return 'not_found'
end
if cur ~= ARGV[1] then
  return cur
end
redis.call('HSET', KEYS[1],
  'current_state', ARGV[2],
  'previous_state', ARGV[1],
  'state_context', ARGV[3],
  'state_entered_at_ms', ARGV[4],
  'last_transition_at_ms', ARGV[4])
redis.call('HINCRBY', KEYS[1], 'total_transitions', 1)
redis.call('RPUSH', KEYS[2], ARGV[5])
if ARGV[6] ~= '' then
  redis.call('ZADD', KEYS[3], ARGV[6], ARGV[7])
else
  redis.call('ZREM', KEYS[3], ARGV[7])
end
return 'ok'
`)

// checkpointScript rewrites the persisted context without moving the run.
// The compare-and-swap on current_state rejects a checkpoint from a
// process whose run has already moved on.
// KEYS[1] = state key
// ARGV[1] = expected current state, ARGV[2] = context JSON
// Returns 'ok', 'not_found', or the actual current state on a mismatch.
var checkpointScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'current_state')
if cur == false then
  return 'not_found'
end
if cur ~= ARGV[1] then
  return cur
end
redis.call('HSET', KEYS[1], 'state_context', ARGV[2])
return 'ok'
`)

// Store provides instance-scoped Redis operations for agent state machines.
// It is the only mutation path for AgentState records; no component writes
// the hashes directly, which is what keeps every observable state change a
// legal edge of the graph.
type Store struct {
	rdb          *redis.Client
	instanceName string
}

// NewStore creates an agent state store for the specified instance.
func NewStore(redisOpts *redis.Options, instanceName string) (*Store, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Store{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Create starts a new run in the idle state.
// Returns ErrAlreadyExists if a record for the key is already present.
func (s *Store) Create(ctx context.Context, key RunKey) (*AgentState, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run key: %w", err)
	}

	now := time.Now().UnixMilli()
	a := &AgentState{
		ID:                 uuid.New().String(),
		AgentName:          key.AgentName,
		UserID:             key.UserID,
		TaskID:             key.TaskID,
		Current:            StateIdle,
		Context:            NoContext(),
		StateEnteredAtMs:   now,
		LastTransitionAtMs: now,
	}

	hash, err := ToHash(a)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize agent state: %w", err)
	}

	created, err := createStateScript.Run(ctx, s.rdb,
		[]string{Key(s.instanceName, key)}, hashArgs(hash)...).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to write agent state to Redis: %w", err)
	}
	if created == 0 {
		return nil, fmt.Errorf("run %s: %w", key, ErrAlreadyExists)
	}

	return a, nil
}

// Get retrieves the state record for a run key.
// Returns (nil, redis.Nil) if no record exists; use IsNotFound to check.
func (s *Store) Get(ctx context.Context, key RunKey) (*AgentState, error) {
	hashData, err := s.rdb.HGetAll(ctx, Key(s.instanceName, key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read agent state from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	a, err := FromHash(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize agent state: %w", err)
	}
	return a, nil
}

// Exists checks if a run record exists without fetching it.
func (s *Store) Exists(ctx context.Context, key RunKey) (bool, error) {
	exists, err := s.rdb.Exists(ctx, Key(s.instanceName, key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check agent state existence: %w", err)
	}
	return exists > 0, nil
}

// Transition applies one signal to a run's state machine.
//
// The edge is validated against the graph first; an illegal edge returns
// *IllegalTransitionError without touching storage. The state rewrite and
// the audit append then happen as one atomic script guarded by a
// compare-and-swap on current_state, so of two drivers racing the same
// transition exactly one wins and the loser also receives
// *IllegalTransitionError carrying the state it lost to.
//
// nextContext is persisted verbatim and must validate; it is everything a
// fresh process needs to resume the run. payload is recorded on the audit
// row only.
func (s *Store) Transition(ctx context.Context, key RunKey, sig Signal, nextContext StateContext, payload map[string]any) (*AgentState, error) {
	if err := sig.Validate(); err != nil {
		return nil, err
	}
	if err := nextContext.Validate(); err != nil {
		return nil, fmt.Errorf("invalid state context: %w", err)
	}

	current, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	to, err := Next(current.Current, sig)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()

	contextJSON, err := json.Marshal(nextContext)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state context: %w", err)
	}

	audit := StateTransition{
		AgentStateID: current.ID,
		From:         current.Current,
		To:           to,
		Signal:       sig,
		Payload:      payload,
		DurationMs:   now - current.StateEnteredAtMs,
		AtMs:         now,
	}
	auditJSON, err := json.Marshal(audit)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit row: %w", err)
	}

	// Runs suspended with a deadline are indexed for the expiry sweeper;
	// every other transition clears the run from the index.
	deadlineScore := ""
	if to.Waiting() {
		if t := nextContext.TimeoutAtMs(); t > 0 {
			deadlineScore = fmt.Sprintf("%d", t)
		}
	}

	keys := []string{
		Key(s.instanceName, key),
		TransitionsKey(s.instanceName, key),
		WaitingIndexKey(s.instanceName),
	}

	verdict, err := transitionScript.Run(ctx, s.rdb, keys,
		string(current.Current), string(to), string(contextJSON),
		now, string(auditJSON), deadlineScore, key.String()).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to apply transition: %w", err)
	}

	switch verdict {
	case "ok":
		updated := *current
		updated.Previous = current.Current
		updated.Current = to
		updated.Context = nextContext
		updated.TotalTransitions = current.TotalTransitions + 1
		updated.StateEnteredAtMs = now
		updated.LastTransitionAtMs = now
		return &updated, nil
	case "not_found":
		return nil, redis.Nil
	default:
		// Lost a race: someone else transitioned first.
		return nil, &IllegalTransitionError{From: State(verdict), Signal: sig}
	}
}

// Checkpoint rewrites a run's context in place, guarded by a
// compare-and-swap on the current state. No transition happens and no
// audit row is written; this is how an executing run records per-step
// progress so a worker crash strands it no further back than the last
// completed step.
//
// Returns redis.Nil if the record is gone, or *IllegalTransitionError
// carrying the actual state when the run moved on under the caller.
func (s *Store) Checkpoint(ctx context.Context, key RunKey, expected State, nextContext StateContext) error {
	if err := nextContext.Validate(); err != nil {
		return fmt.Errorf("invalid state context: %w", err)
	}

	contextJSON, err := json.Marshal(nextContext)
	if err != nil {
		return fmt.Errorf("failed to marshal state context: %w", err)
	}

	verdict, err := checkpointScript.Run(ctx, s.rdb,
		[]string{Key(s.instanceName, key)},
		string(expected), string(contextJSON)).Text()
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	switch verdict {
	case "ok":
		return nil
	case "not_found":
		return redis.Nil
	default:
		return &IllegalTransitionError{From: State(verdict)}
	}
}

// History returns a run's full transition audit trail in order.
// Returns an empty slice for runs with no transitions yet.
func (s *Store) History(ctx context.Context, key RunKey) ([]StateTransition, error) {
	rows, err := s.rdb.LRange(ctx, TransitionsKey(s.instanceName, key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read transition history: %w", err)
	}

	history := make([]StateTransition, 0, len(rows))
	for i, row := range rows {
		var tr StateTransition
		if err := json.Unmarshal([]byte(row), &tr); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit row %d: %w", i, err)
		}
		history = append(history, tr)
	}
	return history, nil
}

// ExpiredWaits returns the run keys whose waiting deadline passed before
// the cutoff. This is the expiry sweeper's scan primitive; the sweeper
// fires TIMEOUT on each returned run.
func (s *Store) ExpiredWaits(ctx context.Context, cutoffMs int64) ([]RunKey, error) {
	members, err := s.rdb.ZRangeByScore(ctx, WaitingIndexKey(s.instanceName), &redis.ZRangeBy{
		Min: "1", // score 0 would mean "no deadline" and is never indexed
		Max: fmt.Sprintf("%d", cutoffMs),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan waiting index: %w", err)
	}

	keys := make([]RunKey, 0, len(members))
	for _, m := range members {
		k, err := ParseRunKey(m)
		if err != nil {
			return nil, fmt.Errorf("corrupt waiting index member: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}

// hashArgs flattens a hash map into alternating field/value script arguments.
func hashArgs(hash map[string]interface{}) []interface{} {
	args := make([]interface{}, 0, len(hash)*2)
	for field, value := range hash {
		args = append(args, field, value)
	}
	return args
}
