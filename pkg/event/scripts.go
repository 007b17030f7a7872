package event

import "github.com/redis/go-redis/v9"

// Lua scripts implementing the guarded status transitions.
//
// Every status mutation is a single server-side script so the check and the
// write are atomic with respect to concurrent callers. This is what converts
// the at-least-once delivery of the queue substrate into effectively-once
// processing: two workers racing on the same event ID can never both observe
// "pending" and both claim it. A read-then-write in application code would
// not give that guarantee.

// createScript records a new event and enqueues its ID, unless an event with
// the same ID already exists. Returns 1 when created, 0 when duplicate.
// KEYS[1] = event key, KEYS[2] = tier queue key
// ARGV[1] = event ID, ARGV[2..] = alternating hash field/value pairs
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
for i = 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

// claimScript is the idempotency guard's atomic check-and-claim.
// Flips pending -> processing and registers the claim in the processing
// index; any other status is reported back unchanged.
// KEYS[1] = event key, KEYS[2] = processing index
// ARGV[1] = claim time (unix ms), ARGV[2] = event ID
// Returns 'claimed', 'not_found', or 'already_{status}'.
var claimScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status == false then
  return 'not_found'
end
if status == 'pending' then
  redis.call('HSET', KEYS[1], 'status', 'processing')
  redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
  return 'claimed'
end
return 'already_' .. status
`)

// completeScript records the terminal completed state.
// Only legal from processing; anything else reports the current status.
// KEYS[1] = event key, KEYS[2] = processing index
// ARGV[1] = processed time (unix ms), ARGV[2] = event ID
var completeScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status == false then
  return 'not_found'
end
if status ~= 'processing' then
  return status
end
redis.call('HSET', KEYS[1], 'status', 'completed', 'processed_at_ms', ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[2])
return 'ok'
`)

// failScript records the terminal failed state and increments retry_count.
// Only legal from processing; anything else reports the current status.
// KEYS[1] = event key, KEYS[2] = processing index
// ARGV[1] = processed time (unix ms), ARGV[2] = error message, ARGV[3] = event ID
var failScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status == false then
  return 'not_found'
end
if status ~= 'processing' then
  return status
end
redis.call('HSET', KEYS[1], 'status', 'failed', 'processed_at_ms', ARGV[1], 'error_message', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'retry_count', 1)
redis.call('ZREM', KEYS[2], ARGV[3])
return 'ok'
`)

// touchScript refreshes a processing claim's index score. Used by long
// handlers as a secondary started-work marker so the reaper does not
// reclassify a live handler as stuck.
// KEYS[1] = event key, KEYS[2] = processing index
// ARGV[1] = touch time (unix ms), ARGV[2] = event ID
var touchScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status == false then
  return 'not_found'
end
if status == 'processing' then
  redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
  return 'ok'
end
return status
`)

// requeueScript reclassifies a stuck processing event back to pending and
// re-enters it on its tier queue, incrementing retry_count. Reaper-only.
// KEYS[1] = event key, KEYS[2] = processing index, KEYS[3] = tier queue key
// ARGV[1] = event ID
var requeueScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status == false then
  return 'not_found'
end
if status ~= 'processing' then
  return status
end
redis.call('HSET', KEYS[1], 'status', 'pending')
redis.call('HINCRBY', KEYS[1], 'retry_count', 1)
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('RPUSH', KEYS[3], ARGV[1])
return 'ok'
`)
