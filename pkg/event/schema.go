package event

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to
// enable multiple Waymark instances to safely coexist on a single Redis
// server.
//
// Key pattern: waymark:{instance_name}:{entity}:{id}
// Channel pattern: waymark:{instance_name}:{event_type}_events

// Key returns the Redis key for an event record.
// Pattern: waymark:{instance_name}:event:{event_id}
func Key(instanceName, eventID string) string {
	return fmt.Sprintf("waymark:%s:event:%s", instanceName, eventID)
}

// KeyPattern returns the SCAN pattern matching every event record.
func KeyPattern(instanceName string) string {
	return fmt.Sprintf("waymark:%s:event:*", instanceName)
}

// QueueKey returns the Redis key for a tier's FIFO queue list.
// Pattern: waymark:{instance_name}:queue:{tier}
func QueueKey(instanceName, tier string) string {
	return fmt.Sprintf("waymark:%s:queue:%s", instanceName, tier)
}

// ProcessingIndexKey returns the Redis key for the claimed-events ZSET,
// scored by claim time in unix milliseconds. The reaper scans this index
// for events stuck in processing.
// Pattern: waymark:{instance_name}:processing_index
func ProcessingIndexKey(instanceName string) string {
	return fmt.Sprintf("waymark:%s:processing_index", instanceName)
}

// EventsChannel returns the Pub/Sub channel name carrying a copy of every
// published event, consumed by the global listener.
// Pattern: waymark:{instance_name}:bus_events
func EventsChannel(instanceName string) string {
	return fmt.Sprintf("waymark:%s:bus_events", instanceName)
}
