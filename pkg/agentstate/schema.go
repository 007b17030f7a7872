package agentstate

import "fmt"

// Redis key pattern helpers, namespaced per instance like the event bus.

// Key returns the Redis key for an agent state record. The run key is part
// of the storage key, which is what enforces one record per run.
// Pattern: waymark:{instance_name}:agent_state:{agent}|{user}|{task}
func Key(instanceName string, k RunKey) string {
	return fmt.Sprintf("waymark:%s:agent_state:%s", instanceName, k.String())
}

// TransitionsKey returns the Redis key for a run's append-only audit list.
// Pattern: waymark:{instance_name}:agent_state:{agent}|{user}|{task}:transitions
func TransitionsKey(instanceName string, k RunKey) string {
	return fmt.Sprintf("waymark:%s:agent_state:%s:transitions", instanceName, k.String())
}

// WaitingIndexKey returns the Redis key for the waiting-runs ZSET, scored
// by suspension deadline in unix milliseconds. The reaper sweeps this index
// for expired waits.
// Pattern: waymark:{instance_name}:waiting_index
func WaitingIndexKey(instanceName string) string {
	return fmt.Sprintf("waymark:%s:waiting_index", instanceName)
}
