// Package agentstate provides the persisted per-run state machine that
// tracks each agent invocation's lifecycle across process boundaries.
//
// One AgentState record exists per (agent_name, user_id, task_id) run key;
// uniqueness falls out of the Redis key derivation and an NX-guarded create.
// Every transition is validated against a fixed legal-edge graph, then
// applied by a single Lua script that compare-and-swaps the current state
// and appends an immutable StateTransition audit row in the same atomic
// operation. A run suspended in waiting_input, waiting_agent, or paused can
// be reconstructed purely from its persisted record: nothing required for
// resumption may live only in process memory.
//
// The machine itself imposes no retry limits; drivers bound their own
// executing/adapting cycles (see internal/agents).
package agentstate
