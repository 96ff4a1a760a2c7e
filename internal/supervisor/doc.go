// Package supervisor keeps one pub/sub session alive for a run.
//
// The supervisor is an explicit state machine over discrete inputs: dial
// results, session errors, timer fires and manual commands. It never runs
// those inputs itself; every input is handed to the owner's serializing
// executor (Post), and results from superseded sessions are discarded by
// generation number. All exported methods must be called from that
// executor.
//
// Phases:
//
//	CLOSED --attempt--> CONNECTING --dial ok--> OPEN
//	CONNECTING --dial error--> CLOSED (retry scheduled)
//	OPEN --session error / ForceDisconnect--> CLOSED (retry scheduled)
//	any --Disconnect--> CLOSING --> CLOSED (no retry)
//
// Circuit breaker: FailureThreshold consecutive failures open the circuit,
// which suppresses automatic retries for CoolDown. The cool-down then moves
// the circuit to HALF_OPEN and makes exactly one trial; a failed trial
// re-opens it. Any successful connection closes the circuit and resets the
// failure count and the backoff.
package supervisor
