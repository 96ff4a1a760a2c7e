// Package harness runs multi-replica convergence scenarios against the
// collaboration log.
//
// A scenario names a run, its base pipeline and a set of replicas (one per
// user). Steps dispatch intents through each replica's dispatch.Dispatcher,
// take replicas offline or back online, and sync: deliver every published
// event a replica has not seen yet, in the scenario's delivery order. The
// harness never relies on wall time, goroutines or a network; every run of
// a scenario produces byte-identical output.
//
// # Scenario Format
//
//	name: concurrent_graft
//	description: "Two users graft after the same step"
//	run_id: run-1
//	pipeline: [fetch, build]
//	replicas: [alice, bob]
//	delivery: reversed        # in_order (default), reversed or duplicated
//	steps:
//	  - user: alice
//	    at: 5000                # ms after the scenario epoch
//	    graft: { after: fetch, agent: lint }
//	  - offline: bob
//	  - user: bob
//	    prune: { step: lint, pruned: true }
//	  - online: bob
//	  - sync: true
//	assertions:
//	  - type: converged
//	  - type: graft_order
//	    values: [fetch, lint, build]
//
// A publish from an offline replica is dropped, not queued: the event only
// exists in that replica's log. Remaining online replicas are synced once
// more after the last step.
//
// # Assertion Types
//
//   - converged: every replica holds the same state (want: false inverts)
//   - graft_order, pruned, active_users: compare a state slice
//   - flags: compare the notes of one step
//   - cursor: compare the cursor of one user
//   - event_count: count the events in a replica's log
//
// Assertions apply to every replica unless replica names one.
//
// # Golden Files
//
// RunWithGolden compares the canonical JSON of every replica's final state
// against testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
