// Package server is the runcollab pub/sub and history server.
//
// Clients speak JSON frames over a websocket at /ws. A subscribe frame on
// runs/{runId}/collaboration joins the run's topic and replays every stored
// event of the run as message frames. A publish frame on
// runs/{runId}/{kind} is validated at the trust boundary, stored
// idempotently and broadcast on the run's collaboration topic. Duplicates
// are acknowledged by silence: they are neither stored nor rebroadcast.
//
// The REST surface under /api/runs serves per-event history snapshots,
// analytics and exports computed from the stored log. /up reports health
// and /metrics exposes prometheus counters.
package server
