package harness

import (
	"github.com/roach88/runcollab/internal/eventlog"
	"github.com/roach88/runcollab/internal/ir"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when no step failed and every assertion held.
	Pass bool `json:"pass"`

	// Errors lists step and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Converged is true when every replica ended with the same state.
	Converged bool `json:"converged"`

	// States is the final state of each replica, keyed by user.
	States map[string]eventlog.State `json:"states"`

	// Logs is the final log of each replica in deterministic order.
	Logs map[string][]ir.Event `json:"-"`

	// Published lists every event that reached the bus, in publish order.
	Published []ir.Event `json:"-"`
}

// NewResult creates a passing, empty result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
		States: make(map[string]eventlog.State),
		Logs:   make(map[string][]ir.Event),
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Events returns the union of every replica's log in deterministic order.
func (r *Result) Events() []ir.Event {
	var all []ir.Event
	for _, events := range r.Logs {
		all = append(all, events...)
	}
	return eventlog.Order(all)
}
