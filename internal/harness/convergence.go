package harness

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/roach88/runcollab/internal/eventlog"
	"github.com/roach88/runcollab/internal/ir"
)

// Delivery is one arrival order of a log.
type Delivery struct {
	Name   string
	Events []ir.Event
}

// Deliveries returns the stored order, the reversed order, every event
// delivered twice, and shuffles seeded permutations.
func Deliveries(events []ir.Event, shuffles int, seed uint64) []Delivery {
	reversed := slices.Clone(events)
	slices.Reverse(reversed)

	out := []Delivery{
		{Name: "stored", Events: events},
		{Name: "reversed", Events: reversed},
		{Name: "duplicated", Events: deliveryOrder(DeliveryDuplicated, events)},
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for i := range shuffles {
		shuffled := slices.Clone(events)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		out = append(out, Delivery{Name: fmt.Sprintf("shuffle-%d", i+1), Events: shuffled})
	}
	return out
}

// ConvergenceReport is the outcome of folding one log under several
// arrival orders.
type ConvergenceReport struct {
	Converged bool           `json:"converged"`
	State     eventlog.State `json:"state"`
	Checked   []string       `json:"checked"`
	Divergent []string       `json:"divergent,omitempty"`
}

// CheckConvergence folds every delivery on top of base and reports the
// deliveries whose state differs from the first one.
func CheckConvergence(base []string, deliveries []Delivery) ConvergenceReport {
	report := ConvergenceReport{Converged: true, Checked: []string{}}
	if len(deliveries) == 0 {
		report.State = eventlog.Fold(base, nil)
		return report
	}

	report.State = eventlog.Fold(base, deliveries[0].Events)
	for _, d := range deliveries {
		report.Checked = append(report.Checked, d.Name)
		if !eventlog.Fold(base, d.Events).Equal(report.State) {
			report.Converged = false
			report.Divergent = append(report.Divergent, d.Name)
		}
	}
	return report
}
