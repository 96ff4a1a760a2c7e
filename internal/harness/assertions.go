package harness

import (
	"fmt"
	"slices"

	"github.com/roach88/runcollab/internal/eventlog"
)

// checkAssertion returns one message per replica the assertion fails on.
func checkAssertion(res *Result, s *Scenario, a Assertion) []string {
	if a.Type == AssertConverged {
		want := a.Want == nil || *a.Want
		if res.Converged != want {
			return []string{fmt.Sprintf("converged = %t, want %t", res.Converged, want)}
		}
		return nil
	}

	users := s.Replicas
	if a.Replica != "" {
		users = []string{a.Replica}
	}

	var failures []string
	for _, user := range users {
		if msg := checkReplica(res, user, a); msg != "" {
			failures = append(failures, fmt.Sprintf("replica %s: %s", user, msg))
		}
	}
	return failures
}

func checkReplica(res *Result, user string, a Assertion) string {
	st := res.States[user]
	switch a.Type {
	case AssertGraftOrder:
		return compareSlice("graftOrder", st.GraftOrder, a.Values)
	case AssertPruned:
		return compareSlice("prunedSteps", st.PrunedSteps, a.Values)
	case AssertActiveUsers:
		return compareSlice("activeUsers", st.ActiveUsers, a.Values)
	case AssertFlags:
		return compareSlice("flags["+a.Step+"]", st.Flags[a.Step], a.Values)
	case AssertCursor:
		return compareCursor(st, a.User, a.Value)
	case AssertEventCount:
		if got := len(res.Logs[user]); got != a.Count {
			return fmt.Sprintf("event count = %d, want %d", got, a.Count)
		}
	}
	return ""
}

func compareSlice(field string, got, want []string) string {
	if len(got) == 0 && len(want) == 0 {
		return ""
	}
	if !slices.Equal(got, want) {
		return fmt.Sprintf("%s = %q, want %q", field, got, want)
	}
	return ""
}

func compareCursor(st eventlog.State, user, want string) string {
	got, ok := st.Cursors[user]
	switch {
	case want == "" && ok:
		return fmt.Sprintf("cursor of %s = %q, want none", user, got)
	case want != "" && got != want:
		return fmt.Sprintf("cursor of %s = %q, want %q", user, got, want)
	}
	return ""
}
