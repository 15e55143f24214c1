package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/floodsync/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Index    int
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertions[%d] failed: %s\n", e.Index, e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against the final state and
// returns one message per failure. "$name" references are resolved
// through bindings.
func EvaluateAssertions(state *State, assertions []Assertion, bindings map[string]string) []string {
	var errs []string
	for i, a := range assertions {
		a.SOS = bind(a.SOS, bindings)
		a.Rescuer = bind(a.Rescuer, bindings)
		a.RescuerID = bind(a.RescuerID, bindings)

		if err := evaluate(i, state, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func bind(v string, bindings map[string]string) string {
	if ref, ok := reference(v); ok {
		return bindings[ref]
	}
	return v
}

func evaluate(i int, state *State, a Assertion) error {
	fail := func(expected, actual string, args ...any) error {
		return &AssertionError{Index: i, Type: a.Type, Expected: expected, Actual: fmt.Sprintf(actual, args...)}
	}
	sos, rescuers := state.SOS, state.Rescuers
	if a.Source == "remote" {
		sos, rescuers = state.RemoteSOS, state.RemoteRescuers
	}

	switch a.Type {
	case AssertSOSStatus:
		rec, ok := ir.FindSOS(sos, a.SOS)
		if !ok {
			return fail(fmt.Sprintf("SOS %s with status %s", a.SOS, a.Status), "SOS not found")
		}
		if string(rec.Status) != a.Status {
			return fail(fmt.Sprintf("SOS %s status %s", a.SOS, a.Status), "status %s", rec.Status)
		}
		if a.RescuerID != "" && rec.RescuerID != a.RescuerID {
			return fail(fmt.Sprintf("SOS %s rescued by %s", a.SOS, a.RescuerID), "rescuer %q", rec.RescuerID)
		}

	case AssertSOSCount:
		if len(sos) != *a.Count {
			return fail(fmt.Sprintf("%d SOS records", *a.Count), "%d", len(sos))
		}

	case AssertSOSAbsent:
		if _, ok := ir.FindSOS(sos, a.SOS); ok {
			return fail(fmt.Sprintf("no SOS %s", a.SOS), "SOS present")
		}

	case AssertSOSMessages:
		rec, ok := ir.FindSOS(sos, a.SOS)
		if !ok {
			return fail(fmt.Sprintf("SOS %s with %d messages", a.SOS, *a.Count), "SOS not found")
		}
		if len(rec.Messages) != *a.Count {
			return fail(fmt.Sprintf("SOS %s with %d messages", a.SOS, *a.Count), "%d messages", len(rec.Messages))
		}

	case AssertRescuerCount:
		r, ok := ir.FindRescuer(rescuers, a.Rescuer)
		if !ok {
			return fail(fmt.Sprintf("rescuer %s with %d rescues", a.Rescuer, *a.Count), "rescuer not found")
		}
		if r.RescuesCount != *a.Count {
			return fail(fmt.Sprintf("rescuer %s with %d rescues", a.Rescuer, *a.Count), "%d rescues", r.RescuesCount)
		}

	case AssertRescuerAbsent:
		if _, ok := ir.FindRescuer(rescuers, a.Rescuer); ok {
			return fail(fmt.Sprintf("no rescuer %s", a.Rescuer), "rescuer present")
		}

	case AssertBreaker:
		if state.Breaker != a.State {
			return fail("breaker "+a.State, "breaker %s", state.Breaker)
		}

	case AssertRemoteCalls:
		got := 0
		for op, n := range state.RemoteCalls {
			if (a.Op == "" && op != "announce") || op == a.Op {
				got += n
			}
		}
		what := "remote calls"
		if a.Op != "" {
			what = a.Op + " calls"
		}
		if got != *a.Count {
			return fail(fmt.Sprintf("%d %s", *a.Count, what), "%d", got)
		}

	case AssertEvents:
		if state.Events != *a.Count {
			return fail(fmt.Sprintf("%d change events", *a.Count), "%d", state.Events)
		}

	case AssertMySOS:
		if state.MySOSID != a.SOS {
			return fail(fmt.Sprintf("own SOS %q", a.SOS), "%q", state.MySOSID)
		}

	case AssertMyRescuer:
		if state.MyRescuerID != a.Rescuer {
			return fail(fmt.Sprintf("own rescuer %q", a.Rescuer), "%q", state.MyRescuerID)
		}

	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
