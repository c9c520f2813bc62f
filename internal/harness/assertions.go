package harness

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/geoffreylitt/hypermerge/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Matching part of the trace
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nTrace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s", ev.Step, ev.Peer, ev.Message, ev.Doc)
			if ev.Actor != "" {
				fmt.Fprintf(&buf, " actor=%s", ev.Actor)
			}
			if len(ev.Keys) > 0 {
				fmt.Fprintf(&buf, " keys=%v", ev.Keys)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertFinalValue:
		return assertFinalValue(result, a)
	case AssertConverged:
		return assertConverged(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// filterTrace keeps the events on the assertion's peer and doc.
func filterTrace(trace []TraceEvent, a Assertion) []TraceEvent {
	out := make([]TraceEvent, 0, len(trace))
	for _, ev := range trace {
		if a.Peer != "" && ev.Peer != a.Peer {
			continue
		}
		if a.Doc != "" && ev.Doc != a.Doc {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func scope(a Assertion) string {
	var parts []string
	if a.Peer != "" {
		parts = append(parts, "peer "+a.Peer)
	}
	if a.Doc != "" {
		parts = append(parts, "doc "+a.Doc)
	}
	if len(parts) == 0 {
		return "any peer"
	}
	return strings.Join(parts, ", ")
}

// assertTraceContains checks that a message of the given type was emitted.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	events := filterTrace(trace, a)
	for _, ev := range events {
		if ev.Message == a.Message {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s on %s", a.Message, scope(a)),
		Actual:   "not found in trace",
		Trace:    events,
	}
}

// assertTraceOrder checks that message types appear in order. Messages
// need not be consecutive; each expected type matches its first occurrence
// after the previous match.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	events := filterTrace(trace, a)
	pos := 0
	for _, want := range a.Messages {
		i := slices.IndexFunc(events[pos:], func(ev TraceEvent) bool { return ev.Message == want })
		if i < 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("messages in order on %s: %v", scope(a), a.Messages),
				Actual:   fmt.Sprintf("no %s after position %d", want, pos),
				Trace:    events,
			}
		}
		pos += i + 1
	}
	return nil
}

// assertTraceCount checks that a message type appears exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	events := filterTrace(trace, a)
	count := 0
	for _, ev := range events {
		if ev.Message == a.Message {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s exactly %d times on %s", a.Message, a.Count, scope(a)),
			Actual:   fmt.Sprintf("%d times", count),
			Trace:    events,
		}
	}
	return nil
}

// assertFinalValue checks a peer's final document value exactly.
func assertFinalValue(result *Result, a Assertion) error {
	got, ok := result.value(a.Peer, a.Doc)
	if !ok {
		return &AssertionError{
			Type:     AssertFinalValue,
			Expected: fmt.Sprintf("doc %s open on %s", a.Doc, a.Peer),
			Actual:   "not open",
		}
	}
	gotVal, err := ir.ToValue(got)
	if err != nil {
		return err
	}
	if msg := compareValues(a.Value, gotVal.(ir.Map)); msg != "" {
		return &AssertionError{
			Type:     AssertFinalValue,
			Expected: fmt.Sprintf("doc %s on %s to match", a.Doc, a.Peer),
			Actual:   msg,
		}
	}
	return nil
}

// assertConverged checks that every peer holding the document sees the same
// value.
func assertConverged(result *Result, a Assertion) error {
	var (
		first     string
		firstPeer string
	)
	for _, name := range slices.Sorted(maps.Keys(result.Values)) {
		v, ok := result.value(name, a.Doc)
		if !ok {
			continue
		}
		data, err := ir.MarshalCanonical(v)
		if err != nil {
			return err
		}
		if firstPeer == "" {
			first, firstPeer = string(data), name
			continue
		}
		if string(data) != first {
			return &AssertionError{
				Type:     AssertConverged,
				Expected: fmt.Sprintf("doc %s equal on every peer", a.Doc),
				Actual:   fmt.Sprintf("%s has %s, %s has %s", firstPeer, first, name, data),
			}
		}
	}
	if firstPeer == "" {
		return &AssertionError{
			Type:     AssertConverged,
			Expected: fmt.Sprintf("doc %s open somewhere", a.Doc),
			Actual:   "open on no peer",
		}
	}
	return nil
}
