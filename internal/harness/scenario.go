package harness

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/geoffreylitt/hypermerge/internal/bus"
	"github.com/geoffreylitt/hypermerge/internal/ir"
)

//go:embed schema.cue
var schemaCUE string

// Scenario is a scripted session between peers sharing documents.
type Scenario struct {
	// Name uniquely identifies this scenario. It also seeds every peer's
	// key generator, so renaming a scenario changes its document ids.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Peers lists the repos taking part, one per name.
	Peers []string `yaml:"peers"`

	// Steps run in order. The harness waits for every peer to go idle
	// between steps.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and document values.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action taken by one peer on one document alias.
type Step struct {
	Peer   string `yaml:"peer"`
	Action string `yaml:"action"`
	Doc    string `yaml:"doc"`

	// Set and Delete describe the edit of a change step. Deletions run
	// after sets.
	Set     map[string]any `yaml:"set,omitempty"`
	Delete  []string       `yaml:"delete,omitempty"`
	Message string         `yaml:"message,omitempty"`

	// From is the peer whose changes a sync step delivers.
	From string `yaml:"from,omitempty"`

	// Skip withholds the first Skip changes of a sync, delivering the rest
	// out of causal order.
	Skip int `yaml:"skip,omitempty"`

	// MinimumClock gates an open step: peer name to the sequence number of
	// that peer's actor on this document.
	MinimumClock map[string]int64 `yaml:"minimum_clock,omitempty"`

	// Expect is checked once the step has settled.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the peer's view of the document after a step.
// Every field is optional.
type Expect struct {
	// Mode is "pending", "read" or "write".
	Mode string `yaml:"mode,omitempty"`

	// Value is compared exactly against the frontend's materialized value.
	Value map[string]any `yaml:"value,omitempty"`

	// Clock is compared exactly against the backend clock, keyed by peer.
	Clock map[string]int64 `yaml:"clock,omitempty"`

	// History is the number of changes the backend has applied.
	History *int `yaml:"history,omitempty"`

	// MissingDeps is the number of undelivered changes the backend waits on.
	MissingDeps *int `yaml:"missing_deps,omitempty"`
}

// Assertion validates the trace or the final document values.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a message of the given type appears
	// - "trace_order": message types appear in the given order
	// - "trace_count": a message type appears exactly Count times
	// - "final_value": a peer's document equals Value
	// - "converged": every peer holding the document sees the same value
	Type string `yaml:"type"`

	// Peer and Doc narrow trace assertions. Empty matches any.
	Peer string `yaml:"peer,omitempty"`
	Doc  string `yaml:"doc,omitempty"`

	// Message is the message type (used by trace_contains, trace_count).
	Message string `yaml:"message,omitempty"`

	// Messages is the expected order (used by trace_order).
	Messages []string `yaml:"messages,omitempty"`

	// Count is the expected number of occurrences (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Value is the expected document value (used by final_value).
	Value map[string]any `yaml:"value,omitempty"`
}

// Step action constants.
const (
	ActionCreate = "create"
	ActionOpen   = "open"
	ActionChange = "change"
	ActionSync   = "sync"
	ActionClose  = "close"
	ActionCheck  = "check"
)

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalValue    = "final_value"
	AssertConverged     = "converged"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	if err := checkSchema(data); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// checkSchema unifies the raw YAML document with the #Scenario definition.
func checkSchema(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("empty scenario")
	}

	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Scenario"))

	doc := cctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode scenario: %w", err)
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// validateScenario checks the references the schema cannot: peers and
// documents must be declared before use and edit values must be document
// values.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Peers) == 0 {
		return fmt.Errorf("peers list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	peers := make(map[string]bool, len(s.Peers))
	for _, p := range s.Peers {
		if peers[p] {
			return fmt.Errorf("duplicate peer %q", p)
		}
		peers[p] = true
	}

	created := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(step, peers, created); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.Action == ActionCreate {
			created[step.Doc] = true
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, peers, created); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step, peers, created map[string]bool) error {
	if !peers[step.Peer] {
		return fmt.Errorf("unknown peer %q", step.Peer)
	}
	if step.Doc == "" {
		return fmt.Errorf("doc is required")
	}

	switch step.Action {
	case ActionCreate:
		if created[step.Doc] {
			return fmt.Errorf("doc %q already created", step.Doc)
		}
	case ActionOpen, ActionClose, ActionCheck:
		if !created[step.Doc] {
			return fmt.Errorf("doc %q is not created by an earlier step", step.Doc)
		}
	case ActionChange:
		if !created[step.Doc] {
			return fmt.Errorf("doc %q is not created by an earlier step", step.Doc)
		}
		if len(step.Set) == 0 && len(step.Delete) == 0 {
			return fmt.Errorf("change needs set or delete")
		}
		if _, err := ir.ToValue(step.Set); err != nil {
			return fmt.Errorf("set: %w", err)
		}
	case ActionSync:
		if !created[step.Doc] {
			return fmt.Errorf("doc %q is not created by an earlier step", step.Doc)
		}
		if !peers[step.From] {
			return fmt.Errorf("unknown peer %q", step.From)
		}
		if step.From == step.Peer {
			return fmt.Errorf("peer %q cannot sync from itself", step.Peer)
		}
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}

	if len(step.MinimumClock) > 0 && step.Action != ActionOpen {
		return fmt.Errorf("minimum_clock only applies to open")
	}
	if step.Skip > 0 && step.Action != ActionSync {
		return fmt.Errorf("skip only applies to sync")
	}
	for p := range step.MinimumClock {
		if !peers[p] {
			return fmt.Errorf("minimum_clock: unknown peer %q", p)
		}
	}

	if step.Expect != nil {
		if step.Expect.Value != nil {
			if _, err := ir.ToValue(step.Expect.Value); err != nil {
				return fmt.Errorf("expect.value: %w", err)
			}
		}
		for p := range step.Expect.Clock {
			if !peers[p] {
				return fmt.Errorf("expect.clock: unknown peer %q", p)
			}
		}
	}
	return nil
}

var messageTypes = []string{
	string(bus.TypeReady),
	string(bus.TypeActorID),
	string(bus.TypeRemotePatch),
	string(bus.TypeLocalPatch),
	string(bus.TypeError),
	string(bus.TypeNeedsActorID),
	string(bus.TypeRequest),
}

func validateAssertion(a Assertion, peers, created map[string]bool) error {
	if a.Peer != "" && !peers[a.Peer] {
		return fmt.Errorf("unknown peer %q", a.Peer)
	}
	if a.Doc != "" && !created[a.Doc] {
		return fmt.Errorf("unknown doc %q", a.Doc)
	}

	switch a.Type {
	case AssertTraceContains, AssertTraceCount:
		if !slices.Contains(messageTypes, a.Message) {
			return fmt.Errorf("unknown message type %q for %s", a.Message, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for trace_count")
		}
	case AssertTraceOrder:
		if len(a.Messages) == 0 {
			return fmt.Errorf("messages list is required for trace_order")
		}
		for _, m := range a.Messages {
			if !slices.Contains(messageTypes, m) {
				return fmt.Errorf("unknown message type %q for trace_order", m)
			}
		}
	case AssertFinalValue:
		if a.Peer == "" || a.Doc == "" {
			return fmt.Errorf("peer and doc are required for final_value")
		}
		if a.Value == nil {
			return fmt.Errorf("value is required for final_value")
		}
		if _, err := ir.ToValue(a.Value); err != nil {
			return fmt.Errorf("value: %w", err)
		}
	case AssertConverged:
		if a.Doc == "" {
			return fmt.Errorf("doc is required for converged")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
