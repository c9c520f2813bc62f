package harness

// TraceEvent is one message a peer's repo emitted, with document ids and
// actors replaced by their scenario aliases.
type TraceEvent struct {
	Step    int      `json:"step"`
	Peer    string   `json:"peer"`
	Message string   `json:"message"`
	Doc     string   `json:"doc"`
	Actor   string   `json:"actor,omitempty"`
	Seq     int64    `json:"seq,omitempty"`
	History int      `json:"history,omitempty"`
	Keys    []string `json:"keys,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion holds.
	Pass bool `json:"pass"`

	// Trace contains every emitted message in step order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Values holds each peer's final document values by peer, then doc alias.
	Values map[string]map[string]any `json:"values,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Values: make(map[string]map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// value returns a peer's final value for a document alias.
func (r *Result) value(peer, doc string) (map[string]any, bool) {
	docs, ok := r.Values[peer]
	if !ok {
		return nil, false
	}
	v, ok := docs[doc]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}
