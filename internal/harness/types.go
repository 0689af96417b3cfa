package harness

import (
	"time"

	"github.com/roach88/pubsync/internal/engine"
	"github.com/roach88/pubsync/internal/record"
)

// Trace event types.
const (
	EventStep = "step" // a flow step the scenario performed
	EventCall = "call" // a remote store call the engine made
)

// TraceEvent is one entry of a scenario trace. Steps and the remote calls
// they caused are interleaved in execution order.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`
	// Name is the step action or the remote operation.
	Name string `json:"name"`
	// Arg is the step detail or the record ID, subscription ID, record
	// type or cursor the call carried.
	Arg string `json:"arg,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Rows is the final local table, sorted by ID.
	Rows []record.Entity `json:"-"`

	Watermark time.Time     `json:"watermark"`
	Status    engine.Status `json:"-"`

	// Start is the fake clock's starting instant. Scenario offsets are
	// relative to it.
	Start time.Time `json:"-"`
}

// NewResult creates a new passing result.
func NewResult(start time.Time) *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Start:  start,
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addStep(action, arg string) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:  int64(len(r.Trace) + 1),
		Type: EventStep,
		Name: action,
		Arg:  arg,
	})
}

func (r *Result) addCall(op, arg string) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:  int64(len(r.Trace) + 1),
		Type: EventCall,
		Name: op,
		Arg:  arg,
	})
}

// Row returns the final local row with the given ID, or nil.
func (r *Result) Row(id string) *record.Entity {
	for i := range r.Rows {
		if r.Rows[i].ID.String() == id {
			return &r.Rows[i]
		}
	}
	return nil
}

// Calls returns the remote call events in order.
func (r *Result) Calls() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == EventCall {
			out = append(out, ev)
		}
	}
	return out
}
