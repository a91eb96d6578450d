package harness

import "github.com/roach88/roberto/internal/record"

// TraceEvent records one applied step.
type TraceEvent struct {
	Seq     int                    `json:"seq"`
	Op      string                 `json:"op"`
	Args    map[string]interface{} `json:"args,omitempty"`
	Outcome string                 `json:"outcome"`

	// Removed is the purge row count.
	Removed *int64 `json:"removed,omitempty"`

	// Invalidations is how many notification-table change sets the step
	// dispatched.
	Invalidations int `json:"invalidations"`

	// Rows are the stored ids after the step, in storage order.
	Rows []int64 `json:"rows"`
}

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every step met its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors lists failed expectations and assertions. Empty if Pass.
	Errors []string `json:"errors,omitempty"`

	// Final is the stored history after the last step.
	Final []record.Notification `json:"final"`
}

// NewResult returns a passing Result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:  true,
		Trace: []TraceEvent{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Invalidations is the total over every traced step.
func (r *Result) Invalidations() int {
	total := 0
	for _, e := range r.Trace {
		total += e.Invalidations
	}
	return total
}
