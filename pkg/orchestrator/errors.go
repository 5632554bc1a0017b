package orchestrator

import "fmt"

// PlanningError wraps a planner backend failure. The turn is aborted
// but session history up to the failure is preserved.
type PlanningError struct {
	Err error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed: %v", e.Err)
}

func (e *PlanningError) Unwrap() error {
	return e.Err
}

// CycleLimitError reports a turn that exhausted its plan-execute cycle
// bound without the planner producing a final answer. History up to the
// abort is preserved; executed results are not rolled back.
type CycleLimitError struct {
	Limit int
}

func (e *CycleLimitError) Error() string {
	return fmt.Sprintf("turn aborted after %d plan-execute cycles without a final answer", e.Limit)
}
