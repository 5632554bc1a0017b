// Package executor dispatches accepted invocations to their providers
// and captures every outcome as a result, never as a fault.
//
// Invariants:
// - Invocations of one plan run strictly in order, never concurrently:
//   later invocations may be gated on earlier ones and provider
//   connections are single-stream.
// - Transport errors, provider error flags and timeouts all become
//   Failure results; a single failing call never aborts the turn.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"mcpilot/internal/observability"
	"mcpilot/pkg/mcp"
)

// FailureKind classifies why an invocation produced no success content.
type FailureKind string

const (
	FailureUnknownTool      FailureKind = "unknown_tool"
	FailureSchemaValidation FailureKind = "schema_validation"
	FailurePolicyViolation  FailureKind = "policy_violation"
	FailureProvider         FailureKind = "provider_error"
)

// Failure is the error half of a tool result.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Result is the outcome of one invocation, dispatched or refused.
type Result struct {
	Index    int
	CallID   string
	Tool     string
	Provider string
	Content  string
	Raw      mcp.CallResult
	Failure  *Failure
}

// Succeeded reports whether the invocation produced success content.
func (r Result) Succeeded() bool {
	return r.Failure == nil
}

// Feedback renders the result as tool-role history content so the
// planner can see refusals and failures and react to them.
func (r Result) Feedback() string {
	if r.Failure != nil {
		return fmt.Sprintf("error (%s): %s", r.Failure.Kind, r.Failure.Message)
	}
	if r.Content == "" {
		return "(no output)"
	}
	return r.Content
}

// Rejected builds the synthetic failure result for an invocation the
// policy engine refused. Nothing was dispatched.
func Rejected(index int, callID, tool string, kind FailureKind, message string) Result {
	return Result{
		Index:   index,
		CallID:  callID,
		Tool:    tool,
		Failure: &Failure{Kind: kind, Message: message},
	}
}

// Executor dispatches single invocations with a per-step timeout.
type Executor struct {
	timeout time.Duration
}

// New creates an executor. A non-positive timeout defaults to 30s.
func New(timeout time.Duration) *Executor {
	observability.EnsureRegistered()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{timeout: timeout}
}

// Execute marshals the invocation to the provider and awaits the
// response. Every fault is captured in the result.
func (ex *Executor) Execute(ctx context.Context, index int, callID, tool, providerID string, args map[string]interface{}, caller mcp.Caller) Result {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, ex.timeout)
	defer cancel()

	raw, err := caller.CallTool(callCtx, tool, args)
	duration := time.Since(start)

	result := Result{
		Index:    index,
		CallID:   callID,
		Tool:     tool,
		Provider: providerID,
		Raw:      raw,
	}

	switch {
	case err != nil:
		message := err.Error()
		if callCtx.Err() == context.DeadlineExceeded {
			message = fmt.Sprintf("call timed out after %v", ex.timeout)
		}
		result.Failure = &Failure{Kind: FailureProvider, Message: message}
		// Transport failures carry no provider result; synthesize an
		// error result so validating outcomes read as fail.
		result.Raw = mcp.TextResult(message, true)

	case raw.IsError:
		result.Failure = &Failure{Kind: FailureProvider, Message: raw.Text()}

	default:
		result.Content = raw.Text()
	}

	observability.RecordToolExecution(providerID, duration, result.Succeeded())

	if result.Failure != nil {
		log.Warn().
			Str("tool", tool).
			Str("provider", providerID).
			Dur("duration", duration).
			Str("error", result.Failure.Message).
			Msg("Tool execution failed")
	} else {
		log.Debug().
			Str("tool", tool).
			Str("provider", providerID).
			Dur("duration", duration).
			Msg("Tool execution completed")
	}

	return result
}
