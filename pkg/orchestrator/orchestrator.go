// Package orchestrator runs the plan-execute-replan loop for each
// session thread.
//
// Turn state machine: Idle -> Planning -> Deciding -> Executing ->
// (Planning | Summarizing) -> Idle, with a CycleLimitExceeded escape
// when the configured cycle bound is hit before a final answer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mcpilot/internal/observability"
	"mcpilot/pkg/executor"
	"mcpilot/pkg/planner"
	"mcpilot/pkg/policy"
	"mcpilot/pkg/registry"
)

// Config assembles the collaborators of an Engine. Everything is passed
// explicitly; the engine holds no hidden global state, so independent
// instances can coexist in one process.
type Config struct {
	Planner    planner.Planner
	Registry   *registry.Registry
	Policy     *policy.Engine
	Executor   *executor.Executor
	MaxCycles  int
	MaxHistory int
	Transcript *Transcript
	Logger     zerolog.Logger
}

// Engine coordinates planner, policy and executor for all sessions.
type Engine struct {
	planner    planner.Planner
	registry   *registry.Registry
	policy     *policy.Engine
	exec       *executor.Executor
	maxCycles  int
	maxHistory int
	transcript *Transcript
	logger     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	observability.EnsureRegistered()

	if cfg.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("policy engine is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = 8
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 200
	}

	return &Engine{
		planner:    cfg.Planner,
		registry:   cfg.Registry,
		policy:     cfg.Policy,
		exec:       cfg.Executor,
		maxCycles:  cfg.MaxCycles,
		maxHistory: cfg.MaxHistory,
		transcript: cfg.Transcript,
		logger:     cfg.Logger,
	}, nil
}

// session returns the thread's session, creating it on first use.
func (e *Engine) session(threadID string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sessions == nil {
		e.sessions = make(map[string]*Session)
	}
	sess, ok := e.sessions[threadID]
	if !ok {
		sess = newSession(threadID)
		e.sessions[threadID] = sess
		observability.SetActiveSessions(len(e.sessions))
		e.logger.Info().Str("thread", threadID).Msg("Session created")
	}
	return sess
}

// Session returns the session for a thread id, or nil.
func (e *Engine) Session(threadID string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[threadID]
}

// HandleMessage processes one user turn: plan, screen, execute, replan,
// until the planner produces a final answer or the cycle bound is hit.
// On PlanningError or CycleLimitError the history accumulated so far is
// preserved.
func (e *Engine) HandleMessage(ctx context.Context, threadID, text string) (string, error) {
	sess := e.session(threadID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	logger := e.logger.With().Str("thread", threadID).Logger()

	e.record(sess, planner.Message{Role: planner.RoleUser, Content: text})

	turn := policy.NewTurnState()
	sess.cycles = 0

	defer func() {
		observability.ObserveTurnCycles(sess.cycles)
	}()

	for cycle := 0; cycle < e.maxCycles; cycle++ {
		// Cancellation point between cycles.
		if err := ctx.Err(); err != nil {
			return "", err
		}

		output, err := e.plan(ctx, sess)
		if err != nil {
			logger.Error().Err(err).Int("cycle", cycle).Msg("Planner call failed")
			return "", &PlanningError{Err: err}
		}

		if output.Final() {
			e.record(sess, planner.Message{Role: planner.RoleAssistant, Content: output.Message})
			logger.Debug().Int("cycles", sess.cycles).Msg("Turn finished")
			return output.Message, nil
		}

		calls := ensureCallIDs(output.ToolCalls)
		e.record(sess, planner.Message{
			Role:      planner.RoleAssistant,
			Content:   output.Message,
			ToolCalls: calls,
		})

		// Strictly in plan order, never concurrently.
		for i, call := range calls {
			result := e.dispatch(ctx, i, call, turn)
			e.record(sess, planner.Message{
				Role:       planner.RoleTool,
				Content:    result.Feedback(),
				ToolCallID: result.CallID,
			})
		}

		sess.cycles++
	}

	logger.Warn().Int("limit", e.maxCycles).Msg("Cycle limit exceeded")
	return "", &CycleLimitError{Limit: e.maxCycles}
}

// plan makes one planner call over the bounded history. Caller holds
// the session lock.
func (e *Engine) plan(ctx context.Context, sess *Session) (*planner.Output, error) {
	start := time.Now()
	output, err := e.planner.Plan(ctx, sess.bounded(e.maxHistory), e.registry.Descriptors())
	observability.RecordPlannerCall(e.planner.Provider(), time.Since(start), err == nil)
	return output, err
}

// dispatch screens one invocation and, if accepted, executes it. A
// refused invocation produces a synthetic failure result and the
// underlying provider call never happens.
func (e *Engine) dispatch(ctx context.Context, index int, call planner.ToolCall, turn *policy.TurnState) executor.Result {
	if err := e.policy.Screen(call.Name, call.Arguments, turn); err != nil {
		kind := rejectionKind(err)
		e.logger.Warn().
			Str("tool", call.Name).
			Str("reason", string(kind)).
			Msg("Invocation rejected")
		return executor.Rejected(index, call.ID, call.Name, kind, err.Error())
	}

	entry, err := e.registry.Lookup(call.Name)
	if err != nil {
		// Screen already resolved the name; losing it here means the
		// registry invariant broke.
		return executor.Rejected(index, call.ID, call.Name, executor.FailureUnknownTool, err.Error())
	}

	handle, ok := e.registry.Handle(entry.ProviderID)
	if !ok {
		return executor.Rejected(index, call.ID, call.Name, executor.FailureProvider,
			fmt.Sprintf("provider %q is not connected", entry.ProviderID))
	}

	result := e.exec.Execute(ctx, index, call.ID, call.Name, entry.ProviderID, call.Arguments, handle)
	e.policy.Observe(call.Name, result.Raw, true, turn)
	return result
}

// record appends to history and, when configured, the transcript.
func (e *Engine) record(sess *Session, msg planner.Message) {
	sess.append(msg)
	if e.transcript != nil {
		if err := e.transcript.Append(sess.id, msg); err != nil {
			e.logger.Warn().Str("thread", sess.id).Err(err).Msg("Transcript write failed")
		}
	}
}

// rejectionKind maps a screening error to its failure kind.
func rejectionKind(err error) executor.FailureKind {
	var unknown *registry.UnknownToolError
	var schema *policy.SchemaValidationError
	var violation *policy.PolicyViolationError

	switch {
	case errors.As(err, &unknown):
		return executor.FailureUnknownTool
	case errors.As(err, &schema):
		return executor.FailureSchemaValidation
	case errors.As(err, &violation):
		return executor.FailurePolicyViolation
	default:
		return executor.FailureProvider
	}
}

// ensureCallIDs fills in ids for planners that omit them so tool-role
// history entries always correlate with their invocation.
func ensureCallIDs(calls []planner.ToolCall) []planner.ToolCall {
	out := make([]planner.ToolCall, len(calls))
	copy(out, calls)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
	}
	return out
}
