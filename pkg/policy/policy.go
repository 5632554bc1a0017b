// Package policy classifies tools and screens planned invocations
// before dispatch.
//
// Invariants:
// - Screening happens in plan order: unknown name, then argument
//   schema, then workflow gate.
// - A gated tool is refused unless a validating tool already passed
//   earlier in the same turn (fail closed: the provider call for a
//   refused invocation never happens).
// - Class assignment comes from configuration, never inference.
package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"mcpilot/internal/observability"
	"mcpilot/pkg/mcp"
	"mcpilot/pkg/registry"
)

// Class is a tool's workflow classification.
type Class string

const (
	// ClassPlain tools carry no workflow constraints.
	ClassPlain Class = "plain"
	// ClassValidating tools gate subsequent gated tools when they pass.
	ClassValidating Class = "validating"
	// ClassGated tools require a prior validating pass in the turn.
	ClassGated Class = "gated"
)

// ParseClass validates a configured class string.
func ParseClass(s string) (Class, error) {
	switch Class(s) {
	case ClassPlain, ClassValidating, ClassGated:
		return Class(s), nil
	default:
		return "", fmt.Errorf("unknown tool class %q", s)
	}
}

// PassFunc decides whether a validating tool's result counts as a pass.
type PassFunc func(result mcp.CallResult) bool

// DefaultPass treats any non-error result as a pass.
func DefaultPass(result mcp.CallResult) bool {
	return !result.IsError
}

// TurnState tracks validating outcomes within a single turn. Discarded
// when the turn ends.
type TurnState struct {
	validated bool
}

// NewTurnState creates an empty per-turn record.
func NewTurnState() *TurnState {
	return &TurnState{}
}

// RecordValidation notes a validating tool's outcome.
func (ts *TurnState) RecordValidation(passed bool) {
	if passed {
		ts.validated = true
	}
}

// Validated reports whether any validating tool has passed this turn.
func (ts *TurnState) Validated() bool {
	return ts.validated
}

// SchemaValidationError reports arguments that do not match the tool's
// declared schema.
type SchemaValidationError struct {
	Tool   string
	Issues []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("arguments for tool %q failed schema validation: %s", e.Tool, strings.Join(e.Issues, "; "))
}

// PolicyViolationError reports a gated tool attempted without a prior
// validating pass.
type PolicyViolationError struct {
	Tool string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("gated tool %q refused: no validating tool has passed in this turn", e.Tool)
}

// Engine screens planned invocations against the registry and the
// configured class table.
type Engine struct {
	reg  *registry.Registry
	pass PassFunc

	classMu sync.RWMutex
	classes map[string]Class

	schemaMu sync.Mutex
	schemas  map[string]*gojsonschema.Schema
}

// NewEngine creates a policy engine. A nil pass predicate uses
// DefaultPass.
func NewEngine(reg *registry.Registry, classes map[string]Class, pass PassFunc) *Engine {
	observability.EnsureRegistered()
	if pass == nil {
		pass = DefaultPass
	}
	if classes == nil {
		classes = map[string]Class{}
	}
	return &Engine{
		reg:     reg,
		pass:    pass,
		classes: classes,
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// ClassOf returns a tool's configured class; unconfigured tools are
// plain.
func (e *Engine) ClassOf(name string) Class {
	e.classMu.RLock()
	defer e.classMu.RUnlock()

	if class, ok := e.classes[name]; ok {
		return class
	}
	return ClassPlain
}

// SetClasses atomically replaces the class table. Turns already past
// screening are unaffected.
func (e *Engine) SetClasses(classes map[string]Class) {
	e.classMu.Lock()
	defer e.classMu.Unlock()
	e.classes = classes

	log.Info().Int("entries", len(classes)).Msg("Tool class table replaced")
}

// Screen decides whether one planned invocation may be dispatched.
// Returns nil on accept; a typed error otherwise. The caller must not
// dispatch on error.
func (e *Engine) Screen(name string, args map[string]interface{}, ts *TurnState) error {
	entry, err := e.reg.Lookup(name)
	if err != nil {
		observability.RecordPolicyRejection("unknown_tool")
		return err
	}

	if err := e.validateArguments(entry.Descriptor, args); err != nil {
		observability.RecordPolicyRejection("schema_validation")
		return err
	}

	if e.ClassOf(name) == ClassGated && !ts.Validated() {
		observability.RecordPolicyRejection("policy_violation")
		log.Warn().Str("tool", name).Msg("Gated tool refused without validating pass")
		return &PolicyViolationError{Tool: name}
	}

	return nil
}

// Observe records the outcome of a dispatched invocation. Only
// validating tools affect TurnState; dispatched is false when the call
// failed before producing a provider result.
func (e *Engine) Observe(name string, result mcp.CallResult, dispatched bool, ts *TurnState) {
	if e.ClassOf(name) != ClassValidating {
		return
	}

	passed := dispatched && e.pass(result)
	ts.RecordValidation(passed)

	log.Debug().Str("tool", name).Bool("passed", passed).Msg("Validating outcome recorded")
}

// validateArguments checks args against the descriptor's input schema.
// Descriptors without a usable schema accept any arguments.
func (e *Engine) validateArguments(desc mcp.ToolDescriptor, args map[string]interface{}) error {
	schema := e.compiledSchema(desc)
	if schema == nil {
		return nil
	}

	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &SchemaValidationError{Tool: desc.Name, Issues: []string{err.Error()}}
	}

	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, issue := range result.Errors() {
			issues = append(issues, issue.String())
		}
		return &SchemaValidationError{Tool: desc.Name, Issues: issues}
	}

	return nil
}

// compiledSchema returns the cached compiled schema for a tool. The
// registry is immutable, so compiling once per tool is safe.
func (e *Engine) compiledSchema(desc mcp.ToolDescriptor) *gojsonschema.Schema {
	if len(desc.InputSchema) == 0 {
		return nil
	}

	e.schemaMu.Lock()
	defer e.schemaMu.Unlock()

	if schema, ok := e.schemas[desc.Name]; ok {
		return schema
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(desc.InputSchema))
	if err != nil {
		log.Warn().Str("tool", desc.Name).Err(err).Msg("Unusable input schema, skipping argument validation")
		e.schemas[desc.Name] = nil
		return nil
	}

	e.schemas[desc.Name] = schema
	return schema
}
