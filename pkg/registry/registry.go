// Package registry merges the tool catalogs of all connected providers
// into one read-only lookup table.
//
// Invariants:
// - Tool names are unique across providers; a collision fails the build.
// - The table never changes after Build, so lookups are lock-free.
package registry

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"mcpilot/pkg/mcp"
)

// Handle is the read-only view of a connected provider the registry and
// executor work against.
type Handle interface {
	ProviderID() string
	Tools() []mcp.ToolDescriptor
	mcp.Caller
}

// Entry resolves a tool name to its descriptor and owning provider.
type Entry struct {
	Descriptor mcp.ToolDescriptor
	ProviderID string
}

// DuplicateToolError reports a tool name declared by two providers.
type DuplicateToolError struct {
	Name   string
	First  string
	Second string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("duplicate tool %q declared by providers %q and %q", e.Name, e.First, e.Second)
}

// UnknownToolError reports a lookup for a name no provider declared.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// Registry is the aggregated tool namespace. Immutable after Build.
type Registry struct {
	entries map[string]Entry
	order   []string
	handles map[string]Handle
}

// Build concatenates the catalogs of all handles. It fails with a
// DuplicateToolError on the first cross-provider name collision; tools
// are never silently shadowed or renamed.
func Build(handles []Handle) (*Registry, error) {
	r := &Registry{
		entries: make(map[string]Entry),
		handles: make(map[string]Handle, len(handles)),
	}

	for _, h := range handles {
		r.handles[h.ProviderID()] = h
		for _, desc := range h.Tools() {
			if existing, ok := r.entries[desc.Name]; ok {
				return nil, &DuplicateToolError{
					Name:   desc.Name,
					First:  existing.ProviderID,
					Second: h.ProviderID(),
				}
			}
			r.entries[desc.Name] = Entry{Descriptor: desc, ProviderID: h.ProviderID()}
			r.order = append(r.order, desc.Name)
		}
	}

	log.Info().Int("tools", len(r.order)).Int("providers", len(handles)).Msg("Tool registry built")
	return r, nil
}

// Lookup resolves a tool name to its entry.
func (r *Registry) Lookup(name string) (Entry, error) {
	entry, ok := r.entries[name]
	if !ok {
		return Entry{}, &UnknownToolError{Name: name}
	}
	return entry, nil
}

// Handle returns the provider handle for a provider id.
func (r *Registry) Handle(providerID string) (Handle, bool) {
	h, ok := r.handles[providerID]
	return h, ok
}

// Descriptors returns all descriptors in catalog declaration order.
func (r *Registry) Descriptors() []mcp.ToolDescriptor {
	descs := make([]mcp.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		descs = append(descs, r.entries[name].Descriptor)
	}
	return descs
}

// Size returns the number of registered tools.
func (r *Registry) Size() int {
	return len(r.entries)
}
