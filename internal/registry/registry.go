// ABOUTME: Static registry of tool descriptors exposed through tools/list and tools/call
// ABOUTME: Fixed at process start; list order is registration order and part of the wire contract

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDuplicateTool indicates two tools were registered under the same name.
var ErrDuplicateTool = errors.New("duplicate tool name")

// Descriptor describes one tool on the wire. The descriptor set is the single
// source of truth for both the tools/list response and the authorization
// check in tools/call.
type Descriptor struct {
	Name           string          `json:"name"`
	Title          string          `json:"title,omitempty"`
	Description    string          `json:"description"`
	InputSchema    json.RawMessage `json:"inputSchema"`
	OutputSchema   json.RawMessage `json:"outputSchema,omitempty"`
	RequiredScopes []string        `json:"requiredScopes,omitempty"`
}

// Handler executes a tool call. Argument validation happens inside the
// handler against the tool's typed input; a validation failure is an
// ordinary error, surfaced as a tool-level error rather than a protocol one.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Tool pairs a descriptor with its handler.
type Tool struct {
	Descriptor Descriptor
	Handler    Handler
}

// Registry holds the fixed tool catalog. It is immutable after construction,
// so lookups need no locking.
type Registry struct {
	order []string
	tools map[string]*Tool
}

// New builds a registry from the given tools, preserving their order.
// Returns ErrDuplicateTool if two tools share a name.
func New(tools ...*Tool) (*Registry, error) {
	r := &Registry{
		order: make([]string, 0, len(tools)),
		tools: make(map[string]*Tool, len(tools)),
	}

	for _, tool := range tools {
		name := tool.Descriptor.Name
		if name == "" {
			return nil, errors.New("tool name must not be empty")
		}
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, name)
		}
		r.order = append(r.order, name)
		r.tools[name] = tool
	}

	return r, nil
}

// Get returns the tool with the given name, or nil if it is not registered.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns every descriptor in registration order. Clients may cache
// positional assumptions, so the order is stable across calls.
func (r *Registry) List() []Descriptor {
	descriptors := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		descriptors = append(descriptors, r.tools[name].Descriptor)
	}
	return descriptors
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}
