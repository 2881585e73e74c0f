// Package tools defines the static catalog of named remote operations the
// gateway can execute.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nexbridge/snowgate/pkg/models"
)

// Handler executes one tool call. Implementations must tolerate being
// abandoned on context cancellation: no partial side effects beyond what a
// single HTTP call to the external service might leave.
type Handler func(ctx context.Context, req Request) (any, error)

// Request is the execution context handed to a Handler.
type Request struct {
	Customer   *models.Customer
	Credential *models.OAuthCredential
	Arguments  map[string]any
}

// Definition describes one registered tool. Category is explicit and set at
// registration time; it is never derived from the tool's name.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Service     string         `json:"-"` // external service whose credential the handler needs; empty for none
	InputSchema map[string]any `json:"inputSchema"`
	Handler     Handler        `json:"-"`
}

// NotFoundError reports an unregistered tool name. The known-name list is
// included to aid client debugging; registry contents are not secret.
type NotFoundError struct {
	Name  string
	Known []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unknown tool %q (known tools: %s)", e.Name, strings.Join(e.Known, ", "))
}

// Registry is an immutable name -> Definition mapping built once at startup.
type Registry struct {
	defs  map[string]Definition
	names []string
}

// New builds a Registry from the given definitions. Names must be unique and
// every definition needs a handler and a category.
func New(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if d.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", d.Name)
		}
		if d.Category == "" {
			return nil, fmt.Errorf("tool %q has no category", d.Name)
		}
		if d.Service != "" && !models.ValidService(d.Service) {
			return nil, fmt.Errorf("tool %q references unknown service %q", d.Name, d.Service)
		}
		if _, dup := r.defs[d.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", d.Name)
		}
		r.defs[d.Name] = d
		r.names = append(r.names, d.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup resolves a tool by name.
func (r *Registry) Lookup(name string) (Definition, error) {
	d, ok := r.defs[name]
	if !ok {
		return Definition{}, &NotFoundError{Name: name, Known: r.names}
	}
	return d, nil
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	out := make([]Definition, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.defs[name])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.names)
}
