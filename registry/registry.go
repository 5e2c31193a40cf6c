package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/itsneelabh/bloxgate/core"
)

// Handler executes a tool call with validated arguments.
type Handler func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error)

// Tool is one entry in the catalog.
type Tool struct {
	Name        string
	Description string
	Schema      *Schema
	// ReadOnly tools may be served from cache; mutations never are.
	ReadOnly bool
	// CacheTTL overrides the configured default when positive. Negative
	// disables caching for this tool even if it is read-only.
	CacheTTL time.Duration
	Handler  Handler
}

// Descriptor is the published form of a tool, sent in list_tools results.
type Descriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Registry holds the tool catalog and dispatches calls. Registration happens
// at startup; lookups are concurrent.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger core.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds a tool. Duplicate names are a programming error and fail.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" {
		return fmt.Errorf("%w: tool name must not be empty", core.ErrInvalidConfiguration)
	}
	if t.Handler == nil {
		return fmt.Errorf("%w: tool %q has no handler", core.ErrInvalidConfiguration, t.Name)
	}
	if t.Schema == nil {
		t.Schema = NewSchema(map[string]Property{})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: tool %q already registered", core.ErrInvalidConfiguration, t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// MustRegister registers or panics. Used by the catalog builders where a
// duplicate name means a coding mistake.
func (r *Registry) MustRegister(t *Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns descriptors for every tool, sorted by name for stable output.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Descriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Schema.JSONSchema(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate resolves a tool and validates arguments against its schema,
// returning the tool and the arguments with defaults applied.
func (r *Registry) Validate(name string, args map[string]interface{}) (*Tool, map[string]interface{}, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", core.ErrUnknownTool, name)
	}
	validated, err := t.Schema.Validate(args)
	if err != nil {
		return nil, nil, fmt.Errorf("tool %q: %w", name, err)
	}
	return t, validated, nil
}

// Invoke validates and runs a tool call.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	t, validated, err := r.Validate(name, args)
	if err != nil {
		return nil, err
	}
	return t.Handler(ctx, validated)
}
