package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"arcadiaforge/internal/logging"
)

// Registry holds the declared tools. It is safe for concurrent use; the
// catalog is static after startup but tests register on the fly.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Duplicate names are an error.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool
	logging.ToolsDebug("registered tool %s", tool.Name)
	return nil
}

// MustRegister registers a tool and panics on error. For static wiring.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("register tool %s: %v", tool.Name, err))
	}
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Names returns all tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog returns the runtime-facing declarations, sorted by name.
func (r *Registry) Catalog() []CatalogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]CatalogEntry, 0, len(r.tools))
	for _, t := range r.tools {
		entries = append(entries, CatalogEntry{Name: t.Name, Description: t.Description, Schema: t.Schema})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Execute validates required arguments and runs the named tool.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*Output, error) {
	tool := r.Get(name)
	if tool == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	for _, req := range tool.Schema.Required {
		if _, ok := args[req]; !ok {
			return nil, fmt.Errorf("%s: missing required argument %q", name, req)
		}
	}

	timer := logging.StartTimer(logging.CategoryTools, name)
	out, err := tool.Execute(ctx, args)
	timer.Stop()
	if err != nil {
		logging.Tools("%s failed: %v", name, err)
		return nil, err
	}
	return out, nil
}
