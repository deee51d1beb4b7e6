package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/loom/pkg/models"
)

// ErrUnknownTool is returned when a name resolves to neither an enabled
// nor a discovered tool. Callers surface it as a diagnostic, not a fault.
var ErrUnknownTool = errors.New("unknown tool")

// Registry holds the tool pools. It is mutated during startup scan and
// on-demand promotion; lookups are read-locked so concurrent sessions can
// share one registry.
type Registry struct {
	mu         sync.RWMutex
	discovered map[string]Tool
	enabled    map[string]bool
	metadata   map[string]Metadata
	schemas    map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		discovered: make(map[string]Tool),
		enabled:    make(map[string]bool),
		metadata:   make(map[string]Metadata),
		schemas:    make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the discovered pool. A tool with the same name
// replaces the previous one, which is how later scan directories override
// earlier ones.
func (r *Registry) Register(tool Tool, meta Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	r.discovered[name] = tool
	r.metadata[name] = meta
	delete(r.schemas, name) // recompile lazily after override
}

// RegisterEnabled promotes a discovered tool into the enabled pool.
// Idempotent; unknown names are an error.
func (r *Registry) RegisterEnabled(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.discovered[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	r.enabled[name] = true
	return nil
}

// LoadOnDemand resolves a name for a mention: enabled tools are returned
// as-is, discovered tools are promoted first, unknown names fail with
// ErrUnknownTool.
func (r *Registry) LoadOnDemand(name string) (Tool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tool, ok := r.discovered[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	r.enabled[name] = true
	return tool, nil
}

// Get returns an enabled tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.enabled[name] {
		return nil, false
	}
	tool, ok := r.discovered[name]
	return tool, ok
}

// SetMetadata replaces the metadata recorded for a discovered tool. Used
// by the config layer to apply operator overrides after scanning.
func (r *Registry) SetMetadata(name string, meta Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.discovered[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	r.metadata[name] = meta
	return nil
}

// MetadataFor returns the metadata recorded for a tool name, or defaults.
func (r *Registry) MetadataFor(name string) Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.metadata[name]; ok {
		return m
	}
	return DefaultMetadata()
}

// Names returns all discovered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.discovered))
	for n := range r.discovered {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// VisibleFor computes the tool catalog for one session: the enabled pool
// plus session-promoted tools, minus tools a subagent may not use.
func (r *Registry) VisibleFor(state *models.AgentState) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[string]bool, len(r.enabled)+len(state.SessionTools))
	for name, on := range r.enabled {
		if on {
			wanted[name] = true
		}
	}
	for _, name := range state.SessionTools {
		wanted[name] = true
	}

	names := make([]string, 0, len(wanted))
	for name := range wanted {
		names = append(names, name)
	}
	sort.Strings(names)

	subagent := state.IsSubagent()
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		tool, ok := r.discovered[name]
		if !ok {
			continue
		}
		if subagent {
			meta, has := r.metadata[name]
			if !has {
				meta = DefaultMetadata()
			}
			if !meta.AvailableToSubagent {
				continue
			}
		}
		out = append(out, tool)
	}
	return out
}

// ValidateArgs checks call arguments against the tool's JSON schema.
// Violations are returned as errors for the dispatcher to convert into
// error ToolResults.
func (r *Registry) ValidateArgs(name string, args json.RawMessage) error {
	schema, err := r.compiledSchema(name)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	var payload any
	if len(args) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(args, &payload); err != nil {
		return fmt.Errorf("tool %s: arguments are not valid JSON: %w", name, err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}
	return nil
}

func (r *Registry) compiledSchema(name string) (*jsonschema.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.schemas[name]; ok {
		return s, nil
	}
	tool, ok := r.discovered[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	raw := tool.Schema()
	if len(raw) == 0 {
		r.schemas[name] = nil
		return nil, nil
	}
	schema, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("tool %s: invalid schema: %w", name, err)
	}
	r.schemas[name] = schema
	return schema, nil
}
