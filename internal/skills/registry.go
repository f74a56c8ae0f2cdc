package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"pulsebot/internal/llm"
	"pulsebot/internal/perr"
)

// Registry owns the unique tool-name dispatch map across every registered
// Skill and validates arguments against each tool's JSON schema before
// dispatch (§4.6).
type Registry struct {
	mu       sync.RWMutex
	skillOf  map[string]Skill // tool name -> owning skill
	defs     map[string]ToolDefinition
	compiled map[string]*jsonschema.Schema
	skills   []Skill // every registered skill, once each, in registration order
}

func NewRegistry() *Registry {
	return &Registry{
		skillOf:  map[string]Skill{},
		defs:     map[string]ToolDefinition{},
		compiled: map[string]*jsonschema.Schema{},
	}
}

// Register adds every tool a Skill exposes. A duplicate tool name across
// skills is a configuration error: names must be globally unique.
func (r *Registry) Register(s Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, def := range s.Tools() {
		if _, exists := r.skillOf[def.Name]; exists {
			return perr.New(perr.ConfigError, "duplicate tool name: "+def.Name)
		}
		compiled, err := compileSchema(def.Name, def.Parameters)
		if err != nil {
			return perr.Wrap(perr.ConfigError, "compile schema for tool "+def.Name, err)
		}
		r.skillOf[def.Name] = s
		r.defs[def.Name] = def
		r.compiled[def.Name] = compiled
	}
	r.skills = append(r.skills, s)
	return nil
}

// SkillIndexEntry is one instruction skill's name and description, as
// surfaced to the context builder's system-prompt skill index.
type SkillIndexEntry struct {
	Name        string
	Description string
}

// InstructionSkillIndex returns the name/description of every discovered
// instruction skill known to the registered bridge skill, if any.
func (r *Registry) InstructionSkillIndex() []SkillIndexEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.skills {
		if b, ok := s.(*bridgeSkill); ok {
			out := make([]SkillIndexEntry, 0, len(b.byName))
			for _, is := range b.byName {
				out = append(out, SkillIndexEntry{Name: is.Name, Description: is.Description})
			}
			return out
		}
	}
	return nil
}

// Schemas returns tool definitions in the shape llm.Provider expects.
func (r *Registry) Schemas() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolSchema, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, llm.ToolSchema{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return out
}

// Dispatch validates arguments against the tool's schema, then calls the
// owning skill. An unknown tool name or a schema violation is returned as a
// perr.Error rather than reaching the skill's Execute.
func (r *Registry) Dispatch(ctx context.Context, toolName string, arguments json.RawMessage) (Result, error) {
	r.mu.RLock()
	s, ok := r.skillOf[toolName]
	schema := r.compiled[toolName]
	r.mu.RUnlock()
	if !ok {
		return Result{}, perr.New(perr.UnknownTool, "no tool registered with name "+toolName)
	}
	if schema != nil {
		var decoded any
		if len(arguments) == 0 {
			decoded = map[string]any{}
		} else if err := json.Unmarshal(arguments, &decoded); err != nil {
			return Result{}, perr.Wrap(perr.ToolArgumentInvalid, "arguments not valid JSON", err)
		}
		if err := schema.Validate(decoded); err != nil {
			return Result{}, perr.Wrap(perr.ToolArgumentInvalid, "arguments failed schema validation for "+toolName, err)
		}
	}
	return s.Execute(ctx, toolName, arguments)
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	if len(params) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name+".schema.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile(name + ".schema.json")
}
