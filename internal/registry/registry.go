// Package registry implements the per-gateway action registry (spec §4.5):
// a name -> {description, minScore, parameters, handler} mapping with
// list/validate/execute operations.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/agenttrust/station/pkg/models"
)

// Registry holds the actions one gateway process exposes. Safe for
// concurrent use; actions are normally registered once at startup but the
// lock makes dynamic registration safe too.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]models.ActionDef
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{actions: make(map[string]models.ActionDef)}
}

// Register adds or replaces an action definition.
func (r *Registry) Register(def models.ActionDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[def.Name] = def
}

// Get returns the definition for name, if registered.
func (r *Registry) Get(name string) (models.ActionDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.actions[name]
	return def, ok
}

// List returns the public view of every registered action, handlers
// stripped, sorted by name for a stable response.
func (r *Registry) List() []models.ActionPublicView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	views := make([]models.ActionPublicView, 0, len(r.actions))
	for _, def := range r.actions {
		views = append(views, models.ActionPublicView{
			Name:        def.Name,
			Description: def.Description,
			MinScore:    def.MinScore,
			Parameters:  def.Parameters,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views
}

// Names returns every registered action name, sorted — used to populate the
// "available actions" list on an unknown-action 404 (spec §4.7 step 4).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate returns every violation found in params against name's parameter
// schema: missing required fields, type mismatches, and unknown parameter
// names. An empty slice means params is valid. Returns an error only if
// name itself is not registered.
func (r *Registry) Validate(name string, params map[string]interface{}) ([]string, error) {
	def, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown action: %s", name)
	}

	var violations []string

	for paramName, spec := range def.Parameters {
		value, present := params[paramName]
		if !present {
			if spec.Required {
				violations = append(violations, fmt.Sprintf("missing required parameter: %s", paramName))
			}
			continue
		}
		if !typeMatches(spec.Type, value) {
			violations = append(violations, fmt.Sprintf("parameter %q: expected %s, got %s", paramName, spec.Type, describeType(value)))
		}
	}

	for paramName := range params {
		if _, known := def.Parameters[paramName]; !known {
			violations = append(violations, fmt.Sprintf("unknown parameter: %s", paramName))
		}
	}

	sort.Strings(violations)
	return violations, nil
}

// ExecuteResult is the outcome of Execute, mirrored onto the wire as either
// {success:true, data} or {success:false, error} (spec §4.5).
type ExecuteResult struct {
	Success bool
	Data    interface{}
	Error   string
}

// Execute runs the named action's handler after checking registration,
// score gate, and parameter validation, trapping any handler panic as an
// error result rather than propagating it.
func (r *Registry) Execute(name string, params map[string]interface{}, actx models.ActionContext) ExecuteResult {
	def, ok := r.Get(name)
	if !ok {
		return ExecuteResult{Success: false, Error: fmt.Sprintf("unknown action: %s", name)}
	}
	if actx.Score < def.MinScore {
		return ExecuteResult{Success: false, Error: fmt.Sprintf("insufficient reputation score: %d < %d", actx.Score, def.MinScore)}
	}
	if violations, _ := r.Validate(name, params); len(violations) > 0 {
		return ExecuteResult{Success: false, Error: "validation failed: " + violations[0]}
	}

	return r.invoke(def, actx, params)
}

func (r *Registry) invoke(def models.ActionDef, actx models.ActionContext, params map[string]interface{}) (result ExecuteResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = ExecuteResult{Success: false, Error: fmt.Sprintf("handler panic: %v", rec)}
		}
	}()

	if def.Handler == nil {
		return ExecuteResult{Success: false, Error: "action has no handler configured"}
	}
	data, err := def.Handler(actx, params)
	if err != nil {
		return ExecuteResult{Success: false, Error: err.Error()}
	}
	return ExecuteResult{Success: true, Data: data}
}

func typeMatches(t models.ParamType, value interface{}) bool {
	switch t {
	case models.ParamString:
		_, ok := value.(string)
		return ok
	case models.ParamNumber:
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case models.ParamBoolean:
		_, ok := value.(bool)
		return ok
	case models.ParamArray:
		_, ok := value.([]interface{})
		return ok
	case models.ParamObject:
		_, ok := value.(map[string]interface{})
		return ok
	default:
		return false
	}
}

func describeType(value interface{}) string {
	switch value.(type) {
	case string:
		return "string"
	case float64, float32, int, int64:
		return "number"
	case bool:
		return "boolean"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", value)
	}
}
