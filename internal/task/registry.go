package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownKind is matched by errors returned for unregistered task kinds.
var ErrUnknownKind = errors.New("task type not found")

// UnknownKindError reports a task kind missing from the registry.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return "Task type not found: " + e.Kind
}

// Is reports whether target is ErrUnknownKind.
func (e *UnknownKindError) Is(target error) bool {
	return target == ErrUnknownKind
}

// ParameterError reports a missing or invalid task parameter.
// Its message is shown to clients verbatim.
type ParameterError struct {
	Name    string
	Missing bool
	Detail  string
}

func (e *ParameterError) Error() string {
	if e.Missing {
		return fmt.Sprintf("Missing '%s' parameter", e.Name)
	}
	return "Invalid parameters: " + e.Detail
}

// ValidateFunc checks raw parameters and returns the normalized set the
// kind's RunFunc will receive.
type ValidateFunc func(params map[string]any) (map[string]any, error)

// RunFunc executes a task with normalized parameters.
type RunFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// Kind describes one kind of task.
type Kind struct {
	// Name is the canonical kind published in result events.
	Name string

	// Aliases are alternative names accepted on submission.
	Aliases []string

	Description string

	// Params lists accepted parameter names, for discovery only.
	Params []string

	// Validate may be nil, in which case parameters pass through unchanged.
	Validate ValidateFunc

	Run RunFunc
}

// Registry is a closed mapping from kind name to Kind, built once at startup.
type Registry struct {
	byName map[string]Kind
	kinds  []Kind
}

// NewRegistry builds a registry. Names and aliases must be unique.
func NewRegistry(kinds ...Kind) (*Registry, error) {
	r := &Registry{byName: make(map[string]Kind)}
	for _, k := range kinds {
		if k.Name == "" {
			return nil, errors.New("task kind name is required")
		}
		if k.Run == nil {
			return nil, fmt.Errorf("task kind %s has no run function", k.Name)
		}
		for _, name := range append([]string{k.Name}, k.Aliases...) {
			if _, exists := r.byName[name]; exists {
				return nil, fmt.Errorf("task kind %s registered twice", name)
			}
			r.byName[name] = k
		}
		r.kinds = append(r.kinds, k)
	}
	sort.Slice(r.kinds, func(i, j int) bool { return r.kinds[i].Name < r.kinds[j].Name })
	return r, nil
}

// DefaultRegistry returns the registry of built-in kinds.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(ReverseStringKind(), GenerateRandomNumberKind())
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup resolves a kind by canonical name or alias.
func (r *Registry) Lookup(name string) (Kind, error) {
	k, ok := r.byName[name]
	if !ok {
		return Kind{}, &UnknownKindError{Kind: name}
	}
	return k, nil
}

// Resolve looks up the kind and validates params against it.
func (r *Registry) Resolve(name string, params map[string]any) (Kind, map[string]any, error) {
	k, err := r.Lookup(name)
	if err != nil {
		return Kind{}, nil, err
	}
	if params == nil {
		params = map[string]any{}
	}
	if k.Validate == nil {
		return k, params, nil
	}
	normalized, err := k.Validate(params)
	if err != nil {
		return Kind{}, nil, err
	}
	return k, normalized, nil
}

// Kinds returns the registered kinds sorted by canonical name.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, len(r.kinds))
	copy(out, r.kinds)
	return out
}
