package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ModelID is the logical identifier callers use to pick a model.
type ModelID int

// Request is one chat completion: a system prompt, a user prompt and a
// sampling temperature for the selected model.
type Request struct {
	UserPrompt   string
	SystemPrompt string
	Model        ModelID
	Temperature  float64
}

// Gateway returns one textual completion per request. Implementations do not
// retry; retry policy belongs to the caller.
type Gateway interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Backend is a remote inference provider addressed by model name.
type Backend interface {
	Name() string
	Complete(ctx context.Context, model, systemPrompt, userPrompt string, temperature float64) (string, error)
}

// Model binds a ModelID to a backend and the backend's model name.
type Model struct {
	ID      ModelID
	Backend string
	Name    string
}

var (
	ErrUnknownModel   = errors.New("unknown model")
	ErrUnknownBackend = errors.New("unknown backend")
	ErrEmptyResponse  = errors.New("empty completion")
)

// Router implements Gateway over a static model table.
type Router struct {
	models   map[ModelID]Model
	backends map[string]Backend
}

var _ Gateway = (*Router)(nil)

// NewRouter validates that every model points at a registered backend.
func NewRouter(models []Model, backends ...Backend) (*Router, error) {
	r := &Router{
		models:   make(map[ModelID]Model, len(models)),
		backends: make(map[string]Backend, len(backends)),
	}
	for _, b := range backends {
		r.backends[b.Name()] = b
	}
	for _, m := range models {
		if _, ok := r.backends[m.Backend]; !ok {
			return nil, fmt.Errorf("model %d: %w %q", m.ID, ErrUnknownBackend, m.Backend)
		}
		if _, dup := r.models[m.ID]; dup {
			return nil, fmt.Errorf("model %d defined twice", m.ID)
		}
		r.models[m.ID] = m
	}
	return r, nil
}

// Complete dispatches the request to the backend serving req.Model.
func (r *Router) Complete(ctx context.Context, req Request) (string, error) {
	m, ok := r.models[req.Model]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownModel, req.Model)
	}

	out, err := r.backends[m.Backend].Complete(ctx, m.Name, req.SystemPrompt, req.UserPrompt, req.Temperature)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", m.Backend, m.Name, err)
	}
	return out, nil
}

// Models lists the configured models ordered by ID.
func (r *Router) Models() []Model {
	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
