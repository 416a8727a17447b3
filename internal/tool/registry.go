package tool

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dkrish7/osprey/internal/config"
	"github.com/dkrish7/osprey/internal/sandbox"
	"github.com/dkrish7/osprey/model"
)

// Registry is an explicit name-to-executor table built once at startup and
// passed to everything that resolves tools.
type Registry struct {
	executors map[string]Executor
}

func NewRegistry(runner sandbox.Runner, cfg *config.SandboxConfig) *Registry {
	r := &Registry{executors: make(map[string]Executor)}
	r.Register(newUsernameSearch(runner, cfg))
	r.Register(newDomainHarvest(runner, cfg))
	r.Register(newPhoneLookup(runner, cfg))
	r.Register(newImageMetadata(runner, cfg))
	r.Register(newEmailBreach(runner, cfg))
	return r
}

func (r *Registry) Register(e Executor) {
	r.executors[e.Metadata().Name] = e
}

var ErrUnknownTool = errors.New("unknown tool")

func (r *Registry) Resolve(name string) (Executor, error) {
	e, ok := r.executors[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTool, name)
	}
	return e, nil
}

// Rate reports the named tool's own execution window.
func (r *Registry) Rate(name string) (model.RateSpec, bool) {
	e, ok := r.executors[name]
	if !ok {
		return model.RateSpec{}, false
	}
	return e.Metadata().RateLimit, true
}

func (r *Registry) List() []model.ToolMetadata {
	out := make([]model.ToolMetadata, 0, len(r.executors))
	for _, e := range r.executors {
		out = append(out, e.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
