// Package transform defines the uniform transform interface, the registry
// that maps transform identifiers to implementations, and the chain executor.
//
// A chain is resolved once per build mode when the executor is created:
// references restricted to another mode are dropped and unknown identifiers
// are configuration errors. Within a rule, references run in loader order,
// the last listed first, each step receiving the previous step's content.
package transform

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/conneroisu/assetforge/internal/config"
)

// ArtifactKind identifies a side output of a transform.
type ArtifactKind string

const (
	// ArtifactCSS is style sheet text collected into the chunk's .css file.
	ArtifactCSS ArtifactKind = "css"
)

// Artifact is a side output produced next to the transformed content.
type Artifact struct {
	Kind    ArtifactKind
	Content []byte
}

// Input is what a transform receives.
type Input struct {
	// Path is the absolute source path.
	Path string
	// ID is the module identifier, relative to the source root.
	ID      string
	Content []byte
	Options Options
	// Exports is the export map produced by an earlier step, if any.
	Exports map[string]string
	Build   *config.BuildContext
}

// Output is what a transform returns. A nil Exports keeps the previous map.
type Output struct {
	Content   []byte
	Artifacts []Artifact
	Exports   map[string]string
	HotAccept bool
}

// Transform is implemented by every registered transform.
type Transform interface {
	Name() string
	// Modes lists the build modes the transform supports. Empty means all.
	Modes() []config.Mode
	Transform(ctx context.Context, in *Input) (*Output, error)
}

// Func adapts a function to the Transform interface.
type Func struct {
	ID     string
	Only   []config.Mode
	Handle func(ctx context.Context, in *Input) (*Output, error)
}

// Name implements Transform.
func (f *Func) Name() string { return f.ID }

// Modes implements Transform.
func (f *Func) Modes() []config.Mode { return f.Only }

// Transform implements Transform.
func (f *Func) Transform(ctx context.Context, in *Input) (*Output, error) {
	return f.Handle(ctx, in)
}

// Supports reports whether t may run in mode.
func Supports(t Transform, mode config.Mode) bool {
	modes := t.Modes()
	if len(modes) == 0 {
		return true
	}
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}

// Registry maps identifiers to transforms.
type Registry struct {
	transforms map[string]Transform
	mutex      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{transforms: make(map[string]Transform)}
}

// Register adds t. Registering the same identifier twice is an error.
func (r *Registry) Register(t Transform) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.transforms[t.Name()]; exists {
		return fmt.Errorf("transform %q already registered", t.Name())
	}
	r.transforms[t.Name()] = t
	return nil
}

// Lookup finds a transform by identifier.
func (r *Registry) Lookup(name string) (Transform, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	t, ok := r.transforms[name]
	return t, ok
}

// Names returns the registered identifiers, sorted.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.transforms))
	for name := range r.transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options is the options bag of a transform reference.
type Options map[string]interface{}

// Bool returns a boolean option.
func (o Options) Bool(key string) bool {
	v, ok := o[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// String returns a string option.
func (o Options) String(key string) string {
	if v, ok := o[key].(string); ok {
		return v
	}
	return ""
}

// Strings returns a string list option.
func (o Options) Strings(key string) []string {
	switch v := o[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return nil
	}
}

// Map returns a nested options bag. Both map shapes produced by YAML and
// viper decoding are accepted.
func (o Options) Map(key string) Options {
	switch v := o[key].(type) {
	case map[string]interface{}:
		return Options(v)
	case Options:
		return v
	case map[interface{}]interface{}:
		out := make(Options, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = val
		}
		return out
	default:
		return nil
	}
}
