package transform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/logging"
	"github.com/conneroisu/assetforge/internal/rules"
)

// DefaultTimeout bounds a single transform step when none is configured.
const DefaultTimeout = 30 * time.Second

// FromConfig builds the registry for cfg: the builtins, the generic exec
// transform and one exec transform per declared command.
func FromConfig(cfg *config.Config) (*Registry, error) {
	r := NewRegistry()
	allowed := cfg.Build.AllowedCommands

	for _, t := range Builtins() {
		switch t.Name() {
		case "sass", "postcss":
			t = &delegating{inner: t, runner: &Exec{name: t.Name(), allowed: allowed}}
		}
		if err := r.Register(t); err != nil {
			return nil, errors.NewInternalError("cannot register builtin", err)
		}
	}

	generic := &Func{ID: "exec", Handle: func(context.Context, *Input) (*Output, error) {
		return nil, fmt.Errorf("exec requires a command option")
	}}
	if err := r.Register(&delegating{inner: generic, runner: &Exec{name: "exec", allowed: allowed}}); err != nil {
		return nil, errors.NewInternalError("cannot register builtin", err)
	}

	for name, cmd := range cfg.Transforms {
		e, err := NewExec(name, cmd, allowed)
		if err != nil {
			return nil, err
		}
		if err := r.Register(e); err != nil {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("transform %q shadows a builtin", name))
		}
	}

	return r, nil
}

// Step is one resolved transform reference.
type Step struct {
	Transform Transform
	Options   Options
}

// Chain is the execution sequence of one rule for one build mode. Steps are
// stored in execution order.
type Chain struct {
	Rule  string
	Steps []Step
	key   string
}

// Key identifies the chain's transforms and options for cache keys.
func (c *Chain) Key() string { return c.key }

// Names lists the step identifiers in execution order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.Steps))
	for i, s := range c.Steps {
		names[i] = s.Transform.Name()
	}
	return names
}

// Chain resolves refs for mode. References run in loader order, so the
// last listed becomes the first step. A reference pinned to another mode,
// or naming a transform that does not support mode, is dropped.
func (r *Registry) Chain(rule string, refs []config.TransformRefConfig, mode config.Mode) (*Chain, error) {
	chain := &Chain{Rule: rule}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", rule, mode)

	for i := len(refs) - 1; i >= 0; i-- {
		ref := refs[i]

		if ref.Mode != "" {
			pinned, err := config.ParseMode(ref.Mode)
			if err != nil {
				return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
					fmt.Sprintf("rule %q: transform %q: %v", rule, ref.Name, err))
			}
			if pinned != mode {
				continue
			}
		}

		t, ok := r.Lookup(ref.Name)
		if !ok {
			return nil, errors.NewConfigError(errors.ErrCodeUnknownTransform,
				fmt.Sprintf("rule %q references unknown transform %q", rule, ref.Name))
		}
		if !Supports(t, mode) {
			continue
		}

		opts := Options(ref.Options)
		if opts == nil {
			opts = Options{}
		}
		encoded, err := json.Marshal(normalize(ref.Options))
		if err != nil {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("rule %q: transform %q has unencodable options", rule, ref.Name)).WithCause(err)
		}
		fmt.Fprintf(h, "%s\x00%s\x00", ref.Name, encoded)

		chain.Steps = append(chain.Steps, Step{Transform: t, Options: opts})
	}

	chain.key = hex.EncodeToString(h.Sum(nil))
	return chain, nil
}

// normalize converts YAML-style maps so options can be JSON encoded.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

// Executor runs resolved chains over module content.
type Executor struct {
	build   *config.BuildContext
	chains  map[int]*Chain
	timeout time.Duration
	logger  logging.Logger
}

// NewExecutor resolves the chain of every rule for the build's mode. Unknown
// transforms surface here, before any file is read.
func NewExecutor(bc *config.BuildContext, registry *Registry, matcher *rules.Matcher, logger logging.Logger) (*Executor, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	timeout := bc.Config().Build.TransformTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	e := &Executor{
		build:   bc,
		chains:  make(map[int]*Chain),
		timeout: timeout,
		logger:  logger.WithComponent("transform"),
	}

	for _, rule := range matcher.Rules() {
		chain, err := registry.Chain(rule.Name, rule.Use, bc.Mode())
		if err != nil {
			return nil, err
		}
		e.chains[rule.Index] = chain
	}

	return e, nil
}

// Chains returns the resolved chains of the matched rules, in rule order.
func (e *Executor) Chains(matched []*rules.Rule) []*Chain {
	chains := make([]*Chain, 0, len(matched))
	for _, r := range matched {
		if c, ok := e.chains[r.Index]; ok {
			chains = append(chains, c)
		}
	}
	return chains
}

// Key identifies the combined chains of the matched rules.
func (e *Executor) Key(matched []*rules.Rule) string {
	keys := make([]string, 0, len(matched))
	for _, c := range e.Chains(matched) {
		keys = append(keys, c.Key())
	}
	return strings.Join(keys, "+")
}

// Run executes the matched rules' chains over content. Each rule's chain
// receives the previous chain's output. Any step failure aborts the module
// with a TransformError; no partial output is returned.
func (e *Executor) Run(ctx context.Context, path, id string, content []byte, matched []*rules.Rule) (*Output, error) {
	result := &Output{Content: content}

	for _, chain := range e.Chains(matched) {
		for _, step := range chain.Steps {
			in := &Input{
				Path:    path,
				ID:      id,
				Content: result.Content,
				Options: step.Options,
				Exports: result.Exports,
				Build:   e.build,
			}

			out, err := e.runStep(ctx, step.Transform, in)
			if err != nil {
				return nil, err
			}

			result.Content = out.Content
			result.Artifacts = append(result.Artifacts, out.Artifacts...)
			if out.Exports != nil {
				result.Exports = out.Exports
			}
			result.HotAccept = result.HotAccept || out.HotAccept
		}
	}

	return result, nil
}

type stepResult struct {
	out *Output
	err error
}

// runStep runs one transform under the step timeout. The transform runs on
// its own goroutine so a step that ignores its context still cannot stall
// the build past the deadline.
func (e *Executor) runStep(ctx context.Context, t Transform, in *Input) (*Output, error) {
	stepCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan stepResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stepResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := t.Transform(stepCtx, in)
		done <- stepResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.NewTransformError(t.Name(), in.Path, res.err)
		}
		if res.out == nil {
			return nil, errors.NewTransformError(t.Name(), in.Path, fmt.Errorf("transform returned no output"))
		}
		return res.out, nil
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn(ctx, stepCtx.Err(), "transform timed out", "transform", t.Name(), "path", in.Path)
		err := errors.NewTransformError(t.Name(), in.Path, stepCtx.Err())
		err.Code = errors.ErrCodeTransformTimeout
		return nil, err
	}
}
