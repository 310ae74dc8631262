package transform

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/validation"
)

// Exec pipes module content through an external command: content on stdin,
// result on stdout. The command must be on the allowlist.
type Exec struct {
	name    string
	command string
	args    []string
	modes   []config.Mode
	allowed []string
}

// NewExec creates an exec transform. The command and its arguments are
// validated immediately so a bad declaration fails at load time.
func NewExec(name string, cmd config.Command, allowed []string) (*Exec, error) {
	e := &Exec{
		name:    name,
		command: cmd.Command,
		args:    cmd.Args,
		allowed: allowed,
	}
	for _, m := range cmd.Modes {
		mode, err := config.ParseMode(m)
		if err != nil {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("transform %q: %v", name, err))
		}
		e.modes = append(e.modes, mode)
	}
	if err := e.validateCommand(e.command, e.args); err != nil {
		return nil, err
	}
	return e, nil
}

// Name implements Transform.
func (e *Exec) Name() string { return e.name }

// Modes implements Transform.
func (e *Exec) Modes() []config.Mode { return e.modes }

// Transform implements Transform. The placeholder {file} in an argument is
// replaced with the module path relative to the source root.
func (e *Exec) Transform(ctx context.Context, in *Input) (*Output, error) {
	return e.run(ctx, e.command, e.args, in)
}

func (e *Exec) run(ctx context.Context, command string, args []string, in *Input) (*Output, error) {
	if err := e.validateCommand(command, args); err != nil {
		return nil, err
	}

	expanded := make([]string, len(args))
	for i, arg := range args {
		expanded[i] = strings.ReplaceAll(arg, "{file}", filepath.FromSlash(in.ID))
	}

	cmd := exec.CommandContext(ctx, command, expanded...)
	if in.Build != nil {
		cmd.Dir = in.Build.SourceRoot()
	}
	cmd.Stdin = bytes.NewReader(in.Content)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s timed out: %w", command, ctx.Err())
		}
		return nil, fmt.Errorf("%s failed: %w\nOutput: %s", command, err, strings.TrimSpace(stderr.String()))
	}

	return &Output{Content: stdout.Bytes()}, nil
}

func (e *Exec) validateCommand(command string, args []string) error {
	if err := validation.ValidateCommand(command, e.allowed); err != nil {
		return errors.NewConfigError(errors.ErrCodeCommandNotAllowed,
			fmt.Sprintf("transform %q", e.name)).WithCause(err)
	}
	for _, arg := range args {
		if err := validation.ValidateArgument(strings.ReplaceAll(arg, "{file}", "")); err != nil {
			return errors.NewConfigError(errors.ErrCodeCommandNotAllowed,
				fmt.Sprintf("transform %q: invalid argument %q", e.name, arg)).WithCause(err)
		}
	}
	return nil
}

// delegating wraps a builtin so that a "command" option routes the content
// through an external tool instead. Without the option the builtin runs.
type delegating struct {
	inner  Transform
	runner *Exec
}

// Name implements Transform.
func (d *delegating) Name() string { return d.inner.Name() }

// Modes implements Transform.
func (d *delegating) Modes() []config.Mode { return d.inner.Modes() }

// Transform implements Transform.
func (d *delegating) Transform(ctx context.Context, in *Input) (*Output, error) {
	command := in.Options.String("command")
	if command == "" {
		return d.inner.Transform(ctx, in)
	}
	return d.runner.run(ctx, command, in.Options.Strings("args"), in)
}
