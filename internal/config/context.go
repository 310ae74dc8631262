package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/subosito/gotenv"

	"github.com/conneroisu/assetforge/internal/errors"
)

// Mode selects development or production behaviour for a whole build.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// ParseMode validates a mode string. The empty string means development.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "development", "dev":
		return ModeDevelopment, nil
	case "production", "prod":
		return ModeProduction, nil
	default:
		return "", fmt.Errorf("unknown mode %q (expected development or production)", s)
	}
}

// BuildContext is the immutable per-invocation state shared by every
// component. It is constructed once by NewBuildContext and only read after.
type BuildContext struct {
	mode       Mode
	env        map[string]string
	envJSON    string
	sourceRoot string
	outputRoot string
	config     *Config
}

// NewBuildContext snapshots the environment and resolves the build mode.
//
// The environment is the process environment overlaid on the variables from
// cfg.EnvFile (process values win). The mode comes from cfg.Mode when set,
// otherwise from ASSETFORGE_MODE or NODE_ENV in the snapshot.
func NewBuildContext(cfg *Config, environ []string) (*BuildContext, error) {
	env := make(map[string]string)

	if cfg.EnvFile != "" {
		envPath := cfg.EnvFile
		if !filepath.IsAbs(envPath) {
			if abs, err := filepath.Abs(envPath); err == nil {
				envPath = abs
			}
		}
		if f, err := os.Open(envPath); err == nil {
			fileEnv, parseErr := gotenv.StrictParse(f)
			f.Close()
			if parseErr != nil {
				return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "cannot parse env file").
					WithPath(cfg.EnvFile).WithCause(parseErr)
			}
			for k, v := range fileEnv {
				env[k] = v
			}
		}
	}

	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}

	modeValue := cfg.Mode
	if modeValue == "" {
		modeValue = env["ASSETFORGE_MODE"]
	}
	if modeValue == "" {
		modeValue = env["NODE_ENV"]
	}
	mode, err := ParseMode(modeValue)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, err.Error())
	}

	sourceRoot, err := filepath.Abs(cfg.Source.Root)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "cannot resolve source root").WithCause(err)
	}
	outputRoot, err := filepath.Abs(cfg.Output.Root)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "cannot resolve output root").WithCause(err)
	}
	if info, statErr := os.Stat(sourceRoot); statErr != nil || !info.IsDir() {
		return nil, errors.NewConfigError(errors.ErrCodeEntryNotFound, "source root is not a directory").
			WithPath(sourceRoot)
	}
	if err := checkOutputRoot(outputRoot, protectedPaths(cfg, sourceRoot)); err != nil {
		return nil, err
	}

	envJSON, err := json.Marshal(env)
	if err != nil {
		return nil, errors.NewInternalError("cannot encode environment", err)
	}

	return &BuildContext{
		mode:       mode,
		env:        env,
		envJSON:    string(envJSON),
		sourceRoot: sourceRoot,
		outputRoot: outputRoot,
		config:     cfg,
	}, nil
}

// Mode returns the build mode.
func (c *BuildContext) Mode() Mode { return c.mode }

// Production reports whether this is a production build.
func (c *BuildContext) Production() bool { return c.mode == ModeProduction }

// SourceRoot returns the absolute source directory.
func (c *BuildContext) SourceRoot() string { return c.sourceRoot }

// OutputRoot returns the absolute output directory.
func (c *BuildContext) OutputRoot() string { return c.outputRoot }

// Config returns the configuration the context was built from. Callers must
// not modify it.
func (c *BuildContext) Config() *Config { return c.config }

// LookupEnv returns a variable from the snapshot.
func (c *BuildContext) LookupEnv(key string) (string, bool) {
	v, ok := c.env[key]
	return v, ok
}

// EnvJSON returns the snapshot as a JSON object literal.
func (c *BuildContext) EnvJSON() string { return c.envJSON }

// EnvKeys returns the snapshot's variable names, sorted.
func (c *BuildContext) EnvKeys() []string {
	keys := make([]string, 0, len(c.env))
	for k := range c.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Workers returns the transform pool size.
func (c *BuildContext) Workers() int {
	if c.config.Build.Workers > 0 {
		return c.config.Build.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// protectedPath is a location the output root must never contain.
type protectedPath struct {
	name string
	path string
}

func protectedPaths(cfg *Config, sourceRoot string) []protectedPath {
	paths := []protectedPath{{"source root", sourceRoot}}
	if cfg.Source.Static != "" {
		paths = append(paths, protectedPath{"static directory", cfg.Source.Static})
	}
	if cfg.File != "" {
		paths = append(paths, protectedPath{"config file", cfg.File})
	}
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths, protectedPath{"working directory", wd})
	}
	return paths
}

// checkOutputRoot rejects an output root equal to or above any protected
// path. Writing a build replaces files under the output root.
func checkOutputRoot(outputRoot string, protected []protectedPath) error {
	root := canonicalPath(outputRoot)
	for _, p := range protected {
		if !within(root, canonicalPath(p.path)) {
			continue
		}
		return errors.NewConfigError(errors.ErrCodeOutputOverlap,
			fmt.Sprintf("output root %s would contain the %s; choose a directory of its own", outputRoot, p.name)).
			WithPath(p.path)
	}
	return nil
}

// canonicalPath makes p absolute and resolves symlinks in its longest
// existing prefix, so paths that do not exist yet compare correctly.
func canonicalPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}

	rest := ""
	for dir := abs; ; {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, rest)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
	}
}

// within reports whether path is root or lies below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
