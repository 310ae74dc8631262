// Package config provides configuration management for assetforge using
// Viper for flexible loading from files, environment variables and
// command-line flags.
//
// The configuration declares where sources live, which entry points seed the
// asset graph, the ordered transform rules, output naming templates and the
// development server settings. Environment variables with the ASSETFORGE_
// prefix override file values (ASSETFORGE_SERVER_PORT=8080).
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/assetforge/internal/errors"
)

type Config struct {
	Mode         string             `mapstructure:"mode" yaml:"mode"`
	EnvFile      string             `mapstructure:"env_file" yaml:"env_file"`
	Source       SourceConfig       `mapstructure:"source" yaml:"source"`
	Output       OutputConfig       `mapstructure:"output" yaml:"output"`
	Resolve      ResolveConfig      `mapstructure:"resolve" yaml:"resolve"`
	Rules        []RuleConfig       `mapstructure:"rules" yaml:"rules"`
	Transforms   map[string]Command `mapstructure:"transforms" yaml:"transforms,omitempty"`
	Build        BuildConfig        `mapstructure:"build" yaml:"build"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Optimization OptimizationConfig `mapstructure:"optimization" yaml:"optimization"`

	// File is the configuration file the values were read from, if any.
	File string `mapstructure:"-" yaml:"-"`
}

type SourceConfig struct {
	Root     string        `mapstructure:"root" yaml:"root"`
	Entries  []EntryConfig `mapstructure:"entries" yaml:"entries"`
	Template string        `mapstructure:"template" yaml:"template"`
	Static   string        `mapstructure:"static" yaml:"static"`
}

// EntryConfig names one traversal root. Name is the logical chunk name.
type EntryConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	Path string `mapstructure:"path" yaml:"path"`
}

type OutputConfig struct {
	Root          string `mapstructure:"root" yaml:"root"`
	Filename      string `mapstructure:"filename" yaml:"filename"`
	CSSFilename   string `mapstructure:"css_filename" yaml:"css_filename"`
	AssetFilename string `mapstructure:"asset_filename" yaml:"asset_filename"`
	PublicPath    string `mapstructure:"public_path" yaml:"public_path"`
	// Clean removes the files of the previous build, as recorded in its
	// manifest, that the new build no longer produces.
	Clean         bool   `mapstructure:"clean" yaml:"clean"`
	SourceMaps    bool   `mapstructure:"source_maps" yaml:"source_maps"`
	Manifest      bool   `mapstructure:"manifest" yaml:"manifest"`
}

type ResolveConfig struct {
	Extensions []string          `mapstructure:"extensions" yaml:"extensions"`
	Alias      map[string]string `mapstructure:"alias" yaml:"alias"`
}

// RuleConfig is the declarative form of a transform rule.
//
// Every rule whose test matches a path runs, in declaration order. Group
// marks rules as alternatives: a path matched by two rules of one group is
// a configuration error. Rules that chain the same transforms over
// overlapping tests, such as two style rules for .scss and .module.scss,
// need a shared group or an exclude, otherwise both chains run over the
// file. `assetforge inspect match` lists such pairs.
type RuleConfig struct {
	Name    string               `mapstructure:"name" yaml:"name"`
	Test    string               `mapstructure:"test" yaml:"test"`
	Exclude string               `mapstructure:"exclude" yaml:"exclude,omitempty"`
	Type    string               `mapstructure:"type" yaml:"type,omitempty"`
	Group   string               `mapstructure:"group" yaml:"group,omitempty"`
	Use     []TransformRefConfig `mapstructure:"use" yaml:"use,omitempty"`
}

// TransformRefConfig references a registered transform by name.
type TransformRefConfig struct {
	Name    string                 `mapstructure:"name" yaml:"name"`
	Mode    string                 `mapstructure:"mode" yaml:"mode,omitempty"`
	Options map[string]interface{} `mapstructure:"options" yaml:"options,omitempty"`
}

// Command declares an external tool registered as a named transform.
type Command struct {
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args" yaml:"args,omitempty"`
	Modes   []string `mapstructure:"modes" yaml:"modes,omitempty"`
}

type BuildConfig struct {
	Workers          int           `mapstructure:"workers" yaml:"workers"`
	TransformTimeout time.Duration `mapstructure:"transform_timeout" yaml:"transform_timeout"`
	CacheSize        int64         `mapstructure:"cache_size" yaml:"cache_size"`
	AllowedCommands  []string      `mapstructure:"allowed_commands" yaml:"allowed_commands"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Open            bool          `mapstructure:"open" yaml:"open"`
	Hot             bool          `mapstructure:"hot" yaml:"hot"`
	HistoryFallback bool          `mapstructure:"history_fallback" yaml:"history_fallback"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
	Debounce        time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type OptimizationConfig struct {
	Minimize           bool `mapstructure:"minimize" yaml:"minimize"`
	Parallel           bool `mapstructure:"parallel" yaml:"parallel"`
	RemoveComments     bool `mapstructure:"remove_comments" yaml:"remove_comments"`
	CollapseWhitespace bool `mapstructure:"collapse_whitespace" yaml:"collapse_whitespace"`
	SharedRuntime      bool `mapstructure:"shared_runtime" yaml:"shared_runtime"`
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v, applies defaults and validates it.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "cannot decode configuration").
			WithPath(v.ConfigFileUsed()).WithCause(err)
	}

	applyDefaults(&config, v)
	config.File = v.ConfigFileUsed()

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var config Config
	applyDefaults(&config, viper.New())
	return &config
}

func applyDefaults(config *Config, v *viper.Viper) {
	if config.EnvFile == "" {
		config.EnvFile = ".env"
	}

	if config.Source.Root == "" {
		config.Source.Root = "src"
	}
	if len(config.Source.Entries) == 0 {
		config.Source.Entries = []EntryConfig{{Name: "index", Path: "index.js"}}
	}
	for i := range config.Source.Entries {
		if config.Source.Entries[i].Name == "" {
			base := filepath.Base(config.Source.Entries[i].Path)
			config.Source.Entries[i].Name = strings.TrimSuffix(base, filepath.Ext(base))
		}
	}
	if !v.IsSet("source.template") {
		config.Source.Template = "index.html"
	}
	if !v.IsSet("source.static") {
		config.Source.Static = "public"
	}

	if config.Output.Root == "" {
		config.Output.Root = "dist"
	}
	if config.Output.Filename == "" {
		config.Output.Filename = "[name].[contenthash].js"
	}
	if config.Output.CSSFilename == "" {
		config.Output.CSSFilename = "[name].[contenthash].css"
	}
	if config.Output.AssetFilename == "" {
		config.Output.AssetFilename = "public/[name].[contenthash][ext][query]"
	}
	if config.Output.PublicPath == "" {
		config.Output.PublicPath = "/"
	}
	if !v.IsSet("output.clean") {
		config.Output.Clean = true
	}
	if !v.IsSet("output.source_maps") {
		config.Output.SourceMaps = true
	}
	if !v.IsSet("output.manifest") {
		config.Output.Manifest = true
	}

	if len(config.Resolve.Extensions) == 0 {
		config.Resolve.Extensions = []string{".js"}
	}
	if config.Resolve.Alias == nil {
		config.Resolve.Alias = map[string]string{"@": "."}
	}

	if !v.IsSet("rules") && len(config.Rules) == 0 {
		config.Rules = DefaultRules()
	}

	if config.Build.TransformTimeout <= 0 {
		config.Build.TransformTimeout = 30 * time.Second
	}
	if config.Build.CacheSize <= 0 {
		config.Build.CacheSize = 100 * 1024 * 1024
	}
	if len(config.Build.AllowedCommands) == 0 {
		config.Build.AllowedCommands = []string{"sass", "postcss", "babel", "esbuild"}
	}

	if config.Server.Port == 0 && !v.IsSet("server.port") {
		config.Server.Port = 7777
	}
	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if !v.IsSet("server.open") {
		config.Server.Open = true
	}
	if v.IsSet("server.no-open") && v.GetBool("server.no-open") {
		config.Server.Open = false
	}
	if !v.IsSet("server.hot") {
		config.Server.Hot = true
	}
	if !v.IsSet("server.history_fallback") {
		config.Server.HistoryFallback = true
	}
	if config.Server.Debounce <= 0 {
		config.Server.Debounce = 300 * time.Millisecond
	}

	if !v.IsSet("optimization.minimize") {
		config.Optimization.Minimize = true
	}
	if !v.IsSet("optimization.parallel") {
		config.Optimization.Parallel = true
	}
	if !v.IsSet("optimization.remove_comments") {
		config.Optimization.RemoveComments = true
	}
	if !v.IsSet("optimization.collapse_whitespace") {
		config.Optimization.CollapseWhitespace = true
	}
	if !v.IsSet("optimization.shared_runtime") {
		config.Optimization.SharedRuntime = true
	}
}

// DefaultRules mirrors the conventional front-end rule set: markup, scripts
// outside node_modules, scoped and global Sass, plain CSS and image assets.
// Scoped and global Sass share a group so a path matching both is rejected.
func DefaultRules() []RuleConfig {
	styleChain := func(css TransformRefConfig, last TransformRefConfig) []TransformRefConfig {
		return []TransformRefConfig{
			{Name: "style", Mode: string(ModeDevelopment)},
			{Name: "extract-css", Mode: string(ModeProduction)},
			css,
			last,
		}
	}

	return []RuleConfig{
		{
			Name: "markup",
			Test: `(?i)\.html$`,
			Use:  []TransformRefConfig{{Name: "html"}},
		},
		{
			Name:    "scripts",
			Test:    `\.m?js$`,
			Exclude: `node_modules`,
			Use: []TransformRefConfig{{
				Name:    "script",
				Options: map[string]interface{}{"source_map": true},
			}},
		},
		{
			Name:  "scoped-styles",
			Test:  `(?i)\.module\.s[ac]ss$`,
			Group: "sass",
			Use: styleChain(
				TransformRefConfig{Name: "css", Options: map[string]interface{}{
					"modules": map[string]interface{}{"local_ident_name": "[local]_[hash:base64:7]"},
				}},
				TransformRefConfig{Name: "sass", Options: map[string]interface{}{"source_map": true}},
			),
		},
		{
			Name:    "global-styles",
			Test:    `(?i)\.s[ac]ss$`,
			Exclude: `(?i)\.module\.s[ac]ss$`,
			Group:   "sass",
			Use: styleChain(
				TransformRefConfig{Name: "css"},
				TransformRefConfig{Name: "sass", Options: map[string]interface{}{"source_map": true}},
			),
		},
		{
			Name: "plain-css",
			Test: `(?i)\.css$`,
			Use: styleChain(
				TransformRefConfig{Name: "css"},
				TransformRefConfig{Name: "postcss", Options: map[string]interface{}{"source_map": true}},
			),
		},
		{
			Name: "images",
			Test: `(?i)\.(png|svg|jpe?g|gif)$`,
			Type: "asset",
		},
	}
}

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	if config.Mode != "" {
		if _, err := ParseMode(config.Mode); err != nil {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, err.Error())
		}
	}

	if err := validateServerConfig(&config.Server); err != nil {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "server config: "+err.Error())
	}

	if err := validatePath(config.Source.Root); err != nil {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "source root: "+err.Error())
	}
	if err := validatePath(config.Output.Root); err != nil {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "output root: "+err.Error())
	}
	if filepath.Clean(config.Source.Root) == filepath.Clean(config.Output.Root) {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "output root must differ from source root")
	}

	seen := make(map[string]bool)
	for _, entry := range config.Source.Entries {
		if entry.Path == "" {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, "entry without path")
		}
		if seen[entry.Name] {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, "duplicate entry name: "+entry.Name)
		}
		seen[entry.Name] = true
	}

	for i, rule := range config.Rules {
		if rule.Test == "" {
			return errors.NewConfigError(errors.ErrCodeInvalidPattern,
				fmt.Sprintf("rule %d (%s) has no test pattern", i, rule.Name))
		}
		switch rule.Type {
		case "", "source", "asset":
		default:
			return errors.NewConfigError(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("rule %d (%s) has unknown type %q", i, rule.Name, rule.Type))
		}
		for _, ref := range rule.Use {
			if ref.Name == "" {
				return errors.NewConfigError(errors.ErrCodeUnknownTransform,
					fmt.Sprintf("rule %d (%s) references a transform without a name", i, rule.Name))
			}
			if ref.Mode != "" {
				if _, err := ParseMode(ref.Mode); err != nil {
					return errors.NewConfigError(errors.ErrCodeConfigInvalid,
						fmt.Sprintf("rule %d (%s): %v", i, rule.Name, err))
				}
			}
		}
	}

	for name, cmd := range config.Transforms {
		if cmd.Command == "" {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, "transform "+name+" has no command")
		}
	}

	if config.Build.Workers < 0 {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "build.workers must not be negative")
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(config.Host, char) {
			return fmt.Errorf("host contains dangerous character: %s", char)
		}
	}

	return nil
}

// validatePath validates a configured directory path
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(path, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
