// Package cmd provides the command-line interface for assetforge.
//
// Configuration System:
//
//	Values are resolved with clear precedence:
//	1. Command-line flags (--output, --port, etc.) - highest priority
//	2. Individual environment variables (ASSETFORGE_SERVER_PORT, etc.)
//	3. The configuration file: --config, ASSETFORGE_CONFIG_FILE, or
//	   .assetforge.yml in the working directory - lowest priority
//
// Commands:
//
//	assetforge build [--production] [--diff]   one-shot build
//	assetforge serve [--port 7777]             dev server with live reload
//	assetforge inspect rules|match|graph       show how sources are handled
//	assetforge version                         build information
package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/assetforge/internal/build"
	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/logging"
)

// envKeys are the configuration keys that can be set from ASSETFORGE_*
// variables without appearing in the file.
var envKeys = []string{
	"mode",
	"env_file",
	"source.root",
	"source.template",
	"source.static",
	"output.root",
	"output.public_path",
	"output.clean",
	"output.source_maps",
	"build.workers",
	"build.transform_timeout",
	"server.port",
	"server.host",
	"server.open",
	"server.hot",
	"optimization.minimize",
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "assetforge",
		Short: "A front-end asset pipeline and development server",
		Long: `assetforge walks the import graph from your entry points, runs every module
through the transform chains of the rules that match it, and emits named,
optionally minified chunks plus an HTML document and a manifest.

Quick Start:
  assetforge build                 Development build into dist/
  assetforge build --production    Hashed, minified build
  assetforge serve                 Dev server with live reload
  assetforge inspect rules         Show the configured rules`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "config file (default is .assetforge.yml, can also use ASSETFORGE_CONFIG_FILE env var)")
	root.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "log format (text, json)")

	addFlagValidation(root.PersistentFlags(), "log-level", func(s string) error {
		_, err := logging.ParseLevel(s)
		return err
	})
	addFlagValidation(root.PersistentFlags(), "log-format", func(s string) error {
		return validateFormat(s, []string{"text", "json"})
	})

	root.AddCommand(newBuildCommand(), newServeCommand(), newInspectCommand(), newVersionCommand())
	return root
}

// Execute runs the command line and prints a diagnostic on failure.
func Execute() error {
	root := NewRootCommand()
	err := root.ExecuteContext(context.Background())
	if err != nil {
		printError(root.ErrOrStderr(), err)
	}
	return err
}

// printError prints one line per pipeline error.
func printError(w io.Writer, err error) {
	for _, pe := range errors.Flatten(err) {
		fmt.Fprintf(w, "Error: %v\n", pe)
	}
}

// loadConfig reads the configuration with the command's flags bound to the
// given keys.
func loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Config, error) {
	v := viper.New()

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("ASSETFORGE_CONFIG_FILE")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".assetforge")
	}

	v.SetEnvPrefix("ASSETFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.NewInternalError("cannot bind "+key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !stderrors.As(err, &notFound) {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "cannot read config file").
				WithPath(path).WithCause(err)
		}
	}

	for key, name := range bindings {
		if flag := cmd.Flags().Lookup(name); flag != nil {
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, errors.NewInternalError("cannot bind flag "+name, err)
			}
		}
	}

	return config.LoadFrom(v)
}

func newLogger(cmd *cobra.Command) logging.Logger {
	levelName, _ := cmd.Flags().GetString("log-level")
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		level = logging.LevelInfo
	}
	format, _ := cmd.Flags().GetString("log-format")
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    format,
		Output:    cmd.ErrOrStderr(),
		Component: "assetforge",
	})
}

// newPipeline creates the Build Context and pipeline for cfg.
func newPipeline(cfg *config.Config, logger logging.Logger) (*build.Pipeline, error) {
	bc, err := config.NewBuildContext(cfg, os.Environ())
	if err != nil {
		return nil, err
	}
	return build.NewPipeline(bc, logger)
}

// applyMode lets --production and --mode override the configured mode.
func applyMode(cmd *cobra.Command, cfg *config.Config) error {
	if production, _ := cmd.Flags().GetBool("production"); production {
		cfg.Mode = string(config.ModeProduction)
		return nil
	}
	if cmd.Flags().Changed("mode") {
		raw, _ := cmd.Flags().GetString("mode")
		mode, err := config.ParseMode(raw)
		if err != nil {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, err.Error())
		}
		cfg.Mode = string(mode)
	}
	return nil
}

func addModeFlags(fs *pflag.FlagSet) {
	fs.Bool("production", false, "build in production mode (same as --mode production)")
	fs.String("mode", "", "build mode: development or production (default from NODE_ENV)")
}
