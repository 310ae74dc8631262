package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/assetforge/internal/server"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s", "dev"},
		Short:   "Serve the build with live reload",
		Long: `Start the development server. The project is built once, then rebuilt
whenever a file under the source root changes. Connected browsers refresh
style sheets in place, apply hot updates to modules that accept them and
reload for everything else. A failed build shows an overlay in the page while
the last good build keeps being served.

Examples:
  assetforge serve                  # Serve on the configured port
  assetforge serve --port 3000      # Serve on a specific port
  assetforge serve --no-open        # Do not open a browser
  assetforge serve --no-hot         # Reload instead of hot updates`,
		RunE: runServe,
	}

	addModeFlags(cmd.Flags())
	cmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides server.port)")
	cmd.Flags().String("host", "", "Host to bind to (overrides server.host)")
	cmd.Flags().Bool("no-open", false, "Do not open a browser")
	cmd.Flags().Bool("no-hot", false, "Disable hot updates, reload instead")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, map[string]string{
		"server.port": "port",
		"server.host": "host",
	})
	if err != nil {
		return err
	}
	if err := applyMode(cmd, cfg); err != nil {
		return err
	}
	if noOpen, _ := cmd.Flags().GetBool("no-open"); noOpen {
		cfg.Server.Open = false
	}
	if noHot, _ := cmd.Flags().GetBool("no-hot"); noHot {
		cfg.Server.Hot = false
	}

	logger := newLogger(cmd)
	pipeline, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(pipeline, logger.WithComponent("server"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Start(ctx)
}
