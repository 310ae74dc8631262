package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/assetforge/internal/build"
)

func newBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "build",
		Aliases: []string{"b"},
		Short:   "Build the configured entries into the output directory",
		Long: `Build the asset graph of every configured entry and write the result.

Nothing is written when a module fails to resolve or transform. When a chunk
fails to optimize, the other chunks are still written and the command exits
with a non-zero status.

Examples:
  assetforge build                    # Development build
  assetforge build --production       # Hashed and minified
  assetforge build --output build     # Build to a specific directory
  assetforge build --production --diff  # Show how the manifest changed`,
		RunE: runBuild,
	}

	addModeFlags(cmd.Flags())
	cmd.Flags().String("output", "", "Output directory (overrides output.root)")
	cmd.Flags().String("public-path", "", "URL prefix of emitted files (overrides output.public_path)")
	cmd.Flags().Bool("diff", false, "Print a diff of manifest.json against the previous build")
	return cmd
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, map[string]string{
		"output.root":        "output",
		"output.public_path": "public-path",
	})
	if err != nil {
		return err
	}
	if err := applyMode(cmd, cfg); err != nil {
		return err
	}

	logger := newLogger(cmd)
	pipeline, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}
	bc := pipeline.Context()
	out := cmd.OutOrStdout()

	showDiff, _ := cmd.Flags().GetBool("diff")
	var previous build.Manifest
	if showDiff {
		if previous, err = build.ReadManifest(bc.OutputRoot()); err != nil {
			return err
		}
	}

	title := cases.Title(language.English).String(string(bc.Mode()))
	fmt.Fprintf(out, "%s build of %d %s from %s\n",
		title, len(cfg.Source.Entries), plural(len(cfg.Source.Entries), "entry", "entries"), bc.SourceRoot())

	result, buildErr := pipeline.Build(cmd.Context())
	if result == nil {
		return buildErr
	}
	if err := pipeline.Write(cmd.Context(), result); err != nil {
		return err
	}

	printFiles(out, result)
	fmt.Fprintf(out, "Wrote %d files to %s in %s\n", len(result.Files), bc.OutputRoot(), result.Duration.Round(time.Millisecond))

	if showDiff {
		diff, err := build.DiffManifests(previous, result.Manifest)
		if err != nil {
			return err
		}
		if diff == "" {
			fmt.Fprintln(out, "Manifest unchanged")
		} else {
			fmt.Fprint(out, diff)
		}
	}

	if buildErr != nil {
		return fmt.Errorf("%d %s failed to optimize: %w",
			len(result.Failed), plural(len(result.Failed), "chunk", "chunks"), buildErr)
	}
	return nil
}

func printFiles(out io.Writer, result *build.Result) {
	files := append([]build.OutputFile(nil), result.Files...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "FILE\tCHUNK\tSIZE")
	for _, f := range files {
		chunk := f.Chunk
		if chunk == "" {
			chunk = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Path, chunk, formatSize(f.Size))
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
