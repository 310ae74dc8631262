package cmd

import (
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/assetforge/internal/build"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/rules"
)

func newInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show how the configuration applies to the project",
		Long: `Inspect the compiled rules, which rules match which files and the module
graph reachable from the entries. Every subcommand prints a table by default
and supports --output json or yaml.`,
	}

	cmd.AddCommand(newInspectRulesCommand(), newInspectMatchCommand(), newInspectGraphCommand())
	return cmd
}

// ruleInfo is the inspection view of a compiled rule.
type ruleInfo struct {
	Index   int      `json:"index" yaml:"index"`
	Name    string   `json:"name" yaml:"name"`
	Test    string   `json:"test" yaml:"test"`
	Exclude string   `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	Group   string   `json:"group,omitempty" yaml:"group,omitempty"`
	Type    string   `json:"type" yaml:"type"`
	Chain   []string `json:"chain" yaml:"chain"`
}

func newInspectRulesCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the rules and the transform chain each runs in the current mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := inspectPipeline(cmd)
			if err != nil {
				return err
			}

			var infos []ruleInfo
			for _, r := range p.Matcher().Rules() {
				info := ruleInfo{
					Index: r.Index,
					Name:  r.Name,
					Test:  r.Test.String(),
					Group: r.Group,
					Type:  string(r.Type),
					Chain: []string{},
				}
				if r.Exclude != nil {
					info.Exclude = r.Exclude.String()
				}
				for _, c := range p.Executor().Chains([]*rules.Rule{r}) {
					info.Chain = append(info.Chain, c.Names()...)
				}
				infos = append(infos, info)
			}

			if format != "table" {
				return encode(cmd.OutOrStdout(), format, infos)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintf(w, "#\tNAME\tTEST\tGROUP\tTYPE\tCHAIN (%s)\n", p.Context().Mode())
			for _, info := range infos {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					info.Index, info.Name, info.Test, dash(info.Group), info.Type, dash(strings.Join(info.Chain, " -> ")))
			}
			return nil
		},
	}
	addModeFlags(cmd.Flags())
	addOutputFlag(cmd.Flags(), &format)
	return cmd
}

// matchInfo lists the rules matching one path.
type matchInfo struct {
	Path  string   `json:"path" yaml:"path"`
	Kind  string   `json:"kind" yaml:"kind"`
	Rules    []string `json:"rules" yaml:"rules"`
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Error    string   `json:"error,omitempty" yaml:"error,omitempty"`
}

func newInspectMatchCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "match [paths...]",
		Short: "Show the rules matching each path, or every file under the source root",
		Long: `Show which rules match each path. Without arguments every file under the
source root is checked. The command fails when two rules of the same group
match one file, and warns when two ungrouped rules run the same transform
over one file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := inspectPipeline(cmd)
			if err != nil {
				return err
			}

			paths := args
			if len(paths) == 0 {
				if paths, err = sourceFiles(p.Context().SourceRoot()); err != nil {
					return err
				}
			}

			m := p.Matcher()
			infos := make([]matchInfo, 0, len(paths))
			for _, path := range paths {
				info := matchInfo{Path: path, Rules: []string{}}
				matched, err := m.Match(path)
				if err != nil {
					info.Error = err.Error()
				} else {
					info.Kind = string(rules.Kind(matched))
					for _, r := range matched {
						info.Rules = append(info.Rules, r.Name)
					}
					for _, o := range rules.Overlaps(matched) {
						info.Warnings = append(info.Warnings, fmt.Sprintf(
							"rules %q and %q both run %q; give them a common group or an exclude",
							o.First.Name, o.Second.Name, o.Transform))
					}
				}
				infos = append(infos, info)
			}

			if format != "table" {
				if err := encode(cmd.OutOrStdout(), format, infos); err != nil {
					return err
				}
			} else {
				printMatches(cmd.OutOrStdout(), infos)
			}
			return m.CheckExclusive(paths)
		},
	}
	addOutputFlag(cmd.Flags(), &format)
	return cmd
}

func printMatches(out io.Writer, infos []matchInfo) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tKIND\tRULES")
	for _, info := range infos {
		if info.Error != "" {
			fmt.Fprintf(w, "%s\t!\t%s\n", info.Path, info.Error)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.Path, info.Kind, dash(strings.Join(info.Rules, ", ")))
	}
	w.Flush()

	for _, info := range infos {
		for _, warning := range info.Warnings {
			fmt.Fprintf(out, "warning: %s: %s\n", info.Path, warning)
		}
	}
}

// sourceFiles lists the files under root, relative to it in slash form.
func sourceFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); path != root && (name == "node_modules" || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeReadFailed, root, err)
	}
	return paths, nil
}

// graphInfo is the inspection view of the module graph.
type graphInfo struct {
	Chunks  []chunkInfo  `json:"chunks" yaml:"chunks"`
	Modules []moduleInfo `json:"modules" yaml:"modules"`
}

type chunkInfo struct {
	Name     string   `json:"name" yaml:"name"`
	Entry    string   `json:"entry" yaml:"entry"`
	Modules  []string `json:"modules" yaml:"modules"`
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty"`
}

type moduleInfo struct {
	ID    string   `json:"id" yaml:"id"`
	Chunk string   `json:"chunk" yaml:"chunk"`
	Kind  string   `json:"kind" yaml:"kind"`
	Asset bool     `json:"asset" yaml:"asset"`
	Rules []string `json:"rules" yaml:"rules"`
	Deps  []string `json:"deps" yaml:"deps"`
}

func newInspectGraphCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show the chunks and modules reachable from the entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := inspectPipeline(cmd)
			if err != nil {
				return err
			}
			g, err := p.Graph(cmd.Context())
			if err != nil {
				return err
			}

			var info graphInfo
			for _, c := range g.Chunks {
				ci := chunkInfo{Name: c.Name, Entry: c.Entry.ID, Requires: c.Requires}
				for _, m := range c.Modules {
					ci.Modules = append(ci.Modules, m.ID)
				}
				info.Chunks = append(info.Chunks, ci)
			}
			for _, m := range g.Modules() {
				mi := moduleInfo{ID: m.ID, Chunk: m.Chunk, Kind: string(m.Kind), Asset: m.Asset, Rules: []string{}, Deps: []string{}}
				for _, r := range m.Rules {
					mi.Rules = append(mi.Rules, r.Name)
				}
				for _, d := range m.Deps {
					mi.Deps = append(mi.Deps, d.Specifier)
				}
				info.Modules = append(info.Modules, mi)
			}

			if format != "table" {
				return encode(cmd.OutOrStdout(), format, info)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "CHUNK\tENTRY\tMODULES\tREQUIRES")
			for _, c := range info.Chunks {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.Name, c.Entry, len(c.Modules), dash(strings.Join(c.Requires, ", ")))
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "MODULE\tCHUNK\tKIND\tRULES")
			for _, m := range info.Modules {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Chunk, m.Kind, dash(strings.Join(m.Rules, ", ")))
			}
			return nil
		},
	}
	addModeFlags(cmd.Flags())
	addOutputFlag(cmd.Flags(), &format)
	return cmd
}

func inspectPipeline(cmd *cobra.Command) (*build.Pipeline, error) {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return nil, err
	}
	if err := applyMode(cmd, cfg); err != nil {
		return nil, err
	}
	return newPipeline(cfg, newLogger(cmd))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
