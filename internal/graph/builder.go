package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/logging"
	"github.com/conneroisu/assetforge/internal/rules"
)

// Builder walks entry points depth first. Traversal is sequential; the
// visited set is keyed by absolute path and is what stops cycles.
type Builder struct {
	build    *config.BuildContext
	matcher  *rules.Matcher
	resolver *Resolver
	logger   logging.Logger
}

// NewBuilder creates a graph builder.
func NewBuilder(bc *config.BuildContext, matcher *rules.Matcher, logger logging.Logger) *Builder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Builder{
		build:    bc,
		matcher:  matcher,
		resolver: NewResolver(bc),
		logger:   logger.WithComponent("graph"),
	}
}

// Build traverses from entries. Each entry seeds a chunk named after it; a
// module reached from several entries belongs to the first one, and later
// chunks record that chunk in Requires.
func (b *Builder) Build(ctx context.Context, entries []config.EntryConfig) (*Graph, error) {
	g := newGraph(b.build.SourceRoot())

	names := make(map[string]bool)
	for _, entry := range entries {
		path, err := b.entryPath(entry)
		if err != nil {
			return nil, err
		}
		if names[entry.Name] {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("duplicate entry name %q", entry.Name))
		}
		names[entry.Name] = true

		if existing, ok := g.modules[path]; ok {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("entry %q and entry %q share %s", existing.Chunk, entry.Name, existing.ID))
		}

		chunk := &Chunk{Name: entry.Name}
		g.Chunks = append(g.Chunks, chunk)

		w := &walk{builder: b, graph: g, chunk: chunk, requires: make(map[string]bool)}
		m, err := w.visit(ctx, path, "")
		if err != nil {
			return nil, err
		}
		m.Entry = true
		chunk.Entry = m
		for name := range w.requires {
			chunk.Requires = append(chunk.Requires, name)
		}
		sort.Strings(chunk.Requires)
	}

	b.logger.Debug(ctx, "graph built", "modules", g.Len(), "chunks", len(g.Chunks))
	return g, nil
}

func (b *Builder) entryPath(entry config.EntryConfig) (string, error) {
	path := filepath.Join(b.build.SourceRoot(), filepath.FromSlash(entry.Path))
	if filepath.IsAbs(entry.Path) {
		path = filepath.Clean(entry.Path)
	}
	if !isFile(path) {
		return "", errors.NewConfigError(errors.ErrCodeEntryNotFound,
			fmt.Sprintf("entry %q does not exist", entry.Name)).WithPath(path)
	}
	return path, nil
}

// walk is the state of one entry's traversal.
type walk struct {
	builder  *Builder
	graph    *Graph
	chunk    *Chunk
	requires map[string]bool
}

func (w *walk) visit(ctx context.Context, path, query string) (*Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m, ok := w.graph.modules[path]; ok {
		if m.Chunk != w.chunk.Name {
			w.requires[m.Chunk] = true
		}
		return m, nil
	}

	b := w.builder
	id := b.moduleID(path)

	matched, err := b.matcher.Match(id)
	if err != nil {
		return nil, err
	}

	kind := KindOf(path)
	m := &Module{
		Path:  path,
		ID:    id,
		Kind:  kind,
		Asset: rules.Kind(matched) == rules.TypeAsset,
		Query: query,
		Rules: matched,
		Chunk: w.chunk.Name,
	}
	// Files no rule claims and no scanner understands are copied as assets.
	if len(matched) == 0 && kind == KindOther && !isData(path) {
		m.Asset = true
	}
	// Registered before descending so cycles see the module as visited.
	w.graph.modules[path] = m

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeReadFailed, path, err)
	}
	m.Source = source

	if !m.Asset {
		imports, err := Scan(m.Kind, source)
		if err != nil {
			return nil, errors.NewTransformError("scan", id, err)
		}
		for _, imp := range imports {
			if IsExternal(imp.Specifier) {
				continue
			}
			resolved, err := b.resolver.Resolve(path, imp.Specifier, m.Kind)
			if err != nil {
				if pe, ok := errors.AsPipelineError(err); ok {
					pe.Path = id
				}
				return nil, err
			}
			_, q := SplitQuery(imp.Specifier)
			m.Deps = append(m.Deps, Dependency{
				Specifier: imp.Specifier,
				Path:      resolved,
				Query:     q,
				Dynamic:   imp.Dynamic,
			})
			w.graph.addEdge(path, resolved)

			if _, err := w.visit(ctx, resolved, q); err != nil {
				return nil, err
			}
		}
	}

	// Post-order: dependencies land in the chunk before their importer.
	w.chunk.Modules = append(w.chunk.Modules, m)
	return m, nil
}

// isData reports whether path is inlined as a value rather than copied.
func isData(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// moduleID is the slash-separated path relative to the source root. Files
// outside the root keep a relative path with leading ../ segments.
func (b *Builder) moduleID(path string) string {
	rel, err := filepath.Rel(b.build.SourceRoot(), path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return strings.TrimPrefix(filepath.ToSlash(rel), "./")
}
