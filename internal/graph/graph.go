// Package graph builds the module dependency graph from entry points and
// assigns every reachable module to exactly one chunk.
package graph

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/conneroisu/assetforge/internal/rules"
)

// Kind is the source language of a module, used to pick its import scanner.
type Kind string

const (
	KindScript Kind = "script"
	KindStyle  Kind = "style"
	KindMarkup Kind = "markup"
	KindOther  Kind = "other"
)

// KindOf classifies a path by extension.
func KindOf(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs":
		return KindScript
	case ".css", ".scss", ".sass", ".less":
		return KindStyle
	case ".html", ".htm":
		return KindMarkup
	default:
		return KindOther
	}
}

// Dependency is one resolved import edge.
type Dependency struct {
	// Specifier is the text as written in the importing module.
	Specifier string
	// Path is the resolved absolute path.
	Path string
	// Query is a ?query suffix carried by the specifier, kept for asset names.
	Query   string
	Dynamic bool
}

// Module is a node of the graph. It is created when first reached and not
// modified after the builder returns.
type Module struct {
	Path  string
	ID    string
	Kind  Kind
	Asset bool
	// Query is the ?query suffix of the specifier that first reached the
	// module, substituted for [query] in asset names.
	Query  string
	Rules  []*rules.Rule
	Source []byte
	Deps   []Dependency
	// Chunk is the name of the chunk of the first discovering entry.
	Chunk string
	Entry bool
}

// Chunk is a named bundle seeded by one entry.
type Chunk struct {
	Name  string
	Entry *Module
	// Modules in dependency order: a module follows everything it imports,
	// except where a cycle makes that impossible.
	Modules []*Module
	// Requires names earlier chunks owning modules this chunk imports.
	Requires []string
}

// Graph is the result of one traversal.
type Graph struct {
	Root    string
	Chunks  []*Chunk
	modules map[string]*Module
	// dependents maps a module path to the paths importing it.
	dependents map[string]map[string]struct{}
}

func newGraph(root string) *Graph {
	return &Graph{
		Root:       root,
		modules:    make(map[string]*Module),
		dependents: make(map[string]map[string]struct{}),
	}
}

// Module returns the module at an absolute path.
func (g *Graph) Module(path string) (*Module, bool) {
	m, ok := g.modules[path]
	return m, ok
}

// Modules returns every module sorted by ID.
func (g *Graph) Modules() []*Module {
	out := make([]*Module, 0, len(g.modules))
	for _, m := range g.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of modules.
func (g *Graph) Len() int { return len(g.modules) }

// Chunk returns the chunk with the given name.
func (g *Graph) Chunk(name string) (*Chunk, bool) {
	for _, c := range g.Chunks {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Dependents returns the paths directly importing path, sorted.
func (g *Graph) Dependents(path string) []string {
	set := g.dependents[path]
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Affected returns the names of chunks owning any of paths or any module
// transitively importing one of them. Paths outside the graph are ignored.
func (g *Graph) Affected(paths []string) []string {
	seen := make(map[string]bool)
	chunks := make(map[string]bool)

	queue := append([]string(nil), paths...)
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if seen[p] {
			continue
		}
		seen[p] = true

		if m, ok := g.modules[p]; ok {
			chunks[m.Chunk] = true
		}
		for dep := range g.dependents[p] {
			queue = append(queue, dep)
		}
	}

	out := make([]string, 0, len(chunks))
	for _, c := range g.Chunks {
		if chunks[c.Name] {
			out = append(out, c.Name)
		}
	}
	return out
}

func (g *Graph) addEdge(from, to string) {
	set, ok := g.dependents[to]
	if !ok {
		set = make(map[string]struct{})
		g.dependents[to] = set
	}
	set[from] = struct{}{}
}
