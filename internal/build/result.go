package build

import (
	"path"
	"sort"
	"time"

	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/graph"
)

// ModuleOutput is the linked form of one module, kept so the dev server can
// classify changes and serve hot updates.
type ModuleOutput struct {
	ID        string     `json:"id"`
	Chunk     string     `json:"chunk"`
	Kind      graph.Kind `json:"kind"`
	Code      string     `json:"-"`
	CodeHash  string     `json:"code_hash"`
	CSSHash   string     `json:"css_hash,omitempty"`
	HotAccept bool       `json:"hot_accept"`
}

// ChunkOutput lists the emitted files of a chunk.
type ChunkOutput struct {
	Name      string   `json:"name"`
	Script    string   `json:"script,omitempty"`
	Style     string   `json:"style,omitempty"`
	SourceMap string   `json:"source_map,omitempty"`
	Requires  []string `json:"requires,omitempty"`
}

// Result is a finished build held in memory.
type Result struct {
	Mode     config.Mode             `json:"mode"`
	Files    []OutputFile            `json:"files"`
	Chunks   []ChunkOutput           `json:"chunks"`
	Manifest Manifest                `json:"manifest"`
	Modules  map[string]ModuleOutput `json:"-"`
	// Document is the output path of the HTML document, if a template exists.
	Document   string        `json:"document,omitempty"`
	PublicPath string        `json:"public_path"`
	Duration   time.Duration `json:"duration"`
	// Failed names chunks dropped because optimization failed.
	Failed []string     `json:"failed,omitempty"`
	Graph  *graph.Graph `json:"-"`
}

// File returns the output file at a slash-separated path.
func (r *Result) File(p string) (OutputFile, bool) {
	for _, f := range r.Files {
		if f.Path == p {
			return f, true
		}
	}
	return OutputFile{}, false
}

// URL returns the public URL of an output path.
func (r *Result) URL(p string) string {
	return r.PublicPath + p
}

// Styles returns the public URLs of every chunk style sheet.
func (r *Result) Styles() []string {
	var out []string
	for _, c := range r.Chunks {
		if c.Style != "" {
			out = append(out, r.URL(c.Style))
		}
	}
	return out
}

// HotUpdate returns the update script replacing module id.
func (r *Result) HotUpdate(id string) (string, bool) {
	m, ok := r.Modules[id]
	if !ok || !m.HotAccept {
		return "", false
	}
	return hotUpdate(id, m.Code), true
}

// ChangeKind classifies the difference between two builds as seen by an
// open page.
type ChangeKind int

const (
	ChangeNone ChangeKind = iota
	// ChangeCSS means only style sheets differ.
	ChangeCSS
	// ChangeHot means every changed script module accepts hot updates.
	ChangeHot
	// ChangeReload requires a full page reload.
	ChangeReload
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNone:
		return "none"
	case ChangeCSS:
		return "css"
	case ChangeHot:
		return "hot"
	case ChangeReload:
		return "reload"
	default:
		return "unknown"
	}
}

// Change describes how to bring a page from one build to the next.
type Change struct {
	Kind ChangeKind `json:"kind"`
	// Modules lists the IDs to hot update when Kind is ChangeHot.
	Modules []string `json:"modules,omitempty"`
	// StylesChanged is set when any style sheet differs.
	StylesChanged bool `json:"styles_changed"`
}

// Compare classifies the change from prev to next. A missing previous build
// always needs a reload.
func Compare(prev, next *Result) Change {
	if prev == nil || next == nil {
		return Change{Kind: ChangeReload}
	}

	if prev.Document != next.Document || documentChanged(prev, next) {
		return Change{Kind: ChangeReload}
	}
	if len(prev.Modules) != len(next.Modules) {
		return Change{Kind: ChangeReload, StylesChanged: true}
	}

	var change Change
	for id, n := range next.Modules {
		p, ok := prev.Modules[id]
		if !ok || p.Chunk != n.Chunk {
			return Change{Kind: ChangeReload, StylesChanged: true}
		}
		if p.CSSHash != n.CSSHash {
			change.StylesChanged = true
		}
		if p.CodeHash != n.CodeHash {
			if !n.HotAccept || !p.HotAccept {
				return Change{Kind: ChangeReload, StylesChanged: change.StylesChanged}
			}
			change.Modules = append(change.Modules, id)
		}
	}

	switch {
	case len(change.Modules) > 0:
		change.Kind = ChangeHot
		sort.Strings(change.Modules)
	case change.StylesChanged:
		change.Kind = ChangeCSS
	default:
		change.Kind = ChangeNone
	}
	return change
}

func documentChanged(prev, next *Result) bool {
	for _, f := range next.Files {
		if path.Ext(f.Path) != ".html" {
			continue
		}
		old, ok := prev.File(f.Path)
		if !ok || string(old.Content) != string(f.Content) {
			return true
		}
	}
	return false
}
