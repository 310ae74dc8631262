package build

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/tdewolff/parse/v2/css"
	"golang.org/x/net/html"

	"github.com/conneroisu/assetforge/internal/graph"
	"github.com/conneroisu/assetforge/internal/syntax"
	"github.com/conneroisu/assetforge/internal/transform"
)

// asset is a module copied to the output verbatim.
type asset struct {
	// Name is the expanded template, which may carry a query.
	Name string
	// File is the output path relative to the output root.
	File string
	URL  string
}

// linkedModule is a module ready to be placed in its chunk.
type linkedModule struct {
	module *graph.Module
	code   string
	css    []byte
	hot    bool
}

// linkModule turns a transformed module into runtime form. Script imports
// become require calls on module IDs, asset references become URLs and
// style sheets imported by other style sheets are dropped from the importer,
// since the chunk already contains them.
func linkModule(g *graph.Graph, m *graph.Module, out *transform.Output, assets map[string]asset) (*linkedModule, error) {
	lm := &linkedModule{module: m}
	if a, ok := assets[m.Path]; ok {
		lm.code = "module.exports = " + jsString(a.URL) + ";\n"
		return lm, nil
	}

	content := out.Content
	var sheets [][]byte
	for _, a := range out.Artifacts {
		if a.Kind == transform.ArtifactCSS {
			sheets = append(sheets, a.Content)
		}
	}
	// A style chain without an extraction step leaves the sheet as content.
	if m.Kind == graph.KindStyle && len(sheets) == 0 {
		sheets = append(sheets, content)
		content = transform.ExportsModule(out.Exports)
	}

	targets := make(map[string]string, len(m.Deps))
	urls := make(map[string]string)
	bundled := make(map[string]bool)
	for _, dep := range m.Deps {
		target, ok := g.Module(dep.Path)
		if !ok {
			continue
		}
		targets[dep.Specifier] = target.ID
		if a, ok := assets[dep.Path]; ok {
			urls[dep.Specifier] = a.URL
		} else if target.Kind == graph.KindStyle {
			bundled[dep.Specifier] = true
		}
	}

	code, err := link(string(content), targets)
	if err != nil {
		return nil, err
	}
	lm.code = code
	for _, sheet := range sheets {
		lm.css = append(lm.css, rewriteStyle(sheet, urls, bundled)...)
		if len(lm.css) > 0 && lm.css[len(lm.css)-1] != '\n' {
			lm.css = append(lm.css, '\n')
		}
	}
	lm.hot = out.HotAccept
	return lm, nil
}

// rewriteStyle points url() references at emitted asset URLs and removes
// @import rules for sheets bundled into the same output.
func rewriteStyle(sheet []byte, urls map[string]string, bundled map[string]bool) []byte {
	toks := syntax.LexStyle(sheet)
	drop := make(map[int]int)
	for _, imp := range syntax.StyleImports(toks) {
		if bundled[imp.Specifier] {
			drop[imp.Start] = imp.End
		}
	}

	var out bytes.Buffer
	out.Grow(len(sheet))
	for i := 0; i < len(toks); i++ {
		if end, ok := drop[i]; ok {
			i = end - 1
			// Blanks left on the rule's line go with it.
			if i+1 < len(toks) && toks[i+1].Type == css.WhitespaceToken && !toks[i+1].HasNewline() {
				i++
			}
			continue
		}
		tok := toks[i]
		if tok.Type == css.URLToken {
			if url, ok := urls[syntax.URLValue(tok.Data)]; ok {
				out.WriteString("url(" + jsString(url) + ")")
				continue
			}
		}
		out.Write(tok.Data)
	}
	return out.Bytes()
}

// rewriteMarkup replaces local src and href attribute values that resolved
// to assets. Tags without such a reference are copied byte for byte.
func rewriteMarkup(content []byte, urls map[string]string) []byte {
	if len(urls) == 0 {
		return content
	}

	var out bytes.Buffer
	z := html.NewTokenizer(bytes.NewReader(content))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out.Bytes()
		}
		raw := z.Raw()
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			out.Write(raw)
			continue
		}

		raw = append([]byte(nil), raw...)
		tok := z.Token()
		changed := false
		for i, attr := range tok.Attr {
			if attr.Key != "src" && attr.Key != "href" {
				continue
			}
			if url, ok := urls[attr.Val]; ok {
				tok.Attr[i].Val = url
				changed = true
			}
		}
		if changed {
			out.WriteString(tok.String())
		} else {
			out.Write(raw)
		}
	}
}

// chunkBundle is the assembled output of one chunk before naming.
type chunkBundle struct {
	name string
	js   []byte
	css  []byte
	smap *sourceMap
}

// assembleChunk concatenates the runtime, one definition per module in
// chunk order and the entry's require call.
func assembleChunk(chunk *graph.Chunk, linked map[string]*linkedModule, maps bool) *chunkBundle {
	cb := &chunkBundle{name: chunk.Name}
	if maps {
		cb.smap = newSourceMap("")
	}

	var js strings.Builder
	var css bytes.Buffer

	js.WriteString(RuntimePrelude)
	if cb.smap != nil {
		cb.smap.skip(lineCount(RuntimePrelude))
	}

	for _, m := range chunk.Modules {
		lm, ok := linked[m.Path]
		if !ok {
			continue
		}
		def := defineModule(m.ID, lm.code)
		js.WriteString(def)

		if cb.smap != nil {
			// One line for the define header, then the module body.
			cb.smap.skip(1)
			body := lineCount(def) - 2
			if m.Kind == graph.KindScript && !m.Asset {
				src := cb.smap.addSource(sourceURL(m.ID), string(m.Source))
				mapped := min(body, lineCount(string(m.Source)))
				cb.smap.span(src, mapped)
				cb.smap.skip(body - mapped)
			} else {
				cb.smap.skip(body)
			}
			cb.smap.skip(1)
		}

		css.Write(lm.css)
	}

	js.WriteString(requireEntry(chunk.Entry.ID))
	cb.js = []byte(js.String())
	cb.css = css.Bytes()
	return cb
}

func sourceURL(id string) string {
	return fmt.Sprintf("assetforge:///%s", id)
}
