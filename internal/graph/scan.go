package graph

import (
	"bytes"
	"sort"
	"strings"

	"github.com/tdewolff/parse/v2/css"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/assetforge/internal/syntax"
)

// Import is a specifier found by a scanner.
type Import struct {
	Specifier string
	Dynamic   bool
}

// Scan returns the imports of content according to kind. Scripts that do
// not parse are an error; style sheets and markup are read leniently.
func Scan(kind Kind, content []byte) ([]Import, error) {
	switch kind {
	case KindScript:
		return ScanScript(content)
	case KindStyle:
		return ScanStyle(content), nil
	case KindMarkup:
		return ScanMarkup(content), nil
	default:
		return nil, nil
	}
}

// ScanScript finds static imports, re-exports, require calls and dynamic
// imports with literal specifiers, in source order.
func ScanScript(content []byte) ([]Import, error) {
	script, err := syntax.ParseScript(content)
	if err != nil {
		return nil, err
	}

	type found struct {
		at  int
		imp Import
	}
	var all []found
	for _, st := range script.Statements {
		switch {
		case st.Import != nil:
			all = append(all, found{st.Start, Import{Specifier: syntax.Unquote(st.Import.Module)}})
		case st.Export != nil && st.Export.Module != nil:
			all = append(all, found{st.Start, Import{Specifier: syntax.Unquote(st.Export.Module)}})
		}
	}
	for _, c := range script.Calls {
		all = append(all, found{c.Start, Import{Specifier: c.Specifier, Dynamic: c.Dynamic}})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].at < all[j].at })

	var out []Import
	seen := make(map[string]bool)
	for _, f := range all {
		if seen[f.imp.Specifier] {
			continue
		}
		seen[f.imp.Specifier] = true
		out = append(out, f.imp)
	}
	return out, nil
}

// ScanStyle finds @import rules and url() references. External URLs and
// fragment references are skipped.
func ScanStyle(content []byte) []Import {
	toks := syntax.LexStyle(content)

	var out []Import
	seen := make(map[string]bool)
	add := func(spec string) {
		spec = strings.TrimSpace(spec)
		if spec == "" || IsExternal(spec) || seen[spec] {
			return
		}
		seen[spec] = true
		out = append(out, Import{Specifier: spec})
	}

	inImport := make([]bool, len(toks))
	for _, imp := range syntax.StyleImports(toks) {
		add(imp.Specifier)
		for i := imp.Start; i < imp.End; i++ {
			inImport[i] = true
		}
	}
	for i, tok := range toks {
		if tok.Type == css.URLToken && !inImport[i] {
			add(syntax.URLValue(tok.Data))
		}
	}
	return out
}

// markupRefs lists the attributes that reference bundled files.
var markupRefs = map[atom.Atom]string{
	atom.Script: "src",
	atom.Img:    "src",
	atom.Source: "src",
	atom.Audio:  "src",
	atom.Video:  "src",
	atom.Link:   "href",
}

// ScanMarkup finds src and href references using the HTML tokenizer.
func ScanMarkup(content []byte) []Import {
	var out []Import
	seen := make(map[string]bool)

	z := html.NewTokenizer(bytes.NewReader(content))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF or a tokenizer error; either way the references found
			// so far are all there is.
			return out
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		tok := z.Token()
		attr, ok := markupRefs[tok.DataAtom]
		if !ok {
			continue
		}
		if tok.DataAtom == atom.Link && !linkIsBundled(tok) {
			continue
		}

		for _, a := range tok.Attr {
			if a.Key != attr {
				continue
			}
			spec := strings.TrimSpace(a.Val)
			if IsExternal(spec) || seen[spec] {
				continue
			}
			seen[spec] = true
			out = append(out, Import{Specifier: spec})
		}
	}
}

func linkIsBundled(tok html.Token) bool {
	for _, a := range tok.Attr {
		if a.Key == "rel" {
			for _, rel := range strings.Fields(strings.ToLower(a.Val)) {
				switch rel {
				case "stylesheet", "icon", "preload", "apple-touch-icon":
					return true
				}
			}
		}
	}
	return false
}
