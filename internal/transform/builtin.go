package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/syntax"
)

// Builtins returns the transforms every registry starts with.
func Builtins() []Transform {
	return []Transform{
		&Func{ID: "script", Handle: scriptTransform},
		&Func{ID: "html", Handle: htmlTransform},
		&Func{ID: "css", Handle: cssTransform},
		&Func{ID: "style", Only: []config.Mode{config.ModeDevelopment}, Handle: styleTransform(true)},
		&Func{ID: "extract-css", Only: []config.Mode{config.ModeProduction}, Handle: styleTransform(false)},
		&Func{ID: "sass", Handle: passThrough},
		&Func{ID: "postcss", Handle: passThrough},
	}
}

// scriptTransform substitutes process.env references with values from the
// build's environment snapshot. A bare process.env becomes an object holding
// only the variables the module names.
func scriptTransform(_ context.Context, in *Input) (*Output, error) {
	chains, err := syntax.MemberChains(in.Content, "process")
	if err != nil {
		return nil, err
	}

	type replacement struct {
		start, end int
		value      string
	}
	var reps []replacement
	var bare []int
	referenced := make(map[string]string)
	for _, c := range chains {
		if len(c.Names) < 2 || c.Names[1] != "env" {
			continue
		}
		if len(c.Names) == 2 {
			bare = append(bare, len(reps))
			reps = append(reps, replacement{start: c.Start, end: c.Ends[1]})
			continue
		}
		value := "undefined"
		if in.Build != nil {
			if v, ok := in.Build.LookupEnv(c.Names[2]); ok {
				referenced[c.Names[2]] = v
				value = quoteJS(v)
			}
		}
		reps = append(reps, replacement{start: c.Start, end: c.Ends[2], value: value})
	}

	if len(bare) > 0 {
		obj, err := json.Marshal(referenced)
		if err != nil {
			return nil, err
		}
		for _, i := range bare {
			reps[i].value = "(" + string(obj) + ")"
		}
	}

	src := string(in.Content)
	var b strings.Builder
	b.Grow(len(src))
	last := 0
	for _, r := range reps {
		b.WriteString(src[last:r.start])
		b.WriteString(r.value)
		last = r.end
	}
	b.WriteString(src[last:])

	hot, err := acceptsHotUpdates(in.Content)
	if err != nil {
		return nil, err
	}
	return &Output{Content: []byte(b.String()), HotAccept: hot}, nil
}

// acceptsHotUpdates reports whether the module calls module.hot.accept.
func acceptsHotUpdates(src []byte) (bool, error) {
	chains, err := syntax.MemberChains(src, "module")
	if err != nil {
		return false, err
	}
	for _, c := range chains {
		if len(c.Names) >= 3 && c.Names[1] == "hot" && c.Names[2] == "accept" {
			return true, nil
		}
	}
	return false, nil
}

// htmlTransform exports markup as a string module.
func htmlTransform(_ context.Context, in *Input) (*Output, error) {
	return &Output{Content: []byte("module.exports = " + quoteJS(string(in.Content)) + ";\n")}, nil
}

// cssTransform optionally scopes class selectors and records the class map.
// The content stays CSS; a later style step turns it into a module.
func cssTransform(_ context.Context, in *Input) (*Output, error) {
	modules := in.Options.Map("modules")
	if modules == nil {
		return &Output{Content: in.Content, Exports: map[string]string{}}, nil
	}

	pattern := modules.String("local_ident_name")
	if pattern == "" {
		pattern = DefaultLocalIdentName
	}

	scoped, classes := ScopeClasses(in.Content, in.ID, pattern)
	return &Output{Content: scoped, Exports: classes}, nil
}

// styleTransform moves the style sheet into a CSS artifact and leaves a
// module exporting the class map. Live-injected styles accept hot updates.
func styleTransform(hot bool) func(context.Context, *Input) (*Output, error) {
	return func(_ context.Context, in *Input) (*Output, error) {
		exports := in.Exports
		if exports == nil {
			exports = map[string]string{}
		}

		return &Output{
			Content:   ExportsModule(exports),
			Artifacts: []Artifact{{Kind: ArtifactCSS, Content: in.Content}},
			Exports:   exports,
			HotAccept: hot,
		}, nil
	}
}

func passThrough(_ context.Context, in *Input) (*Output, error) {
	return &Output{Content: in.Content}, nil
}

// ExportsModule returns a script module exporting the class map.
func ExportsModule(exports map[string]string) []byte {
	return []byte("module.exports = " + exportsLiteral(exports) + ";\n")
}

func exportsLiteral(exports map[string]string) string {
	keys := make([]string, 0, len(exports))
	for k := range exports {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %s", quoteJS(k), quoteJS(exports[k]))
	}
	b.WriteString("}")
	return b.String()
}

// quoteJS renders s as a JavaScript string literal. encoding/json already
// escapes U+2028 and U+2029, which JSON permits raw but older JS does not.
func quoteJS(s string) string {
	out, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(out)
}
