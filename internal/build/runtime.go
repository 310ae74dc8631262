package build

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tdewolff/parse/v2/js"

	"github.com/conneroisu/assetforge/internal/syntax"
)

// RuntimePrelude is the module runtime placed at the top of every script
// chunk. It is byte-identical across chunks so production builds can move it
// into a shared runtime chunk. A second copy is a no-op.
const RuntimePrelude = `(function (g) {
  if (g.__assetforge) return;
  var defs = {}, cache = {}, accepts = {};
  function hot(id) {
    return {
      accept: function (cb) { (accepts[id] = accepts[id] || []).push(cb || function () {}); }
    };
  }
  function req(id) {
    if (cache[id]) return cache[id].exports;
    var def = defs[id];
    if (!def) throw new Error("assetforge: module not found: " + id);
    var module = cache[id] = { id: id, exports: {}, hot: hot(id) };
    def.call(module.exports, module, module.exports, req);
    return module.exports;
  }
  g.__assetforge = {
    define: function (id, fn) { if (!defs[id]) defs[id] = fn; },
    require: req,
    interop: function (m) { return m && m.__esModule ? m["default"] : m; },
    accepts: function (id) { return !!accepts[id]; },
    update: function (id, fn) {
      var handlers = accepts[id] || [];
      defs[id] = fn;
      delete cache[id];
      delete accepts[id];
      var exports = req(id);
      for (var i = 0; i < handlers.length; i++) handlers[i](exports);
    }
  };
})(typeof self !== "undefined" ? self : this);
`

// defineModule wraps linked module code. The wrapper adds no lines before
// the code, so line numbers inside a module are offset by exactly one.
func defineModule(id, code string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "__assetforge.define(%s, function (module, exports, require) {\n", jsString(id))
	b.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString("});\n")
	return b.String()
}

// hotUpdate is the payload served for a hot-accepted module.
func hotUpdate(id, code string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "__assetforge.update(%s, function (module, exports, require) {\n", jsString(id))
	b.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString("});\n")
	return b.String()
}

func requireEntry(id string) string {
	return fmt.Sprintf("__assetforge.require(%s);\n", jsString(id))
}

func jsString(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}

// link rewrites module syntax into calls on the runtime. targets maps each
// import specifier to the module ID it resolved to; specifiers without a
// target are left alone. Rewrites never add or remove line breaks inside the
// module; export assignments follow on one extra line.
func link(code string, targets map[string]string) (string, error) {
	if !strings.Contains(code, "import") && !strings.Contains(code, "export") && !strings.Contains(code, "require") {
		return code, nil
	}
	script, err := syntax.ParseScript([]byte(code))
	if err != nil {
		return "", err
	}

	req := func(spec string) (string, bool) {
		id, ok := targets[spec]
		if !ok {
			return "", false
		}
		return "require(" + jsString(id) + ")", true
	}

	type edit struct {
		start, end int
		text       string
	}
	var edits []edit
	var tail []string
	esm := false

	for _, c := range script.Calls {
		call, ok := req(c.Specifier)
		if !ok {
			continue
		}
		if c.Dynamic {
			call = "Promise.resolve().then(function () { return " + call + "; })"
		}
		edits = append(edits, edit{c.Start, c.End, call})
	}

	for _, st := range script.Statements {
		switch st.Kind {
		case syntax.Import:
			call, ok := req(syntax.Unquote(st.Import.Module))
			if !ok {
				continue
			}
			esm = true
			edits = append(edits, edit{st.Start, st.End, importBindings(st.Import, call)})

		case syntax.ExportList:
			e := st.Export
			if e.Module == nil {
				esm = true
				for _, a := range e.List {
					if a.Binding == nil {
						continue
					}
					local := a.Binding
					if a.Name != nil {
						local = a.Name
					}
					tail = append(tail, member("exports", a.Binding)+" = "+string(local)+";")
				}
				edits = append(edits, edit{st.Start, st.End, ""})
				continue
			}
			call, ok := req(syntax.Unquote(e.Module))
			if !ok {
				continue
			}
			esm = true
			edits = append(edits, edit{st.Start, st.End, reexport(e.List, call)})

		case syntax.ExportDefault:
			esm = true
			if names := syntax.DeclaredNames(st.Export.Decl); len(names) == 1 {
				tail = append(tail, "exports.default = "+names[0]+";")
				edits = append(edits, edit{st.Start, st.End, ""})
			} else {
				edits = append(edits, edit{st.Start, st.End, "exports.default = "})
			}

		case syntax.ExportDecl:
			esm = true
			for _, name := range syntax.DeclaredNames(st.Export.Decl) {
				tail = append(tail, fmt.Sprintf("exports.%s = %s;", name, name))
			}
			edits = append(edits, edit{st.Start, st.End, ""})
		}
	}

	sort.SliceStable(edits, func(i, j int) bool { return edits[i].start < edits[j].start })
	var b strings.Builder
	b.Grow(len(code))
	last := 0
	for _, e := range edits {
		if e.start < last {
			continue
		}
		b.WriteString(code[last:e.start])
		b.WriteString(e.text)
		b.WriteString(strings.Repeat("\n", strings.Count(code[e.start:e.end], "\n")))
		last = e.end
	}
	b.WriteString(code[last:])
	out := b.String()

	if esm {
		out = `Object.defineProperty(exports, "__esModule", { value: true }); ` + out
		if len(tail) > 0 {
			if !strings.HasSuffix(out, "\n") {
				out += "\n"
			}
			out += strings.Join(tail, " ") + "\n"
		}
	}
	return out, nil
}

// member renders obj.name, or obj["name"] for names written as strings.
func member(obj string, name []byte) string {
	if len(name) > 0 && (name[0] == '"' || name[0] == '\'') {
		return obj + "[" + jsString(syntax.Unquote(name)) + "]"
	}
	return obj + "." + string(name)
}

// reexport forwards the exports of call listed in aliases.
func reexport(aliases []js.Alias, call string) string {
	if len(aliases) == 1 && aliases[0].Name == nil && string(aliases[0].Binding) == "*" {
		return "Object.assign(exports, " + call + ");"
	}
	if len(aliases) == 1 && string(aliases[0].Name) == "*" {
		return member("exports", aliases[0].Binding) + " = " + call + ";"
	}

	var assigns []string
	for _, a := range aliases {
		if a.Binding == nil {
			continue
		}
		imported := a.Binding
		if a.Name != nil {
			imported = a.Name
		}
		assigns = append(assigns, member("exports", a.Binding)+" = "+member("__m", imported)+";")
	}
	return "(function (__m) { " + strings.Join(assigns, " ") + " })(" + call + ");"
}

// importBindings turns an import declaration into declarations reading
// from call.
func importBindings(stmt *js.ImportStmt, call string) string {
	var decls []string
	if stmt.Default != nil {
		decls = append(decls, "const "+string(stmt.Default)+" = __assetforge.interop("+call+");")
	}

	if len(stmt.List) == 1 && string(stmt.List[0].Name) == "*" {
		decls = append(decls, "const "+string(stmt.List[0].Binding)+" = "+call+";")
	} else {
		var pairs []string
		for _, a := range stmt.List {
			switch {
			case a.Binding == nil:
			case a.Name == nil:
				pairs = append(pairs, string(a.Binding))
			default:
				pairs = append(pairs, string(a.Name)+": "+string(a.Binding))
			}
		}
		if len(pairs) > 0 {
			decls = append(decls, "const { "+strings.Join(pairs, ", ")+" } = "+call+";")
		}
	}

	if len(decls) == 0 {
		return call + ";"
	}
	return strings.Join(decls, " ")
}
