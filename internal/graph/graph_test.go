package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/rules"
)

// writeTree creates files under a fresh source root.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func newBuilder(t *testing.T, root string) (*Builder, *config.BuildContext) {
	t.Helper()
	cfg := config.Default()
	cfg.Source.Root = root
	cfg.Output.Root = t.TempDir()
	bc, err := config.NewBuildContext(cfg, nil)
	require.NoError(t, err)

	matcher, err := rules.NewMatcher(cfg.Rules)
	require.NoError(t, err)
	return NewBuilder(bc, matcher, nil), bc
}

func ids(mods []*Module) []string {
	out := make([]string, len(mods))
	for i, m := range mods {
		out[i] = m.ID
	}
	return out
}

func TestBuildSingleEntry(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.js":             "import './a';\nimport styles from './a.module.scss';\nimport './b.css';\n",
		"a.js":                 "export const a = 1;\n",
		"a.module.scss":        ".title { color: red }\n",
		"b.css":                "body { background: url(./img/bg.png) }\n",
		"img/bg.png":           "PNG",
		"unreferenced.js":      "nothing",
		"components/README.md": "docs",
	})
	b, _ := newBuilder(t, root)

	g, err := b.Build(context.Background(), []config.EntryConfig{{Name: "index", Path: "index.js"}})
	require.NoError(t, err)

	require.Len(t, g.Chunks, 1)
	chunk := g.Chunks[0]
	assert.Equal(t, "index", chunk.Name)
	assert.Equal(t, "index.js", chunk.Entry.ID)
	assert.True(t, chunk.Entry.Entry)
	assert.Equal(t, []string{"a.js", "a.module.scss", "img/bg.png", "b.css", "index.js"}, ids(chunk.Modules))

	bg, ok := g.Module(filepath.Join(root, "img", "bg.png"))
	require.True(t, ok)
	assert.True(t, bg.Asset)
	assert.Empty(t, bg.Deps)

	_, ok = g.Module(filepath.Join(root, "unreferenced.js"))
	assert.False(t, ok)
	assert.Equal(t, 5, g.Len())
}

func TestBuildTerminatesOnCycles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.js": "import './a.js';\n",
		"a.js":     "import { b } from './b.js';\nexport const a = () => b;\n",
		"b.js":     "import { a } from './a.js';\nexport const b = () => a;\n",
	})
	b, _ := newBuilder(t, root)

	g, err := b.Build(context.Background(), []config.EntryConfig{{Name: "index", Path: "index.js"}})
	require.NoError(t, err)

	assert.Equal(t, 3, g.Len())
	require.Len(t, g.Chunks, 1)
	assert.ElementsMatch(t, []string{"a.js", "b.js", "index.js"}, ids(g.Chunks[0].Modules))

	for _, m := range g.Modules() {
		assert.Equal(t, "index", m.Chunk)
	}
}

func TestBuildAssignsSharedModulesToFirstEntry(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.js":      "import './shared.js';\n",
		"admin.js":      "import './shared.js';\nimport './admin-only.js';\n",
		"shared.js":     "export default 1;\n",
		"admin-only.js": "export default 2;\n",
	})
	b, _ := newBuilder(t, root)

	g, err := b.Build(context.Background(), []config.EntryConfig{
		{Name: "index", Path: "index.js"},
		{Name: "admin", Path: "admin.js"},
	})
	require.NoError(t, err)

	shared, ok := g.Module(filepath.Join(root, "shared.js"))
	require.True(t, ok)
	assert.Equal(t, "index", shared.Chunk)

	admin, ok := g.Chunk("admin")
	require.True(t, ok)
	assert.Equal(t, []string{"admin-only.js", "admin.js"}, ids(admin.Modules))
	assert.Equal(t, []string{"index"}, admin.Requires)

	assert.Equal(t, []string{
		filepath.Join(root, "admin.js"),
		filepath.Join(root, "index.js"),
	}, g.Dependents(filepath.Join(root, "shared.js")))
	assert.Equal(t, []string{"index", "admin"}, g.Affected([]string{filepath.Join(root, "shared.js")}))
	assert.Equal(t, []string{"admin"}, g.Affected([]string{filepath.Join(root, "admin-only.js")}))
}

func TestBuildUnresolvableImport(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.js": "import './missing';\n",
	})
	b, _ := newBuilder(t, root)

	_, err := b.Build(context.Background(), []config.EntryConfig{{Name: "index", Path: "index.js"}})
	require.Error(t, err)
	assert.True(t, errors.IsResolutionError(err))
	pe, _ := errors.AsPipelineError(err)
	assert.Equal(t, "index.js", pe.Path)
}

func TestBuildReportsUnparsableScript(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.js":  "import './broken';\n",
		"broken.js": "export const = 1;\n",
	})
	b, _ := newBuilder(t, root)

	_, err := b.Build(context.Background(), []config.EntryConfig{{Name: "index", Path: "index.js"}})
	require.Error(t, err)
	assert.True(t, errors.IsTransformError(err))
	pe, _ := errors.AsPipelineError(err)
	assert.Equal(t, "broken.js", pe.Path)
	assert.Equal(t, "scan", pe.Transform)
}

func TestBuildMissingEntry(t *testing.T) {
	root := writeTree(t, map[string]string{"other.js": ""})
	b, _ := newBuilder(t, root)

	_, err := b.Build(context.Background(), []config.EntryConfig{{Name: "index", Path: "index.js"}})
	require.Error(t, err)
	pe, ok := errors.AsPipelineError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeEntryNotFound, pe.Code)
}

func TestBuildHonoursCancellation(t *testing.T) {
	root := writeTree(t, map[string]string{"index.js": ""})
	b, _ := newBuilder(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Build(ctx, []config.EntryConfig{{Name: "index", Path: "index.js"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolver(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.js":                                 "",
		"lib/index.js":                             "",
		"utils/format.js":                          "",
		"styles/base.css":                          "",
		"node_modules/lodash/package.json":         `{"main": "lodash.js"}`,
		"node_modules/lodash/lodash.js":            "",
		"node_modules/lodash/fp/index.js":          "",
		"node_modules/@scope/pkg/package.json":     `{"module": "esm/index.js", "main": "cjs/index.js"}`,
		"node_modules/@scope/pkg/esm/index.js":     "",
		"node_modules/@scope/pkg/cjs/index.js":     "",
		"node_modules/normalize.css/normalize.css": "",
	})
	_, bc := newBuilder(t, root)
	r := NewResolver(bc)
	importer := filepath.Join(root, "index.js")

	tests := []struct {
		spec string
		kind Kind
		want string
	}{
		{"./lib", KindScript, "lib/index.js"},
		{"./utils/format", KindScript, "utils/format.js"},
		{"./utils/format.js?raw", KindScript, "utils/format.js"},
		{"@/utils/format", KindScript, "utils/format.js"},
		{"/styles/base.css", KindStyle, "styles/base.css"},
		{"styles/base.css", KindStyle, "styles/base.css"},
		{"lodash", KindScript, "node_modules/lodash/lodash.js"},
		{"lodash/fp", KindScript, "node_modules/lodash/fp/index.js"},
		{"@scope/pkg", KindScript, "node_modules/@scope/pkg/esm/index.js"},
		{"~normalize.css/normalize.css", KindStyle, "node_modules/normalize.css/normalize.css"},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := r.Resolve(importer, tt.spec, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(root, filepath.FromSlash(tt.want)), got)
		})
	}

	_, err := r.Resolve(importer, "react", KindScript)
	assert.True(t, errors.IsResolutionError(err))
}

func TestScanScript(t *testing.T) {
	src := `import a from "./a";
import { b, c as d } from './b';
import * as ns from "./ns";
import "./side-effect";
export { x } from "./x";
export * from './all';
const r = require("./req");
// import './commented';
/* require('./block') */
const s = "import './not-real'";
const lazy = () => import('./lazy');
`
	imports, err := ScanScript([]byte(src))
	require.NoError(t, err)

	var specs []string
	for _, imp := range imports {
		specs = append(specs, imp.Specifier)
	}
	assert.Equal(t, []string{"./a", "./b", "./ns", "./side-effect", "./x", "./all", "./req", "./lazy"}, specs)
	assert.True(t, imports[len(imports)-1].Dynamic)
	assert.False(t, imports[0].Dynamic)
}

func TestScanScriptIgnoresLookalikes(t *testing.T) {
	src := "/* import './block' */\n" +
		"const re = /import '.\\/regex'/;\n" +
		"const tpl = `require('./template')`;\n" +
		"loader.require('./method');\n" +
		"export const { a, b } = require('./real');\n"

	imports, err := ScanScript([]byte(src))
	require.NoError(t, err)
	require.Len(t, imports, 1)
	assert.Equal(t, "./real", imports[0].Specifier)
}

func TestScanStyle(t *testing.T) {
	src := `@import "./reset.css";
@import url('./theme.css') screen;
/* url(./commented.png) */
.a { background: url("./img/a.png") }
.b { background: url(https://cdn.test/b.png) }
.c { background: url(data:image/png;base64,AAAA) }
.d { filter: url(#blur) }
`
	var specs []string
	for _, imp := range ScanStyle([]byte(src)) {
		specs = append(specs, imp.Specifier)
	}
	assert.Equal(t, []string{"./reset.css", "./theme.css", "./img/a.png"}, specs)
}

func TestScanMarkup(t *testing.T) {
	src := `<!doctype html>
<html><head>
<link rel="stylesheet" href="./main.css">
<link rel="canonical" href="https://example.test/">
<script src="./app.js"></script>
<script src="https://cdn.test/lib.js"></script>
</head><body><img src="./logo.png"/><a href="./page.html">x</a></body></html>`

	var specs []string
	for _, imp := range ScanMarkup([]byte(src)) {
		specs = append(specs, imp.Specifier)
	}
	assert.Equal(t, []string{"./main.css", "./app.js", "./logo.png"}, specs)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindScript, KindOf("a/b.mjs"))
	assert.Equal(t, KindStyle, KindOf("x.module.SCSS"))
	assert.Equal(t, KindMarkup, KindOf("index.html"))
	assert.Equal(t, KindOther, KindOf("logo.png"))
}
