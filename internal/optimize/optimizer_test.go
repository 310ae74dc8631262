package optimize

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/errors"
)

func productionConfig() config.OptimizationConfig {
	return config.OptimizationConfig{
		Minimize:           true,
		Parallel:           true,
		RemoveComments:     true,
		CollapseWhitespace: true,
		SharedRuntime:      true,
	}
}

func TestOptimizeMinifiesScriptsAndStyles(t *testing.T) {
	o := New(productionConfig(), 4, nil)

	res, err := o.Optimize(context.Background(), []File{
		{Chunk: "index", Name: "index.js", Content: []byte("// comment\nfunction add(first, second) {\n  return first + second;\n}\nconsole.log(add(1, 2));\n")},
		{Chunk: "index", Name: "index.css", Content: []byte("body {\n  margin: 0px;\n  color: #ff0000;\n}\n")},
	})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)
	assert.Empty(t, res.Failed)

	js := string(res.Files[0].Content)
	assert.NotContains(t, js, "// comment")
	assert.Contains(t, js, "console.log")
	assert.Less(t, len(js), 70)

	css := string(res.Files[1].Content)
	assert.NotContains(t, css, "\n")
	assert.Contains(t, css, "margin:0")
}

func TestOptimizeIsolatesFailingChunk(t *testing.T) {
	o := New(productionConfig(), 2, nil)

	res, err := o.Optimize(context.Background(), []File{
		{Chunk: "good", Name: "good.js", Content: []byte("var x = 1;")},
		{Chunk: "bad", Name: "bad.js", Content: []byte("var = = ;;; {")},
		{Chunk: "bad", Name: "bad.css", Content: []byte("a{color:red}")},
	})
	require.Error(t, err)
	assert.True(t, errors.IsOptimizationError(err))

	assert.Equal(t, []string{"bad"}, res.Failed)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "good.js", res.Files[0].Name)

	failures := errors.Flatten(err)
	require.Len(t, failures, 1)
	assert.Equal(t, "bad", failures[0].Chunk)
	assert.Equal(t, "bad.js", failures[0].Path)
}

func TestOptimizeWithoutMinimizeIsIdentity(t *testing.T) {
	cfg := productionConfig()
	cfg.Minimize = false
	o := New(cfg, 1, nil)

	in := []byte("function  spaced ( ) { }")
	res, err := o.Optimize(context.Background(), []File{{Chunk: "a", Name: "a.js", Content: in}})
	require.NoError(t, err)
	assert.Equal(t, in, res.Files[0].Content)
}

func TestMarkup(t *testing.T) {
	src := `<!DOCTYPE html>
<html>
  <head>
    <!-- build info -->
    <!--[if IE]><p>old</p><![endif]-->
    <style>
      body   { margin: 0 }
    </style>
  </head>
  <body>
    <p>Hello,     <b>world</b>   again</p>
    <pre>  keep
   this  </pre>
    <a href="/x?a=1&amp;b=2">link</a>
  </body>
</html>`

	o := New(productionConfig(), 1, nil)
	out, err := o.File(File{Chunk: "index", Name: "index.html", Content: []byte(src)})
	require.NoError(t, err)
	got := string(out)

	assert.NotContains(t, got, "build info")
	assert.Contains(t, got, "<!--[if IE]>")
	assert.Contains(t, got, "<p>Hello, <b>world</b> again</p>")
	assert.Contains(t, got, "<pre>  keep\n   this  </pre>")
	assert.Contains(t, got, "body{margin:0}")
	assert.Contains(t, got, `href="/x?a=1&`)
	assert.Contains(t, got, "</body>")
	assert.NotContains(t, got, "\n  <")
}

func TestMarkupKeepsCommentsWhenAsked(t *testing.T) {
	cfg := productionConfig()
	cfg.RemoveComments = false
	o := New(cfg, 1, nil)

	src := "<div>\n  <!-- note -->\n  <span>a</span>   <span>b</span>\n</div>"
	out, err := o.File(File{Chunk: "index", Name: "index.html", Content: []byte(src)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "<!-- note -->")
	assert.Contains(t, string(out), "<span>a</span> <span>b</span>")
}

func TestExtractRuntime(t *testing.T) {
	prelude := []byte("(function runtime(){})();\n")
	files := []File{
		{Chunk: "index", Name: "index.js", Content: append(append([]byte(nil), prelude...), "index()"...)},
		{Chunk: "admin", Name: "admin.js", Content: append(append([]byte(nil), prelude...), "admin()"...)},
		{Chunk: "index", Name: "index.css", Content: []byte("a{}")},
	}

	out, runtime := ExtractRuntime(files, prelude)
	require.NotNil(t, runtime)
	assert.Equal(t, RuntimeChunk, runtime.Chunk)
	assert.Equal(t, prelude, runtime.Content)
	assert.Equal(t, "index()", string(out[0].Content))
	assert.Equal(t, "admin()", string(out[1].Content))
	assert.Equal(t, "a{}", string(out[2].Content))

	// Input is not modified.
	assert.True(t, strings.HasPrefix(string(files[0].Content), string(prelude)))
}

func TestExtractRuntimeSingleChunk(t *testing.T) {
	prelude := []byte("rt;")
	files := []File{{Chunk: "index", Name: "index.js", Content: []byte("rt;main()")}}

	out, runtime := ExtractRuntime(files, prelude)
	assert.Nil(t, runtime)
	assert.Equal(t, files, out)
}
