// Package optimize minifies production output. Each chunk is optimized on
// its own: a failure, including a panic, in one chunk is reported as an
// OptimizationError for that chunk and never touches the others.
package optimize

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/sourcegraph/conc/pool"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"

	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/logging"
)

// File is one emitted file of a chunk, before naming.
type File struct {
	Chunk string
	// Name is the logical file name, used for the media type and messages.
	Name    string
	Content []byte
}

// Ext returns the file's extension.
func (f File) Ext() string { return path.Ext(f.Name) }

// Optimizer minifies chunk files in parallel.
type Optimizer struct {
	cfg      config.OptimizationConfig
	minifier *minify.M
	workers  int
	logger   logging.Logger
}

// New creates an optimizer.
func New(cfg config.OptimizationConfig, workers int, logger logging.Logger) *Optimizer {
	if logger == nil {
		logger = logging.Discard()
	}
	if workers < 1 || !cfg.Parallel {
		workers = 1
	}

	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("application/javascript", js.Minify)
	m.Add(markupType, markupMinifier(cfg))

	return &Optimizer{
		cfg:      cfg,
		minifier: m,
		workers:  workers,
		logger:   logger.WithComponent("optimize"),
	}
}

// Result holds the optimized files of every chunk that succeeded.
type Result struct {
	Files []File
	// Failed lists the chunks whose files were dropped.
	Failed []string
}

// Optimize minifies files grouped by chunk. The returned error, if any,
// combines one OptimizationError per failed chunk; files of the other chunks
// are still returned.
func (o *Optimizer) Optimize(ctx context.Context, files []File) (*Result, error) {
	groups := make(map[string][]File)
	var order []string
	for _, f := range files {
		if _, ok := groups[f.Chunk]; !ok {
			order = append(order, f.Chunk)
		}
		groups[f.Chunk] = append(groups[f.Chunk], f)
	}

	type outcome struct {
		files []File
		err   error
	}
	outcomes := make([]outcome, len(order))

	p := pool.New().WithMaxGoroutines(o.workers)
	for i, chunk := range order {
		p.Go(func() {
			out, err := o.optimizeChunk(ctx, chunk, groups[chunk])
			outcomes[i] = outcome{files: out, err: err}
		})
	}
	p.Wait()

	result := &Result{}
	collector := errors.NewCollector()
	for i, chunk := range order {
		if outcomes[i].err != nil {
			collector.Add(outcomes[i].err)
			result.Failed = append(result.Failed, chunk)
			o.logger.Warn(ctx, outcomes[i].err, "chunk optimization failed", "chunk", chunk)
			continue
		}
		result.Files = append(result.Files, outcomes[i].files...)
	}
	sort.Strings(result.Failed)

	return result, collector.Err()
}

func (o *Optimizer) optimizeChunk(ctx context.Context, chunk string, files []File) (out []File, err error) {
	current := ""
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = errors.NewOptimizationError(chunk, current, fmt.Errorf("panic: %v", r))
		}
	}()

	out = make([]File, 0, len(files))
	for _, f := range files {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		current = f.Name

		content, minErr := o.File(f)
		if minErr != nil {
			return nil, errors.NewOptimizationError(chunk, f.Name, minErr)
		}
		out = append(out, File{Chunk: f.Chunk, Name: f.Name, Content: content})
	}
	return out, nil
}

// File minifies a single file according to its extension. Unknown types
// are returned unchanged.
func (o *Optimizer) File(f File) ([]byte, error) {
	if !o.cfg.Minimize {
		return f.Content, nil
	}

	switch f.Ext() {
	case ".js", ".mjs":
		return o.minifier.Bytes("application/javascript", f.Content)
	case ".css":
		return o.minifier.Bytes("text/css", f.Content)
	case ".html", ".htm":
		return o.minifier.Bytes(markupType, f.Content)
	default:
		return f.Content, nil
	}
}
