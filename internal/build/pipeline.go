// Package build turns the asset graph into output files: it transforms every
// module on a bounded pool, links modules into per-entry chunks around a small
// runtime, names files, injects them into the HTML template and writes the
// result.
package build

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/graph"
	"github.com/conneroisu/assetforge/internal/logging"
	"github.com/conneroisu/assetforge/internal/namer"
	"github.com/conneroisu/assetforge/internal/optimize"
	"github.com/conneroisu/assetforge/internal/rules"
	"github.com/conneroisu/assetforge/internal/transform"
)

// Callback is called after every build. result is nil when err is fatal.
type Callback func(result *Result, err error)

// Pipeline runs builds for one Build Context. Builds may run concurrently;
// they share the transform cache and metrics.
type Pipeline struct {
	build     *config.BuildContext
	matcher   *rules.Matcher
	executor  *transform.Executor
	graph     *graph.Builder
	namer     *namer.Namer
	optimizer *optimize.Optimizer
	cache     *TransformCache
	metrics   *Metrics
	logger    logging.Logger

	mutex     sync.RWMutex
	callbacks []Callback
}

// Option customizes a Pipeline.
type Option func(*options)

type options struct {
	registry *transform.Registry
	metrics  *Metrics
}

// WithRegistry replaces the registry built from the configuration.
func WithRegistry(r *transform.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithMetrics shares a metrics instance between pipelines.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// NewPipeline compiles the rules and resolves every transform chain. All
// configuration errors surface here, before any file is read.
func NewPipeline(bc *config.BuildContext, logger logging.Logger, opts ...Option) (*Pipeline, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := bc.Config()
	matcher, err := rules.NewMatcher(cfg.Rules)
	if err != nil {
		return nil, err
	}

	registry := o.registry
	if registry == nil {
		registry, err = transform.FromConfig(cfg)
		if err != nil {
			return nil, err
		}
	}

	executor, err := transform.NewExecutor(bc, registry, matcher, logger)
	if err != nil {
		return nil, err
	}

	metrics := o.metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	return &Pipeline{
		build:     bc,
		matcher:   matcher,
		executor:  executor,
		graph:     graph.NewBuilder(bc, matcher, logger),
		namer:     namer.New(bc.Mode()),
		optimizer: optimize.New(cfg.Optimization, bc.Workers(), logger),
		cache:     NewTransformCache(cfg.Build.CacheSize, 0),
		metrics:   metrics,
		logger:    logger.WithComponent("build"),
	}, nil
}

// Matcher returns the compiled rule list.
func (p *Pipeline) Matcher() *rules.Matcher { return p.matcher }

// Executor returns the resolved transform chains.
func (p *Pipeline) Executor() *transform.Executor { return p.executor }

// Metrics returns the build metrics.
func (p *Pipeline) Metrics() *Metrics { return p.metrics }

// Cache returns the transform cache.
func (p *Pipeline) Cache() *TransformCache { return p.cache }

// Context returns the Build Context.
func (p *Pipeline) Context() *config.BuildContext { return p.build }

// AddCallback registers a function called after each build.
func (p *Pipeline) AddCallback(cb Callback) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

// Graph builds the module graph only.
func (p *Pipeline) Graph(ctx context.Context) (*graph.Graph, error) {
	return p.graph.Build(ctx, p.build.Config().Source.Entries)
}

// Build computes a complete output set in memory. Fatal errors return a nil
// result. Optimization failures return the result without the failed chunks
// together with the combined OptimizationErrors.
func (p *Pipeline) Build(ctx context.Context) (*Result, error) {
	start := time.Now()
	result, err := p.run(ctx)
	duration := time.Since(start)
	if result != nil {
		result.Duration = duration
	}

	if ctx.Err() == nil {
		p.metrics.RecordBuild(duration, err)
	}
	if err != nil {
		p.logger.Error(ctx, err, "build failed", "duration", duration)
	} else {
		p.logger.Info(ctx, "build finished",
			"mode", p.build.Mode(), "files", len(result.Files), "duration", duration)
	}

	p.mutex.RLock()
	callbacks := append([]Callback(nil), p.callbacks...)
	p.mutex.RUnlock()
	for _, cb := range callbacks {
		cb(result, err)
	}

	return result, err
}

func (p *Pipeline) run(ctx context.Context) (*Result, error) {
	cfg := p.build.Config()

	g, err := p.Graph(ctx)
	if err != nil {
		return nil, err
	}

	modules := g.Modules()
	assets, err := p.nameAssets(modules)
	if err != nil {
		return nil, err
	}

	outputs, err := p.transformAll(ctx, g, modules, assets)
	if err != nil {
		return nil, err
	}

	linked := make(map[string]*linkedModule, len(modules))
	for _, m := range modules {
		lm, err := linkModule(g, m, outputs[m.Path], assets)
		if err != nil {
			return nil, errors.NewTransformError("link", m.ID, err)
		}
		linked[m.Path] = lm
	}

	result := &Result{
		Mode:       p.build.Mode(),
		Manifest:   Manifest{},
		Modules:    make(map[string]ModuleOutput, len(modules)),
		PublicPath: publicPath(cfg.Output.PublicPath),
		Graph:      g,
	}
	for _, m := range modules {
		lm := linked[m.Path]
		mo := ModuleOutput{
			ID:        m.ID,
			Chunk:     m.Chunk,
			Kind:      m.Kind,
			Code:      lm.code,
			CodeHash:  namer.Hash([]byte(lm.code)),
			HotAccept: lm.hot,
		}
		if len(lm.css) > 0 {
			mo.CSSHash = namer.Hash(lm.css)
		}
		result.Modules[m.ID] = mo
	}

	maps := cfg.Output.SourceMaps && !p.build.Production()
	bundles := make([]*chunkBundle, 0, len(g.Chunks))
	for _, chunk := range g.Chunks {
		bundles = append(bundles, assembleChunk(chunk, linked, maps))
	}

	files, failed, optErr := p.finish(ctx, bundles)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if files == nil && optErr != nil {
		return nil, optErr
	}
	result.Failed = failed

	if err := p.emitChunks(result, g, bundles, files); err != nil {
		return nil, err
	}

	for _, m := range modules {
		if a, ok := assets[m.Path]; ok {
			p.addFile(result, OutputFile{Path: a.File, Content: m.Source})
			result.Manifest[m.ID] = a.File
		}
	}

	if err := p.emitDocument(result); err != nil {
		if !errors.IsOptimizationError(err) {
			return nil, err
		}
		optErr = errors.Combine(optErr, err)
	}

	if cfg.Output.Manifest {
		data, err := result.Manifest.Encode()
		if err != nil {
			return nil, errors.NewInternalError("cannot encode manifest", err)
		}
		p.addFile(result, OutputFile{Path: ManifestFile, Content: data})
	}

	return result, optErr
}

// nameAssets names every asset module from its source bytes and rejects two
// different files landing on one output path.
func (p *Pipeline) nameAssets(modules []*graph.Module) (map[string]asset, error) {
	cfg := p.build.Config()
	pub := publicPath(cfg.Output.PublicPath)

	assets := make(map[string]asset)
	owners := make(map[string]*graph.Module)
	for _, m := range modules {
		if !m.Asset {
			continue
		}
		base := path.Base(m.ID)
		ext := path.Ext(base)
		name := p.namer.Name(cfg.Output.AssetFilename, namer.Vars{
			Name:  strings.TrimSuffix(base, ext),
			ID:    strings.TrimSuffix(m.ID, ext),
			Ext:   ext,
			Query: m.Query,
		}, m.Source)
		file, _ := graph.SplitQuery(name)

		if owner, ok := owners[file]; ok && string(owner.Source) != string(m.Source) {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("%s and %s are both emitted as %s", owner.ID, m.ID, file))
		}
		owners[file] = m
		assets[m.Path] = asset{Name: name, File: file, URL: pub + name}
	}
	return assets, nil
}

// transformAll runs every non-asset module through its chains on a bounded
// pool. The first failure cancels the rest.
func (p *Pipeline) transformAll(ctx context.Context, g *graph.Graph, modules []*graph.Module, assets map[string]asset) (map[string]*transform.Output, error) {
	var mutex sync.Mutex
	outputs := make(map[string]*transform.Output, len(modules))

	workers := pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(p.build.Workers())

	for _, m := range modules {
		if m.Asset {
			continue
		}
		content := m.Source
		if m.Kind == graph.KindMarkup {
			content = rewriteMarkup(content, markupURLs(m, assets))
		}

		workers.Go(func(ctx context.Context) error {
			out, err := p.transformModule(ctx, m, content)
			if err != nil {
				return err
			}
			mutex.Lock()
			outputs[m.Path] = out
			mutex.Unlock()
			return nil
		})
	}

	if err := workers.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return outputs, nil
}

func markupURLs(m *graph.Module, assets map[string]asset) map[string]string {
	urls := make(map[string]string)
	for _, dep := range m.Deps {
		if a, ok := assets[dep.Path]; ok {
			urls[dep.Specifier] = a.URL
		}
	}
	return urls
}

// transformModule returns the module's transformed output, from the cache
// when the same content went through the same chains before.
func (p *Pipeline) transformModule(ctx context.Context, m *graph.Module, content []byte) (*transform.Output, error) {
	if len(m.Rules) == 0 {
		return unmatchedOutput(m, content)
	}

	key := cacheKey(content, p.executor.Key(m.Rules), p.build.Mode(), m.ID)
	if out, ok := p.cache.Get(key); ok {
		p.metrics.RecordCache(true)
		return out, nil
	}
	p.metrics.RecordCache(false)

	out, err := p.executor.Run(ctx, m.Path, m.ID, content, m.Rules)
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, out)
	return out, nil
}

// unmatchedOutput handles modules no rule claims: scripts are used as
// written, style sheets and markup become their default module forms and
// JSON becomes a value export.
func unmatchedOutput(m *graph.Module, content []byte) (*transform.Output, error) {
	switch {
	case m.Kind == graph.KindStyle:
		return &transform.Output{Content: content, Exports: map[string]string{}}, nil
	case m.Kind == graph.KindMarkup:
		return &transform.Output{Content: []byte("module.exports = " + jsString(string(content)) + ";\n")}, nil
	case strings.EqualFold(path.Ext(m.Path), ".json"):
		if !json.Valid(content) {
			return nil, errors.NewTransformError("json", m.Path, fmt.Errorf("invalid JSON"))
		}
		return &transform.Output{Content: []byte("module.exports = " + strings.TrimSpace(string(content)) + ";\n")}, nil
	default:
		return &transform.Output{Content: content}, nil
	}
}

func cacheKey(content []byte, chains string, mode config.Mode, id string) string {
	h := sha256.New()
	h.Write(content)
	h.Write([]byte{0})
	h.Write([]byte(chains))
	h.Write([]byte{0})
	h.Write([]byte(mode))
	h.Write([]byte{0})
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil))
}

// finish turns chunk bundles into named-later files. In production the
// runtime is shared and every chunk is optimized; failed chunks are left
// out and reported.
func (p *Pipeline) finish(ctx context.Context, bundles []*chunkBundle) ([]optimize.File, []string, error) {
	files := make([]optimize.File, 0, 2*len(bundles))
	for _, b := range bundles {
		files = append(files, optimize.File{Chunk: b.name, Name: b.name + ".js", Content: b.js})
		if len(b.css) > 0 {
			files = append(files, optimize.File{Chunk: b.name, Name: b.name + ".css", Content: b.css})
		}
	}

	if !p.build.Production() {
		return files, nil, nil
	}

	cfg := p.build.Config()
	if cfg.Optimization.SharedRuntime && !p.hasEntry(optimize.RuntimeChunk) {
		var runtime *optimize.File
		files, runtime = optimize.ExtractRuntime(files, []byte(RuntimePrelude))
		if runtime != nil {
			files = append([]optimize.File{*runtime}, files...)
		}
	}

	res, err := p.optimizer.Optimize(ctx, files)
	if res == nil {
		return nil, nil, err
	}
	if len(res.Failed) > 0 {
		p.metrics.RecordOptimizeFailures(len(res.Failed))
	}
	for _, failed := range res.Failed {
		if failed == optimize.RuntimeChunk {
			// Every script chunk depends on the shared runtime.
			return nil, nil, err
		}
	}
	kept := append([]optimize.File{}, res.Files...)
	return kept, res.Failed, err
}

func (p *Pipeline) hasEntry(name string) bool {
	for _, e := range p.build.Config().Source.Entries {
		if e.Name == name {
			return true
		}
	}
	return false
}

// emitChunks names the chunk files and records them in the result.
func (p *Pipeline) emitChunks(result *Result, g *graph.Graph, bundles []*chunkBundle, files []optimize.File) error {
	cfg := p.build.Config()
	maps := make(map[string]*sourceMap, len(bundles))
	for _, b := range bundles {
		maps[b.name] = b.smap
	}

	chunks := make(map[string]*ChunkOutput)
	var order []string
	chunkFor := func(name string) *ChunkOutput {
		if c, ok := chunks[name]; ok {
			return c
		}
		c := &ChunkOutput{Name: name}
		if gc, ok := g.Chunk(name); ok {
			c.Requires = gc.Requires
		}
		chunks[name] = c
		order = append(order, name)
		return c
	}

	for _, f := range files {
		c := chunkFor(f.Chunk)
		vars := namer.Vars{Name: f.Chunk, ID: f.Chunk, Ext: f.Ext()}
		content := f.Content

		switch f.Ext() {
		case ".js":
			name := p.namer.Name(cfg.Output.Filename, vars, content)
			if smap := maps[f.Chunk]; smap != nil {
				smap.file = path.Base(name)
				data, err := json.Marshal(smap)
				if err != nil {
					return errors.NewInternalError("cannot encode source map", err)
				}
				content = append(append([]byte(nil), content...),
					[]byte("//# sourceMappingURL="+path.Base(name)+".map\n")...)
				c.SourceMap = name + ".map"
				p.addFile(result, OutputFile{Path: c.SourceMap, Chunk: f.Chunk, Content: data})
				result.Manifest[f.Chunk+".js.map"] = c.SourceMap
			}
			c.Script = name
			result.Manifest[f.Chunk+".js"] = name
			p.addFile(result, OutputFile{Path: name, Chunk: f.Chunk, Content: content})
			p.metrics.RecordOutput(f.Chunk, "js", len(content))
		case ".css":
			name := p.namer.Name(cfg.Output.CSSFilename, vars, content)
			c.Style = name
			result.Manifest[f.Chunk+".css"] = name
			p.addFile(result, OutputFile{Path: name, Chunk: f.Chunk, Content: content})
			p.metrics.RecordOutput(f.Chunk, "css", len(content))
		}
	}

	for _, name := range order {
		result.Chunks = append(result.Chunks, *chunks[name])
	}
	return nil
}

// emitDocument renders the HTML template with the chunk tags injected.
// A missing template is not an error; the build then has no document.
func (p *Pipeline) emitDocument(result *Result) error {
	cfg := p.build.Config()
	if cfg.Source.Template == "" {
		return nil
	}

	templatePath := filepath.Join(p.build.SourceRoot(), filepath.FromSlash(cfg.Source.Template))
	template, err := os.ReadFile(templatePath)
	if os.IsNotExist(err) {
		p.logger.Debug(context.Background(), "no HTML template", "path", templatePath)
		return nil
	}
	if err != nil {
		return errors.NewIOError(errors.ErrCodeReadFailed, templatePath, err)
	}

	var styles, scripts []string
	for _, c := range result.Chunks {
		if c.Style != "" {
			styles = append(styles, result.URL(c.Style))
		}
		if c.Script != "" {
			scripts = append(scripts, result.URL(c.Script))
		}
	}

	doc, err := InjectTags(template, styles, scripts)
	if err != nil {
		return errors.NewTransformError("html-template", templatePath, err)
	}

	name := path.Base(filepath.ToSlash(cfg.Source.Template))
	if p.build.Production() {
		doc, err = p.optimizer.File(optimize.File{Name: name, Content: doc})
		if err != nil {
			return errors.NewOptimizationError("document", name, err)
		}
	}

	result.Document = name
	result.Manifest[name] = name
	p.addFile(result, OutputFile{Path: name, Content: doc})
	return nil
}

func (p *Pipeline) addFile(result *Result, f OutputFile) {
	f.Size = len(f.Content)
	result.Files = append(result.Files, f)
}

// Write emits a result to the output root. With output.clean set, files
// recorded in the previous manifest and not produced again are removed.
func (p *Pipeline) Write(ctx context.Context, result *Result) error {
	root := p.build.OutputRoot()

	var previous Manifest
	if p.build.Config().Output.Clean {
		m, err := ReadManifest(root)
		if err != nil {
			return err
		}
		previous = m
	}

	if err := emit(root, result.Files, previous); err != nil {
		return err
	}
	p.logger.Debug(ctx, "output written", "root", root, "files", len(result.Files))
	return nil
}

func publicPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}
