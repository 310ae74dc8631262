// Package server is the development server. It keeps the last good build in
// memory, serves it over HTTP, rebuilds when sources change and pushes the
// outcome to open pages over a websocket.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/assetforge/internal/build"
	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/logging"
	"github.com/conneroisu/assetforge/internal/validation"
	"github.com/conneroisu/assetforge/internal/watcher"
)

// State is the server's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateServing
	StateRebuilding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateServing:
		return "serving"
	case StateRebuilding:
		return "rebuilding"
	default:
		return "unknown"
	}
}

// Server serves the in-memory output of a build pipeline.
type Server struct {
	cfg       *config.Config
	pipeline  *build.Pipeline
	logger    logging.Logger
	staticDir string
	hub       *hub

	// current is the last good build; requests never wait for a rebuild.
	current  atomic.Pointer[build.Result]
	failures atomic.Pointer[[]Failure]
	state    atomic.Int32

	// generation orders rebuilds so only the newest one publishes.
	generation atomic.Uint64
	publish    sync.Mutex

	changes chan struct{}

	serverMutex  sync.RWMutex
	httpServer   *http.Server
	addr         string
	shutdownOnce sync.Once

	openBrowser func(url string) error
}

// New creates a server for pipeline. Nothing runs until Start.
func New(pipeline *build.Pipeline, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	cfg := pipeline.Context().Config()

	var static string
	if cfg.Source.Static != "" {
		abs, err := filepath.Abs(cfg.Source.Static)
		if err != nil {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "cannot resolve static directory").
				WithPath(cfg.Source.Static).WithCause(err)
		}
		static = abs
	}

	logger = logger.WithComponent("server")
	return &Server{
		cfg:         cfg,
		pipeline:    pipeline,
		logger:      logger,
		staticDir:   static,
		hub:         newHub(logger),
		changes:     make(chan struct{}, 1),
		openBrowser: launchBrowser,
	}, nil
}

// State returns the current lifecycle state.
func (s *Server) State() State { return State(s.state.Load()) }

// Current returns the build being served, or nil before the first success.
func (s *Server) Current() *build.Result { return s.current.Load() }

// Failures returns the errors of the latest build, if it failed.
func (s *Server) Failures() []Failure {
	if f := s.failures.Load(); f != nil {
		return *f
	}
	return nil
}

// Addr returns the listening address once Start is serving.
func (s *Server) Addr() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	return s.addr
}

// Start runs the initial build, watches the source root and serves HTTP
// until ctx is done. A failed initial build is not fatal: the server shows
// the error overlay and recovers on the next good build.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run(ctx)

	if _, err := s.Rebuild(ctx); err != nil {
		s.logger.Warn(ctx, err, "initial build failed")
	}

	fw, err := s.setupWatcher(ctx)
	if err != nil {
		return err
	}
	defer fw.Stop()

	go s.rebuildLoop(ctx)

	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.addr = listener.Addr().String()
	srv := s.httpServer
	s.serverMutex.Unlock()

	url := "http://" + s.addr
	s.logger.Info(ctx, "dev server listening", "url", url, "mode", s.pipeline.Context().Mode())
	if s.cfg.Server.Open {
		go func() {
			if err := s.openBrowser(url); err != nil {
				s.logger.Warn(ctx, err, "cannot open browser", "url", url)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(listener) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// Shutdown stops the HTTP server. Websocket clients are closed when the
// hub's context ends.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "shutting down dev server")
		s.serverMutex.RLock()
		srv := s.httpServer
		s.serverMutex.RUnlock()
		if srv != nil {
			shutdownErr = srv.Shutdown(ctx)
		}
		s.state.Store(int32(StateIdle))
	})
	return shutdownErr
}

func (s *Server) setupWatcher(ctx context.Context) (*watcher.FileWatcher, error) {
	bc := s.pipeline.Context()
	fw, err := watcher.New(bc.SourceRoot(), s.cfg.Server.Debounce, s.logger)
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	fw.AddFilter(watcher.NoNodeModulesFilter)
	fw.AddFilter(watcher.NoGitFilter)
	fw.AddFilter(watcher.NoEditorTempFilter)
	fw.AddFilter(watcher.ExcludeDirFilter(bc.OutputRoot()))
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		s.Notify(ctx, watcher.Paths(events))
		return nil
	})

	if err := fw.AddRecursive(bc.SourceRoot()); err != nil {
		fw.Stop()
		return nil, fmt.Errorf("watch %s: %w", bc.SourceRoot(), err)
	}
	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return nil, fmt.Errorf("start file watcher: %w", err)
	}
	return fw, nil
}

// Notify schedules a rebuild for changed paths. Notifications arriving
// while one is pending are merged into it.
func (s *Server) Notify(ctx context.Context, paths []string) {
	if current := s.current.Load(); current != nil && current.Graph != nil {
		s.logger.Info(ctx, "sources changed",
			"files", len(paths), "chunks", current.Graph.Affected(paths))
	} else {
		s.logger.Info(ctx, "sources changed", "files", len(paths))
	}

	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// rebuildLoop starts a build per change notification. A newer change
// cancels the build in flight.
func (s *Server) rebuildLoop(ctx context.Context) {
	var cancel context.CancelFunc
	defer func() {
		if cancel != nil {
			cancel()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.changes:
			if cancel != nil {
				cancel()
			}
			var buildCtx context.Context
			buildCtx, cancel = context.WithCancel(ctx)
			gen := s.generation.Add(1)
			go func() {
				if _, err := s.rebuild(buildCtx, gen); err != nil && buildCtx.Err() == nil {
					s.logger.Warn(ctx, err, "rebuild failed")
				}
			}()
		}
	}
}

// Rebuild runs one build and publishes its outcome to the server and every
// open page. A build cancelled or overtaken by a newer one publishes
// nothing.
func (s *Server) Rebuild(ctx context.Context) (*build.Result, error) {
	return s.rebuild(ctx, s.generation.Add(1))
}

// rebuild runs the build numbered gen. Numbers are taken in request order,
// before the build starts, so a late-starting older build cannot overtake a
// newer one.
func (s *Server) rebuild(ctx context.Context, gen uint64) (*build.Result, error) {
	s.state.Store(int32(StateRebuilding))

	result, err := s.pipeline.Build(ctx)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.publish.Lock()
	defer s.publish.Unlock()
	if gen != s.generation.Load() {
		return result, err
	}
	s.state.Store(int32(StateServing))

	if result == nil {
		s.fail(ctx, err)
		return nil, err
	}
	s.succeed(ctx, result)
	if err != nil {
		// Optimization failures still publish the chunks that survived.
		s.fail(ctx, err)
	}
	return result, err
}

func (s *Server) succeed(ctx context.Context, result *build.Result) {
	prev := s.current.Swap(result)
	s.failures.Store(nil)

	change := build.Compare(prev, result)
	if change.Kind == build.ChangeHot && !s.cfg.Server.Hot {
		change.Kind = build.ChangeReload
	}
	s.logger.Debug(ctx, "build published", "change", change.Kind.String(), "modules", change.Modules)

	msg := Message{Duration: result.Duration.String()}
	if change.StylesChanged {
		msg.Styles = result.Styles()
	}
	switch change.Kind {
	case build.ChangeReload:
		msg.Type = MessageFullReload
	case build.ChangeHot:
		msg.Type = MessageHotUpdate
		msg.Modules = change.Modules
	case build.ChangeCSS:
		msg.Type = MessageCSSUpdate
	default:
		msg.Type = MessageBuildSuccess
	}
	s.hub.Broadcast(msg)
}

func (s *Server) fail(ctx context.Context, err error) {
	failures := failuresOf(err)
	s.failures.Store(&failures)
	s.hub.Broadcast(s.errorMessage(ctx, failures))
}

// launchBrowser opens url with the platform's default handler.
func launchBrowser(url string) error {
	if err := validation.ValidateBrowserURL(url); err != nil {
		return err
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		return fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
	return cmd.Start()
}
