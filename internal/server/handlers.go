package server

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conneroisu/assetforge/internal/build"
	"github.com/conneroisu/assetforge/internal/validation"
	"github.com/conneroisu/assetforge/internal/version"
)

const (
	clientPath = "/__assetforge/client.js"
	hotPath    = "/__assetforge/hot"
)

//go:embed client.js
var clientScript []byte

// Handler returns the HTTP handler serving the current build.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc(clientPath, s.handleClient)
	mux.HandleFunc(hotPath, s.handleHot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/build/status", s.handleBuildStatus)
	mux.HandleFunc("/api/build/cache", s.handleBuildCache)
	mux.Handle("/metrics", promhttp.HandlerFor(s.pipeline.Metrics().Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", s.handleAsset)
	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// handleAsset serves output files, then static files, then the document for
// extensionless paths when history fallback is on.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result := s.current.Load()
	if result == nil {
		s.serveWithoutBuild(w, r)
		return
	}

	if rel, ok := outputPath(result.PublicPath, r.URL.Path); ok {
		if rel == "" {
			rel = result.Document
		}
		if f, found := result.File(rel); found && rel != "" {
			s.serveContent(w, r, rel, f.Content)
			return
		}
	}

	if s.serveStatic(w, r) {
		return
	}

	if s.cfg.Server.HistoryFallback && result.Document != "" && path.Ext(r.URL.Path) == "" {
		if f, found := result.File(result.Document); found {
			s.serveContent(w, r, result.Document, f.Content)
			return
		}
	}

	http.NotFound(w, r)
}

// serveWithoutBuild answers before the first good build: document requests
// get the error page, everything else a retryable status.
func (s *Server) serveWithoutBuild(w http.ResponseWriter, r *http.Request) {
	failures := s.Failures()
	if failures == nil || path.Ext(r.URL.Path) != "" {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "Build in progress", http.StatusServiceUnavailable)
		return
	}

	var page bytes.Buffer
	if err := ErrorPage(failures, clientPath).Render(r.Context(), &page); err != nil {
		http.Error(w, "Build failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write(page.Bytes())
}

// outputPath maps a request path to an output path under the public path.
// An absolute public URL contributes only its path.
func outputPath(publicPath, requestPath string) (string, bool) {
	prefix := publicPath
	if u, err := url.Parse(publicPath); err == nil && u.Host != "" {
		prefix = u.Path
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	clean := path.Clean("/" + requestPath)
	if clean+"/" == prefix {
		return "", true
	}
	if !strings.HasPrefix(clean, prefix) {
		return "", false
	}
	return strings.TrimPrefix(clean, prefix), true
}

func (s *Server) serveContent(w http.ResponseWriter, r *http.Request, name string, content []byte) {
	if isMarkup(name) {
		injected, err := build.InjectTags(content, nil, []string{clientPath})
		if err != nil {
			s.logger.Warn(r.Context(), err, "cannot inject live-reload client", "file", name)
		} else {
			content = injected
		}
	}

	w.Header().Set("Cache-Control", "no-cache")
	if ct := contentType(name); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	// A zero modtime disables conditional requests against stale builds.
	http.ServeContent(w, r, path.Base(name), time.Time{}, bytes.NewReader(content))
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) bool {
	if s.staticDir == "" {
		return false
	}
	rel := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if rel == "" {
		return false
	}
	target, err := validation.WithinRoot(s.staticDir, filepath.FromSlash(rel))
	if err != nil {
		return false
	}

	f, err := os.Open(target)
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}

	w.Header().Set("Cache-Control", "no-cache")
	if ct := contentType(info.Name()); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return true
}

func isMarkup(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", ".htm":
		return true
	}
	return false
}

func contentType(name string) string {
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".map":
		return "application/json"
	case ".js", ".mjs":
		return "text/javascript; charset=utf-8"
	default:
		return mime.TypeByExtension(ext)
	}
}

func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(clientScript)
}

// handleHot serves the update script for one hot-accepting module.
func (s *Server) handleHot(w http.ResponseWriter, r *http.Request) {
	result := s.current.Load()
	if result == nil {
		http.Error(w, "Build in progress", http.StatusServiceUnavailable)
		return
	}

	id := r.URL.Query().Get("id")
	code, ok := result.HotUpdate(id)
	if !ok {
		http.Error(w, "No hot update for "+id, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(code))
}

// handleHealth returns the server health status for health checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	buildStatus := "healthy"
	if s.Failures() != nil {
		buildStatus = "failing"
	}

	s.writeJSON(r.Context(), w, map[string]interface{}{
		"status":     "healthy",
		"timestamp":  time.Now().UTC(),
		"version":    version.Short(),
		"build_info": version.Info(),
		"checks": map[string]interface{}{
			"server":  map[string]interface{}{"status": "healthy", "state": s.State().String()},
			"build":   map[string]interface{}{"status": buildStatus},
			"clients": map[string]interface{}{"connected": s.hub.Clients()},
		},
	})
}

// handleBuildStatus reports the served build, the latest errors and the
// pipeline's metrics.
func (s *Server) handleBuildStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	failures := s.Failures()
	status := "healthy"
	switch {
	case failures != nil:
		status = "error"
	case s.current.Load() == nil:
		status = "building"
	}

	metrics := s.pipeline.Metrics().Snapshot()
	cache := s.pipeline.Cache().Stats()
	response := map[string]interface{}{
		"status":         status,
		"state":          s.State().String(),
		"mode":           s.pipeline.Context().Mode(),
		"errors":         failures,
		"metrics":        metrics,
		"success_rate":   metrics.SuccessRate(),
		"cache":          cache,
		"cache_hit_rate": cache.HitRate(),
		"timestamp":      time.Now().Unix(),
	}
	if result := s.current.Load(); result != nil {
		response["build"] = map[string]interface{}{
			"chunks":   result.Chunks,
			"files":    len(result.Files),
			"document": result.Document,
			"failed":   result.Failed,
			"duration": result.Duration.String(),
		}
	}
	s.writeJSON(r.Context(), w, response)
}

// handleBuildCache reports or clears the transform cache.
func (s *Server) handleBuildCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(r.Context(), w, map[string]interface{}{
			"cache":     s.pipeline.Cache().Stats(),
			"timestamp": time.Now().Unix(),
		})
	case http.MethodDelete:
		s.pipeline.Cache().Clear()
		s.writeJSON(r.Context(), w, map[string]interface{}{
			"message":   "Cache cleared successfully",
			"timestamp": time.Now().Unix(),
		})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(ctx, err, "cannot encode response")
	}
}
