package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"

	"github.com/conneroisu/assetforge/internal/errors"
)

// Failure is one build error as shown to the browser.
type Failure struct {
	Type      string `json:"type"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Path      string `json:"path,omitempty"`
	Line      int    `json:"line,omitempty"`
	Transform string `json:"transform,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
}

// Location is the "path:line" form of the failure's position.
func (f Failure) Location() string {
	switch {
	case f.Path == "":
		return ""
	case f.Line > 0:
		return fmt.Sprintf("%s:%d", f.Path, f.Line)
	default:
		return f.Path
	}
}

func failuresOf(err error) []Failure {
	var out []Failure
	for _, pe := range errors.Flatten(err) {
		msg := pe.Message
		if pe.Cause != nil {
			msg += ": " + pe.Cause.Error()
		}
		out = append(out, Failure{
			Type:      string(pe.Type),
			Code:      pe.Code,
			Message:   msg,
			Path:      pe.Path,
			Line:      pe.Line,
			Transform: pe.Transform,
			Chunk:     pe.Chunk,
		})
	}
	return out
}

const overlayStyle = `position:fixed;inset:0;z-index:2147483647;overflow:auto;` +
	`background:rgba(20,20,24,.94);color:#f3f3f3;font:14px/1.5 ui-monospace,Menlo,Consolas,monospace;padding:32px`

// ErrorOverlay renders the list of build failures as a fixed overlay.
func ErrorOverlay(failures []Failure) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b bytes.Buffer
		b.WriteString(`<div id="__assetforge-overlay" style="` + overlayStyle + `">`)
		fmt.Fprintf(&b, `<h2 style="color:#ff6b6b;margin:0 0 16px">Build failed (%d %s)</h2>`,
			len(failures), plural(len(failures), "error", "errors"))
		for _, f := range failures {
			b.WriteString(`<section style="margin:0 0 20px;padding:12px 16px;border-left:4px solid #ff6b6b;background:#1d1d22">`)
			b.WriteString(`<div style="color:#ffb86c">` + templ.EscapeString(f.Type))
			if f.Code != "" {
				b.WriteString(` <span style="color:#8be9fd">` + templ.EscapeString(f.Code) + `</span>`)
			}
			if f.Transform != "" {
				b.WriteString(` in ` + templ.EscapeString(f.Transform))
			}
			b.WriteString(`</div>`)
			if loc := f.Location(); loc != "" {
				b.WriteString(`<div style="color:#bd93f9">` + templ.EscapeString(loc) + `</div>`)
			}
			b.WriteString(`<pre style="white-space:pre-wrap;margin:8px 0 0">` + templ.EscapeString(f.Message) + `</pre>`)
			b.WriteString(`</section>`)
		}
		b.WriteString(`</div>`)
		_, err := w.Write(b.Bytes())
		return err
	})
}

// ErrorPage is served in place of the document when no build has succeeded
// yet. It carries the live-reload client so the page recovers on its own.
func ErrorPage(failures []Failure, clientURL string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!doctype html><html><head><meta charset="utf-8"><title>Build failed</title></head><body>`); err != nil {
			return err
		}
		if err := ErrorOverlay(failures).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `<script src="`+templ.EscapeString(clientURL)+`"></script></body></html>`)
		return err
	})
}

func (s *Server) errorMessage(ctx context.Context, failures []Failure) Message {
	var overlay bytes.Buffer
	if err := ErrorOverlay(failures).Render(ctx, &overlay); err != nil {
		s.logger.Warn(ctx, err, "cannot render error overlay")
	}
	return Message{
		Type:    MessageBuildError,
		Errors:  failures,
		Overlay: overlay.String(),
		Time:    time.Now().UTC(),
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
