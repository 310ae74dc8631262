package transform

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/tdewolff/parse/v2/css"

	"github.com/conneroisu/assetforge/internal/syntax"
)

// DefaultLocalIdentName is the scoped class template used when modules are
// enabled without an explicit local_ident_name.
const DefaultLocalIdentName = "[local]_[hash:base64:7]"

var identHash = regexp.MustCompile(`\[hash(?::(base64|hex))?(?::(\d+))?\]`)

// ScopeClasses rewrites class selectors in css to locally scoped names and
// returns the rewritten sheet with the local-to-scoped class map. Only
// selector preludes are touched; declarations, at-rule preludes, comments
// and strings are copied through unchanged.
func ScopeClasses(sheet []byte, id, pattern string) ([]byte, map[string]string) {
	classes := make(map[string]string)
	scope := func(local string) string {
		if s, ok := classes[local]; ok {
			return s
		}
		s := LocalIdent(pattern, id, local)
		classes[local] = s
		return s
	}

	var out bytes.Buffer
	out.Grow(len(sheet))
	var prelude []syntax.StyleToken

	flush := func(selector bool) {
		if selector {
			for _, tok := range prelude {
				if !tok.IsBlank() {
					selector = tok.Type != css.AtKeywordToken
					break
				}
			}
		}
		for i := 0; i < len(prelude); i++ {
			tok := prelude[i]
			if selector && tok.Type == css.DelimToken && string(tok.Data) == "." &&
				i+1 < len(prelude) && prelude[i+1].Type == css.IdentToken {
				out.WriteByte('.')
				out.WriteString(scope(string(prelude[i+1].Data)))
				i++
				continue
			}
			out.Write(tok.Data)
		}
		prelude = prelude[:0]
	}

	for _, tok := range syntax.LexStyle(sheet) {
		switch tok.Type {
		case css.LeftBraceToken:
			flush(true)
			out.Write(tok.Data)
		case css.RightBraceToken, css.SemicolonToken:
			flush(false)
			out.Write(tok.Data)
		default:
			prelude = append(prelude, tok)
		}
	}
	flush(false)

	return out.Bytes(), classes
}

// LocalIdent expands a scoped class template. Supported placeholders are
// [local], [name] (file base name without extensions) and
// [hash], [hash:N], [hash:base64:N], [hash:hex:N].
func LocalIdent(pattern, id, local string) string {
	sum := sha256.Sum256([]byte(id + "\x00" + local))

	out := identHash.ReplaceAllStringFunc(pattern, func(tok string) string {
		m := identHash.FindStringSubmatch(tok)
		encoding, length := m[1], 5
		if m[2] != "" {
			if n, err := strconv.Atoi(m[2]); err == nil && n > 0 {
				length = n
			}
		}
		var digest string
		if encoding == "hex" {
			digest = hex.EncodeToString(sum[:])
		} else {
			// Identifiers must not contain '+' or '/', and '-' is fine.
			digest = base64.RawURLEncoding.EncodeToString(sum[:])
		}
		if length > len(digest) {
			length = len(digest)
		}
		return digest[:length]
	})

	name := path.Base(id)
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}

	return strings.NewReplacer("[local]", local, "[name]", name).Replace(out)
}
