// Package namer computes output file names from name templates.
//
// Templates use bracket placeholders: [name], [id], [ext], [query],
// [contenthash] and [contenthash:N] ([hash] is accepted as an alias). In
// development mode every hash placeholder is removed together with one
// preceding dot, so names stay stable across rebuilds. In production the
// placeholder becomes a truncated SHA-256 digest of the final bytes.
package namer

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"

	"github.com/conneroisu/assetforge/internal/config"
)

// DefaultHashLength is the number of hex digits kept from the digest.
const DefaultHashLength = 20

var hashToken = regexp.MustCompile(`\.?\[(?:contenthash|hash)(?::(\d+))?\]`)

// Namer is safe for concurrent use; it holds no mutable state.
type Namer struct {
	mode config.Mode
}

// New returns a namer for the given build mode.
func New(mode config.Mode) *Namer {
	return &Namer{mode: mode}
}

// Vars are the placeholder values for a single name.
type Vars struct {
	Name  string
	ID    string
	Ext   string // including the leading dot
	Query string
}

// Hash returns the full hex SHA-256 digest of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the digest truncated to n hex digits.
func ShortHash(content []byte, n int) string {
	h := Hash(content)
	if n <= 0 || n > len(h) {
		n = DefaultHashLength
	}
	return h[:n]
}

// Name expands template for content. The result uses forward slashes.
func (n *Namer) Name(template string, vars Vars, content []byte) string {
	out := hashToken.ReplaceAllStringFunc(template, func(tok string) string {
		if n.mode != config.ModeProduction {
			return ""
		}
		length := DefaultHashLength
		if m := hashToken.FindStringSubmatch(tok); m != nil && m[1] != "" {
			if v, err := strconv.Atoi(m[1]); err == nil {
				length = v
			}
		}
		prefix := ""
		if strings.HasPrefix(tok, ".") {
			prefix = "."
		}
		return prefix + ShortHash(content, length)
	})

	id := vars.ID
	if id == "" {
		id = vars.Name
	}

	replacer := strings.NewReplacer(
		"[name]", vars.Name,
		"[id]", id,
		"[ext]", vars.Ext,
		"[query]", vars.Query,
	)
	return replacer.Replace(out)
}

// HasHash reports whether template contains a hash placeholder.
func HasHash(template string) bool {
	return hashToken.MatchString(template)
}
