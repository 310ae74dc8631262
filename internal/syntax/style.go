package syntax

import (
	"bytes"
	"strings"

	"github.com/tdewolff/parse/v2/css"
)

// StyleToken is one lexical token of a style sheet.
type StyleToken struct {
	Type css.TokenType
	Data []byte
}

// LexStyle splits a style sheet into tokens. Blanks and comments are kept,
// so writing out every token's data reproduces the sheet.
func LexStyle(src []byte) []StyleToken {
	l := css.NewLexer(newInput(src))
	var toks []StyleToken
	for {
		tt, data := l.Next()
		if tt == css.ErrorToken {
			return toks
		}
		toks = append(toks, StyleToken{Type: tt, Data: data})
	}
}

// StyleImport is an @import rule covering toks[Start:End].
type StyleImport struct {
	Start, End int
	Specifier  string
}

// StyleImports finds the @import rules of a tokenized sheet.
func StyleImports(toks []StyleToken) []StyleImport {
	var out []StyleImport
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.Type != css.AtKeywordToken || !strings.EqualFold(string(t.Data), "@import") {
			continue
		}
		j := nextSignificant(toks, i+1)
		if j == len(toks) {
			break
		}
		var spec string
		switch toks[j].Type {
		case css.StringToken:
			spec = Unquote(toks[j].Data)
		case css.URLToken:
			spec = URLValue(toks[j].Data)
		default:
			continue
		}

		end := j + 1
		for end < len(toks) && toks[end].Type != css.SemicolonToken {
			end++
		}
		if end < len(toks) {
			end++
		}
		out = append(out, StyleImport{Start: i, End: end, Specifier: spec})
		i = end - 1
	}
	return out
}

// URLValue returns the address inside a url() token.
func URLValue(data []byte) string {
	s := string(data)
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, ")"))
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return Unquote([]byte(s))
	}
	return s
}

// IsBlank reports whether t is whitespace or a comment.
func (t StyleToken) IsBlank() bool {
	return t.Type == css.WhitespaceToken || t.Type == css.CommentToken
}

// HasNewline reports whether the token spans a line break.
func (t StyleToken) HasNewline() bool {
	return bytes.IndexByte(t.Data, '\n') >= 0
}

func nextSignificant(toks []StyleToken, i int) int {
	for i < len(toks) && toks[i].IsBlank() {
		i++
	}
	return i
}
