// Package syntax reads scripts and style sheets with the tdewolff parsers
// and reports the parts the pipeline rewrites together with their byte
// spans: module statements, require and import calls, style sheet tokens.
package syntax

import (
	"fmt"
	"io"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"
)

// StatementKind classifies a top-level module statement.
type StatementKind int

const (
	// Import is an import declaration. The span covers the statement.
	Import StatementKind = iota
	// ExportList is an export clause or a re-export. The span covers the
	// statement.
	ExportList
	// ExportDecl exports a declaration. The span covers the export keyword
	// and the blank up to the declaration.
	ExportDecl
	// ExportDefault exports a value as default. The span covers the two
	// keywords and the blank up to the value.
	ExportDefault
)

// Statement is a top-level import or export with its byte span.
type Statement struct {
	Kind       StatementKind
	Start, End int
	Import     *js.ImportStmt
	Export     *js.ExportStmt
}

// Call is a require or import call whose only argument is a string literal.
type Call struct {
	Start, End int
	Specifier  string
	Dynamic    bool
}

// Script is the module syntax of a script, in source order.
type Script struct {
	Statements []Statement
	Calls      []Call
}

// token is a significant lexical token; blanks and comments are dropped.
type token struct {
	tt         js.TokenType
	start, end int
}

// ParseScript parses src as a module. Statement contents come from the
// syntax tree; the token stream locates them in src.
func ParseScript(src []byte) (*Script, error) {
	ast, err := js.Parse(newInput(src), js.Options{})
	if err != nil {
		return nil, err
	}
	var imports []*js.ImportStmt
	var exports []*js.ExportStmt
	for _, stmt := range ast.List {
		switch s := stmt.(type) {
		case *js.ImportStmt:
			imports = append(imports, s)
		case *js.ExportStmt:
			exports = append(exports, s)
		}
	}

	toks, err := lexScript(src)
	if err != nil {
		return nil, err
	}

	script := &Script{}
	depth := 0
	for i, t := range toks {
		switch t.tt {
		case js.OpenBraceToken, js.OpenParenToken, js.OpenBracketToken, js.TemplateStartToken:
			depth++
			continue
		case js.CloseBraceToken, js.CloseParenToken, js.CloseBracketToken, js.TemplateEndToken:
			depth--
			continue
		}

		if call, ok := callAt(src, toks, i); ok {
			script.Calls = append(script.Calls, call)
			continue
		}
		if depth != 0 {
			continue
		}

		switch t.tt {
		case js.ImportToken:
			if next := kindAt(toks, i+1); next == js.OpenParenToken || next == js.DotToken {
				continue
			}
			if len(imports) == 0 {
				return nil, fmt.Errorf("import at offset %d is not in the syntax tree", t.start)
			}
			script.Statements = append(script.Statements, Statement{
				Kind:   Import,
				Start:  t.start,
				End:    importEnd(toks, i),
				Import: imports[0],
			})
			imports = imports[1:]

		case js.ExportToken:
			if len(exports) == 0 {
				return nil, fmt.Errorf("export at offset %d is not in the syntax tree", t.start)
			}
			stmt := Statement{Start: t.start, Export: exports[0]}
			exports = exports[1:]
			switch kindAt(toks, i+1) {
			case js.MulToken, js.OpenBraceToken:
				stmt.Kind = ExportList
				stmt.End = exportListEnd(toks, i)
			case js.DefaultToken:
				stmt.Kind = ExportDefault
				stmt.End = startAt(toks, i+2, toks[i+1].end)
			default:
				stmt.Kind = ExportDecl
				stmt.End = startAt(toks, i+1, t.end)
			}
			script.Statements = append(script.Statements, stmt)
		}
	}

	if len(imports) != 0 || len(exports) != 0 {
		return nil, fmt.Errorf("%d module statements were not located", len(imports)+len(exports))
	}
	return script, nil
}

// lexScript returns the significant tokens of src with their offsets. A
// slash starts a regular expression unless it follows an operand.
func lexScript(src []byte) ([]token, error) {
	l := js.NewLexer(newInput(src))
	var toks []token
	offset := 0
	prev := js.ErrorToken
	for {
		tt, data := l.Next()
		if tt == js.ErrorToken {
			if err := l.Err(); err != nil && err != io.EOF {
				return nil, err
			}
			return toks, nil
		}
		if (tt == js.DivToken || tt == js.DivEqToken) && !endsOperand(prev) {
			if tt, data = l.RegExp(); tt == js.ErrorToken {
				return nil, l.Err()
			}
		}

		start := offset
		offset += len(data)
		switch tt {
		case js.WhitespaceToken, js.LineTerminatorToken, js.CommentToken, js.CommentLineTerminatorToken:
			continue
		}
		toks = append(toks, token{tt: tt, start: start, end: offset})
		prev = tt
	}
}

func endsOperand(tt js.TokenType) bool {
	if js.IsIdentifier(tt) || js.IsNumeric(tt) {
		return true
	}
	switch tt {
	case js.StringToken, js.RegExpToken, js.TemplateToken, js.TemplateEndToken,
		js.PrivateIdentifierToken, js.CloseParenToken, js.CloseBracketToken, js.CloseBraceToken,
		js.ThisToken, js.SuperToken, js.TrueToken, js.FalseToken, js.NullToken,
		js.IncrToken, js.DecrToken:
		return true
	}
	return false
}

func callAt(src []byte, toks []token, i int) (Call, bool) {
	t := toks[i]
	dynamic := false
	switch {
	case t.tt == js.ImportToken:
		dynamic = true
	case t.tt == js.IdentifierToken && string(src[t.start:t.end]) == "require":
		if prev := kindAt(toks, i-1); prev == js.DotToken || prev == js.OptChainToken {
			return Call{}, false
		}
	default:
		return Call{}, false
	}
	if kindAt(toks, i+1) != js.OpenParenToken || kindAt(toks, i+2) != js.StringToken || kindAt(toks, i+3) != js.CloseParenToken {
		return Call{}, false
	}
	arg := toks[i+2]
	return Call{
		Start:     t.start,
		End:       toks[i+3].end,
		Specifier: Unquote(src[arg.start:arg.end]),
		Dynamic:   dynamic,
	}, true
}

// Chain is a dotted member expression such as module.hot.accept. Ends holds
// the offset just past each name.
type Chain struct {
	Start int
	Names []string
	Ends  []int
}

// MemberChains finds member expressions starting with the identifier root.
// Strings, comments and property accesses such as x.root are skipped.
func MemberChains(src []byte, root string) ([]Chain, error) {
	toks, err := lexScript(src)
	if err != nil {
		return nil, err
	}

	var out []Chain
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if !js.IsIdentifier(t.tt) || string(src[t.start:t.end]) != root {
			continue
		}
		if prev := kindAt(toks, i-1); prev == js.DotToken || prev == js.OptChainToken {
			continue
		}

		c := Chain{Start: t.start, Names: []string{root}, Ends: []int{t.end}}
		j := i + 1
		for kindAt(toks, j) == js.DotToken && j+1 < len(toks) && js.IsIdentifierName(toks[j+1].tt) {
			name := toks[j+1]
			c.Names = append(c.Names, string(src[name.start:name.end]))
			c.Ends = append(c.Ends, name.end)
			j += 2
		}
		out = append(out, c)
		i = j - 1
	}
	return out, nil
}

// importEnd returns the end of the import statement starting at toks[i].
func importEnd(toks []token, i int) int {
	j := i + 1
	if kindAt(toks, j) != js.StringToken {
		j = moduleAfterFrom(toks, j)
	}
	return withSemicolon(toks, j)
}

// exportListEnd returns the end of the export clause starting at toks[i].
func exportListEnd(toks []token, i int) int {
	j := i + 1
	if toks[j].tt == js.OpenBraceToken {
		for j < len(toks) && toks[j].tt != js.CloseBraceToken {
			j++
		}
		if kindAt(toks, j+1) != js.FromToken {
			return withSemicolon(toks, j)
		}
		j++
	}
	return withSemicolon(toks, moduleAfterFrom(toks, j))
}

// moduleAfterFrom returns the index of the module string following the
// first from keyword outside braces, starting at toks[j].
func moduleAfterFrom(toks []token, j int) int {
	braces := 0
	for ; j < len(toks); j++ {
		switch toks[j].tt {
		case js.OpenBraceToken:
			braces++
		case js.CloseBraceToken:
			braces--
		case js.FromToken:
			if braces == 0 {
				return j + 1
			}
		}
	}
	return len(toks) - 1
}

func withSemicolon(toks []token, j int) int {
	if j >= len(toks) {
		j = len(toks) - 1
	}
	if kindAt(toks, j+1) == js.SemicolonToken {
		return toks[j+1].end
	}
	return toks[j].end
}

func kindAt(toks []token, i int) js.TokenType {
	if i < 0 || i >= len(toks) {
		return js.ErrorToken
	}
	return toks[i].tt
}

func startAt(toks []token, i, fallback int) int {
	if i < len(toks) {
		return toks[i].start
	}
	return fallback
}

// DeclaredNames returns the names bound by an exported declaration,
// including every name of a destructuring pattern.
func DeclaredNames(decl js.IExpr) []string {
	switch d := decl.(type) {
	case *js.VarDecl:
		var names []string
		for _, el := range d.List {
			names = bindingNames(el.Binding, names)
		}
		return names
	case *js.FuncDecl:
		if d.Name != nil {
			return []string{string(d.Name.Data)}
		}
	case *js.ClassDecl:
		if d.Name != nil {
			return []string{string(d.Name.Data)}
		}
	}
	return nil
}

func bindingNames(b js.IBinding, names []string) []string {
	switch b := b.(type) {
	case *js.Var:
		names = append(names, string(b.Data))
	case *js.BindingArray:
		for _, el := range b.List {
			names = bindingNames(el.Binding, names)
		}
		names = bindingNames(b.Rest, names)
	case *js.BindingObject:
		for _, item := range b.List {
			names = bindingNames(item.Value.Binding, names)
		}
		if b.Rest != nil {
			names = append(names, string(b.Rest.Data))
		}
	}
	return names
}

// Unquote returns the value of a string literal as written in source.
func Unquote(lit []byte) string {
	if len(lit) < 2 {
		return string(lit)
	}
	body := string(lit[1 : len(lit)-1])
	if !strings.Contains(body, `\`) {
		return body
	}
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 == len(body) {
			b.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\n':
			// line continuation
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String()
}

// newInput copies b so the parsers may write their terminator past its end.
func newInput(b []byte) *parse.Input {
	buf := make([]byte, len(b), len(b)+1)
	copy(buf, b)
	return parse.NewInputBytes(buf)
}
