// Package token implements the UTF-8-aware tokenizer: source bytes in,
// a flat token record array out. It is exposed standalone (not just as a
// compiler-internal stage) because the metacircular API lets scripts call
// tokens_parse/tokens_to_source directly on arbitrary source text.
package token

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Kind identifies a token's lexical class. String-typed, matching the
// teacher's token-kind idiom, since scripts compare kinds by name via the
// metacircular API rather than a closed Go enum.
type Kind string

const (
	KindIdent    Kind = "IDENT"
	KindFuncRef  Kind = "FUNC_REF" // ident#digits
	KindInt      Kind = "INT"
	KindFloat    Kind = "FLOAT"
	KindChar     Kind = "CHAR"
	KindString   Kind = "STRING"
	KindSymbol   Kind = "SYMBOL"
	KindKeyword  Kind = "KEYWORD"
	KindUnknown  Kind = "UNKNOWN" // ignore_errors mode only
	KindEOF      Kind = "EOF"
)

var keywords = map[string]bool{
	"function": true, "var": true, "const": true, "if": true, "else": true,
	"for": true, "foreach": true, "in": true, "do": true, "while": true,
	"break": true, "continue": true, "return": true, "switch": true,
	"case": true, "default": true, "use": true, "import": true, "null": true,
	"true": true, "false": true, "macro": true, "const_expr": true,
}

// symbols is the recognized operator/punctuation set, longest lexeme
// first within each starting byte so the scanner can greedily match.
var symbols = []string{
	"<<=", ">>=", "===", "!==",
	"<<", ">>", "<=", ">=", "==", "!=", "&&", "||", "+=", "-=", "*=", "/=",
	"%=", "&=", "|=", "^=", "++", "--", "->",
	"(", ")", "{", "}", "[", "]", ",", ";", ":", ".", "=", "+", "-", "*",
	"/", "%", "!", "<", ">", "&", "|", "^", "~", "?", "@", "#",
}

// Token is one lexical unit. Line is 1-based. IntValue/FloatValue/
// StringValue/CharValue hold the decoded literal payload for their
// respective Kind; Text always holds the raw source slice (used for
// identifiers, keywords, symbols, and round-tripping via ToSource).
type Token struct {
	Kind        Kind
	Text        string
	Line        int
	IntValue    int32
	FloatValue  float32
	StringValue string
	CharValue   rune
	// Offset/Length locate the token in the source byte slice it was
	// scanned from, the fields a flat token-record array exposes to
	// user-mode code (tokens_parse) alongside Kind/Line.
	Offset int
	Length int
}

// Options controls tokenizer leniency.
type Options struct {
	// IgnoreErrors makes malformed input (bad escapes, an unrecognized
	// byte) produce a KindUnknown token instead of aborting; invalid UTF-8
	// is read as U+FFFD in either mode. This is
	// so a best-effort token stream can still be returned to scripts that
	// ask for it (spec's ignore_errors mode).
	IgnoreErrors bool
}

// Tokenize scans src into a flat token array, terminated by a KindEOF
// token. Invalid UTF-8 sequences are replaced with U+FFFD.
func Tokenize(src string, opts Options) ([]Token, error) {
	t := &tokenizer{src: src, opts: opts, line: 1}
	var out []Token
	for {
		tok, err := t.next()
		if err != nil {
			return out, err
		}
		out = append(out, tok)
		if tok.Kind == KindEOF {
			return out, nil
		}
	}
}

type tokenizer struct {
	src  string
	pos  int
	line int
	opts Options
}

func (t *tokenizer) peekByte() byte {
	if t.pos >= len(t.src) {
		return 0
	}
	return t.src[t.pos]
}

func (t *tokenizer) peekRune() (rune, int) {
	if t.pos >= len(t.src) {
		return 0, 0
	}
	r, size := utf8.DecodeRuneInString(t.src[t.pos:])
	if r == utf8.RuneError && size <= 1 {
		return 0xFFFD, 1
	}
	return r, size
}

func (t *tokenizer) skipSpaceAndComments() {
	for t.pos < len(t.src) {
		switch {
		case t.src[t.pos] == '\n':
			t.line++
			t.pos++
		case t.src[t.pos] == ' ' || t.src[t.pos] == '\t' || t.src[t.pos] == '\r':
			t.pos++
		case strings.HasPrefix(t.src[t.pos:], "//"):
			for t.pos < len(t.src) && t.src[t.pos] != '\n' {
				t.pos++
			}
		case strings.HasPrefix(t.src[t.pos:], "/*"):
			t.pos += 2
			for t.pos < len(t.src) && !strings.HasPrefix(t.src[t.pos:], "*/") {
				if t.src[t.pos] == '\n' {
					t.line++
				}
				t.pos++
			}
			t.pos += 2
		default:
			return
		}
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r > 0x7F
}

func isIdentCont(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}

func (t *tokenizer) next() (Token, error) {
	t.skipSpaceAndComments()
	line := t.line
	start := t.pos
	if t.pos >= len(t.src) {
		return Token{Kind: KindEOF, Line: line, Offset: start}, nil
	}

	var tok Token
	var err error
	r, size := t.peekRune()
	switch {
	case r >= '0' && r <= '9':
		tok, err = t.scanNumber(line)
	case isIdentStart(r):
		tok, err = t.scanIdentOrFuncRef(line)
	case r == '"':
		tok, err = t.scanString(line)
	case r == '\'':
		tok, err = t.scanChar(line)
	default:
		_ = size
		tok, err = t.scanSymbol(line)
	}
	if err != nil {
		return tok, err
	}
	tok.Offset = start
	tok.Length = t.pos - start
	return tok, nil
}

func (t *tokenizer) scanIdentOrFuncRef(line int) (Token, error) {
	start := t.pos
	for t.pos < len(t.src) {
		r, size := t.peekRune()
		if !isIdentCont(r) {
			break
		}
		t.pos += size
	}
	name := t.src[start:t.pos]
	if t.peekByte() == '#' {
		digitsStart := t.pos + 1
		p := digitsStart
		for p < len(t.src) && t.src[p] >= '0' && t.src[p] <= '9' {
			p++
		}
		if p > digitsStart {
			text := t.src[start:p]
			n, _ := strconv.Atoi(t.src[digitsStart:p])
			t.pos = p
			return Token{Kind: KindFuncRef, Text: text, Line: line, IntValue: int32(n)}, nil
		}
	}
	if keywords[name] {
		return Token{Kind: KindKeyword, Text: name, Line: line}, nil
	}
	return Token{Kind: KindIdent, Text: name, Line: line}, nil
}

func (t *tokenizer) scanNumber(line int) (Token, error) {
	start := t.pos
	isFloat := false
	for t.pos < len(t.src) && t.src[t.pos] >= '0' && t.src[t.pos] <= '9' {
		t.pos++
	}
	if t.pos < len(t.src) && t.src[t.pos] == '.' && t.pos+1 < len(t.src) && t.src[t.pos+1] >= '0' && t.src[t.pos+1] <= '9' {
		isFloat = true
		t.pos++
		for t.pos < len(t.src) && t.src[t.pos] >= '0' && t.src[t.pos] <= '9' {
			t.pos++
		}
	}
	if t.pos < len(t.src) && (t.src[t.pos] == 'e' || t.src[t.pos] == 'E') {
		save := t.pos
		p := t.pos + 1
		if p < len(t.src) && (t.src[p] == '+' || t.src[p] == '-') {
			p++
		}
		if p < len(t.src) && t.src[p] >= '0' && t.src[p] <= '9' {
			isFloat = true
			for p < len(t.src) && t.src[p] >= '0' && t.src[p] <= '9' {
				p++
			}
			t.pos = p
		} else {
			t.pos = save
		}
	}
	text := t.src[start:t.pos]
	if isFloat {
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			if t.opts.IgnoreErrors {
				return Token{Kind: KindUnknown, Text: text, Line: line}, nil
			}
			return Token{}, &LexError{Line: line, Msg: "invalid float literal: " + text}
		}
		return Token{Kind: KindFloat, Text: text, Line: line, FloatValue: float32(f)}, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		if t.opts.IgnoreErrors {
			return Token{Kind: KindUnknown, Text: text, Line: line}, nil
		}
		return Token{}, &LexError{Line: line, Msg: "invalid integer literal: " + text}
	}
	return Token{Kind: KindInt, Text: text, Line: line, IntValue: int32(n)}, nil
}

func (t *tokenizer) scanEscape(line int) (rune, error) {
	t.pos++ // consume backslash
	if t.pos >= len(t.src) {
		return 0, &LexError{Line: line, Msg: "unterminated escape sequence"}
	}
	c := t.src[t.pos]
	t.pos++
	switch c {
	case 'n':
		return '\n', nil
	case 't':
		return '\t', nil
	case 'r':
		return '\r', nil
	case '0':
		return 0, nil
	case '\\':
		return '\\', nil
	case '\'':
		return '\'', nil
	case '"':
		return '"', nil
	case 'x':
		if t.pos+2 > len(t.src) {
			return 0, &LexError{Line: line, Msg: "truncated \\x escape"}
		}
		n, err := strconv.ParseInt(t.src[t.pos:t.pos+2], 16, 32)
		if err != nil {
			return 0, &LexError{Line: line, Msg: "invalid \\x escape"}
		}
		t.pos += 2
		return rune(n), nil
	}
	return 0, &LexError{Line: line, Msg: "unknown escape sequence \\" + string(c)}
}

func (t *tokenizer) scanString(line int) (Token, error) {
	t.pos++ // opening quote
	var sb strings.Builder
	for {
		if t.pos >= len(t.src) {
			if t.opts.IgnoreErrors {
				return Token{Kind: KindUnknown, Text: sb.String(), Line: line}, nil
			}
			return Token{}, &LexError{Line: line, Msg: "unterminated string literal"}
		}
		c := t.src[t.pos]
		if c == '"' {
			t.pos++
			return Token{Kind: KindString, StringValue: sb.String(), Line: line}, nil
		}
		if c == '\\' {
			r, err := t.scanEscape(line)
			if err != nil {
				if t.opts.IgnoreErrors {
					return Token{Kind: KindUnknown, Text: sb.String(), Line: line}, nil
				}
				return Token{}, err
			}
			sb.WriteRune(r)
			continue
		}
		if c == '\n' {
			if t.opts.IgnoreErrors {
				return Token{Kind: KindUnknown, Text: sb.String(), Line: line}, nil
			}
			return Token{}, &LexError{Line: line, Msg: "unterminated string literal"}
		}
		r, size := t.peekRune()
		sb.WriteRune(r)
		t.pos += size
	}
}

func (t *tokenizer) scanChar(line int) (Token, error) {
	t.pos++ // opening quote
	var r rune
	var err error
	if t.pos < len(t.src) && t.src[t.pos] == '\\' {
		r, err = t.scanEscape(line)
	} else {
		var size int
		r, size = t.peekRune()
		t.pos += size
	}
	if err != nil {
		if t.opts.IgnoreErrors {
			return Token{Kind: KindUnknown, Line: line}, nil
		}
		return Token{}, err
	}
	if t.peekByte() != '\'' {
		if t.opts.IgnoreErrors {
			return Token{Kind: KindUnknown, Line: line}, nil
		}
		return Token{}, &LexError{Line: line, Msg: "unterminated char literal"}
	}
	t.pos++
	return Token{Kind: KindChar, Line: line, CharValue: r}, nil
}

func (t *tokenizer) scanSymbol(line int) (Token, error) {
	for _, sym := range symbols {
		if strings.HasPrefix(t.src[t.pos:], sym) {
			t.pos += len(sym)
			return Token{Kind: KindSymbol, Text: sym, Line: line}, nil
		}
	}
	r, size := t.peekRune()
	if t.opts.IgnoreErrors {
		t.pos += size
		return Token{Kind: KindUnknown, Text: string(r), Line: line}, nil
	}
	t.pos += size
	return Token{}, &LexError{Line: line, Msg: "unexpected character " + strconv.QuoteRune(r)}
}

// LexError is a tokenizer-level failure, reported as bad_format by the
// compiler when it wraps Tokenize.
type LexError struct {
	Line int
	Msg  string
}

func (e *LexError) Error() string {
	return e.Msg
}

// ToSource reconstitutes a token stream into a readable source rendering
// (spec's tokens_to_source metacircular operation). Round-tripping is
// best-effort: it reproduces token boundaries and literal values, not the
// original whitespace/comments.
func ToSource(toks []Token) string {
	var sb strings.Builder
	for i, tok := range toks {
		if i > 0 {
			sb.WriteByte(' ')
		}
		switch tok.Kind {
		case KindString:
			sb.WriteByte('"')
			sb.WriteString(strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n").Replace(tok.StringValue))
			sb.WriteByte('"')
		case KindChar:
			sb.WriteByte('\'')
			sb.WriteRune(tok.CharValue)
			sb.WriteByte('\'')
		case KindInt:
			sb.WriteString(strconv.Itoa(int(tok.IntValue)))
		case KindFloat:
			sb.WriteString(strconv.FormatFloat(float64(tok.FloatValue), 'g', -1, 32))
		case KindEOF:
			// nothing
		default:
			sb.WriteString(tok.Text)
		}
	}
	return sb.String()
}
