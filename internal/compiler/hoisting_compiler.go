// internal/compiler/hoisting_compiler.go
package compiler

import "fixscript/internal/token"

// hoistedFunc is a top-level `function name(...)` signature discovered
// before codegen begins, so that forward calls (A calls B where B is
// defined later in the file) resolve without a second full parse. Only
// functions declared in the same source are known; a call to any other
// name fails to compile.
type hoistedFunc struct {
	name  string
	arity int
}

// hoistFunctionSignatures does a cheap scan over the token stream,
// collecting every top-level function's (name, arity) pair. Full codegen
// then resolves CALL_DIRECT targets against this table instead of
// requiring definitions to precede their uses.
func hoistFunctionSignatures(toks []token.Token) []hoistedFunc {
	var out []hoistedFunc
	for i := 0; i < len(toks); i++ {
		if toks[i].Kind != token.KindKeyword || toks[i].Text != "function" {
			continue
		}
		if i+1 >= len(toks) || toks[i+1].Kind != token.KindIdent {
			continue
		}
		name := toks[i+1].Text
		j := i + 2
		if j >= len(toks) || toks[j].Text != "(" {
			continue
		}
		j++
		arity := 0
		if j < len(toks) && toks[j].Text != ")" {
			arity = 1
			depth := 0
			for j < len(toks) {
				if toks[j].Text == "(" || toks[j].Text == "[" {
					depth++
				} else if toks[j].Text == ")" || toks[j].Text == "]" {
					if depth == 0 {
						break
					}
					depth--
				} else if toks[j].Text == "," && depth == 0 {
					arity++
				}
				j++
			}
		}
		out = append(out, hoistedFunc{name: name, arity: arity})
	}
	return out
}

// funcKey disambiguates overloads by name+arity: FixScript functions are
// identified by the pair, so `foo(a)` and `foo(a,b)` coexist.
func funcKey(name string, arity int) string {
	return name + "#" + itoa(arity)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
