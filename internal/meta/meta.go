// Package meta implements the metacircular API: native functions that
// re-enter the tokenizer and compiler from inside a running script, so a
// script can inspect, preprocess, and synthesize other scripts at build
// time. Grounded on the REPL's tokenize -> compile -> run loop
// (cmd/fixscript's repl command), exposed here as callable natives instead of a
// top-level command loop.
package meta

import (
	"fixscript/internal/fixerr"
	"fixscript/internal/heap"
	"fixscript/internal/registry"
	"fixscript/internal/token"
)

// Natives bundles the heap and registry a script's metacircular calls
// operate against. One instance is registered per heap the same way the
// rest of a host's builtins are.
type Natives struct {
	h   *heap.Heap
	reg *registry.Registry
}

func New(h *heap.Heap, reg *registry.Registry) *Natives {
	return &Natives{h: h, reg: reg}
}

// Register appends every metacircular native into h's function table and
// returns their heap-wide ids, in the fixed order
// (tokens_parse#2, tokens_to_source#1, script_query#2, script_compile#3).
func (n *Natives) Register() []int32 {
	defs := []struct {
		name  string
		arity int
		fn    heap.NativeFunc
	}{
		{"tokens_parse", 2, n.tokensParse},
		{"tokens_to_source", 1, n.tokensToSource},
		{"script_query", 2, n.scriptQuery},
		{"script_compile", 3, n.scriptCompile},
	}
	ids := make([]int32, len(defs))
	for i, d := range defs {
		ids[i] = n.h.AddFunction(&heap.FuncInfo{Name: d.name, Arity: d.arity, Native: d.fn})
	}
	return ids
}

func truthy(v heap.Value) bool {
	if v.IsFloat() {
		return v.Float() != 0
	}
	if v.IsInt() {
		return v.Payload != 0
	}
	return true
}

// tokensParse implements tokens_parse#2(source, ignore_errors): tokenizes
// source into a flat array of token records, each a hash with fields
// type/text/line/offset/length plus the kind-specific literal value
// (int_value/float_value/string_value/char_value), matching spec's
// "(type, offset, length, line)" record shape with the literal payload
// carried alongside for round-tripping through tokens_to_source.
func (n *Natives) tokensParse(h *heap.Heap, args []heap.Value) (heap.Value, error) {
	if len(args) != 2 {
		return heap.Value{}, fixerr.New(fixerr.ImproperParams, "tokens_parse expects (source, ignore_errors)")
	}
	src, err := h.StringContent(args[0])
	if err != nil {
		return heap.Value{}, err
	}
	toks, terr := token.Tokenize(src, token.Options{IgnoreErrors: truthy(args[1])})
	if terr != nil {
		if le, ok := terr.(*token.LexError); ok {
			return heap.Value{}, fixerr.Newf(fixerr.BadFormat, "line %d: %s", le.Line, le.Msg)
		}
		return heap.Value{}, fixerr.Newf(fixerr.BadFormat, "%s", terr.Error())
	}

	arr, ferr := h.CreateArray()
	if ferr != nil {
		return heap.Value{}, ferr
	}
	for _, tok := range toks {
		rec, ferr := tokenToRecord(h, tok)
		if ferr != nil {
			return heap.Value{}, ferr
		}
		if ferr := h.Append(arr, rec); ferr != nil {
			return heap.Value{}, ferr
		}
	}
	return arr, nil
}

// tokensToSource implements tokens_to_source#1(tokens): the inverse of
// tokens_parse, reconstituting a best-effort source rendering via
// token.ToSource.
func (n *Natives) tokensToSource(h *heap.Heap, args []heap.Value) (heap.Value, error) {
	if len(args) != 1 {
		return heap.Value{}, fixerr.New(fixerr.ImproperParams, "tokens_to_source expects (tokens)")
	}
	count, ferr := h.Length(args[0])
	if ferr != nil {
		return heap.Value{}, ferr
	}
	toks := make([]token.Token, 0, count)
	for i := 0; i < count; i++ {
		rv, ferr := h.Get(args[0], i)
		if ferr != nil {
			return heap.Value{}, ferr
		}
		tok, ferr := recordToToken(h, rv)
		if ferr != nil {
			return heap.Value{}, ferr
		}
		toks = append(toks, tok)
	}
	sv, ferr := h.CreateString(token.ToSource(toks))
	if ferr != nil {
		return heap.Value{}, ferr
	}
	return sv, nil
}

// scriptQuery implements script_query#2(name, key): inspects an
// already-registered script without loading it. key "loaded" returns 1/0;
// "function_count" returns the script's function count; any other key is
// looked up as a mangled "name#arity" function key and returns that
// function's function-reference value, or null (heap.Zero) if absent.
func (n *Natives) scriptQuery(h *heap.Heap, args []heap.Value) (heap.Value, error) {
	if len(args) != 2 {
		return heap.Value{}, fixerr.New(fixerr.ImproperParams, "script_query expects (name, key)")
	}
	name, err := h.StringContent(args[0])
	if err != nil {
		return heap.Value{}, err
	}
	key, err := h.StringContent(args[1])
	if err != nil {
		return heap.Value{}, err
	}

	script, ok := n.reg.Get(name)
	if !ok {
		return heap.Zero, nil
	}
	switch key {
	case "loaded":
		return heap.Int(1), nil
	case "function_count":
		return heap.Int(int32(len(script.FuncIDs()))), nil
	default:
		if fref, ok := script.FuncRef(key); ok {
			return fref, nil
		}
		return heap.Zero, nil
	}
}

// scriptCompile implements script_compile#3(name, source, reload):
// compiles source and registers it under name (Import semantics when
// reload is falsy, Reload's id-preserving semantics otherwise), returning
// an array of the script's function-reference values in declaration
// order.
func (n *Natives) scriptCompile(h *heap.Heap, args []heap.Value) (heap.Value, error) {
	if len(args) != 3 {
		return heap.Value{}, fixerr.New(fixerr.ImproperParams, "script_compile expects (name, source, reload)")
	}
	name, err := h.StringContent(args[0])
	if err != nil {
		return heap.Value{}, err
	}
	src, err := h.StringContent(args[1])
	if err != nil {
		return heap.Value{}, err
	}

	var script *registry.Script
	var rerr error
	if truthy(args[2]) {
		script, rerr = n.reg.ReloadSource(name, src)
	} else {
		script, rerr = n.reg.ImportSource(name, src)
	}
	if rerr != nil {
		return heap.Value{}, rerr
	}

	arr, ferr := h.CreateArray()
	if ferr != nil {
		return heap.Value{}, ferr
	}
	for _, id := range script.FuncIDs() {
		if ferr := h.Append(arr, heap.FuncRef(id)); ferr != nil {
			return heap.Value{}, ferr
		}
	}
	return arr, nil
}

func tokenToRecord(h *heap.Heap, tok token.Token) (heap.Value, *fixerr.Error) {
	rec, err := h.CreateHash()
	if err != nil {
		return heap.Value{}, err
	}
	if err := hashSetStr(h, rec, "type", string(tok.Kind)); err != nil {
		return heap.Value{}, err
	}
	if err := hashSetStr(h, rec, "text", tok.Text); err != nil {
		return heap.Value{}, err
	}
	if err := hashSetInt(h, rec, "line", int32(tok.Line)); err != nil {
		return heap.Value{}, err
	}
	if err := hashSetInt(h, rec, "offset", int32(tok.Offset)); err != nil {
		return heap.Value{}, err
	}
	if err := hashSetInt(h, rec, "length", int32(tok.Length)); err != nil {
		return heap.Value{}, err
	}
	if err := hashSetInt(h, rec, "int_value", tok.IntValue); err != nil {
		return heap.Value{}, err
	}
	if err := hashSetFloat(h, rec, "float_value", tok.FloatValue); err != nil {
		return heap.Value{}, err
	}
	if err := hashSetStr(h, rec, "string_value", tok.StringValue); err != nil {
		return heap.Value{}, err
	}
	if err := hashSetInt(h, rec, "char_value", int32(tok.CharValue)); err != nil {
		return heap.Value{}, err
	}
	return rec, nil
}

func recordToToken(h *heap.Heap, rec heap.Value) (token.Token, *fixerr.Error) {
	kind, err := hashGetStr(h, rec, "type")
	if err != nil {
		return token.Token{}, err
	}
	text, err := hashGetStr(h, rec, "text")
	if err != nil {
		return token.Token{}, err
	}
	line, err := hashGetInt(h, rec, "line")
	if err != nil {
		return token.Token{}, err
	}
	offset, err := hashGetInt(h, rec, "offset")
	if err != nil {
		return token.Token{}, err
	}
	length, err := hashGetInt(h, rec, "length")
	if err != nil {
		return token.Token{}, err
	}
	intVal, err := hashGetInt(h, rec, "int_value")
	if err != nil {
		return token.Token{}, err
	}
	floatVal, err := hashGetFloat(h, rec, "float_value")
	if err != nil {
		return token.Token{}, err
	}
	strVal, err := hashGetStr(h, rec, "string_value")
	if err != nil {
		return token.Token{}, err
	}
	charVal, err := hashGetInt(h, rec, "char_value")
	if err != nil {
		return token.Token{}, err
	}
	return token.Token{
		Kind:        token.Kind(kind),
		Text:        text,
		Line:        int(line),
		Offset:      int(offset),
		Length:      int(length),
		IntValue:    intVal,
		FloatValue:  floatVal,
		StringValue: strVal,
		CharValue:   rune(charVal),
	}, nil
}

func hashSetStr(h *heap.Heap, rec heap.Value, key, s string) *fixerr.Error {
	kv, err := h.CreateString(key)
	if err != nil {
		return err
	}
	vv, err := h.CreateString(s)
	if err != nil {
		return err
	}
	return h.HashSet(rec, kv, vv)
}

func hashSetInt(h *heap.Heap, rec heap.Value, key string, n int32) *fixerr.Error {
	kv, err := h.CreateString(key)
	if err != nil {
		return err
	}
	return h.HashSet(rec, kv, heap.Int(n))
}

func hashSetFloat(h *heap.Heap, rec heap.Value, key string, f float32) *fixerr.Error {
	kv, err := h.CreateString(key)
	if err != nil {
		return err
	}
	return h.HashSet(rec, kv, heap.FloatValue(f))
}

func hashGetStr(h *heap.Heap, rec heap.Value, key string) (string, *fixerr.Error) {
	kv, err := h.CreateString(key)
	if err != nil {
		return "", err
	}
	v, found, err := h.HashGet(rec, kv)
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	return h.StringContent(v)
}

func hashGetInt(h *heap.Heap, rec heap.Value, key string) (int32, *fixerr.Error) {
	kv, err := h.CreateString(key)
	if err != nil {
		return 0, err
	}
	v, found, err := h.HashGet(rec, kv)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return v.Payload, nil
}

func hashGetFloat(h *heap.Heap, rec heap.Value, key string) (float32, *fixerr.Error) {
	kv, err := h.CreateString(key)
	if err != nil {
		return 0, err
	}
	v, found, err := h.HashGet(rec, kv)
	if err != nil {
		return 0, err
	}
	if !found || !v.IsFloat() {
		return 0, nil
	}
	return v.Float(), nil
}
