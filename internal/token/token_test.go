package token

import "testing"

func TestTokenizeOffsetsAndLengths(t *testing.T) {
	src := "var x = 42;"
	toks, err := Tokenize(src, Options{})
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	for _, tok := range toks {
		if tok.Kind == KindEOF {
			continue
		}
		got := src[tok.Offset : tok.Offset+tok.Length]
		if got != tok.Text {
			t.Fatalf("token %+v: src[%d:%d] = %q, want %q", tok, tok.Offset, tok.Offset+tok.Length, got, tok.Text)
		}
	}
}

func TestTokenizeKindsAndLiterals(t *testing.T) {
	toks, err := Tokenize(`foo(1, "bar", 'c', 1.5)`, Options{})
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	want := []Kind{KindIdent, KindSymbol, KindInt, KindSymbol, KindString, KindSymbol, KindChar, KindSymbol, KindFloat, KindSymbol, KindEOF}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(toks), len(want))
	}
	for i, k := range want {
		if toks[i].Kind != k {
			t.Fatalf("token %d: kind = %s, want %s", i, toks[i].Kind, k)
		}
	}
	if toks[2].IntValue != 1 {
		t.Fatalf("int literal = %d, want 1", toks[2].IntValue)
	}
	if toks[4].StringValue != "bar" {
		t.Fatalf("string literal = %q, want %q", toks[4].StringValue, "bar")
	}
	if toks[6].CharValue != 'c' {
		t.Fatalf("char literal = %q, want %q", toks[6].CharValue, 'c')
	}
	if toks[8].FloatValue != 1.5 {
		t.Fatalf("float literal = %v, want 1.5", toks[8].FloatValue)
	}
}

func TestTokenizeFuncRef(t *testing.T) {
	toks, err := Tokenize("foo#2", Options{})
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if toks[0].Kind != KindFuncRef {
		t.Fatalf("kind = %s, want %s", toks[0].Kind, KindFuncRef)
	}
	if toks[0].Text != "foo#2" {
		t.Fatalf("text = %q, want %q", toks[0].Text, "foo#2")
	}
}

func TestTokenizeKeyword(t *testing.T) {
	toks, err := Tokenize("return", Options{})
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if toks[0].Kind != KindKeyword {
		t.Fatalf("kind = %s, want %s", toks[0].Kind, KindKeyword)
	}
}

func TestTokenizeIgnoreErrorsProducesUnknown(t *testing.T) {
	toks, err := Tokenize("`", Options{IgnoreErrors: true})
	if err != nil {
		t.Fatalf("Tokenize with IgnoreErrors: %v", err)
	}
	if toks[0].Kind != KindUnknown {
		t.Fatalf("kind = %s, want %s", toks[0].Kind, KindUnknown)
	}
}

func TestTokenizeWithoutIgnoreErrorsFails(t *testing.T) {
	_, err := Tokenize("`", Options{})
	if err == nil {
		t.Fatal("expected an error tokenizing an unrecognized byte")
	}
}

func TestToSourceRoundTrip(t *testing.T) {
	src := "foo(1, 2)"
	toks, err := Tokenize(src, Options{})
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	out := ToSource(toks)
	toks2, err := Tokenize(out, Options{})
	if err != nil {
		t.Fatalf("Tokenize(ToSource(...)): %v", err)
	}
	if len(toks) != len(toks2) {
		t.Fatalf("round trip changed token count: %d vs %d", len(toks), len(toks2))
	}
	for i := range toks {
		if toks[i].Kind != toks2[i].Kind || toks[i].Text != toks2[i].Text {
			t.Fatalf("token %d changed across round trip: %+v vs %+v", i, toks[i], toks2[i])
		}
	}
}
