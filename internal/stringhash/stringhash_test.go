package stringhash

import "testing"

func TestOfIsDeterministic(t *testing.T) {
	if Of("hello") != Of("hello") {
		t.Fatal("Of should be deterministic")
	}
	if Of("hello") == Of("world") {
		t.Fatal("Of should differ for different inputs")
	}
}

func TestParseRoundTrip(t *testing.T) {
	h := Of("super-secret-cookie-value")
	s := h.String()

	parsed, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !parsed.Equal(h) {
		t.Fatal("round-tripped hash does not match original")
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	if _, err := Parse("not-hex!!"); err == nil {
		t.Fatal("expected error for non-hex input")
	}
	if _, err := Parse("abcd"); err == nil {
		t.Fatal("expected error for short input")
	}
}

func TestNewTokenLength(t *testing.T) {
	tok, err := NewToken(16)
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if len(tok) != 32 {
		t.Fatalf("expected 32 hex characters for 16 random bytes, got %d", len(tok))
	}
}

func TestOfHeaderMatchesComposite(t *testing.T) {
	got := OfHeader("app.example.com", "Bearer abc")
	want := Of("app.example.com,Bearer abc")
	if got != want {
		t.Fatal("OfHeader should hash the host,authorization composite")
	}
}
