package knockduration

import (
	"testing"
	"time"
)

func TestParseBasicUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"5s":   5 * time.Second,
		"1y":   365 * 24 * time.Hour,
		"30m":  30 * time.Minute,
		"2h":   2 * time.Hour,
		"3d":   3 * 24 * time.Hour,
		"1w":   7 * 24 * time.Hour,
		"1M":   30 * 24 * time.Hour,
		"250ms": 250 * time.Millisecond,
	}
	for input, want := range cases {
		got, err := Parse(input)
		if err != nil {
			t.Fatalf("Parse(%q): %v", input, err)
		}
		if got != want {
			t.Errorf("Parse(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestParseOneYearIsOneYearInDays(t *testing.T) {
	got, err := Parse("1y")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want, _ := Parse("365d")
	if got != want {
		t.Fatalf("1y = %v, want %v (365d)", got, want)
	}
}

func TestParseUnknownUnit(t *testing.T) {
	if _, err := Parse("5x"); err == nil {
		t.Fatal("expected error for unknown unit")
	}
}

func TestParseMissingNumber(t *testing.T) {
	if _, err := Parse("s"); err == nil {
		t.Fatal("expected error for missing number")
	}
}

func TestParseRejectsNegative(t *testing.T) {
	if _, err := Parse("-5s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error for empty string")
	}
}
