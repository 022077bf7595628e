package chat

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{"simple", "CHAT|hello", "hello", nil},
		{"spaces kept", "CHAT|  padded  ", "  padded  ", nil},
		{"unicode", "CHAT|héllo wörld 👋", "héllo wörld 👋", nil},
		{"markup not escaped", "CHAT|<b>hi</b>", "<b>hi</b>", nil},
		{"empty", "", "", ErrEmptyOrMissing},
		{"empty body", "CHAT|", "", ErrEmptyOrMissing},
		{"no separator", "CHAT hello", "", ErrMalformedFormat},
		{"extra separator", "CHAT|a|b", "", ErrMalformedFormat},
		{"only separators", "||", "", ErrMalformedFormat},
		{"wrong tag", "SHOUT|hi", "", ErrWrongTag},
		{"lower case tag", "chat|hi", "", ErrWrongTag},
		{"missing tag", "|hi", "", ErrWrongTag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Parse(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	for _, text := range []string{"a", "hello there", "1.2.3.4", "\t", "ÇA VA?"} {
		got, err := Parse(Format(text))
		if err != nil {
			t.Fatalf("Parse(Format(%q)) unexpected error: %v", text, err)
		}
		if got != text {
			t.Errorf("Parse(Format(%q)) = %q", text, got)
		}
	}
}

func TestParse_MalformedBeforeTag(t *testing.T) {
	// Malformed takes priority over a wrong tag.
	_, err := Parse("SHOUT|a|b")
	if !errors.Is(err, ErrMalformedFormat) {
		t.Fatalf("expected ErrMalformedFormat, got %v", err)
	}
}
