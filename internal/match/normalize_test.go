package match

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "lowercases and splits",
			in:   "Xiaomi Robot Vacuum",
			want: []string{"xiaomi", "robot", "vacuum"},
		},
		{
			name: "strips punctuation",
			in:   "Продам: робот-пылесос, б/у!",
			want: []string{"продам", "робот", "пылесос", "б", "у"},
		},
		{
			name: "collapses whitespace",
			in:   "  a \t b\n\nc ",
			want: []string{"a", "b", "c"},
		},
		{
			name: "keeps numbers",
			in:   "15000 RSD",
			want: []string{"15000", "rsd"},
		},
		{
			name: "empty input",
			in:   "!!! ...",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Tokenize(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestFoldToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"vacuums", "vacuum"},
		{"boxes", "box"},
		{"glass", "glass"},
		{"gas", "gas"},
		{"cats", "cat"},
		{"робот", "робот"},
	}

	for _, tt := range tests {
		if got := FoldToken(tt.in); got != tt.want {
			t.Errorf("FoldToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokenSetIncludesFoldedForms(t *testing.T) {
	set := TokenSet(Tokenize("Selling two vacuums"))
	for _, want := range []string{"vacuums", "vacuum", "selling", "two"} {
		if _, ok := set[want]; !ok {
			t.Errorf("token set missing %q", want)
		}
	}
}
