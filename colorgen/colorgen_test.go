package colorgen

import (
	"regexp"
	"testing"
)

var hexPattern = regexp.MustCompile(`^#[0-9A-F]{6}$`)

func TestGeneratorProducesHexColours(t *testing.T) {
	g := NewGenerator(42)
	for _, c := range g.Palette(50) {
		if !hexPattern.MatchString(c) {
			t.Fatalf("%q is not a #RRGGBB colour", c)
		}
		if !Valid(c) {
			t.Errorf("Valid(%q) = false", c)
		}
	}
}

func TestGeneratorIsDeterministicPerSeed(t *testing.T) {
	a := NewGenerator(7).Palette(5)
	b := NewGenerator(7).Palette(5)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("palettes diverge at %d: %s vs %s", i, a[i], b[i])
		}
	}
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in   string
		want RGB
	}{
		{"#00FF00", RGB{0, 0xFF, 0}},
		{"ff8800", RGB{0xFF, 0x88, 0}},
		{"  #0a0B0c \n", RGB{0x0A, 0x0B, 0x0C}},
		{"#FFF", Gray},
		{"#GGGGGG", Gray},
		{"", Gray},
	}
	for _, tt := range tests {
		if got := ParseHex(tt.in); got != tt.want {
			t.Errorf("ParseHex(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestHexRoundTrip(t *testing.T) {
	c := RGB{R: 0x12, G: 0xAB, B: 0x0F}
	if c.Hex() != "#12AB0F" {
		t.Fatalf("Hex() = %s", c.Hex())
	}
	if ParseHex(c.Hex()) != c {
		t.Errorf("ParseHex(Hex()) changed the colour")
	}
}
