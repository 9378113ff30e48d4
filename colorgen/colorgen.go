// Package colorgen produces and parses the "#RRGGBB" strings exchanged by
// the random colour profile.
package colorgen

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// RGB is an 8-bit-per-channel colour
type RGB struct {
	R, G, B uint8
}

// Gray is returned for strings that are not six hex digits
var Gray = RGB{R: 0x80, G: 0x80, B: 0x80}

// Hex renders the colour as "#RRGGBB"
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// Generator draws random colours
type Generator struct {
	rnd *rand.Rand
}

// NewGenerator creates a generator. The same seed gives the same sequence.
func NewGenerator(seed int64) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

// Next returns a random "#RRGGBB" string
func (g *Generator) Next() string {
	return g.NextRGB().Hex()
}

// NextRGB returns a random colour
func (g *Generator) NextRGB() RGB {
	v := g.rnd.Uint32()
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

// Palette returns n random "#RRGGBB" strings
func (g *Generator) Palette(n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.Next())
	}
	return out
}

// ParseHex reads "#RRGGBB" or "RRGGBB", ignoring surrounding whitespace and
// case. Anything else parses as Gray.
func ParseHex(s string) RGB {
	s = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "#")
	if len(s) != 6 {
		return Gray
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return Gray
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

// Valid reports whether s is a well-formed colour string
func Valid(s string) bool {
	s = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "#")
	if len(s) != 6 {
		return false
	}
	_, err := strconv.ParseUint(s, 16, 32)
	return err == nil
}
