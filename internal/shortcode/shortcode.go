// Package shortcode generates the public codes that identify shortened URLs.
package shortcode

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// Alphabet is the set of symbols a short code is drawn from.
	Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	// DefaultLength is the length of generated short codes.
	DefaultLength = 6
)

// Generator produces random candidate short codes.
// Generated codes are not guaranteed to be unique, callers must check for collisions.
type Generator struct {
	length int
}

// New creates a Generator producing codes of the given length.
// A non-positive length falls back to DefaultLength.
func New(length int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}

	return &Generator{length: length}
}

// Length returns the length of the codes produced by the generator.
func (g *Generator) Length() int {
	return g.length
}

// Generate returns a code of g.Length() symbols drawn uniformly, with replacement, from Alphabet.
func (g *Generator) Generate() (string, error) {
	const op = "shortcode.Generator.Generate"

	code, err := gonanoid.Generate(Alphabet, g.length)
	if err != nil {
		return "", fmt.Errorf("%s: failed to generate short code: %w", op, err)
	}

	return code, nil
}

// IsValid reports whether code has the shape of a generated short code.
func IsValid(code string) bool {
	if len(code) != DefaultLength {
		return false
	}

	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}

	return true
}
