package id

import (
	"context"
	"errors"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// Alphabet is the set of characters identifiers are drawn from.
	Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	defaultLength = 10
	maxLength     = 16
	maxAttempts   = 1000
)

// ErrExhausted is returned when no free identifier was found within the attempt limit.
var ErrExhausted = errors.New("identifier space exhausted")

// Generator produces short identifiers with no repeated character, checked
// for uniqueness against a caller-provided lookup.
type Generator struct {
	length int
}

// New returns a Generator with the provided length. Lengths outside 1..16 fall
// back to the default.
func New(length int) *Generator {
	if length <= 0 || length > maxLength {
		length = defaultLength
	}
	return &Generator{length: length}
}

// Length is the number of characters in generated identifiers.
func (g *Generator) Length() int { return g.length }

// Generate draws candidates until taken reports one as free.
func (g *Generator) Generate(ctx context.Context, taken func(context.Context, string) (bool, error)) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		candidate, err := g.candidate()
		if err != nil {
			return "", err
		}
		used, err := taken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !used {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrExhausted, maxAttempts)
}

// candidate returns a random string without repeated characters. Rejecting
// draws with repeats gives the same distribution as sampling the alphabet
// without replacement.
func (g *Generator) candidate() (string, error) {
	for {
		s, err := gonanoid.Generate(Alphabet, g.length)
		if err != nil {
			return "", fmt.Errorf("generate id: %w", err)
		}
		if distinct(s) {
			return s, nil
		}
	}
}

func distinct(s string) bool {
	var seen [128]bool
	for i := 0; i < len(s); i++ {
		if seen[s[i]] {
			return false
		}
		seen[s[i]] = true
	}
	return true
}
