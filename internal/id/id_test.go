package id

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func free(context.Context, string) (bool, error) { return false, nil }

func TestGenerateShape(t *testing.T) {
	g := New(0)
	for i := 0; i < 200; i++ {
		s, err := g.Generate(context.Background(), free)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(s) != defaultLength {
			t.Fatalf("expected length %d got %q", defaultLength, s)
		}
		seen := map[rune]bool{}
		for _, r := range s {
			if !strings.ContainsRune(Alphabet, r) {
				t.Fatalf("unexpected character %q in %q", r, s)
			}
			if seen[r] {
				t.Fatalf("repeated character %q in %q", r, s)
			}
			seen[r] = true
		}
	}
}

func TestGenerateSkipsTaken(t *testing.T) {
	g := New(4)
	calls := 0
	taken := func(context.Context, string) (bool, error) {
		calls++
		return calls < 3, nil
	}
	if _, err := g.Generate(context.Background(), taken); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 lookups, got %d", calls)
	}
}

func TestGenerateExhausted(t *testing.T) {
	g := New(2)
	always := func(context.Context, string) (bool, error) { return true, nil }
	if _, err := g.Generate(context.Background(), always); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestGeneratePropagatesLookupError(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(0).Generate(context.Background(), func(context.Context, string) (bool, error) { return false, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}

func TestGenerateHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(0).Generate(ctx, free); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestLengthClamped(t *testing.T) {
	if got := New(12).Length(); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
	if got := New(maxLength + 1).Length(); got != defaultLength {
		t.Fatalf("expected default length for oversize request, got %d", got)
	}
}
