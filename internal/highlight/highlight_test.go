package highlight

import (
	"strings"
	"testing"
)

func TestRenderKnownLanguage(t *testing.T) {
	h, err := New("github", 8)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := h.Render("", "package main\n\nfunc main() {}\n", "go")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if res.Language != "go" {
		t.Fatalf("expected go lexer, got %q", res.Language)
	}
	if !strings.Contains(string(res.HTML), "<pre") || !strings.Contains(string(res.HTML), "func") {
		t.Fatalf("unexpected html %s", res.HTML)
	}
}

func TestRenderEscapesMarkup(t *testing.T) {
	h, _ := New("github", 0)
	res, err := h.Render("", "<script>alert(1)</script>", "text")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(string(res.HTML), "<script>") {
		t.Fatalf("markup not escaped: %s", res.HTML)
	}
}

func TestRenderUnknownFallsBackToPlainText(t *testing.T) {
	h, _ := New("github", 0)
	res, err := h.Render("", "just words", "no-such-language-xyz")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if res.Language != "fallback" && res.Language != "plaintext" {
		t.Fatalf("expected plain text lexer, got %q", res.Language)
	}
	if _, err := h.Render("", "just words", Guess); err != nil {
		t.Fatalf("guess render: %v", err)
	}
}

func TestRenderUsesCache(t *testing.T) {
	h, _ := New("github", 4)
	first, err := h.Render("k", "a = 1", "python")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	second, err := h.Render("k", "something else entirely", "go")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached result for same key")
	}
	h.Purge()
	third, _ := h.Render("k", "something else entirely", "go")
	if third == first {
		t.Fatalf("expected fresh render after purge")
	}
}

func TestLanguagesStartWithGuess(t *testing.T) {
	langs := Languages()
	if len(langs) < 10 || langs[0] != Guess {
		t.Fatalf("unexpected languages list %v", langs[:3])
	}
}

func TestCSS(t *testing.T) {
	h, _ := New("github", 0)
	css, err := h.CSS()
	if err != nil || !strings.Contains(css, ".chroma") {
		t.Fatalf("unexpected css %v %q", err, css)
	}
}
