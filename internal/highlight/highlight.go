// Package highlight renders paste content as syntax-highlighted HTML.
package highlight

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	lru "github.com/hashicorp/golang-lru/v2"

	"pasteit/internal/metrics"
)

// Guess asks Render to infer the language from the text.
const Guess = "guess"

// Result is one rendered paste.
type Result struct {
	HTML     template.HTML
	Language string
}

// Highlighter renders text with chroma and keeps recent results in an LRU cache.
type Highlighter struct {
	style     *chroma.Style
	formatter *html.Formatter
	cache     *lru.Cache[string, Result]
}

// New returns a Highlighter using the named chroma style. cacheSize 0 disables caching.
func New(styleName string, cacheSize int) (*Highlighter, error) {
	h := &Highlighter{
		style:     styles.Get(styleName),
		formatter: html.New(html.WithClasses(true), html.WithLineNumbers(true), html.TabWidth(4)),
	}
	if cacheSize > 0 {
		cache, err := lru.New[string, Result](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("highlight cache: %w", err)
		}
		h.cache = cache
	}
	return h, nil
}

// Render highlights text as language. key identifies the input for caching;
// an empty key bypasses the cache. Unknown languages, and guesses that find
// nothing, render as plain text.
func (h *Highlighter) Render(key, text, language string) (Result, error) {
	if h.cache != nil && key != "" {
		if res, ok := h.cache.Get(key); ok {
			metrics.HighlightCache.WithLabelValues("hit").Inc()
			return res, nil
		}
		metrics.HighlightCache.WithLabelValues("miss").Inc()
	}

	lexer := resolve(text, language)
	it, err := chroma.Coalesce(lexer).Tokenise(nil, text)
	if err != nil {
		return Result{}, fmt.Errorf("tokenise: %w", err)
	}
	var buf bytes.Buffer
	if err := h.formatter.Format(&buf, h.style, it); err != nil {
		return Result{}, fmt.Errorf("format: %w", err)
	}
	res := Result{
		HTML:     template.HTML(buf.String()),
		Language: strings.ToLower(lexer.Config().Name),
	}
	if h.cache != nil && key != "" {
		h.cache.Add(key, res)
	}
	return res, nil
}

func resolve(text, language string) chroma.Lexer {
	var lexer chroma.Lexer
	if language == "" || language == Guess {
		lexer = lexers.Analyse(text)
	} else {
		lexer = lexers.Get(language)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return lexer
}

// CSS returns the stylesheet for the configured style.
func (h *Highlighter) CSS() (string, error) {
	var buf bytes.Buffer
	if err := h.formatter.WriteCSS(&buf, h.style); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Languages lists the selectable language tags, Guess first.
func Languages() []string {
	names := lexers.Names(false)
	out := make([]string, 0, len(names)+1)
	seen := map[string]bool{Guess: true}
	for _, name := range names {
		name = strings.ToLower(name)
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return append([]string{Guess}, out...)
}

// Purge drops every cached render.
func (h *Highlighter) Purge() {
	if h.cache != nil {
		h.cache.Purge()
	}
}
