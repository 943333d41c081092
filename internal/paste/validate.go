package paste

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// GuessLanguage asks the highlighter to detect the language from content.
const GuessLanguage = "guess"

// Latin letters (accented included), digits, space, period, apostrophe, hyphen.
var authorPattern = regexp.MustCompile(`^[\p{Latin}0-9 .'-]+$`)

func normalizeAuthor(author string) (string, error) {
	author = norm.NFC.String(strings.TrimSpace(author))
	if !authorPattern.MatchString(author) {
		return "", &ValidationError{Field: "author", Message: "Invalid author"}
	}
	return author, nil
}

func normalizeLanguage(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return GuessLanguage
	}
	return language
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Field: "content", Message: "Content must not be empty"}
	}
	return nil
}
