package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedLanguage is returned for a language hint no front-end handles.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// JavaScript is the only guest language the engine understands.
const JavaScript = "javascript"

var languageAliases = map[string]string{
	"":           JavaScript,
	"javascript": JavaScript,
	"js":         JavaScript,
	"ecmascript": JavaScript,
}

// Languages returns the accepted language names.
func Languages() []string {
	return []string{JavaScript, "js"}
}

// ResolveLanguage maps a language hint to its canonical name. The empty hint
// selects JavaScript.
func ResolveLanguage(hint string) (string, error) {
	if lang, ok := languageAliases[strings.ToLower(strings.TrimSpace(hint))]; ok {
		return lang, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, hint)
}
