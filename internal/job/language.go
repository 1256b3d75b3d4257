package job

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// NormalizeLanguages canonicalizes and validates a set of target language
// codes. Duplicates collapse, order is preserved, and unknown codes are
// rejected. The returned codes are canonical BCP 47 strings.
func NormalizeLanguages(codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("at least one target language is required")
	}
	seen := make(map[string]struct{}, len(codes))
	normalized := make([]string, 0, len(codes))
	for _, code := range codes {
		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			continue
		}
		tag, err := language.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid language code %q: %w", trimmed, err)
		}
		canonical := tag.String()
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}
		normalized = append(normalized, canonical)
	}
	if len(normalized) == 0 {
		return nil, fmt.Errorf("at least one target language is required")
	}
	return normalized, nil
}

// LanguageName returns the English display name for a language code, falling
// back to the code itself when it cannot be resolved.
func LanguageName(code string) string {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}
