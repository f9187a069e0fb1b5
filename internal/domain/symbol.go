package domain

import (
	"fmt"
	"strings"
)

const maxSymbolLength = 12

// NormalizeSymbol trims and uppercases a market symbol and rejects anything
// that is not a plausible ticker. Topic keys in the subscription registry are
// always normalized symbols, so malformed input never creates garbage topics.
func NormalizeSymbol(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("symbol is empty")
	}
	if len(s) > maxSymbolLength {
		return "", fmt.Errorf("symbol %q exceeds %d characters", s, maxSymbolLength)
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '.' && r != '-' {
			return "", fmt.Errorf("symbol %q contains invalid character %q", s, r)
		}
	}
	return s, nil
}
