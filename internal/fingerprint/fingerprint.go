// Package fingerprint turns free text into a short digest used to detect
// repeated submissions. It is an abuse heuristic, not an integrity check: the
// digest is truncated and collisions are tolerated.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/turtacn/abuseguard/pkg/constants"
)

var (
	puncAndSymbols = regexp.MustCompile(`[\p{P}\p{S}]+`)
	whitespace     = regexp.MustCompile(`\s+`)
)

// Normalize lower-cases text, folds compatibility forms (full-width letters,
// ligatures) and diacritics, removes punctuation and symbols, and collapses
// whitespace. "Café" and "cafe" normalize to the same string.
func Normalize(text string) string {
	// transformers carry state, so the chain is built per call
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, text)
	if err != nil {
		folded = norm.NFKC.String(text)
	}
	lower := strings.ToLower(folded)
	bare := puncAndSymbols.ReplaceAllString(lower, "")
	return strings.TrimSpace(whitespace.ReplaceAllString(bare, " "))
}

// Fingerprint returns the first FingerprintLength hex characters of the SHA-256
// of the normalized text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])[:constants.FingerprintLength]
}
