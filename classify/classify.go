// Package classify decides whether normalized page text advertises available
// appointment slots and fingerprints the content for change detection.
package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// SummaryLen caps the stored page fragment, counted in runes so a
	// multi-byte character is never split. No word-boundary handling.
	SummaryLen = 350
	// DigestLen is the number of hex characters kept from the SHA-256 of
	// the normalized text. The digest is a change-detection fingerprint,
	// not a security primitive.
	DigestLen = 16
)

// NoSlotsPatterns maps a known "no appointments" phrase to its matcher.
// Matching is case-insensitive against normalized text. Extend the map to
// teach the classifier new phrasings without touching call sites.
var NoSlotsPatterns = map[string]*regexp.Regexp{
	"no hay horas": regexp.MustCompile(`(?i)No hay horas disponibles`),
	"intentelo":    regexp.MustCompile(`(?i)Inténtelo de nuevo`),
}

// Result holds the classifier's verdict for one page text.
type Result struct {
	HasSlots bool
	Summary  string
	Digest   string
}

// Normalize collapses all whitespace runs (including newlines) to single
// spaces and trims the ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Classify normalizes raw page text and reports whether it looks like slots
// are available.
//
// The verdict is optimistic: absence of every known negative phrase is
// treated as slots being available. A layout change that drops the known
// phrases without actually opening slots will therefore be reported as a
// false positive. There is no positive confirmation signal on the target
// site, so this stays a heuristic.
func Classify(raw string) Result {
	normalized := Normalize(raw)
	return Result{
		HasSlots: !matchesNoSlots(normalized),
		Summary:  truncate(normalized, SummaryLen),
		Digest:   Digest(normalized),
	}
}

// Digest returns the truncated hex SHA-256 of text.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:DigestLen]
}

func matchesNoSlots(normalized string) bool {
	for _, pattern := range NoSlotsPatterns {
		if pattern.MatchString(normalized) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// TextFromHTML extracts the normalized visible body text of an HTML
// document. The navigator uses it as an extraction fallback when innerText
// evaluation fails, and the capturer uses it to excerpt HTML dumps.
func TextFromHTML(htmlSrc string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlSrc))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()
	return Normalize(doc.Find("body").Text()), nil
}
