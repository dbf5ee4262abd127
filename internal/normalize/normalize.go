// Package normalize cleans raw post text before toxicity scoring.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Cleaning regexes. Order matters: URLs are removed before the symbol
// filter would strip their punctuation, mentions before the '@' is dropped,
// and the hashtag marker before case folding.
var (
	urlRe     = regexp.MustCompile(`https?://\S+`)
	mentionRe = regexp.MustCompile(`@[\p{L}\p{N}_]+`)
	hashtagRe = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)
)

// accentFold decomposes characters and strips combining marks, so
// "harcèlement" becomes "harcelement".
var accentFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize cleans raw post text: strips URLs, mention tokens, and the
// hashtag marker (keeping the tag text), folds accents to an
// accent-insensitive lowercase form, drops symbol and emoji runes, and
// collapses whitespace. It is total (never fails; worst case returns "")
// and idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = urlRe.ReplaceAllString(text, " ")
	text = mentionRe.ReplaceAllString(text, " ")
	text = hashtagRe.ReplaceAllString(text, "$1")

	if folded, _, err := transform.String(accentFold, text); err == nil {
		text = folded
	}
	text = strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if keepRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// keepRune keeps linguistic content: letters, digits, whitespace, and
// word-internal apostrophes and hyphens. Control characters, emoji, and
// symbol/punctuation noise are dropped.
func keepRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
		return true
	}
	return r == '\'' || r == '-'
}
