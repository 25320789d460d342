// Package language implements the per-turn language tag detector: a pure,
// synchronous best-effort classifier with no I/O.
package language

import (
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
)

// shortTextThreshold is the length below which the script-range table and
// English heuristic run instead of the statistical detector.
const shortTextThreshold = 10

// SupportedTags is the closed set of language tags the system will ever
// route voice/locale selection on; anything outside it collapses to the
// caller-supplied fallback.
var SupportedTags = map[string]bool{
	"hi": true, "en": true, "bn": true, "te": true, "ta": true,
	"mr": true, "gu": true, "kn": true, "ml": true, "pa": true,
	"or": true, "as": true, "ur": true,
}

// scriptRange pairs a Unicode range table with the language tag it implies.
type scriptRange struct {
	tag   string
	table *unicode.RangeTable
}

var scriptRanges = []scriptRange{
	{"hi", unicode.Devanagari},
	{"ta", unicode.Tamil},
	{"te", unicode.Telugu},
	{"kn", unicode.Kannada},
	{"ml", unicode.Malayalam},
	{"gu", unicode.Gujarati},
	{"bn", unicode.Bengali},
}

// englishKeywords is a small set of frequent English function words used to
// bias very short Latin-script strings toward "en" instead of the
// statistical detector's noisier short-string guesses.
var englishKeywords = map[string]bool{
	"the": true, "is": true, "are": true, "hi": true, "hello": true,
	"yes": true, "no": true, "ok": true, "okay": true, "what": true,
	"how": true, "where": true, "please": true, "thanks": true,
}

// Detect returns a best-effort BCP-47-ish language tag for text, falling
// back to fallback when no confident signal is available. Pure function,
// no I/O, safe to call concurrently.
func Detect(text, fallback string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fallback
	}

	if len([]rune(trimmed)) < shortTextThreshold {
		if tag, ok := scriptTableMatch(trimmed); ok {
			return tag
		}
		if looksEnglish(trimmed) {
			return "en"
		}
		return fallback
	}

	info := whatlanggo.Detect(trimmed)
	tag := mapWhatlangTag(info.Lang)
	if tag == "" {
		if t, ok := scriptTableMatch(trimmed); ok {
			return t
		}
		if looksEnglish(trimmed) {
			return "en"
		}
		return fallback
	}

	return clamp(tag, fallback)
}

// scriptTableMatch checks each rune against the script-range table; the
// range with the most matching runes wins, provided it covers at least half
// of the letters.
func scriptTableMatch(text string) (string, bool) {
	counts := make(map[string]int)
	total := 0
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsDigit(r) {
			continue
		}
		total++
		for _, sr := range scriptRanges {
			if unicode.Is(sr.table, r) {
				counts[sr.tag]++
			}
		}
	}
	if total == 0 {
		return "", false
	}
	best := ""
	bestCount := 0
	for tag, count := range counts {
		if count > bestCount {
			best = tag
			bestCount = count
		}
	}
	if best != "" && bestCount*2 >= total {
		return best, true
	}
	return "", false
}

// looksEnglish applies a cheap keyword heuristic for short Latin-script
// strings where the statistical detector is unreliable.
func looksEnglish(text string) bool {
	lower := strings.ToLower(text)
	for _, word := range strings.Fields(lower) {
		word = strings.Trim(word, ".,!?;:")
		if englishKeywords[word] {
			return true
		}
	}
	for _, r := range text {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return isAllLatin(text)
}

func isAllLatin(text string) bool {
	seen := false
	for _, r := range text {
		if unicode.IsLetter(r) {
			if !unicode.Is(unicode.Latin, r) {
				return false
			}
			seen = true
		}
	}
	return seen
}

// mapWhatlangTag converts whatlanggo's ISO 639-3-ish tags to this system's
// two-letter tags for the languages it can plausibly return for telephony
// audio transcripts in the supported set.
func mapWhatlangTag(lang whatlanggo.Lang) string {
	switch lang {
	case whatlanggo.Eng:
		return "en"
	case whatlanggo.Hin:
		return "hi"
	case whatlanggo.Ben:
		return "bn"
	case whatlanggo.Tel:
		return "te"
	case whatlanggo.Tam:
		return "ta"
	case whatlanggo.Mar:
		return "mr"
	case whatlanggo.Guj:
		return "gu"
	case whatlanggo.Kan:
		return "kn"
	case whatlanggo.Mal:
		return "ml"
	case whatlanggo.Pan:
		return "pa"
	case whatlanggo.Urd:
		return "ur"
	default:
		return ""
	}
}

// clamp restricts tag to SupportedTags, falling back otherwise.
func clamp(tag, fallback string) string {
	if SupportedTags[tag] {
		return tag
	}
	return fallback
}
