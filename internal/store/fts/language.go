package fts

import "strings"

// Language is the closed set of languages the stemmer supports. Unknown
// falls back to the configured default language.
type Language byte

const (
	LangUnknown Language = iota
	LangEnglish
	LangSpanish
	LangFrench
	LangGerman
)

// commonWords is a tiny stopword-style fingerprint per language, enough
// to disambiguate the handful of languages this index supports without
// pulling in a full n-gram language model — a deliberate simplification
// from a production language detector, documented in DESIGN.md.
var commonWords = map[Language]map[string]bool{
	LangEnglish: setOf("the", "and", "of", "to", "in", "is", "was", "for", "that", "with"),
	LangSpanish: setOf("el", "la", "de", "que", "y", "los", "las", "un", "una", "por"),
	LangFrench:  setOf("le", "la", "de", "et", "les", "des", "un", "une", "pour", "est"),
	LangGerman:  setOf("der", "die", "das", "und", "ist", "den", "ein", "eine", "mit", "von"),
}

func setOf(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Detect scores text against each supported language's common-word
// fingerprint and returns the best match, or LangUnknown if no language
// scores above a minimal confidence threshold.
func Detect(text string) Language {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return LangUnknown
	}

	scores := make(map[Language]int)
	for _, w := range words {
		for lang, set := range commonWords {
			if set[w] {
				scores[lang]++
			}
		}
	}

	best := LangUnknown
	bestScore := 0
	for lang, score := range scores {
		if score > bestScore {
			best, bestScore = lang, score
		}
	}
	if bestScore == 0 {
		return LangUnknown
	}
	return best
}
