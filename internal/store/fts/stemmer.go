package fts

import "strings"

// Stem produces the stemmed form of word for the given language, or ""
// if the word doesn't change (the caller then only emits an exact
// posting). This is a light Porter-style suffix stripper per language,
// not a full linguistic stemmer — sufficient to satisfy the testable
// property that an inflected form ("loving") matches a related
// inflection ("loved") without pulling in a dedicated stemming library
// (none of the example repos carry one; see DESIGN.md).
func Stem(word string, lang Language) string {
	switch lang {
	case LangEnglish:
		return stemEnglish(word)
	case LangSpanish:
		return stripSuffix(word, []string{"mente", "ando", "iendo", "ado", "ido", "ar", "er", "ir"})
	case LangFrench:
		return stripSuffix(word, []string{"ement", "issant", "ant", "ées", "ée", "és", "er", "ir"})
	case LangGerman:
		return stripSuffix(word, []string{"ungen", "ung", "lich", "isch", "en", "er", "es"})
	default:
		return ""
	}
}

var englishSuffixes = []string{
	"ational", "ization", "fulness", "ousness", "iveness",
	"ing", "edly", "ed", "ies", "es", "ly", "s",
}

func stemEnglish(word string) string {
	if len(word) < 4 {
		return ""
	}
	return stripSuffix(word, englishSuffixes)
}

// stripSuffix removes the longest matching suffix from candidates,
// provided the remaining stem is at least 3 characters, so short words
// aren't mangled to nothing.
func stripSuffix(word string, candidates []string) string {
	best := ""
	for _, suf := range candidates {
		if strings.HasSuffix(word, suf) && len(word)-len(suf) >= 3 {
			if len(suf) > len(best) {
				best = suf
			}
		}
	}
	if best == "" {
		return ""
	}
	stem := word[:len(word)-len(best)]
	if stem == word {
		return ""
	}
	return stem
}
