package text

import (
	"regexp"
	"strings"
)

// CleanResult is the outcome of normalizing a raw text snippet
type CleanResult struct {
	Cleaned    string
	Language   string
	Confidence float64
	IsTarget   bool
}

// Cleaner normalizes raw event text and decides whether it is in the
// language the classifier supports
type Cleaner struct {
	targetLanguage string
}

var (
	urlPattern     = regexp.MustCompile(`https?://\S+|www\.\S+`)
	mentionPattern = regexp.MustCompile(`@\w+`)
	markupPattern  = regexp.MustCompile(`<[^>]+>`)
	spacePattern   = regexp.MustCompile(`\s+`)
)

// Frequent function words per supported language, used for the dominant
// language vote. Small on purpose: the classifier only needs a gate, not a
// full detector.
var stopwords = map[string][]string{
	"en": {"the", "a", "an", "and", "or", "but", "is", "are", "was", "were", "to", "of", "in", "on", "for", "with", "this", "that", "it", "not", "at", "by", "be", "have", "has", "so", "we", "you", "i"},
	"es": {"el", "la", "los", "las", "un", "una", "y", "o", "pero", "es", "son", "era", "de", "en", "que", "no", "se", "por", "con", "para", "su", "al", "lo", "como", "mas"},
	"de": {"der", "die", "das", "ein", "eine", "und", "oder", "aber", "ist", "sind", "war", "zu", "von", "in", "auf", "mit", "nicht", "sich", "auch", "den", "dem", "des", "im"},
	"fr": {"le", "la", "les", "un", "une", "et", "ou", "mais", "est", "sont", "de", "du", "des", "en", "que", "qui", "ne", "pas", "pour", "avec", "dans", "ce", "il", "je"},
}

// NewCleaner creates a cleaner gated on the given ISO language code
func NewCleaner(targetLanguage string) *Cleaner {
	if targetLanguage == "" {
		targetLanguage = "en"
	}
	return &Cleaner{targetLanguage: strings.ToLower(targetLanguage)}
}

// Clean strips URLs, @handles and markup, collapses whitespace, lowercases,
// and determines the dominant language. Empty or whitespace-only input is
// treated as neutral: it cleans to "" and passes the language gate, so the
// classifier's empty-input default applies rather than an error.
func (c *Cleaner) Clean(raw string) CleanResult {
	cleaned := urlPattern.ReplaceAllString(raw, " ")
	cleaned = mentionPattern.ReplaceAllString(cleaned, " ")
	cleaned = markupPattern.ReplaceAllString(cleaned, " ")
	cleaned = spacePattern.ReplaceAllString(cleaned, " ")
	cleaned = strings.ToLower(strings.TrimSpace(cleaned))

	if cleaned == "" {
		return CleanResult{
			Cleaned:  "",
			Language: c.targetLanguage,
			IsTarget: true,
		}
	}

	language, confidence := detectLanguage(cleaned)

	return CleanResult{
		Cleaned:    cleaned,
		Language:   language,
		Confidence: confidence,
		IsTarget:   language == c.targetLanguage,
	}
}

// TargetLanguage returns the language code the cleaner gates on
func (c *Cleaner) TargetLanguage() string {
	return c.targetLanguage
}

// detectLanguage votes each token against the stopword lists and returns the
// language with the most hits plus the hit ratio as confidence. Text with no
// stopword hits at all defaults to "und" (undetermined) with zero confidence.
func detectLanguage(cleaned string) (string, float64) {
	tokens := strings.Fields(cleaned)
	if len(tokens) == 0 {
		return "und", 0
	}

	hits := make(map[string]int, len(stopwords))
	for _, token := range tokens {
		token = strings.Trim(token, ".,!?;:'\"()[]")
		for lang, words := range stopwords {
			for _, w := range words {
				if token == w {
					hits[lang]++
					break
				}
			}
		}
	}

	best := "und"
	bestHits := 0
	for lang, n := range hits {
		if n > bestHits {
			best = lang
			bestHits = n
		}
	}

	if bestHits == 0 {
		return "und", 0
	}

	return best, float64(bestHits) / float64(len(tokens))
}
