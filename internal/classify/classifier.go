package classify

import (
	"context"
	"strings"
)

// Sentiment labels produced by the classifiers
const (
	LabelPositive = "positive"
	LabelNegative = "negative"
	LabelNeutral  = "neutral"
)

// Classification is the outcome of classifying one cleaned text
type Classification struct {
	Label        string             `json:"label"`
	Confidence   float64            `json:"confidence"`
	Scores       map[string]float64 `json:"scores"`
	ModelVersion string             `json:"model_version"`
}

// Classifier turns cleaned text into a sentiment classification. Any error
// is terminal for the event being processed; implementations must not retry
// internally. Empty input must return a neutral default, never an error.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Classification, error)
}

const lexiconModelVersion = "lexicon-v1"

// LexiconClassifier scores text against embedded word lists. It is the
// default capability for development and for environments without a model
// server.
type LexiconClassifier struct{}

var positiveWords = map[string]struct{}{
	"good": {}, "great": {}, "excellent": {}, "amazing": {}, "love": {},
	"happy": {}, "wonderful": {}, "best": {}, "fantastic": {}, "awesome": {},
	"nice": {}, "perfect": {}, "win": {}, "wins": {}, "won": {}, "success": {},
	"successful": {}, "beautiful": {}, "enjoy": {}, "enjoyed": {}, "glad": {},
	"brilliant": {}, "superb": {}, "delighted": {}, "positive": {}, "strong": {},
}

var negativeWords = map[string]struct{}{
	"bad": {}, "terrible": {}, "awful": {}, "hate": {}, "sad": {},
	"worst": {}, "horrible": {}, "poor": {}, "fail": {}, "fails": {},
	"failed": {}, "failure": {}, "broken": {}, "angry": {}, "disappointed": {},
	"disappointing": {}, "useless": {}, "wrong": {}, "ugly": {}, "weak": {},
	"lose": {}, "loses": {}, "lost": {}, "negative": {}, "crash": {},
}

// NewLexiconClassifier creates a lexicon-backed classifier
func NewLexiconClassifier() *LexiconClassifier {
	return &LexiconClassifier{}
}

// Classify counts positive and negative lexicon hits and derives a score
// distribution from them. Empty input returns the neutral default.
func (c *LexiconClassifier) Classify(_ context.Context, text string) (*Classification, error) {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return neutralDefault(lexiconModelVersion), nil
	}

	var pos, neg int
	for _, token := range tokens {
		token = strings.Trim(token, ".,!?;:'\"()[]")
		if _, ok := positiveWords[token]; ok {
			pos++
		}
		if _, ok := negativeWords[token]; ok {
			neg++
		}
	}

	if pos == 0 && neg == 0 {
		return neutralDefault(lexiconModelVersion), nil
	}

	total := float64(pos + neg)
	posScore := float64(pos) / total
	negScore := float64(neg) / total

	// Hedge toward neutral so that a single lexicon hit in a long sentence
	// does not read as full confidence.
	density := total / float64(len(tokens))
	if density > 1 {
		density = 1
	}
	neutralScore := (1 - density) * 0.5
	scale := 1 - neutralScore
	posScore *= scale
	negScore *= scale

	scores := map[string]float64{
		LabelPositive: posScore,
		LabelNegative: negScore,
		LabelNeutral:  neutralScore,
	}

	label := LabelNeutral
	confidence := neutralScore
	if posScore > confidence {
		label = LabelPositive
		confidence = posScore
	}
	if negScore > confidence {
		label = LabelNegative
		confidence = negScore
	}

	return &Classification{
		Label:        label,
		Confidence:   confidence,
		Scores:       scores,
		ModelVersion: lexiconModelVersion,
	}, nil
}

func neutralDefault(modelVersion string) *Classification {
	return &Classification{
		Label:      LabelNeutral,
		Confidence: 1.0,
		Scores: map[string]float64{
			LabelPositive: 0,
			LabelNegative: 0,
			LabelNeutral:  1.0,
		},
		ModelVersion: modelVersion,
	}
}
