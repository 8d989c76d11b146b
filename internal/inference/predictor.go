// Package inference serves predictions from the active production
// model artifact.
package inference

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoActiveModel means nothing has been promoted to production yet.
var ErrNoActiveModel = errors.New("no active production model")

// Prediction is one scored input.
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Predictor scores free text against the active model.
type Predictor interface {
	Predict(text string) (Prediction, error)
}

// ActiveModel reports whether a production artifact is activated.
type ActiveModel interface {
	ActiveExists() bool
}

// LexiconPredictor is a word-list sentiment scorer. It stands in for
// real model inference; the transport and activation gating around it
// match what a real scorer needs.
type LexiconPredictor struct {
	active   ActiveModel
	positive map[string]struct{}
	negative map[string]struct{}
}

func NewLexiconPredictor(active ActiveModel) (*LexiconPredictor, error) {
	if active == nil {
		return nil, fmt.Errorf("active model source is required")
	}
	return &LexiconPredictor{
		active:   active,
		positive: wordSet("good", "great", "excellent", "amazing", "love", "wonderful", "best", "fantastic", "enjoyed", "perfect"),
		negative: wordSet("bad", "terrible", "awful", "hate", "worst", "boring", "poor", "disappointing", "waste", "horrible"),
	}, nil
}

func (p *LexiconPredictor) Predict(text string) (Prediction, error) {
	if !p.active.ActiveExists() {
		return Prediction{}, ErrNoActiveModel
	}

	var hits, score int
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()")
		if _, ok := p.positive[word]; ok {
			hits++
			score++
		}
		if _, ok := p.negative[word]; ok {
			hits++
			score--
		}
	}

	label := "positive"
	if score < 0 {
		label = "negative"
	}
	confidence := 0.5
	if hits > 0 {
		confidence = 0.5 + 0.5*abs(score)/float64(hits)
	}
	return Prediction{Label: label, Score: confidence}, nil
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func abs(v int) float64 {
	if v < 0 {
		return float64(-v)
	}
	return float64(v)
}
