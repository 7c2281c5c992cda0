// Package textanalysis scans free text for crisis-indicator language.
package textanalysis

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"crisis-engine/internal/models"
)

// Analyzer turns a batch of text entries into a TextAnalysisResult.
// Any classifier can sit behind it.
type Analyzer interface {
	Analyze(ctx context.Context, texts []string) (models.TextAnalysisResult, error)
}

// LexiconAnalyzer matches entries against a tiered phrase lexicon.
type LexiconAnalyzer struct {
	phrases []phrase
}

// NewLexiconAnalyzer compiles lex into an analyzer.
func NewLexiconAnalyzer(lex Lexicon) (*LexiconAnalyzer, error) {
	phrases, err := lex.compile()
	if err != nil {
		return nil, err
	}
	return &LexiconAnalyzer{phrases: phrases}, nil
}

// Analyze reports every phrase found, the highest tier matched as the
// severity hint, and a confidence that grows with the number and tier of
// independent matches. A match is one (entry, phrase) pair.
func (a *LexiconAnalyzer) Analyze(ctx context.Context, texts []string) (models.TextAnalysisResult, error) {
	result := models.TextAnalysisResult{
		IndicatorsFound: []string{},
		SeverityHint:    models.SeverityNone,
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	found := make(map[string]bool)
	miss := 1.0
	for _, text := range texts {
		if text == "" {
			continue
		}
		text = normalize(text)
		for _, p := range a.phrases {
			if !p.re.MatchString(text) {
				continue
			}
			found[p.text] = true
			miss *= 1 - tierProbability[p.tier]
			if p.tier.Rank() > result.SeverityHint.Rank() {
				result.SeverityHint = p.tier
			}
		}
	}

	for indicator := range found {
		result.IndicatorsFound = append(result.IndicatorsFound, indicator)
	}
	sort.Strings(result.IndicatorsFound)
	result.Confidence = 1 - miss
	return result, nil
}

// fallbackAnalyzer uses primary and falls back to secondary on error.
type fallbackAnalyzer struct {
	primary   Analyzer
	secondary Analyzer
	name      string
	logger    *zap.Logger
}

// WithFallback returns an Analyzer that tries primary first and uses
// secondary whenever primary fails.
func WithFallback(name string, primary, secondary Analyzer, logger *zap.Logger) Analyzer {
	return &fallbackAnalyzer{primary: primary, secondary: secondary, name: name, logger: logger}
}

func (f *fallbackAnalyzer) Analyze(ctx context.Context, texts []string) (models.TextAnalysisResult, error) {
	result, err := f.primary.Analyze(ctx, texts)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return result, err
	}
	f.logger.Warn("Text classifier failed, using lexicon fallback", zap.String("classifier", f.name), zap.Error(err))
	return f.secondary.Analyze(ctx, texts)
}
