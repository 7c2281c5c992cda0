package textanalysis

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"crisis-engine/internal/models"
)

// Lexicon is a tiered list of indicator phrases.
type Lexicon struct {
	Low      []string `yaml:"low"`
	Moderate []string `yaml:"moderate"`
	High     []string `yaml:"high"`
	Critical []string `yaml:"critical"`
}

// DefaultLexicon is used when no lexicon file is configured.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Low: []string{
			"sad", "tired", "stressed", "anxious", "lonely", "can't sleep",
			"feeling down", "exhausted",
		},
		Moderate: []string{
			"worthless", "trapped", "can't cope", "a burden", "empty inside",
			"overwhelmed", "nobody cares", "all alone",
		},
		High: []string{
			"self harm", "self-harm", "hurt myself", "cutting myself",
			"can't go on", "no way out", "hopeless", "give up on everything",
		},
		Critical: []string{
			"kill myself", "end my life", "suicide", "suicidal", "want to die",
			"take my own life", "better off dead", "no reason to live",
		},
	}
}

// LoadLexicon reads a lexicon from a YAML file.
func LoadLexicon(path string) (Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Lexicon{}, fmt.Errorf("failed to read lexicon file: %w", err)
	}
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return Lexicon{}, fmt.Errorf("failed to decode lexicon file: %w", err)
	}
	if len(lex.Low)+len(lex.Moderate)+len(lex.High)+len(lex.Critical) == 0 {
		return Lexicon{}, fmt.Errorf("lexicon %s has no phrases", path)
	}
	return lex, nil
}

// tierProbability is the chance that a single match of a tier is a real
// indicator. Matches combine as independent evidence.
var tierProbability = map[models.SeverityHint]float64{
	models.SeverityLow:      0.15,
	models.SeverityModerate: 0.30,
	models.SeverityHigh:     0.45,
	models.SeverityCritical: 0.60,
}

type phrase struct {
	text string
	tier models.SeverityHint
	re   *regexp.Regexp
}

func (l Lexicon) compile() ([]phrase, error) {
	var phrases []phrase
	seen := make(map[string]bool)
	add := func(tier models.SeverityHint, list []string) error {
		for _, p := range list {
			p = normalize(strings.TrimSpace(p))
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			words := strings.Fields(p)
			for i, w := range words {
				words[i] = regexp.QuoteMeta(w)
			}
			re, err := regexp.Compile(`(?i)\b` + strings.Join(words, `\s+`) + `\b`)
			if err != nil {
				return fmt.Errorf("invalid lexicon phrase %q: %w", p, err)
			}
			phrases = append(phrases, phrase{text: p, tier: tier, re: re})
		}
		return nil
	}
	// Most severe first so a phrase listed in two tiers keeps the higher one.
	if err := add(models.SeverityCritical, l.Critical); err != nil {
		return nil, err
	}
	if err := add(models.SeverityHigh, l.High); err != nil {
		return nil, err
	}
	if err := add(models.SeverityModerate, l.Moderate); err != nil {
		return nil, err
	}
	if err := add(models.SeverityLow, l.Low); err != nil {
		return nil, err
	}
	return phrases, nil
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'")

func normalize(s string) string {
	return strings.ToLower(apostrophes.Replace(s))
}
