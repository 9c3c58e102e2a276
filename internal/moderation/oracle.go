package moderation

import (
	"context"
	"regexp"
)

// Oracle scores plaintext content in [0,1]. Implementations are expected to
// be external models or services with bounded latency; the gate wraps every
// call in a timeout.
type Oracle interface {
	Score(ctx context.Context, text string) (float64, error)
}

// OracleFunc adapts a plain function to the Oracle interface.
type OracleFunc func(ctx context.Context, text string) (float64, error)

func (f OracleFunc) Score(ctx context.Context, text string) (float64, error) {
	return f(ctx, text)
}

// PatternOracle is the built-in scorer: a severity table over pattern
// classes, highest match wins. It stands in for an external model in dev and
// tests.
type PatternOracle struct {
	rules []patternRule
}

type patternRule struct {
	re       *regexp.Regexp
	severity float64
}

// NewPatternOracle builds the default rule set: profanity, spam bait and
// personal information (phone numbers, email addresses).
func NewPatternOracle() *PatternOracle {
	return &PatternOracle{rules: []patternRule{
		{regexp.MustCompile(`(?i)\b(fuck|shit|damn|bitch|asshole)\b`), 0.7},
		{regexp.MustCompile(`(?i)(click here|buy now|limited time|act now)`), 0.5},
		{regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`), 0.8},
		{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), 0.8},
	}}
}

func (o *PatternOracle) Score(ctx context.Context, text string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	max := 0.0
	for _, rule := range o.rules {
		if rule.re.MatchString(text) && rule.severity > max {
			max = rule.severity
		}
	}
	return max, nil
}
