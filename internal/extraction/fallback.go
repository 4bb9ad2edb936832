package extraction

import (
	"regexp"
	"strings"

	"github.com/loqalabs/loqa-scribe/internal/templates"
)

const fallbackConfidence = 0.5

// Fallback fills each placeholder by looking for "<name>: text" or
// "<name> text" in the dictation, up to the next period. Every field it
// returns is tagged SourceFallback.
func Fallback(rawText, templateBody string) Result {
	placeholders := templates.Placeholders(templateBody)
	out := make(Result, len(placeholders))
	for _, name := range placeholders {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b[:\s]+([^.]+)`)
		f := Field{Source: SourceFallback}
		if m := re.FindStringSubmatch(rawText); m != nil {
			if v := strings.TrimSpace(m[1]); v != "" {
				f.Value = v
				f.Confidence = fallbackConfidence
			}
		}
		out[name] = f
	}
	return out
}
