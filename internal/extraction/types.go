package extraction

// Source records where a field value came from.
type Source string

const (
	SourceExplicit   Source = "explicit"
	SourceInferred   Source = "inferred"
	SourceContextual Source = "contextual"
	SourceFallback   Source = "fallback"
)

func (s Source) valid() bool {
	switch s {
	case SourceExplicit, SourceInferred, SourceContextual, SourceFallback:
		return true
	}
	return false
}

// Field is one filled placeholder.
type Field struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
}

// Result maps placeholder identifiers to their filled values.
type Result map[string]Field

// Complete returns a copy of r holding exactly the given placeholders.
// Placeholders the model skipped are filled as empty fallback fields and
// keys that are not placeholders are dropped.
func Complete(r Result, placeholders []string) Result {
	out := make(Result, len(placeholders))
	for _, name := range placeholders {
		f, ok := r[name]
		if !ok {
			f = Field{Source: SourceFallback}
		}
		f.Confidence = clamp(f.Confidence)
		out[name] = f
	}
	return out
}

func clamp(c float64) float64 {
	switch {
	case c != c, c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
