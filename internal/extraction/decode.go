package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-scribe/internal/apperr"
)

// fenceMarkers are the only wrappers stripped from model output before
// parsing. Order matters: the language-tagged fence goes first.
var fenceMarkers = []string{"```json", "```JSON", "```"}

// ParseError reports model output that could not be decoded.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string { return "decode extraction response: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) ErrorKind() apperr.Kind { return apperr.KindExtractionParseError }

func (e *ParseError) PublicMessage() string { return "could not parse extraction response" }

// StripFences removes allow-listed code fence markers around s.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, m := range fenceMarkers {
		if strings.HasPrefix(s, m) {
			s = strings.TrimPrefix(s, m)
			break
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

type rawField struct {
	Value      json.RawMessage `json:"value"`
	Confidence json.RawMessage `json:"confidence"`
	Source     string          `json:"source"`
}

// Decode parses model output into a Result. Each field is either an object
// with value, confidence and source, or a bare string which is read as an
// inferred value at confidence 0.5. Unknown sources become inferred.
func Decode(raw string) (Result, error) {
	body := StripFences(raw)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	if fields == nil {
		return nil, &ParseError{Raw: raw, Err: fmt.Errorf("response is not a JSON object")}
	}

	out := make(Result, len(fields))
	for name, msg := range fields {
		f, err := decodeField(msg)
		if err != nil {
			return nil, &ParseError{Raw: raw, Err: fmt.Errorf("field %q: %w", name, err)}
		}
		out[name] = f
	}
	return out, nil
}

func decodeField(msg json.RawMessage) (Field, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return Field{}, fmt.Errorf("empty value")
	}
	switch msg[0] {
	case '"':
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return Field{}, err
		}
		return Field{Value: s, Confidence: 0.5, Source: SourceInferred}, nil
	case 'n':
		return Field{Source: SourceInferred}, nil
	case '{':
	default:
		return Field{}, fmt.Errorf("unsupported field shape")
	}

	var rf rawField
	if err := json.Unmarshal(msg, &rf); err != nil {
		return Field{}, err
	}
	conf, err := decodeConfidence(rf.Confidence)
	if err != nil {
		return Field{}, err
	}
	src := Source(strings.ToLower(strings.TrimSpace(rf.Source)))
	if !src.valid() || src == SourceFallback {
		src = SourceInferred
	}
	return Field{Value: scalarText(rf.Value), Confidence: clamp(conf), Source: src}, nil
}

// decodeConfidence accepts a JSON number or a numeric string; absent is 0.
func decodeConfidence(msg json.RawMessage) (float64, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || string(msg) == "null" {
		return 0, nil
	}
	if msg[0] == '"' {
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return 0, err
		}
		c, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("confidence %q is not a number", s)
		}
		return c, nil
	}
	var c float64
	if err := json.Unmarshal(msg, &c); err != nil {
		return 0, fmt.Errorf("confidence: %w", err)
	}
	return c, nil
}

// scalarText renders a JSON value as note text. Strings are unquoted, null is
// empty, anything else keeps its compact JSON form.
func scalarText(msg json.RawMessage) string {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || string(msg) == "null" {
		return ""
	}
	if msg[0] == '"' {
		var s string
		if err := json.Unmarshal(msg, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, msg); err != nil {
		return string(msg)
	}
	return buf.String()
}
