// Package templates holds the named clinical note templates ("macros") and
// the placeholder grammar shared by extraction and template generation.
package templates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/loqalabs/loqa-scribe/internal/apperr"
)

// DynamicPrefix marks keys of single-use templates that never enter a Store.
const DynamicPrefix = "custom_"

var placeholderRE = regexp.MustCompile(`\{(\w+)\}`)

// Template is an immutable named template body.
type Template struct {
	Key  string `json:"key"`
	Body string `json:"body"`
}

// Dynamic reports whether the template was generated for a single request.
func (t Template) Dynamic() bool {
	return strings.HasPrefix(t.Key, DynamicPrefix)
}

// Validation describes the placeholders of a stored template.
type Validation struct {
	Key            string   `json:"macro_key"`
	Fields         []string `json:"fields"`
	FieldCount     int      `json:"field_count"`
	TemplateLength int      `json:"template_length"`
}

// Store is read-only after construction and safe for concurrent use.
type Store struct {
	order  []string
	bodies map[string]string
}

// New builds a store from ordered key/body pairs; later duplicates replace
// the body but keep the first position.
func New(entries ...Template) *Store {
	s := &Store{bodies: make(map[string]string, len(entries))}
	for _, e := range entries {
		if _, exists := s.bodies[e.Key]; !exists {
			s.order = append(s.order, e.Key)
		}
		s.bodies[e.Key] = e.Body
	}
	return s
}

// Load reads a key -> body mapping from a JSON or YAML file, keeping file order.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var entries []Template
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		entries, err = decodeJSON(data)
	default:
		entries, err = decodeYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	return New(entries...), nil
}

// LoadOrEmpty is Load that degrades to an empty store on any failure.
func LoadOrEmpty(path string, logger *slog.Logger) *Store {
	s, err := Load(path)
	if err != nil {
		logger.Error("could not load templates, continuing with none",
			slog.String("path", path), slog.String("error", err.Error()))
		return New()
	}
	logger.Info("templates loaded", slog.String("path", path), slog.Int("count", s.Len()))
	return s
}

func decodeJSON(data []byte) ([]Template, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected a JSON object of templates")
	}
	var entries []Template
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)
		var body string
		if err := dec.Decode(&body); err != nil {
			return nil, fmt.Errorf("template %q: %w", key, err)
		}
		entries = append(entries, Template{Key: key, Body: body})
	}
	return entries, nil
}

func decodeYAML(data []byte) ([]Template, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping of templates")
	}
	entries := make([]Template, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("template %q must be a string", k.Value)
		}
		entries = append(entries, Template{Key: k.Value, Body: v.Value})
	}
	return entries, nil
}

// Get returns the template stored under key.
func (s *Store) Get(key string) (Template, error) {
	body, ok := s.bodies[key]
	if !ok {
		return Template{}, apperr.NotFound("template '%s' not found", key)
	}
	return Template{Key: key, Body: body}, nil
}

// Keys lists template keys in load order.
func (s *Store) Keys() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Store) Len() int { return len(s.order) }

// Validate reports the placeholders of the template stored under key.
func (s *Store) Validate(key string) (Validation, error) {
	t, err := s.Get(key)
	if err != nil {
		return Validation{}, err
	}
	fields := Placeholders(t.Body)
	return Validation{
		Key:            key,
		Fields:         fields,
		FieldCount:     len(fields),
		TemplateLength: len(t.Body),
	}, nil
}

// NewDynamic wraps ad-hoc template text under a fresh custom_ key.
func NewDynamic(body string) Template {
	return Template{Key: DynamicPrefix + uuid.NewString(), Body: body}
}

// Placeholders returns the distinct {identifier} names in body, in order of
// first appearance.
func Placeholders(body string) []string {
	matches := placeholderRE.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, dup := seen[m[1]]; dup {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}
