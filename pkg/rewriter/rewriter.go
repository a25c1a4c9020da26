// Package rewriter replaces the embedded prompt of a trace record with a
// reference issued by a prompt cache.
package rewriter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/revops-ai/tracecompact/pkg/models"
)

// ErrMalformedRecord is returned when the prompt field exists but is not a string.
var ErrMalformedRecord = errors.New("malformed trace record")

const (
	// DefaultField is the record location of the embedded prompt.
	DefaultField = "system"
	// DefaultRefField is the key that receives the prompt id.
	DefaultRefField = "system_ref"
)

// Interner issues stable ids for prompt text.
type Interner interface {
	Intern(text string) (string, error)
}

// Rewriter extracts one designated field from trace records. It holds no
// mutable state and may be shared freely.
type Rewriter struct {
	cache    Interner
	path     []string
	refField string
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithField sets the dot-separated location of the prompt field,
// e.g. "modelInvocationInput.system".
func WithField(field string) Option {
	return func(r *Rewriter) {
		if p := SplitPath(field); len(p) > 0 {
			r.path = p
		}
	}
}

// WithRefField sets the key written next to the removed prompt.
func WithRefField(name string) Option {
	return func(r *Rewriter) {
		if name != "" {
			r.refField = name
		}
	}
}

// New creates a Rewriter backed by cache.
func New(cache Interner, opts ...Option) *Rewriter {
	r := &Rewriter{
		cache:    cache,
		path:     []string{DefaultField},
		refField: DefaultRefField,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Field returns the prompt location as a dot-separated path.
func (r *Rewriter) Field() string { return strings.Join(r.path, ".") }

// RefField returns the key that receives the prompt id.
func (r *Rewriter) RefField() string { return r.refField }

// Process returns a copy of record with the prompt field swapped for its
// reference id, along with that id. If the record has no prompt field it
// is returned unchanged with an empty id. A record that already carries the
// reference key is rejected with ErrMalformedRecord before anything is
// interned. record itself is never modified.
func (r *Rewriter) Process(record models.TraceRecord) (models.TraceRecord, string, error) {
	field := record.Lookup(r.path)
	switch field.Kind {
	case models.FieldAbsent:
		return record, "", nil
	case models.FieldMalformed:
		return nil, "", fmt.Errorf("%w: field %q holds %T, want string",
			ErrMalformedRecord, r.Field(), field.Value)
	}

	leaf := r.path[len(r.path)-1]
	if r.refField != leaf {
		refPath := append(append([]string(nil), r.path[:len(r.path)-1]...), r.refField)
		if record.Lookup(refPath).Kind != models.FieldAbsent {
			return nil, "", fmt.Errorf("%w: ref field %q already present next to %q",
				ErrMalformedRecord, r.refField, r.Field())
		}
	}

	id, err := r.cache.Intern(field.Text)
	if err != nil {
		return nil, "", fmt.Errorf("intern field %q: %w", r.Field(), err)
	}

	out := record.Clone()
	parent := map[string]any(out)
	for _, key := range r.path[:len(r.path)-1] {
		parent = parent[key].(map[string]any)
	}
	delete(parent, leaf)
	parent[r.refField] = id
	return out, id, nil
}

// SplitPath splits a dot-separated field path, dropping empty segments.
func SplitPath(field string) []string {
	var out []string
	for _, p := range strings.Split(field, ".") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
