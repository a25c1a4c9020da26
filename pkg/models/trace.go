package models

// TraceRecord is one parsed model-invocation trace.
type TraceRecord map[string]any

// FieldKind classifies what sits at the prompt location of a record.
type FieldKind int

const (
	// FieldAbsent means the location does not exist in the record.
	FieldAbsent FieldKind = iota
	// FieldText means the location holds a string.
	FieldText
	// FieldMalformed means the location exists but holds a non-string value.
	FieldMalformed
)

func (k FieldKind) String() string {
	switch k {
	case FieldText:
		return "text"
	case FieldMalformed:
		return "malformed"
	default:
		return "absent"
	}
}

// PromptField is the result of looking up the prompt location in a record.
// Text is set only for FieldText, Value only for FieldMalformed.
type PromptField struct {
	Kind  FieldKind
	Text  string
	Value any
}

// Lookup walks path through nested objects. A missing key, or a
// non-object on the way, yields FieldAbsent.
func (r TraceRecord) Lookup(path []string) PromptField {
	if len(path) == 0 || r == nil {
		return PromptField{Kind: FieldAbsent}
	}
	node := map[string]any(r)
	for _, key := range path[:len(path)-1] {
		next, ok := asObject(node[key])
		if !ok {
			return PromptField{Kind: FieldAbsent}
		}
		node = next
	}
	v, ok := node[path[len(path)-1]]
	if !ok {
		return PromptField{Kind: FieldAbsent}
	}
	if s, ok := v.(string); ok {
		return PromptField{Kind: FieldText, Text: s}
	}
	return PromptField{Kind: FieldMalformed, Value: v}
}

// Str returns the string value stored under a top-level key, or "".
func (r TraceRecord) Str(key string) string {
	s, _ := r[key].(string)
	return s
}

// Clone returns a deep copy of the record. Nested objects and arrays are
// copied; scalar values are shared.
func (r TraceRecord) Clone() TraceRecord {
	if r == nil {
		return nil
	}
	return TraceRecord(cloneObject(r))
}

func asObject(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, true
	case TraceRecord:
		return o, true
	}
	return nil, false
}

func cloneObject(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneObject(t)
	case TraceRecord:
		return cloneObject(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// BatchResult summarizes one pipeline run.
type BatchResult struct {
	Records        int   `json:"records"`
	Compacted      int   `json:"compacted"`
	Passthrough    int   `json:"passthrough"`
	Skipped        int   `json:"skipped"`
	RawBytes       int64 `json:"raw_bytes"`
	CompactedBytes int64 `json:"compacted_bytes"`
}
