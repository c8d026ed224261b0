// Package transcode - projection.go implements declarative field projection.
//
// DESIGN: Every resource view is a Projection: an ordered list of Fields, each
// naming an output key, a source path (gjson syntax) and an inclusion predicate.
// Output keys keep table order. A later Field with the same Name overwrites the
// earlier value in place, which is how legacy field collisions are reproduced.
//
// Copy semantics follow the upstream client's expectations:
//   - source field absent  -> key omitted
//   - source field null    -> key emitted as null (unless the predicate excludes it)
//   - source field present -> raw JSON copied verbatim
package transcode

import (
	"bytes"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Options are per-request transcoding switches.
type Options struct {
	// Extended selects the larger field sets used by capable clients.
	Extended bool
}

// Predicate decides whether a Field is emitted for the current source object.
type Predicate func(s *Scope) bool

// Field is one row of a projection table.
type Field struct {
	Name  string                        // output key
	Path  string                        // source path, copied raw when Value is nil
	When  Predicate                     // nil means always
	Value func(s *Scope) ([]byte, error) // computed raw JSON; nil result omits the key
}

// Projection is an ordered field whitelist.
type Projection []Field

// Scope is the source object a projection is applied to.
type Scope struct {
	Src  gjson.Result
	Opts Options

	t    *Transcoder
	memo map[string]normalized
}

type normalized struct {
	text    string
	changed bool
}

func (t *Transcoder) scope(src gjson.Result, opts Options) *Scope {
	return &Scope{Src: src, Opts: opts, t: t}
}

// child returns a scope over a nested value sharing request options.
func (s *Scope) child(src gjson.Result) *Scope {
	return &Scope{Src: src, Opts: s.Opts, t: s.t}
}

// normalize runs the text normalizer over the string at path, once per scope.
func (s *Scope) normalize(path string) (string, bool) {
	if n, ok := s.memo[path]; ok {
		return n.text, n.changed
	}
	raw := s.Src.Get(path).String()
	text, changed := raw, false
	if s.t != nil && s.t.norm != nil {
		text, changed = s.t.norm.Normalize(raw)
	}
	if s.memo == nil {
		s.memo = make(map[string]normalized)
	}
	s.memo[path] = normalized{text: text, changed: changed}
	return text, changed
}

// Apply builds the output object for s.
func (p Projection) Apply(s *Scope) ([]byte, error) {
	out := []byte("{}")
	for _, f := range p {
		if f.When != nil && !f.When(s) {
			continue
		}

		var raw []byte
		if f.Value != nil {
			v, err := f.Value(s)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			raw = v
		} else if r := s.Src.Get(f.Path); r.Exists() {
			raw = []byte(r.Raw)
		}
		if raw == nil {
			continue
		}

		var err error
		out, err = sjson.SetRawBytes(out, f.Name, raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	return out, nil
}

// Names lists the output keys of p in order, duplicates included.
func (p Projection) Names() []string {
	names := make([]string, len(p))
	for i, f := range p {
		names[i] = f.Name
	}
	return names
}

// =============================================================================
// VALUE BUILDERS
// =============================================================================

// Nested projects the object at path.
func Nested(path string, p Projection) func(*Scope) ([]byte, error) {
	return func(s *Scope) ([]byte, error) {
		return p.Apply(s.child(s.Src.Get(path)))
	}
}

// Each projects every element of the array at path.
func Each(path string, p Projection) func(*Scope) ([]byte, error) {
	return func(s *Scope) ([]byte, error) {
		items := s.Src.Get(path).Array()
		return applyAll(s, items, p)
	}
}

// First projects only the first element of the array at path, as a one-element array.
func First(path string, p Projection) func(*Scope) ([]byte, error) {
	return func(s *Scope) ([]byte, error) {
		items := s.Src.Get(path).Array()
		if len(items) > 1 {
			items = items[:1]
		}
		return applyAll(s, items, p)
	}
}

// Literal always yields raw.
func Literal(raw string) func(*Scope) ([]byte, error) {
	return func(*Scope) ([]byte, error) { return []byte(raw), nil }
}

func applyAll(s *Scope, items []gjson.Result, p Projection) ([]byte, error) {
	parts := make([][]byte, 0, len(items))
	for _, item := range items {
		obj, err := p.Apply(s.child(item))
		if err != nil {
			return nil, err
		}
		parts = append(parts, obj)
	}
	return joinArray(parts), nil
}

func joinArray(parts [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.Write(bytes.Join(parts, []byte{','}))
	buf.WriteByte(']')
	return buf.Bytes()
}

// =============================================================================
// PREDICATES
// =============================================================================

// NonNull is true when path exists and is not null.
func NonNull(path string) Predicate {
	return func(s *Scope) bool {
		r := s.Src.Get(path)
		return r.Exists() && r.Type != gjson.Null
	}
}

// IsNull is true when path is absent or null.
func IsNull(path string) Predicate {
	return func(s *Scope) bool {
		r := s.Src.Get(path)
		return !r.Exists() || r.Type == gjson.Null
	}
}

// Truthy is true for present values other than null, false, 0 and "".
func Truthy(path string) Predicate {
	return func(s *Scope) bool {
		return truthy(s.Src.Get(path))
	}
}

// NonEmpty is true when path is a non-empty array.
func NonEmpty(path string) Predicate {
	return func(s *Scope) bool {
		r := s.Src.Get(path)
		return r.IsArray() && len(r.Array()) > 0
	}
}

// NumberIn is true when path is a number in [lo, hi].
func NumberIn(path string, lo, hi float64) Predicate {
	return func(s *Scope) bool {
		r := s.Src.Get(path)
		return r.Type == gjson.Number && r.Num >= lo && r.Num <= hi
	}
}

// NumberOneOf is true when path is a number equal to one of vals.
func NumberOneOf(path string, vals ...float64) Predicate {
	return func(s *Scope) bool {
		r := s.Src.Get(path)
		if r.Type != gjson.Number {
			return false
		}
		for _, v := range vals {
			if r.Num == v {
				return true
			}
		}
		return false
	}
}

// Extended is true when the request asked for extended field sets.
func Extended(s *Scope) bool { return s.Opts.Extended }

// Any is true when at least one predicate is.
func Any(ps ...Predicate) Predicate {
	return func(s *Scope) bool {
		for _, p := range ps {
			if p(s) {
				return true
			}
		}
		return false
	}
}

// All is true when every predicate is.
func All(ps ...Predicate) Predicate {
	return func(s *Scope) bool {
		for _, p := range ps {
			if !p(s) {
				return false
			}
		}
		return true
	}
}

func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	case gjson.True, gjson.JSON:
		return true
	}
	return false
}
