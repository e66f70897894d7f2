package forms

import (
	"fmt"
	"regexp"
)

// Form control types. Static fields are display-only and never enter the
// settable set of an update.
const (
	TypeText     = "text"
	TypeTextarea = "textarea"
	TypeStatic   = "static"
)

func ignoredType(formType string) bool {
	return formType == TypeStatic
}

// FieldDescriptor is the per-field metadata of a schema.
type FieldDescriptor struct {
	ID           string
	FriendlyName string
	HelpText     string
	FormType     string
	// Pattern, when non-nil, must match a submitted value. Patterns carry
	// their own anchors.
	Pattern    *regexp.Regexp
	PatternSrc string
	// Always marks the field editable regardless of registration status.
	Always bool
	// MaxLength bounds the stored string; 0 means unbounded.
	MaxLength int
}

// UnknownFieldError reports a field id absent from a schema.
type UnknownFieldError struct {
	ID string
}

func (e UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown form field %q", e.ID)
}

// Schema is an ordered collection of field descriptors. Order matters for
// display; immutable once built.
type Schema struct {
	order []string
	byID  map[string]FieldDescriptor
}

// NewSchema builds a schema, compiling validation patterns. Duplicate
// field ids and invalid patterns are rejected.
func NewSchema(fields []FieldDescriptor) (*Schema, error) {
	s := &Schema{byID: make(map[string]FieldDescriptor, len(fields))}
	for _, f := range fields {
		if f.ID == "" {
			return nil, fmt.Errorf("schema field with empty id")
		}
		if _, dup := s.byID[f.ID]; dup {
			return nil, fmt.Errorf("duplicate schema field %q", f.ID)
		}
		if f.FormType == "" {
			f.FormType = TypeText
		}
		switch f.FormType {
		case TypeText, TypeTextarea, TypeStatic:
		default:
			return nil, fmt.Errorf("field %s: unknown form type %q", f.ID, f.FormType)
		}
		if f.PatternSrc != "" && f.Pattern == nil {
			re, err := regexp.Compile(f.PatternSrc)
			if err != nil {
				return nil, fmt.Errorf("field %s: invalid pattern: %w", f.ID, err)
			}
			f.Pattern = re
		}
		s.order = append(s.order, f.ID)
		s.byID[f.ID] = f
	}
	return s, nil
}

// Fields returns descriptors in display order.
func (s *Schema) Fields() []FieldDescriptor {
	res := make([]FieldDescriptor, 0, len(s.order))
	for _, id := range s.order {
		res = append(res, s.byID[id])
	}
	return res
}

// Get returns the descriptor for id or an UnknownFieldError.
func (s *Schema) Get(id string) (FieldDescriptor, error) {
	f, ok := s.byID[id]
	if !ok {
		return FieldDescriptor{}, UnknownFieldError{ID: id}
	}
	return f, nil
}

// Has reports whether the schema knows id.
func (s *Schema) Has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// Length returns the bounded string length for id, 0 when unbounded or
// unknown. Used to size storage columns.
func (s *Schema) Length(id string) int {
	return s.byID[id].MaxLength
}

// Disjoint reports whether the two schemas share no field ids.
func Disjoint(a, b *Schema) bool {
	for id := range a.byID {
		if b.Has(id) {
			return false
		}
	}
	return true
}
