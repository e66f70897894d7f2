package forms

import (
	"fmt"
	"strings"
)

const (
	StatusSuccess = "success"
	StatusFail    = "fail"
)

// FieldResult is the per-field outcome of a validation pass.
type FieldResult struct {
	// Value is the normalized value that will be applied; nil clears the
	// stored value.
	Value    *string
	Editable bool
	Rejected bool
}

// Verdict is the structured result of a validate/update attempt. It is
// transient and never persisted.
type Verdict struct {
	Action string
	Status string
	Reason string
	Fields map[string]FieldResult
	// Err carries the underlying storage error on a persistence failure.
	Err error
}

func (v Verdict) OK() bool { return v.Status == StatusSuccess }

// Validate checks payload against schema and the record's current
// editability. The whole payload is accepted or rejected as a unit: the
// first non-editable or pattern-invalid field fails the update and stops
// processing. Payload keys absent from the schema are silently dropped,
// not rejected. Accepted values are normalized blank-to-nil before they
// enter the settable set.
func Validate(payload map[string]string, schema *Schema, recordEditable bool) Verdict {
	v := Verdict{
		Action: "update",
		Status: StatusSuccess,
		Fields: map[string]FieldResult{},
	}
	// Walk in schema order so the failing field is deterministic.
	for _, fd := range schema.Fields() {
		raw, present := payload[fd.ID]
		if !present {
			continue
		}
		if ignoredType(fd.FormType) {
			continue
		}
		editable := recordEditable || fd.Always
		if !editable {
			v.Fields[fd.ID] = FieldResult{Editable: false, Rejected: true}
			return failed(v, fmt.Sprintf("field %s is not editable", fd.ID))
		}
		if fd.Pattern != nil && !fd.Pattern.MatchString(raw) {
			v.Fields[fd.ID] = FieldResult{Editable: true, Rejected: true}
			return failed(v, fmt.Sprintf("field %s does not match its expected format", fd.ID))
		}
		v.Fields[fd.ID] = FieldResult{Value: SanitizeBlank(raw), Editable: true}
	}
	return v
}

// failed marks the verdict as rejected and empties its settable set:
// fields accepted before the failing one must not look applicable.
func failed(v Verdict, reason string) Verdict {
	v.Status = StatusFail
	v.Reason = reason
	for id, fr := range v.Fields {
		if fr.Value != nil {
			fr.Value = nil
			v.Fields[id] = fr
		}
	}
	return v
}

// SanitizeBlank maps an empty or whitespace-only submission to nil so
// that clearing a field is representable in storage.
func SanitizeBlank(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

// SanitizeNull renders a stored value for display: NULL surfaces as an
// empty string. The write side is SanitizeBlank; the round trip is
// intentionally asymmetric.
func SanitizeNull(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
