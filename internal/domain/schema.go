package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FieldType тип поля схемы сущности
type FieldType int

const (
	FieldString FieldType = iota
	FieldNumber
	FieldInt
	FieldBool
	FieldStringList
	FieldObjectID
	FieldObject
	FieldObjectList
	FieldTime
)

// Field описание поля схемы
type Field struct {
	Type     FieldType
	Required bool
	// Rules are go-playground/validator tags applied to non-empty scalar values.
	Rules   string
	Default any
	// Items describes the elements of a FieldObjectList.
	Items Schema
}

// Schema набор полей сущности; поля вне схемы отбрасываются
type Schema map[string]Field

var validate = validator.New()

// FieldError ошибка валидации одного поля
type FieldError struct {
	Field  string
	Reason string
}

// ValidationError собирает все ошибки валидации документа
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	sort.SliceStable(e.Fields, func(i, j int) bool { return e.Fields[i].Field < e.Fields[j].Field })
	return e
}

var systemFields = map[string]bool{
	FieldID:        true,
	FieldCreatedAt: true,
	FieldUpdatedAt: true,
	FieldVersion:   true,
}

// Sanitize coerces an incoming payload to the schema. Unknown and system fields
// are dropped. When partial is false required fields are enforced and defaults
// are applied.
func (s Schema) Sanitize(payload map[string]any, partial bool) (Document, error) {
	out := Document{}
	verr := &ValidationError{}
	s.sanitizeInto(out, payload, partial, "", verr)
	return out, verr.orNil()
}

func (s Schema) sanitizeInto(out Document, payload map[string]any, partial bool, prefix string, verr *ValidationError) {
	for key, raw := range payload {
		if prefix == "" && systemFields[key] {
			continue
		}
		field, ok := s[key]
		if !ok {
			continue
		}
		v, err := field.coerce(raw, prefix+key, verr)
		if err != nil {
			verr.add(prefix+key, err.Error())
			continue
		}
		out[key] = v
	}
	if partial {
		return
	}
	for key, field := range s {
		if _, ok := out[key]; !ok && field.Default != nil {
			out[key] = field.Default
		}
		if field.Required && IsEmpty(out[key]) {
			verr.add(prefix+key, "is required")
		}
	}
}

// CheckRequired validates required fields of a complete document.
func (s Schema) CheckRequired(doc Document) error {
	verr := &ValidationError{}
	for key, field := range s {
		if field.Required && IsEmpty(doc[key]) {
			verr.add(key, "is required")
		}
	}
	return verr.orNil()
}

var errWrongType = errors.New("wrong type")

func (f Field) coerce(raw any, path string, verr *ValidationError) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch f.Type {
	case FieldString:
		var s string
		switch x := raw.(type) {
		case string:
			s = strings.TrimSpace(x)
		case float64:
			s = strconv.FormatFloat(x, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(x)
		default:
			return nil, fmt.Errorf("%w: expected string", errWrongType)
		}
		if f.Rules != "" && s != "" {
			if err := validate.Var(s, f.Rules); err != nil {
				return nil, fmt.Errorf("failed rule %q", f.Rules)
			}
		}
		return s, nil
	case FieldNumber:
		n, ok := toFloat(raw)
		if !ok {
			return nil, fmt.Errorf("%w: expected number", errWrongType)
		}
		if f.Rules != "" {
			if err := validate.Var(n, f.Rules); err != nil {
				return nil, fmt.Errorf("failed rule %q", f.Rules)
			}
		}
		return n, nil
	case FieldInt:
		n, ok := toFloat(raw)
		if !ok || n != math.Trunc(n) {
			return nil, fmt.Errorf("%w: expected integer", errWrongType)
		}
		return int64(n), nil
	case FieldBool:
		switch x := raw.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, fmt.Errorf("%w: expected boolean", errWrongType)
			}
			return b, nil
		}
		return nil, fmt.Errorf("%w: expected boolean", errWrongType)
	case FieldStringList:
		if s, ok := raw.(string); ok {
			if strings.TrimSpace(s) == "" {
				return []string{}, nil
			}
			return []string{strings.TrimSpace(s)}, nil
		}
		items, ok := AsSlice(raw)
		if !ok {
			return nil, fmt.Errorf("%w: expected list of strings", errWrongType)
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			s, ok := it.(string)
			if !ok {
				return nil, fmt.Errorf("%w: expected list of strings", errWrongType)
			}
			out = append(out, s)
		}
		return out, nil
	case FieldObjectID:
		switch x := raw.(type) {
		case primitive.ObjectID:
			return x, nil
		case string:
			id, err := primitive.ObjectIDFromHex(x)
			if err != nil {
				return nil, errors.New("invalid id")
			}
			return id, nil
		}
		return nil, fmt.Errorf("%w: expected id", errWrongType)
	case FieldObject:
		m, ok := AsMap(raw)
		if !ok {
			return nil, fmt.Errorf("%w: expected object", errWrongType)
		}
		return Document(m), nil
	case FieldObjectList:
		items, ok := AsSlice(raw)
		if !ok {
			return nil, fmt.Errorf("%w: expected list of objects", errWrongType)
		}
		out := make([]any, 0, len(items))
		for i, it := range items {
			m, ok := AsMap(it)
			if !ok {
				return nil, fmt.Errorf("%w: expected list of objects", errWrongType)
			}
			el := Document{}
			f.Items.sanitizeInto(el, m, false, fmt.Sprintf("%s.%d.", path, i), verr)
			out = append(out, el)
		}
		return out, nil
	case FieldTime:
		switch x := raw.(type) {
		case time.Time:
			return x.UTC(), nil
		case primitive.DateTime:
			return x.Time().UTC(), nil
		case string:
			t, err := time.Parse(time.RFC3339, x)
			if err != nil {
				return nil, fmt.Errorf("%w: expected RFC3339 time", errWrongType)
			}
			return t.UTC(), nil
		}
		return nil, fmt.Errorf("%w: expected time", errWrongType)
	}
	return raw, nil
}

// CoerceQueryValue converts a raw query-string value to the field's stored type.
// Values that do not parse stay strings.
func (f Field) CoerceQueryValue(raw string) any {
	switch f.Type {
	case FieldNumber, FieldInt:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n
		}
	case FieldBool:
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	case FieldObjectID:
		if id, err := primitive.ObjectIDFromHex(raw); err == nil {
			return id
		}
	case FieldTime:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC()
		}
	}
	return raw
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return n, err == nil
	}
	return 0, false
}
