package domain

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document is a stored record keyed by field name.
type Document = bson.M

// Well-known document fields.
const (
	FieldID         = "_id"
	FieldCreatedAt  = "createdAt"
	FieldUpdatedAt  = "updatedAt"
	FieldVersion    = "__v"
	FieldImageCover = "imageCover"
	FieldImages     = "images"
)

// ToDocument converts a bson-tagged value into a Document.
func ToDocument(v any) (Document, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	doc := Document{}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}

// FromDocument decodes a Document into a bson-tagged value.
func FromDocument(doc Document, v any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := bson.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// Clone returns a deep copy with the same value types the database driver produces.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	cp, err := ToDocument(doc)
	if err != nil {
		// only unsupported Go values end up here; fall back to a shallow copy
		out := make(Document, len(doc))
		for k, v := range doc {
			out[k] = v
		}
		return out
	}
	return cp
}

// IDOf returns the hex identifier of a document, or "" when it has none.
func IDOf(doc Document) string {
	switch id := doc[FieldID].(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	default:
		return ""
	}
}

// Lookup resolves a dotted path inside nested documents.
func Lookup(doc Document, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := AsMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// AsMap normalises the document shapes produced by JSON and BSON decoding.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]any:
		return m, true
	case primitive.D:
		out := make(map[string]any, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	default:
		return nil, false
	}
}

// AsSlice normalises array shapes produced by JSON and BSON decoding.
func AsSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case primitive.A:
		return s, true
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	case []Document:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	default:
		return nil, false
	}
}

// IsEmpty reports whether a field value carries no data.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x) == ""
	case primitive.ObjectID:
		return x.IsZero()
	}
	if s, ok := AsSlice(v); ok {
		return len(s) == 0
	}
	return false
}
