package repository

import (
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/domain"
)

// Matches evaluates the subset of the MongoDB filter language produced by the
// query builder: equality, $in, $ne, $exists, range operators, $regex, $and
// and $or. Dotted paths traverse nested documents.
func Matches(doc domain.Document, filter bson.M) bool {
	for key, cond := range filter {
		switch key {
		case "$and":
			items, _ := domain.AsSlice(cond)
			for _, it := range items {
				sub, ok := domain.AsMap(it)
				if !ok || !Matches(doc, sub) {
					return false
				}
			}
		case "$or":
			items, _ := domain.AsSlice(cond)
			matched := false
			for _, it := range items {
				if sub, ok := domain.AsMap(it); ok && Matches(doc, sub) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		default:
			v, present := domain.Lookup(doc, key)
			if !matchField(v, present, cond) {
				return false
			}
		}
	}
	return true
}

func matchField(v any, present bool, cond any) bool {
	ops, ok := domain.AsMap(cond)
	if !ok || !isOperatorDoc(ops) {
		return equals(v, cond)
	}
	for op, arg := range ops {
		switch op {
		case "$eq":
			if !equals(v, arg) {
				return false
			}
		case "$ne":
			if equals(v, arg) {
				return false
			}
		case "$gt", "$gte", "$lt", "$lte":
			if !present || !sameType(v, arg) {
				return false
			}
			c := compareValues(v, arg)
			switch op {
			case "$gt":
				if c <= 0 {
					return false
				}
			case "$gte":
				if c < 0 {
					return false
				}
			case "$lt":
				if c >= 0 {
					return false
				}
			case "$lte":
				if c > 0 {
					return false
				}
			}
		case "$in":
			items, _ := domain.AsSlice(arg)
			found := false
			for _, it := range items {
				if equals(v, it) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case "$exists":
			want, _ := arg.(bool)
			if present != want {
				return false
			}
		case "$regex":
			pattern, _ := arg.(string)
			if opts, _ := ops["$options"].(string); strings.Contains(opts, "i") {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return false
			}
			s, ok := v.(string)
			if !ok || !re.MatchString(s) {
				return false
			}
		case "$options":
			// consumed by $regex
		default:
			return false
		}
	}
	return true
}

func isOperatorDoc(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// equals follows MongoDB semantics: a scalar condition matches an array field
// when any element is equal.
func equals(v, cond any) bool {
	if items, ok := domain.AsSlice(v); ok {
		if _, condIsArray := domain.AsSlice(cond); !condIsArray {
			for _, it := range items {
				if equals(it, cond) {
					return true
				}
			}
			return false
		}
	}
	if v == nil || cond == nil {
		return v == nil && cond == nil
	}
	if !sameType(v, cond) {
		return false
	}
	return compareValues(v, cond) == 0
}

func sameType(a, b any) bool {
	return typeRank(a) == typeRank(b)
}

// typeRank mirrors the BSON comparison order of value types.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 1
	case int, int32, int64, float32, float64:
		return 2
	case string:
		return 3
	case bson.M, map[string]any, primitive.D:
		return 4
	case primitive.A, []any, []string:
		return 5
	case primitive.ObjectID:
		return 7
	case bool:
		return 8
	case time.Time, primitive.DateTime:
		return 9
	default:
		return 10
	}
}

func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmpInt(int64(ra), int64(rb))
	}
	switch ra {
	case 2:
		fa, fb := number(a), number(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 3:
		return strings.Compare(a.(string), b.(string))
	case 7:
		return strings.Compare(a.(primitive.ObjectID).Hex(), b.(primitive.ObjectID).Hex())
	case 8:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case 9:
		return cmpInt(millis(a), millis(b))
	}
	return 0
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func number(v any) float64 {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case float64:
		return x
	}
	return 0
}

func millis(v any) int64 {
	switch x := v.(type) {
	case time.Time:
		return x.UnixMilli()
	case primitive.DateTime:
		return int64(x)
	}
	return 0
}

// project applies an inclusion ({f: 1}) or exclusion ({f: 0}) projection on
// top-level fields. _id is always kept by inclusions.
func project(doc domain.Document, projection bson.M) domain.Document {
	if len(projection) == 0 {
		return doc
	}
	inclusive := false
	for _, v := range projection {
		if number(v) != 0 {
			inclusive = true
			break
		}
	}
	if !inclusive {
		for field := range projection {
			delete(doc, field)
		}
		return doc
	}
	out := domain.Document{domain.FieldID: doc[domain.FieldID]}
	for field := range projection {
		top := strings.SplitN(field, ".", 2)[0]
		if v, ok := doc[top]; ok {
			out[top] = v
		}
	}
	return out
}
