// Package query turns request query strings into composed read queries:
// filtering, keyword search, field projection, sorting and pagination.
package query

import (
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"storefront/internal/domain"
)

const (
	DefaultPage  int64 = 1
	DefaultLimit int64 = 50
)

// reserved control keys never become filter predicates
var reservedKeys = map[string]bool{
	"keyword": true,
	"sort":    true,
	"fields":  true,
	"page":    true,
	"limit":   true,
}

var rangeOps = map[string]string{
	"gte": "$gte",
	"gt":  "$gt",
	"lte": "$lte",
	"lt":  "$lt",
}

var bracketKey = regexp.MustCompile(`^([^\[\]]+)\[([a-z]+)\]$`)

// SortField one ordering key
type SortField struct {
	Field string
	Desc  bool
}

// Query is a composed, not yet executed read.
type Query struct {
	Filter     bson.M
	Projection bson.M
	Sort       []SortField
	Skip       int64
	Limit      int64
}

// Pagination summary returned alongside a page of results.
type Pagination struct {
	CurrentPage   int64  `json:"currentPage"`
	Limit         int64  `json:"limit"`
	Results       int64  `json:"results"`
	NumberOfPages int64  `json:"numberOfPages"`
	Next          *int64 `json:"next,omitempty"`
	Prev          *int64 `json:"prev,omitempty"`
}

// Features builds one request's query. Callers apply Filter, Search,
// LimitFields and Sort in that order, then Paginate with the count of
// CountFilter.
type Features struct {
	raw        url.Values
	clauses    []bson.M
	projection bson.M
	sort       []SortField
	skip       int64
	limit      int64
	pagination Pagination
}

// New binds a builder to the raw query values. A non-empty base filter is a
// precondition that every other predicate is AND-ed with.
func New(base bson.M, raw url.Values) *Features {
	f := &Features{raw: raw}
	if len(base) > 0 {
		f.clauses = append(f.clauses, base)
	}
	return f
}

// Filter translates non-reserved keys into equality and range predicates.
func (f *Features) Filter(kind domain.Kind) *Features {
	pred := bson.M{}
	keys := make([]string, 0, len(f.raw))
	for k := range f.raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		values := f.raw[key]
		// operator keys ($where, $expr, name[$ne]) never reach the store
		if reservedKeys[key] || len(values) == 0 || strings.Contains(key, "$") {
			continue
		}
		if m := bracketKey.FindStringSubmatch(key); m != nil {
			field, op := m[1], m[2]
			mongoOp, ok := rangeOps[op]
			if !ok {
				continue
			}
			ops, _ := pred[field].(bson.M)
			if ops == nil {
				ops = bson.M{}
			}
			ops[mongoOp] = coerce(kind, field, values[len(values)-1])
			pred[field] = ops
			continue
		}
		if len(values) == 1 {
			pred[key] = coerce(kind, key, values[0])
			continue
		}
		in := make([]any, 0, len(values))
		for _, v := range values {
			in = append(in, coerce(kind, key, v))
		}
		pred[key] = bson.M{"$in": in}
	}
	if len(pred) > 0 {
		f.clauses = append(f.clauses, pred)
	}
	return f
}

// Search adds a case-insensitive substring match over the kind's search fields.
func (f *Features) Search(kind domain.Kind) *Features {
	keyword := strings.TrimSpace(f.raw.Get("keyword"))
	if keyword == "" {
		return f
	}
	fields := kind.SearchFields
	if len(fields) == 0 {
		fields = []string{"name"}
	}
	pattern := regexp.QuoteMeta(keyword)
	if len(fields) == 1 {
		f.clauses = append(f.clauses, bson.M{fields[0]: regexMatch(pattern)})
		return f
	}
	or := make([]any, 0, len(fields))
	for _, field := range fields {
		or = append(or, bson.M{field: regexMatch(pattern)})
	}
	f.clauses = append(f.clauses, bson.M{"$or": or})
	return f
}

// LimitFields restricts the projection to the requested fields, or hides the
// internal version field.
func (f *Features) LimitFields() *Features {
	fields := splitList(f.raw.Get("fields"))
	if len(fields) == 0 {
		f.projection = bson.M{domain.FieldVersion: 0}
		return f
	}
	f.projection = bson.M{}
	for _, field := range fields {
		f.projection[field] = 1
	}
	return f
}

// Sort applies the requested ordering, newest first by default.
func (f *Features) Sort() *Features {
	fields := splitList(f.raw.Get("sort"))
	if len(fields) == 0 {
		f.sort = []SortField{{Field: domain.FieldCreatedAt, Desc: true}}
		return f
	}
	f.sort = make([]SortField, 0, len(fields))
	for _, field := range fields {
		if strings.HasPrefix(field, "-") {
			f.sort = append(f.sort, SortField{Field: strings.TrimPrefix(field, "-"), Desc: true})
			continue
		}
		f.sort = append(f.sort, SortField{Field: strings.TrimPrefix(field, "+")})
	}
	return f
}

// Paginate computes skip/limit and the summary. Malformed page or limit values
// fall back to the defaults.
func (f *Features) Paginate(total int64) *Features {
	page := positiveInt(f.raw.Get("page"), DefaultPage)
	limit := positiveInt(f.raw.Get("limit"), DefaultLimit)
	if page > math.MaxInt64/limit {
		page = DefaultPage
	}
	skip := (page - 1) * limit

	f.skip = skip
	f.limit = limit

	results := total - skip
	if results < 0 {
		results = 0
	}
	if results > limit {
		results = limit
	}
	p := Pagination{
		CurrentPage:   page,
		Limit:         limit,
		Results:       results,
		NumberOfPages: pages(total, limit),
	}
	if page*limit < total {
		next := page + 1
		p.Next = &next
	}
	if skip > 0 {
		prev := page - 1
		p.Prev = &prev
	}
	f.pagination = p
	return f
}

// CountFilter is the filter+search predicate, without pagination.
func (f *Features) CountFilter() bson.M {
	switch len(f.clauses) {
	case 0:
		return bson.M{}
	case 1:
		return f.clauses[0]
	}
	and := make([]any, 0, len(f.clauses))
	for _, c := range f.clauses {
		and = append(and, c)
	}
	return bson.M{"$and": and}
}

// Query returns the composed read.
func (f *Features) Query() Query {
	return Query{
		Filter:     f.CountFilter(),
		Projection: f.projection,
		Sort:       f.sort,
		Skip:       f.skip,
		Limit:      f.limit,
	}
}

// Pagination returns the summary computed by Paginate.
func (f *Features) Pagination() Pagination { return f.pagination }

func regexMatch(pattern string) bson.M {
	return bson.M{"$regex": pattern, "$options": "i"}
}

func coerce(kind domain.Kind, field, raw string) any {
	if fd, ok := kind.FieldFor(field); ok {
		return fd.CoerceQueryValue(raw)
	}
	return raw
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" && !strings.Contains(p, "$") {
			out = append(out, p)
		}
	}
	return out
}

// pages is ceil(total/limit) without overflowing for huge limits.
func pages(total, limit int64) int64 {
	if total <= 0 {
		return 0
	}
	return (total-1)/limit + 1
}

func positiveInt(s string, def int64) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 1 {
		return def
	}
	return n
}
