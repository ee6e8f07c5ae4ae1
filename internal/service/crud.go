package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/domain"
	"storefront/internal/query"
	"storefront/internal/repository"
)

// Hooks выполняются вокруг сохранения и удаления документа вида
type Hooks struct {
	// BeforeSave may derive fields; an error aborts the save.
	BeforeSave  func(ctx context.Context, doc domain.Document) error
	AfterSave   func(ctx context.Context, doc domain.Document)
	AfterDelete func(ctx context.Context, doc domain.Document)
}

// Populate заменяет ссылку по Path документом из From. Select ограничивает поля.
type Populate struct {
	Path   string
	From   repository.Collection
	Select []string
}

// ListResult ответ ReadAll
type ListResult struct {
	Results    int64             `json:"results"`
	Pagination query.Pagination  `json:"paginationResult"`
	Data       []domain.Document `json:"data"`
}

// Engine generic CRUD над одним видом сущностей
type Engine struct {
	kind     domain.Kind
	coll     repository.Collection
	media    MediaConfig
	hooks    Hooks
	populate []Populate
	log      zerolog.Logger
	now      func() time.Time
}

type EngineOption func(*Engine)

func WithHooks(h Hooks) EngineOption {
	return func(e *Engine) { e.hooks = h }
}

// WithPopulate sets the references resolved by ReadOne.
func WithPopulate(p ...Populate) EngineOption {
	return func(e *Engine) { e.populate = p }
}

func WithLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(kind domain.Kind, coll repository.Collection, media MediaConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		kind:  kind,
		coll:  coll,
		media: media,
		log:   zerolog.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With().Str("kind", kind.Name).Logger()
	return e
}

func (e *Engine) Kind() domain.Kind { return e.kind }

// Create validates the payload against the kind schema and inserts it.
func (e *Engine) Create(ctx context.Context, payload map[string]any) (domain.Document, error) {
	doc, err := e.kind.Schema.Sanitize(payload, false)
	if err != nil {
		return nil, validationFailed(err)
	}
	if e.kind.RewriteMedia {
		e.media.Strip(doc)
	}
	now := e.now().UTC()
	doc[domain.FieldCreatedAt] = now
	doc[domain.FieldUpdatedAt] = now
	doc[domain.FieldVersion] = int64(0)

	if e.hooks.BeforeSave != nil {
		if err := e.hooks.BeforeSave(ctx, doc); err != nil {
			return nil, err
		}
	}
	saved, err := e.coll.Insert(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", e.kind.Name, err)
	}
	if e.hooks.AfterSave != nil {
		e.hooks.AfterSave(ctx, saved)
	}
	e.log.Debug().Str("id", domain.IDOf(saved)).Msg("document created")
	return e.present(saved), nil
}

// ReadOne returns one document with its references populated.
func (e *Engine) ReadOne(ctx context.Context, id string) (domain.Document, error) {
	doc, err := e.find(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, p := range e.populate {
		if err := resolve(ctx, doc, p); err != nil {
			return nil, fmt.Errorf("populate %s: %w", p.Path, err)
		}
	}
	return e.present(doc), nil
}

// ReadAll lists documents matching base AND the request query. The base filter
// is a precondition set by the caller (e.g. the acting user's own orders).
func (e *Engine) ReadAll(ctx context.Context, base bson.M, raw url.Values) (*ListResult, error) {
	features := query.New(base, raw).
		Filter(e.kind).
		Search(e.kind).
		LimitFields().
		Sort()

	total, err := e.coll.Count(ctx, features.CountFilter())
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", e.kind.Name, err)
	}
	features.Paginate(total)

	docs, err := e.coll.Find(ctx, features.Query())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", e.kind.Name, err)
	}
	for i := range docs {
		docs[i] = e.present(docs[i])
	}
	return &ListResult{
		Results:    total,
		Pagination: features.Pagination(),
		Data:       docs,
	}, nil
}

// Update merges the payload onto the stored document. Missing or empty media
// fields keep the stored values.
func (e *Engine) Update(ctx context.Context, id string, payload map[string]any) (domain.Document, error) {
	stored, err := e.find(ctx, id)
	if err != nil {
		return nil, err
	}
	set, err := e.kind.Schema.Sanitize(payload, true)
	if err != nil {
		return nil, validationFailed(err)
	}
	for _, field := range []string{domain.FieldImageCover, domain.FieldImages} {
		if v, ok := set[field]; ok && domain.IsEmpty(v) {
			delete(set, field)
		}
	}
	e.media.Strip(set)

	merged := domain.Clone(stored)
	for k, v := range set {
		merged[k] = v
	}
	merged[domain.FieldUpdatedAt] = e.now().UTC()
	merged[domain.FieldVersion] = version(stored) + 1

	if e.hooks.BeforeSave != nil {
		if err := e.hooks.BeforeSave(ctx, merged); err != nil {
			return nil, err
		}
	}
	if err := e.kind.Schema.CheckRequired(merged); err != nil {
		return nil, validationFailed(err)
	}
	saved, err := e.coll.UpdateByID(ctx, id, merged)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", e.kind.Name, err)
	}
	if e.hooks.AfterSave != nil {
		e.hooks.AfterSave(ctx, saved)
	}
	return e.present(saved), nil
}

// Delete removes one document. A missing id changes nothing.
func (e *Engine) Delete(ctx context.Context, id string) error {
	doc, err := e.coll.DeleteByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return notFound("document", id)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", e.kind.Name, err)
	}
	if e.hooks.AfterDelete != nil {
		e.hooks.AfterDelete(ctx, doc)
	}
	return nil
}

// DeleteAll empties the collection.
func (e *Engine) DeleteAll(ctx context.Context) (int64, error) {
	n, err := e.coll.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete all %s: %w", e.kind.Name, err)
	}
	e.log.Info().Int64("deleted", n).Msg("collection emptied")
	return n, nil
}

func (e *Engine) find(ctx context.Context, id string) (domain.Document, error) {
	doc, err := e.coll.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", e.kind.Name, err)
	}
	return doc, nil
}

func (e *Engine) present(doc domain.Document) domain.Document {
	if e.kind.RewriteMedia {
		e.media.Rewrite(doc)
	}
	return doc
}

func version(doc domain.Document) int64 {
	switch v := doc[domain.FieldVersion].(type) {
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

// resolve handles "field" and "list.field" paths.
func resolve(ctx context.Context, doc domain.Document, p Populate) error {
	head, rest, nested := strings.Cut(p.Path, ".")
	v, ok := doc[head]
	if !ok {
		return nil
	}
	if !nested {
		ref, err := lookupRef(ctx, v, p)
		if err != nil {
			return err
		}
		doc[head] = ref
		return nil
	}
	items, ok := domain.AsSlice(v)
	if !ok {
		if m, ok := domain.AsMap(v); ok {
			items = []any{m}
		}
	}
	for _, it := range items {
		m, ok := domain.AsMap(it)
		if !ok {
			continue
		}
		ref, err := lookupRef(ctx, m[rest], p)
		if err != nil {
			return err
		}
		m[rest] = ref
	}
	return nil
}

// lookupRef returns the referenced document, or nil when it no longer exists.
func lookupRef(ctx context.Context, v any, p Populate) (any, error) {
	var id string
	switch x := v.(type) {
	case primitive.ObjectID:
		id = x.Hex()
	case string:
		id = x
	default:
		return v, nil
	}
	ref, err := p.From.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(p.Select) == 0 {
		delete(ref, domain.FieldVersion)
		return ref, nil
	}
	out := domain.Document{domain.FieldID: ref[domain.FieldID]}
	for _, f := range p.Select {
		if fv, ok := ref[f]; ok {
			out[f] = fv
		}
	}
	return out, nil
}
