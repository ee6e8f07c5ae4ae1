package repository

import (
	"context"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/domain"
	"storefront/internal/query"
)

// MemoryStore объединённое in-memory хранилище всех коллекций
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryData
}

type memoryData struct {
	order []primitive.ObjectID
	docs  map[primitive.ObjectID]domain.Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryData)}
}

// transaction-aware locking helpers
type txKey struct{}

func isTx(ctx context.Context) bool {
	v := ctx.Value(txKey{})
	if v == nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func (m *MemoryStore) rlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RLock()
	}
}
func (m *MemoryStore) runlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RUnlock()
	}
}
func (m *MemoryStore) wlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Lock()
	}
}
func (m *MemoryStore) wunlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Unlock()
	}
}

// data must be called with a lock held
func (m *MemoryStore) data(name string) *memoryData {
	d, ok := m.collections[name]
	if !ok {
		d = &memoryData{docs: make(map[primitive.ObjectID]domain.Document)}
		m.collections[name] = d
	}
	return d
}

// Ensure interfaces
var (
	_ Store      = (*MemoryStore)(nil)
	_ Collection = (*MemoryCollection)(nil)
	_ TxManager  = (*MemoryTx)(nil)
)

// Collection returns the named collection, creating it on first use.
func (m *MemoryStore) Collection(name string) Collection {
	return &MemoryCollection{store: m, name: name}
}

// MemoryCollection коллекция поверх MemoryStore
type MemoryCollection struct {
	store *MemoryStore
	name  string
}

func (c *MemoryCollection) Name() string { return c.name }

func (c *MemoryCollection) FindByID(ctx context.Context, id string) (domain.Document, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	c.store.rlock(ctx)
	defer c.store.runlock(ctx)
	d, ok := c.store.collections[c.name]
	if !ok {
		return nil, ErrNotFound
	}
	doc, ok := d.docs[oid]
	if !ok {
		return nil, ErrNotFound
	}
	// return copy
	return domain.Clone(doc), nil
}

func (c *MemoryCollection) Find(ctx context.Context, q query.Query) ([]domain.Document, error) {
	c.store.rlock(ctx)
	defer c.store.runlock(ctx)
	out := make([]domain.Document, 0)
	d, ok := c.store.collections[c.name]
	if !ok {
		return out, nil
	}
	for _, id := range d.order {
		doc := d.docs[id]
		if Matches(doc, q.Filter) {
			out = append(out, doc)
		}
	}
	if len(q.Sort) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, s := range q.Sort {
				a, _ := domain.Lookup(out[i], s.Field)
				b, _ := domain.Lookup(out[j], s.Field)
				cmp := compareValues(a, b)
				if cmp == 0 {
					continue
				}
				if s.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
	}
	if q.Skip > 0 {
		if q.Skip >= int64(len(out)) {
			out = out[:0]
		} else {
			out = out[q.Skip:]
		}
	}
	if q.Limit > 0 && int64(len(out)) > q.Limit {
		out = out[:q.Limit]
	}
	result := make([]domain.Document, 0, len(out))
	for _, doc := range out {
		result = append(result, project(domain.Clone(doc), q.Projection))
	}
	return result, nil
}

func (c *MemoryCollection) Count(ctx context.Context, filter bson.M) (int64, error) {
	c.store.rlock(ctx)
	defer c.store.runlock(ctx)
	d, ok := c.store.collections[c.name]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, doc := range d.docs {
		if Matches(doc, filter) {
			n++
		}
	}
	return n, nil
}

func (c *MemoryCollection) Insert(ctx context.Context, doc domain.Document) (domain.Document, error) {
	cp := domain.Clone(doc)
	oid, err := ensureID(cp)
	if err != nil {
		return nil, err
	}
	cp = domain.Clone(cp)
	c.store.wlock(ctx)
	defer c.store.wunlock(ctx)
	d := c.store.data(c.name)
	if _, exists := d.docs[oid]; exists {
		return nil, ErrDuplicateID
	}
	d.docs[oid] = cp
	d.order = append(d.order, oid)
	return domain.Clone(cp), nil
}

func (c *MemoryCollection) UpdateByID(ctx context.Context, id string, set domain.Document) (domain.Document, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	fields := domain.Clone(withoutID(set))
	c.store.wlock(ctx)
	defer c.store.wunlock(ctx)
	d := c.store.data(c.name)
	doc, ok := d.docs[oid]
	if !ok {
		return nil, ErrNotFound
	}
	for k, v := range fields {
		doc[k] = v
	}
	return domain.Clone(doc), nil
}

func (c *MemoryCollection) DeleteByID(ctx context.Context, id string) (domain.Document, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	c.store.wlock(ctx)
	defer c.store.wunlock(ctx)
	d := c.store.data(c.name)
	doc, ok := d.docs[oid]
	if !ok {
		return nil, ErrNotFound
	}
	delete(d.docs, oid)
	for i, x := range d.order {
		if x == oid {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return doc, nil
}

func (c *MemoryCollection) DeleteAll(ctx context.Context) (int64, error) {
	c.store.wlock(ctx)
	defer c.store.wunlock(ctx)
	d := c.store.data(c.name)
	n := int64(len(d.docs))
	d.docs = make(map[primitive.ObjectID]domain.Document)
	d.order = nil
	return n, nil
}

// BulkIncrement applies all increments under one write lock, so readers never
// observe a partially applied batch.
func (c *MemoryCollection) BulkIncrement(ctx context.Context, ops []Increment) (int64, error) {
	c.store.wlock(ctx)
	defer c.store.wunlock(ctx)
	d := c.store.data(c.name)
	var matched int64
	for _, op := range ops {
		doc, ok := d.docs[op.ID]
		if !ok {
			continue
		}
		matched++
		for field, delta := range op.Fields {
			doc[field] = addInt(doc[field], delta)
		}
	}
	return matched, nil
}

func addInt(v any, delta int64) any {
	switch x := v.(type) {
	case int32:
		return int64(x) + delta
	case int64:
		return x + delta
	case int:
		return int64(x) + delta
	case float64:
		return x + float64(delta)
	default:
		return delta
	}
}

// Tx manager using write lock to emulate transaction boundary
type MemoryTx struct{ store *MemoryStore }

func NewMemoryTx(store *MemoryStore) *MemoryTx { return &MemoryTx{store: store} }

func (tx *MemoryTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if isTx(ctx) {
		return fn(ctx)
	}
	// Для in-memory используем блокировку записи и помечаем контекст, чтобы коллекции пропускали внутренние локи
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	ctx = context.WithValue(ctx, txKey{}, true)
	return fn(ctx)
}
