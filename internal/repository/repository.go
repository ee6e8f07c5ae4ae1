package repository

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/domain"
	"storefront/internal/query"
)

// ErrNotFound возвращается, когда сущность не найдена
var ErrNotFound = errors.New("not found")

// ErrDuplicateID возвращается при вставке документа с уже занятым _id
var ErrDuplicateID = errors.New("duplicate id")

// Increment атомарное приращение числовых полей одного документа
type Increment struct {
	ID     primitive.ObjectID
	Fields map[string]int64
}

// Collection хранилище документов одного вида сущностей
type Collection interface {
	Name() string
	FindByID(ctx context.Context, id string) (domain.Document, error)
	Find(ctx context.Context, q query.Query) ([]domain.Document, error)
	Count(ctx context.Context, filter bson.M) (int64, error)
	// Insert assigns an _id when the document has none.
	Insert(ctx context.Context, doc domain.Document) (domain.Document, error)
	// UpdateByID sets the given fields and returns the updated document.
	UpdateByID(ctx context.Context, id string, set domain.Document) (domain.Document, error)
	// DeleteByID removes the document and returns it.
	DeleteByID(ctx context.Context, id string) (domain.Document, error)
	DeleteAll(ctx context.Context) (int64, error)
	// BulkIncrement applies every increment in one batched write and reports
	// how many documents matched.
	BulkIncrement(ctx context.Context, ops []Increment) (int64, error)
}

// Store выдаёт коллекции по имени
type Store interface {
	Collection(name string) Collection
}

// TxManager абстракция транзакции. Для in-memory это глобальная блокировка записи.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ParseID converts a hex identifier. Malformed ids can never match a document,
// so they are reported as ErrNotFound.
func ParseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrNotFound
	}
	return oid, nil
}

func ensureID(doc domain.Document) (primitive.ObjectID, error) {
	switch id := doc[domain.FieldID].(type) {
	case primitive.ObjectID:
		if !id.IsZero() {
			return id, nil
		}
	case string:
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return primitive.NilObjectID, err
		}
		doc[domain.FieldID] = oid
		return oid, nil
	}
	oid := primitive.NewObjectID()
	doc[domain.FieldID] = oid
	return oid, nil
}

func withoutID(set domain.Document) domain.Document {
	out := make(domain.Document, len(set))
	for k, v := range set {
		if k == domain.FieldID {
			continue
		}
		out[k] = v
	}
	return out
}
