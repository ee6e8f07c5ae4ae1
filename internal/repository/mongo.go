package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"storefront/internal/domain"
	"storefront/internal/query"
)

// MongoStore хранилище поверх MongoDB
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

var (
	_ Store      = (*MongoStore)(nil)
	_ Collection = (*MongoCollection)(nil)
	_ TxManager  = (*MongoTx)(nil)
)

// NewMongoStore connects and pings the server.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

func (s *MongoStore) Collection(name string) Collection {
	return &MongoCollection{coll: s.db.Collection(name)}
}

// Client exposes the driver client for session-based transactions.
func (s *MongoStore) Client() *mongo.Client { return s.client }

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// MongoCollection коллекция MongoDB
type MongoCollection struct {
	coll *mongo.Collection
}

func (c *MongoCollection) Name() string { return c.coll.Name() }

func (c *MongoCollection) FindByID(ctx context.Context, id string) (domain.Document, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	var doc domain.Document
	err = c.coll.FindOne(ctx, bson.M{domain.FieldID: oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s/%s: %w", c.Name(), id, err)
	}
	return doc, nil
}

func (c *MongoCollection) Find(ctx context.Context, q query.Query) ([]domain.Document, error) {
	opts := options.Find()
	if len(q.Projection) > 0 {
		opts.SetProjection(q.Projection)
	}
	if len(q.Sort) > 0 {
		sortDoc := bson.D{}
		for _, s := range q.Sort {
			dir := 1
			if s.Desc {
				dir = -1
			}
			sortDoc = append(sortDoc, bson.E{Key: s.Field, Value: dir})
		}
		opts.SetSort(sortDoc)
	}
	if q.Skip > 0 {
		opts.SetSkip(q.Skip)
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	filter := q.Filter
	if filter == nil {
		filter = bson.M{}
	}
	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c.Name(), err)
	}
	docs := make([]domain.Document, 0)
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.Name(), err)
	}
	return docs, nil
}

func (c *MongoCollection) Count(ctx context.Context, filter bson.M) (int64, error) {
	if filter == nil {
		filter = bson.M{}
	}
	n, err := c.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", c.Name(), err)
	}
	return n, nil
}

func (c *MongoCollection) Insert(ctx context.Context, doc domain.Document) (domain.Document, error) {
	cp := domain.Clone(doc)
	if _, err := ensureID(cp); err != nil {
		return nil, err
	}
	if _, err := c.coll.InsertOne(ctx, cp); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateID
		}
		return nil, fmt.Errorf("insert %s: %w", c.Name(), err)
	}
	return cp, nil
}

func (c *MongoCollection) UpdateByID(ctx context.Context, id string, set domain.Document) (domain.Document, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc domain.Document
	err = c.coll.FindOneAndUpdate(ctx, bson.M{domain.FieldID: oid}, bson.M{"$set": withoutID(set)}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", c.Name(), id, err)
	}
	return doc, nil
}

func (c *MongoCollection) DeleteByID(ctx context.Context, id string) (domain.Document, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	var doc domain.Document
	err = c.coll.FindOneAndDelete(ctx, bson.M{domain.FieldID: oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete %s/%s: %w", c.Name(), id, err)
	}
	return doc, nil
}

func (c *MongoCollection) DeleteAll(ctx context.Context) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("delete all %s: %w", c.Name(), err)
	}
	return res.DeletedCount, nil
}

// BulkIncrement sends one BulkWrite with an updateOne/$inc per document.
func (c *MongoCollection) BulkIncrement(ctx context.Context, ops []Increment) (int64, error) {
	if len(ops) == 0 {
		return 0, nil
	}
	models := make([]mongo.WriteModel, 0, len(ops))
	for _, op := range ops {
		inc := bson.M{}
		for field, delta := range op.Fields {
			inc[field] = delta
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{domain.FieldID: op.ID}).
			SetUpdate(bson.M{"$inc": inc}))
	}
	res, err := c.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("bulk write %s: %w", c.Name(), err)
	}
	return res.MatchedCount, nil
}

// MongoTx runs the body in a driver session transaction when enabled.
// Transactions need a replica set; standalone servers run the body directly.
type MongoTx struct {
	client  *mongo.Client
	enabled bool
}

func NewMongoTx(client *mongo.Client, enabled bool) *MongoTx {
	return &MongoTx{client: client, enabled: enabled}
}

func (tx *MongoTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !tx.enabled {
		return fn(ctx)
	}
	sess, err := tx.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}
