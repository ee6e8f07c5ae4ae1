package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/domain"
)

func TestMatches(t *testing.T) {
	pid := primitive.NewObjectID()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	doc := domain.Clone(domain.Document{
		"name":      "Blue Shirt",
		"price":     int64(120),
		"rating":    4.5,
		"user":      "u1",
		"tags":      []string{"summer", "cotton"},
		"createdAt": created,
		"cartItems": bson.A{bson.M{"product": pid, "count": int64(2)}},
	})

	cases := []struct {
		name   string
		filter bson.M
		want   bool
	}{
		{"empty", bson.M{}, true},
		{"equality", bson.M{"user": "u1"}, true},
		{"equality mismatch", bson.M{"user": "u2"}, false},
		{"number types mix", bson.M{"price": 120.0}, true},
		{"string never equals number", bson.M{"price": "120"}, false},
		{"range", bson.M{"price": bson.M{"$gte": int64(100), "$lt": int64(200)}}, true},
		{"range excludes", bson.M{"rating": bson.M{"$gt": 4.5}}, false},
		{"range on missing field", bson.M{"stock": bson.M{"$lte": int64(10)}}, false},
		{"in", bson.M{"user": bson.M{"$in": []any{"u3", "u1"}}}, true},
		{"ne", bson.M{"user": bson.M{"$ne": "u1"}}, false},
		{"exists", bson.M{"paidAt": bson.M{"$exists": false}}, true},
		{"array contains", bson.M{"tags": "cotton"}, true},
		{"regex case insensitive", bson.M{"name": bson.M{"$regex": "shirt", "$options": "i"}}, true},
		{"regex case sensitive", bson.M{"name": bson.M{"$regex": "shirt"}}, false},
		{"time range", bson.M{"createdAt": bson.M{"$gte": created.Add(-time.Hour)}}, true},
		{"or", bson.M{"$or": []any{bson.M{"user": "x"}, bson.M{"name": "Blue Shirt"}}}, true},
		{"and", bson.M{"$and": []any{bson.M{"user": "u1"}, bson.M{"price": int64(1)}}}, false},
		{"unknown operator", bson.M{"price": bson.M{"$mod": []any{2, 0}}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Matches(doc, tc.filter))
		})
	}
}

func TestMatches_NestedDocument(t *testing.T) {
	doc := domain.Clone(domain.Document{
		"shippingAddress": bson.M{"city": "Cairo", "phone": "010"},
	})
	assert.True(t, Matches(doc, bson.M{"shippingAddress.city": "Cairo"}))
	assert.False(t, Matches(doc, bson.M{"shippingAddress.city": "Giza"}))
}
