package service

import (
	"github.com/rs/zerolog"

	"storefront/internal/domain"
	"storefront/internal/events"
	"storefront/internal/repository"
)

// Catalog движки всех видов сущностей, по имени коллекции
type Catalog map[string]*Engine

// NewCatalog wires one engine per kind. Carts recompute their total on save;
// orders populate cartItems.product and publish order.deleted. A nil pub logs
// events instead.
func NewCatalog(store repository.Store, media MediaConfig, pub events.Publisher, log zerolog.Logger) Catalog {
	if pub == nil {
		pub = events.NewLogPublisher(log)
	}
	products := store.Collection(domain.ProductKind.Collection)
	c := make(Catalog, len(domain.Kinds()))
	for _, kind := range domain.Kinds() {
		opts := []EngineOption{WithLogger(log)}
		switch kind.Name {
		case domain.CartKind.Name:
			opts = append(opts, WithHooks(CartHooks()))
		case domain.OrderKind.Name:
			opts = append(opts, WithHooks(OrderHooks(pub, log)), WithPopulate(Populate{
				Path:   "cartItems.product",
				From:   products,
				Select: []string{"name", "price", "imageCover"},
			}))
		}
		c[kind.Collection] = NewEngine(kind, store.Collection(kind.Collection), media, opts...)
	}
	return c
}

// Resources returns the engines served by the plain CRUD routes. Orders have
// their own routes.
func (c Catalog) Resources() map[string]*Engine {
	out := make(map[string]*Engine, len(c))
	for name, e := range c {
		if name != domain.OrderKind.Collection {
			out[name] = e
		}
	}
	return out
}

func (c Catalog) Orders() *Engine { return c[domain.OrderKind.Collection] }
