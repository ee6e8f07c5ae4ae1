package service

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/events"
)

// CartHooks keeps totalCartPrice in sync with priced line items.
func CartHooks() Hooks {
	return Hooks{BeforeSave: recomputeCartTotal}
}

func recomputeCartTotal(_ context.Context, doc domain.Document) error {
	items, ok := domain.AsSlice(doc["products"])
	if !ok {
		return nil
	}
	total := decimal.Zero
	priced := false
	for _, it := range items {
		item, ok := domain.AsMap(it)
		if !ok {
			continue
		}
		price, ok := decimalOf(item["price"])
		if !ok {
			continue
		}
		count, _ := decimalOf(item["count"])
		total = total.Add(price.Mul(count))
		priced = true
	}
	// carts without prices keep whatever total the client sent
	if priced {
		doc["totalCartPrice"] = total.InexactFloat64()
	}
	return nil
}

func decimalOf(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x), true
	case float32:
		return decimal.NewFromFloat32(x), true
	case int64:
		return decimal.NewFromInt(x), true
	case int32:
		return decimal.NewFromInt32(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	}
	return decimal.Zero, false
}

// OrderHooks announces removed orders, so consumers drop their copies.
func OrderHooks(pub events.Publisher, log zerolog.Logger) Hooks {
	return Hooks{AfterDelete: func(ctx context.Context, doc domain.Document) {
		user, _ := doc["user"].(string)
		e := events.New(events.OrderDeleted, domain.IDOf(doc), user, nil)
		if err := pub.Publish(context.WithoutCancel(ctx), e); err != nil {
			log.Error().Err(err).Str("order_id", e.OrderID).Msg("publish order deleted")
		}
	}}
}
