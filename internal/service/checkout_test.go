package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/domain"
	"storefront/internal/events"
	"storefront/internal/payment"
	"storefront/internal/query"
	"storefront/internal/repository"
)

type fakeGateway struct {
	req  payment.CheckoutRequest
	err  error
	hits int
}

func (g *fakeGateway) CreatePaymentLink(_ context.Context, req payment.CheckoutRequest) (*payment.Session, error) {
	g.hits++
	g.req = req
	if g.err != nil {
		return nil, g.err
	}
	return &payment.Session{Link: "https://pay.example/iframes/1?payment_token=tok", PaymentToken: "tok", ProviderOrderID: 99}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type checkoutFixture struct {
	svc       *CheckoutService
	carts     repository.Collection
	orders    repository.Collection
	products  repository.Collection
	gateway   *fakeGateway
	publisher *recordingPublisher
	now       time.Time
}

func setupCheckout(t *testing.T) *checkoutFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	f := &checkoutFixture{
		carts:     store.Collection("carts"),
		orders:    store.Collection("orders"),
		products:  store.Collection("products"),
		gateway:   &fakeGateway{},
		publisher: &recordingPublisher{},
		now:       time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewCheckoutService(CheckoutDeps{
		Carts:     f.carts,
		Orders:    f.orders,
		Products:  f.products,
		Tx:        repository.NewMemoryTx(store),
		Gateway:   f.gateway,
		Publisher: f.publisher,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return f.now },
	})
	return f
}

func (f *checkoutFixture) product(t *testing.T, name string, quantity int64) primitive.ObjectID {
	t.Helper()
	doc, err := f.products.Insert(context.Background(), domain.Document{"name": name, "quantity": quantity, "sold": int64(0)})
	require.NoError(t, err)
	return doc[domain.FieldID].(primitive.ObjectID)
}

func (f *checkoutFixture) cart(t *testing.T, doc domain.Document) string {
	t.Helper()
	saved, err := f.carts.Insert(context.Background(), doc)
	require.NoError(t, err)
	return domain.IDOf(saved)
}

func (f *checkoutFixture) stock(t *testing.T, id primitive.ObjectID) (quantity, sold int64) {
	t.Helper()
	doc, err := f.products.FindByID(context.Background(), id.Hex())
	require.NoError(t, err)
	return doc["quantity"].(int64), doc["sold"].(int64)
}

func TestCreateCashOrder(t *testing.T) {
	ctx := context.Background()
	f := setupCheckout(t)
	p1 := f.product(t, "A", 10)
	p2 := f.product(t, "B", 5)
	cartID := f.cart(t, domain.Document{
		"user": "u1",
		"products": bson.A{
			bson.M{"product": p1, "count": int64(2), "price": 50.0},
			bson.M{"product": p2, "count": int64(1), "price": 100.0},
		},
		"totalCartPrice": 200.0,
	})

	addr := domain.ShippingAddress{Details: "1 Nile st", City: "Cairo", Phone: "010"}
	doc, err := f.svc.CreateCashOrder(ctx, cartID, "u1", addr)
	require.NoError(t, err)

	var order domain.Order
	require.NoError(t, domain.FromDocument(doc, &order))
	assert.Equal(t, 200.0, order.TotalOrderPrice)
	assert.Equal(t, domain.PaymentMethodCash, order.PaymentMethodType)
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	assert.False(t, order.IsPaid)
	assert.Nil(t, order.PaidAt)
	assert.Equal(t, "u1", order.User)
	assert.Equal(t, "Cairo", order.ShippingAddress.City)
	require.Len(t, order.CartItems, 2)
	assert.Equal(t, p1, order.CartItems[0].Product)

	q, s := f.stock(t, p1)
	assert.Equal(t, int64(8), q)
	assert.Equal(t, int64(2), s)
	q, s = f.stock(t, p2)
	assert.Equal(t, int64(4), q)
	assert.Equal(t, int64(1), s)

	_, err = f.carts.FindByID(ctx, cartID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, []events.Type{events.OrderCreated}, f.publisher.types())
}

func TestCreateCashOrder_DiscountAndMissingCart(t *testing.T) {
	ctx := context.Background()
	f := setupCheckout(t)
	p := f.product(t, "A", 3)
	cartID := f.cart(t, domain.Document{
		"user":               "u1",
		"products":           bson.A{bson.M{"product": p, "count": int64(1)}},
		"totalCartPrice":     100.0,
		"totalAfterDiscount": 80.0,
	})

	doc, err := f.svc.CreateCashOrder(ctx, cartID, "u1", domain.ShippingAddress{})
	require.NoError(t, err)
	assert.Equal(t, 80.0, doc["totalOrderPrice"])

	// the cart is consumed exactly once
	_, err = f.svc.CreateCashOrder(ctx, cartID, "u1", domain.ShippingAddress{})
	require.ErrorIs(t, err, ErrNotFound)
	q, _ := f.stock(t, p)
	assert.Equal(t, int64(2), q)

	n, _ := f.orders.Count(ctx, nil)
	assert.Equal(t, int64(1), n)

	_, err = f.svc.CreateCashOrder(ctx, "bogus", "u1", domain.ShippingAddress{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateCashOrder_ConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	f := setupCheckout(t)
	p := f.product(t, "A", 100)
	cartID := f.cart(t, domain.Document{
		"user":           "u1",
		"products":       bson.A{bson.M{"product": p, "count": int64(5)}},
		"totalCartPrice": 10.0,
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.CreateCashOrder(ctx, cartID, "u1", domain.ShippingAddress{}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	q, s := f.stock(t, p)
	assert.Equal(t, int64(95), q)
	assert.Equal(t, int64(5), s)
}

func TestCreateCardCheckout(t *testing.T) {
	ctx := context.Background()
	f := setupCheckout(t)
	p := f.product(t, "A", 4)
	cartID := f.cart(t, domain.Document{
		"user":           "u1",
		"products":       bson.A{bson.M{"product": p, "count": int64(2)}},
		"totalCartPrice": 19.99,
	})

	res, err := f.svc.CreateCardCheckout(ctx, cartID, "u1", domain.ShippingAddress{City: "Giza"})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/iframes/1?payment_token=tok", res.Link)

	assert.Equal(t, domain.IDOf(res.Order), f.gateway.req.MerchantOrderID)
	assert.True(t, decimal.RequireFromString("19.99").Equal(f.gateway.req.Amount))
	assert.Equal(t, "Giza", f.gateway.req.Billing.City)

	assert.Equal(t, string(domain.PaymentMethodCard), res.Order["paymentMethodType"])
	assert.Equal(t, false, res.Order["isPaid"])
	q, _ := f.stock(t, p)
	assert.Equal(t, int64(2), q)
	_, err = f.carts.FindByID(ctx, cartID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateCardCheckout_ProviderFailureRestoresCart(t *testing.T) {
	ctx := context.Background()
	f := setupCheckout(t)
	f.gateway.err = &payment.APIError{Step: "auth", Status: 401, Body: "bad api key"}
	p := f.product(t, "A", 4)
	cartID := f.cart(t, domain.Document{
		"user":           "u1",
		"products":       bson.A{bson.M{"product": p, "count": int64(2)}},
		"totalCartPrice": 10.0,
	})

	_, err := f.svc.CreateCardCheckout(ctx, cartID, "u1", domain.ShippingAddress{})
	require.ErrorIs(t, err, ErrPaymentProvider)
	assert.NotContains(t, err.Error(), "bad api key")
	var apiErr *payment.APIError
	assert.True(t, errors.As(err, &apiErr))

	cart, err := f.carts.FindByID(ctx, cartID)
	require.NoError(t, err)
	assert.Equal(t, "u1", cart["user"])
	q, s := f.stock(t, p)
	assert.Equal(t, int64(4), q)
	assert.Zero(t, s)
	n, _ := f.orders.Count(ctx, nil)
	assert.Zero(t, n)
	assert.Empty(t, f.publisher.types())

	f.gateway.err = nil
	_, err = f.svc.CreateCardCheckout(ctx, cartID, "u1", domain.ShippingAddress{})
	require.NoError(t, err)
	assert.Equal(t, 2, f.gateway.hits)
}

// failingInventory rejects every bulk write.
type failingInventory struct {
	repository.Collection
	err error
}

func (c failingInventory) BulkIncrement(context.Context, []repository.Increment) (int64, error) {
	return 0, c.err
}

// noTx runs the body directly, like Mongo without replica set transactions.
type noTx struct{}

func (noTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func TestCheckout_InventoryFailureLeavesNoOrder(t *testing.T) {
	ctx := context.Background()
	f := setupCheckout(t)
	writeErr := errors.New("bulk write timeout")
	f.svc = NewCheckoutService(CheckoutDeps{
		Carts:     f.carts,
		Orders:    f.orders,
		Products:  failingInventory{Collection: f.products, err: writeErr},
		Tx:        noTx{},
		Gateway:   f.gateway,
		Publisher: f.publisher,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return f.now },
	})
	p := f.product(t, "A", 4)
	newCart := func() string {
		return f.cart(t, domain.Document{
			"user":           "u1",
			"products":       bson.A{bson.M{"product": p, "count": int64(2)}},
			"totalCartPrice": 10.0,
		})
	}

	cashCart := newCart()
	_, err := f.svc.CreateCashOrder(ctx, cashCart, "u1", domain.ShippingAddress{})
	require.ErrorIs(t, err, writeErr)

	cardCart := newCart()
	_, err = f.svc.CreateCardCheckout(ctx, cardCart, "u1", domain.ShippingAddress{})
	require.ErrorIs(t, err, writeErr)

	n, err := f.orders.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	for _, id := range []string{cashCart, cardCart} {
		_, err := f.carts.FindByID(ctx, id)
		assert.NoError(t, err, "cart %s restored", id)
	}
	q, sold := f.stock(t, p)
	assert.Equal(t, int64(4), q)
	assert.Zero(t, sold)
	assert.Empty(t, f.publisher.types())
}

func placeCardOrder(t *testing.T, f *checkoutFixture) string {
	t.Helper()
	p := f.product(t, "A", 4)
	cartID := f.cart(t, domain.Document{
		"user":           "u1",
		"products":       bson.A{bson.M{"product": p, "count": int64(1)}},
		"totalCartPrice": 10.0,
	})
	res, err := f.svc.CreateCardCheckout(context.Background(), cartID, "u1", domain.ShippingAddress{})
	require.NoError(t, err)
	return domain.IDOf(res.Order)
}

func TestHandleProviderNotification(t *testing.T) {
	ctx := context.Background()
	f := setupCheckout(t)
	orderID := placeCardOrder(t, f)

	outcome := f.svc.HandleProviderNotification(ctx, []byte(`{"type":"TRANSACTION","obj":{"id":"`+orderID+`","success":true}}`))
	assert.Equal(t, OutcomePaid, outcome)

	doc, err := f.orders.FindByID(ctx, orderID)
	require.NoError(t, err)
	var order domain.Order
	require.NoError(t, domain.FromDocument(doc, &order))
	assert.True(t, order.IsPaid)
	require.NotNil(t, order.PaidAt)
	assert.True(t, order.PaidAt.Equal(f.now))
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, int64(1), order.Version)

	// redelivery changes nothing
	outcome = f.svc.HandleProviderNotification(ctx, []byte(`{"obj":{"id":"`+orderID+`","success":false}}`))
	assert.Equal(t, OutcomeAlreadyApplied, outcome)
	assert.Equal(t, []events.Type{events.OrderCreated, events.OrderPaid}, f.publisher.types())
}

func TestHandleProviderNotification_FailureUnknownAndMalformed(t *testing.T) {
	ctx := context.Background()
	f := setupCheckout(t)
	orderID := placeCardOrder(t, f)

	assert.Equal(t, OutcomeFailed, f.svc.HandleProviderNotification(ctx, []byte(`{"obj":{"id":"`+orderID+`","success":false}}`)))
	doc, _ := f.orders.FindByID(ctx, orderID)
	assert.Equal(t, false, doc["isPaid"])
	assert.Equal(t, string(domain.PaymentStatusFailed), doc["paymentStatus"])

	before, _ := f.orders.Find(ctx, query.Query{})
	missing := primitive.NewObjectID().Hex()
	assert.Equal(t, OutcomeUnknownOrder, f.svc.HandleProviderNotification(ctx, []byte(`{"obj":{"id":"`+missing+`","success":true}}`)))
	assert.Equal(t, OutcomeMalformed, f.svc.HandleProviderNotification(ctx, []byte(`{"obj":`)))
	assert.Equal(t, OutcomeMalformed, f.svc.HandleProviderNotification(ctx, []byte(`{"obj":{"id":"x"}}`)))
	after, _ := f.orders.Find(ctx, query.Query{})
	assert.Equal(t, before, after)
}

func TestTogglePaidAndDelivered(t *testing.T) {
	ctx := context.Background()
	f := setupCheckout(t)
	orderID := placeCardOrder(t, f)

	doc, err := f.svc.TogglePaid(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, true, doc["isPaid"])
	assert.NotNil(t, doc["paidAt"])
	assert.Equal(t, string(domain.PaymentStatusPaid), doc["paymentStatus"])

	doc, err = f.svc.TogglePaid(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, false, doc["isPaid"])
	assert.Equal(t, string(domain.PaymentStatusPending), doc["paymentStatus"])

	doc, err = f.svc.ToggleDelivered(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, true, doc["isDelivered"])
	assert.NotNil(t, doc["deliveredAt"])
	assert.Equal(t, int64(3), doc[domain.FieldVersion])

	_, err = f.svc.ToggleDelivered(ctx, primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []events.Type{events.OrderCreated, events.OrderPaid, events.OrderDelivered}, f.publisher.types())
}

func TestInventoryOpsMergesRepeatedProducts(t *testing.T) {
	p1, p2 := primitive.NewObjectID(), primitive.NewObjectID()
	ops := inventoryOps([]domain.LineItem{{Product: p1, Count: 2}, {Product: p2, Count: 1}, {Product: p1, Count: 3}})
	require.Len(t, ops, 2)
	assert.Equal(t, p1, ops[0].ID)
	assert.Equal(t, map[string]int64{"quantity": -5, "sold": 5}, ops[0].Fields)
	assert.Equal(t, map[string]int64{"quantity": -1, "sold": 1}, ops[1].Fields)
}
