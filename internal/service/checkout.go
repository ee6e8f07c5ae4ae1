package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/domain"
	"storefront/internal/events"
	"storefront/internal/payment"
	"storefront/internal/repository"
)

// CheckoutState шаг оформления заказа; каждый переход пишется в лог
type CheckoutState string

const (
	StateCartLoaded             CheckoutState = "CartLoaded"
	StatePriceComputed          CheckoutState = "PriceComputed"
	StateProviderSessionCreated CheckoutState = "ProviderSessionCreated"
	StateOrderCreated           CheckoutState = "OrderCreated"
	StateInventoryAdjusted      CheckoutState = "InventoryAdjusted"
	StateCartRetired            CheckoutState = "CartRetired"
	StateAwaitingConfirmation   CheckoutState = "AwaitingConfirmation"
	StatePaid                   CheckoutState = "Paid"
	StatePaymentFailed          CheckoutState = "PaymentFailed"
)

// Tax and shipping are not charged.
var (
	taxPrice      = decimal.Zero
	shippingPrice = decimal.Zero
)

// PaymentGateway открывает платёжную сессию у провайдера
type PaymentGateway interface {
	CreatePaymentLink(ctx context.Context, req payment.CheckoutRequest) (*payment.Session, error)
}

// NotificationOutcome what a provider notification did. The caller acknowledges
// every outcome.
type NotificationOutcome string

const (
	OutcomePaid           NotificationOutcome = "paid"
	OutcomeFailed         NotificationOutcome = "failed"
	OutcomeAlreadyApplied NotificationOutcome = "already_applied"
	OutcomeUnknownOrder   NotificationOutcome = "unknown_order"
	OutcomeMalformed      NotificationOutcome = "malformed"
	OutcomeStorageError   NotificationOutcome = "storage_error"
)

// CheckoutResult ответ card checkout
type CheckoutResult struct {
	Link  string          `json:"link"`
	Order domain.Document `json:"data"`
}

// CheckoutDeps зависимости координатора
type CheckoutDeps struct {
	Carts     repository.Collection
	Orders    repository.Collection
	Products  repository.Collection
	Tx        repository.TxManager
	Gateway   PaymentGateway
	Publisher events.Publisher
	Logger    zerolog.Logger
	Now       func() time.Time
}

// CheckoutService превращает корзину в заказ и ведёт статусы оплаты и доставки
type CheckoutService struct {
	carts    repository.Collection
	orders   repository.Collection
	products repository.Collection
	tx       repository.TxManager
	gateway  PaymentGateway
	events   events.Publisher
	log      zerolog.Logger
	now      func() time.Time
}

func NewCheckoutService(deps CheckoutDeps) *CheckoutService {
	s := &CheckoutService{
		carts:    deps.Carts,
		orders:   deps.Orders,
		products: deps.Products,
		tx:       deps.Tx,
		gateway:  deps.Gateway,
		events:   deps.Publisher,
		log:      deps.Logger.With().Str("component", "checkout").Logger(),
		now:      deps.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.events == nil {
		s.events = events.NewLogPublisher(s.log)
	}
	return s
}

func (s *CheckoutService) transition(cartID string, state CheckoutState) {
	s.log.Info().Str("cart_id", cartID).Str("state", string(state)).Msg("checkout transition")
}

// CreateCashOrder converts the cart into an unpaid cash order. The cart is
// claimed first, so a concurrent duplicate request gets NotFound.
func (s *CheckoutService) CreateCashOrder(ctx context.Context, cartID, userID string, addr domain.ShippingAddress) (domain.Document, error) {
	cart, raw, err := s.claimCart(ctx, cartID, userID)
	if err != nil {
		return nil, err
	}
	total := s.price(cart)

	order := s.newOrder(primitive.NewObjectID(), userID, cart, addr, total, domain.PaymentMethodCash)
	saved, err := s.placeOrder(ctx, cartID, order, cart.Products)
	if err != nil {
		s.restoreCart(ctx, cartID, raw)
		return nil, err
	}
	s.transition(cartID, StateCartRetired)
	s.publish(ctx, events.OrderCreated, order, map[string]any{
		"paymentMethodType": order.PaymentMethodType,
		"totalOrderPrice":   order.TotalOrderPrice,
	})
	return saved, nil
}

// CreateCardCheckout opens a provider payment session for the cart and records
// an unpaid card order that waits for the provider notification.
func (s *CheckoutService) CreateCardCheckout(ctx context.Context, cartID, userID string, addr domain.ShippingAddress) (*CheckoutResult, error) {
	if s.gateway == nil {
		return nil, &Error{Kind: ErrPaymentProvider, Message: "card payments are not configured"}
	}
	cart, raw, err := s.claimCart(ctx, cartID, userID)
	if err != nil {
		return nil, err
	}
	total := s.price(cart)

	orderID := primitive.NewObjectID()
	session, err := s.gateway.CreatePaymentLink(ctx, payment.CheckoutRequest{
		MerchantOrderID: orderID.Hex(),
		Amount:          total,
		Billing:         payment.BillingFromAddress(addr),
	})
	if err != nil {
		s.log.Error().Err(err).Str("cart_id", cartID).Msg("payment provider call failed")
		s.restoreCart(ctx, cartID, raw)
		return nil, &Error{Kind: ErrPaymentProvider, Message: "error creating payment session", Err: err}
	}
	s.transition(cartID, StateProviderSessionCreated)

	order := s.newOrder(orderID, userID, cart, addr, total, domain.PaymentMethodCard)
	saved, err := s.placeOrder(ctx, cartID, order, cart.Products)
	if err != nil {
		s.log.Error().Err(err).Str("cart_id", cartID).Int64("provider_order_id", session.ProviderOrderID).
			Msg("order not recorded after provider session was opened")
		s.restoreCart(ctx, cartID, raw)
		return nil, err
	}
	s.transition(cartID, StateCartRetired)
	s.transition(cartID, StateAwaitingConfirmation)
	s.publish(ctx, events.OrderCreated, order, map[string]any{
		"paymentMethodType": order.PaymentMethodType,
		"totalOrderPrice":   order.TotalOrderPrice,
		"providerOrderId":   session.ProviderOrderID,
	})
	return &CheckoutResult{Link: session.Link, Order: saved}, nil
}

// HandleProviderNotification applies a verified provider notification. Order
// state changes only when the payload parses and the order exists.
func (s *CheckoutService) HandleProviderNotification(ctx context.Context, body []byte) NotificationOutcome {
	n, err := payment.ParseNotification(body)
	if err != nil {
		s.log.Warn().Err(fmt.Errorf("%w: %v", ErrMalformedNotification, err)).Msg("provider notification ignored")
		return OutcomeMalformed
	}
	log := s.log.With().Str("order_id", n.OrderID).Bool("success", n.Success).Logger()

	stored, err := s.orders.FindByID(ctx, n.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn().Msg("provider notification for unknown order")
		return OutcomeUnknownOrder
	}
	if err != nil {
		log.Error().Err(err).Msg("load order for provider notification")
		return OutcomeStorageError
	}
	var order domain.Order
	if err := domain.FromDocument(stored, &order); err != nil {
		log.Error().Err(err).Msg("decode order for provider notification")
		return OutcomeStorageError
	}
	if order.IsPaid {
		log.Info().Msg("order already paid")
		return OutcomeAlreadyApplied
	}

	now := s.now().UTC()
	set := domain.Document{
		domain.FieldUpdatedAt: now,
		domain.FieldVersion:   order.Version + 1,
	}
	outcome, state, evt := OutcomeFailed, StatePaymentFailed, events.OrderPaymentFailed
	if n.Success {
		set["isPaid"] = true
		set["paidAt"] = now
		set["paymentStatus"] = string(domain.PaymentStatusPaid)
		outcome, state, evt = OutcomePaid, StatePaid, events.OrderPaid
		order.PaidAt = &now
	} else {
		set["paymentStatus"] = string(domain.PaymentStatusFailed)
	}
	if _, err := s.orders.UpdateByID(ctx, n.OrderID, set); err != nil {
		log.Error().Err(err).Msg("apply provider notification")
		return OutcomeStorageError
	}
	log.Info().Str("state", string(state)).Msg("checkout transition")
	s.publish(ctx, evt, order, nil)
	return outcome
}

// TogglePaid flips isPaid and stamps paidAt.
func (s *CheckoutService) TogglePaid(ctx context.Context, orderID string) (domain.Document, error) {
	return s.toggle(ctx, orderID, "isPaid", "paidAt", events.OrderPaid, func(on bool, set domain.Document) {
		if on {
			set["paymentStatus"] = string(domain.PaymentStatusPaid)
		} else {
			set["paymentStatus"] = string(domain.PaymentStatusPending)
		}
	})
}

// ToggleDelivered flips isDelivered and stamps deliveredAt.
func (s *CheckoutService) ToggleDelivered(ctx context.Context, orderID string) (domain.Document, error) {
	return s.toggle(ctx, orderID, "isDelivered", "deliveredAt", events.OrderDelivered, nil)
}

func (s *CheckoutService) toggle(ctx context.Context, orderID, flag, stamp string, evt events.Type, extra func(on bool, set domain.Document)) (domain.Document, error) {
	var updated domain.Document
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		stored, err := s.orders.FindByID(ctx, orderID)
		if errors.Is(err, repository.ErrNotFound) {
			return notFound("order", orderID)
		}
		if err != nil {
			return err
		}
		on, _ := stored[flag].(bool)
		on = !on
		now := s.now().UTC()
		set := domain.Document{
			flag:                  on,
			stamp:                 now,
			domain.FieldUpdatedAt: now,
			domain.FieldVersion:   version(stored) + 1,
		}
		if extra != nil {
			extra(on, set)
		}
		updated, err = s.orders.UpdateByID(ctx, orderID, set)
		return err
	})
	if err != nil {
		return nil, err
	}
	if on, _ := updated[flag].(bool); on {
		var order domain.Order
		if err := domain.FromDocument(updated, &order); err == nil {
			s.publish(ctx, evt, order, nil)
		}
	}
	return updated, nil
}

// claimCart removes the cart in one find-and-delete and returns it with its raw
// document, which restoreCart puts back when a later step fails.
func (s *CheckoutService) claimCart(ctx context.Context, cartID, userID string) (*domain.Cart, domain.Document, error) {
	raw, err := s.carts.DeleteByID(ctx, cartID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, notFound("cart", cartID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("claim cart %s: %w", cartID, err)
	}
	var cart domain.Cart
	if err := domain.FromDocument(raw, &cart); err != nil {
		s.restoreCart(ctx, cartID, raw)
		return nil, nil, fmt.Errorf("decode cart %s: %w", cartID, err)
	}
	s.log.Info().Str("cart_id", cartID).Str("user_id", userID).Int("items", len(cart.Products)).
		Str("state", string(StateCartLoaded)).Msg("checkout transition")
	return &cart, raw, nil
}

func (s *CheckoutService) restoreCart(ctx context.Context, cartID string, raw domain.Document) {
	if _, err := s.carts.Insert(context.WithoutCancel(ctx), raw); err != nil {
		s.log.Error().Err(err).Str("cart_id", cartID).Msg("restore cart after failed checkout")
		return
	}
	s.log.Warn().Str("cart_id", cartID).Msg("cart restored after failed checkout")
}

// price = tax + shipping + (totalAfterDiscount, when set, else totalCartPrice)
func (s *CheckoutService) price(cart *domain.Cart) decimal.Decimal {
	cartPrice := decimal.NewFromFloat(cart.TotalCartPrice)
	if cart.TotalAfterDiscount != nil && *cart.TotalAfterDiscount > 0 {
		cartPrice = decimal.NewFromFloat(*cart.TotalAfterDiscount)
	}
	total := taxPrice.Add(shippingPrice).Add(cartPrice)
	s.log.Info().Str("cart_id", cart.ID.Hex()).Str("total", total.StringFixed(2)).
		Str("state", string(StatePriceComputed)).Msg("checkout transition")
	return total
}

func (s *CheckoutService) newOrder(id primitive.ObjectID, userID string, cart *domain.Cart, addr domain.ShippingAddress, total decimal.Decimal, method domain.PaymentMethod) domain.Order {
	now := s.now().UTC()
	if userID == "" {
		userID = cart.User
	}
	items := make([]domain.LineItem, len(cart.Products))
	copy(items, cart.Products)
	return domain.Order{
		ID:                id,
		User:              userID,
		CartItems:         items,
		ShippingAddress:   addr,
		TaxPrice:          taxPrice.InexactFloat64(),
		ShippingPrice:     shippingPrice.InexactFloat64(),
		TotalOrderPrice:   total.InexactFloat64(),
		PaymentMethodType: method,
		PaymentStatus:     domain.PaymentStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// placeOrder inserts the order and adjusts inventory with one bulk write, in
// one transaction.
func (s *CheckoutService) placeOrder(ctx context.Context, cartID string, order domain.Order, items []domain.LineItem) (domain.Document, error) {
	doc, err := domain.ToDocument(order)
	if err != nil {
		return nil, err
	}
	var saved domain.Document
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		inserted, err := s.orders.Insert(ctx, doc)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		saved = inserted
		s.transition(cartID, StateOrderCreated)

		matched, err := s.products.BulkIncrement(ctx, inventoryOps(items))
		if err != nil {
			return fmt.Errorf("adjust inventory: %w", err)
		}
		s.log.Info().Str("cart_id", cartID).Int64("products", matched).
			Str("state", string(StateInventoryAdjusted)).Msg("checkout transition")
		return nil
	})
	if err != nil {
		if saved != nil {
			s.discardOrder(ctx, cartID, order.ID.Hex())
		}
		return nil, err
	}
	return saved, nil
}

// discardOrder removes an order whose inventory write failed. Stores without
// real transactions keep the insert, so it is undone here.
func (s *CheckoutService) discardOrder(ctx context.Context, cartID, orderID string) {
	_, err := s.orders.DeleteByID(context.WithoutCancel(ctx), orderID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		// rolled back by the transaction
	case err != nil:
		s.log.Error().Err(err).Str("cart_id", cartID).Str("order_id", orderID).Msg("discard order after failed checkout")
	default:
		s.log.Warn().Str("cart_id", cartID).Str("order_id", orderID).Msg("order discarded after failed checkout")
	}
}

// inventoryOps builds one increment per product: quantity -= count, sold += count.
func inventoryOps(items []domain.LineItem) []repository.Increment {
	index := make(map[primitive.ObjectID]int, len(items))
	ops := make([]repository.Increment, 0, len(items))
	for _, it := range items {
		if i, ok := index[it.Product]; ok {
			ops[i].Fields["quantity"] -= it.Count
			ops[i].Fields["sold"] += it.Count
			continue
		}
		index[it.Product] = len(ops)
		ops = append(ops, repository.Increment{
			ID:     it.Product,
			Fields: map[string]int64{"quantity": -it.Count, "sold": it.Count},
		})
	}
	return ops
}

func (s *CheckoutService) publish(ctx context.Context, t events.Type, order domain.Order, data map[string]any) {
	e := events.New(t, order.ID.Hex(), order.User, data)
	if err := s.events.Publish(context.WithoutCancel(ctx), e); err != nil {
		s.log.Error().Err(err).Str("event_type", string(t)).Str("order_id", e.OrderID).Msg("publish order event")
	}
}
