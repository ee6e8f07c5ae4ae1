package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"storefront/internal/config"
	"storefront/internal/events"
	"storefront/internal/idempotency"
	"storefront/internal/logging"
	"storefront/internal/payment"
	"storefront/internal/repository"
	"storefront/internal/service"
)

// app собранные зависимости процесса
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	store     repository.Store
	tx        repository.TxManager
	catalog   service.Catalog
	publisher events.Publisher
	idem      idempotency.Store
	gateway   service.PaymentGateway

	closers []func(context.Context) error
}

func loadApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: logging.New(cfg.Log.Level, cfg.Log.Format, nil)}, nil
}

// openStorage connects the document store only. purge needs nothing else.
func (a *app) openStorage(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case "mongo":
		store, err := repository.NewMongoStore(ctx, a.cfg.Mongo.URI, a.cfg.Mongo.Database)
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		a.store = store
		a.tx = repository.NewMongoTx(store.Client(), a.cfg.Mongo.Transactions)
		a.closers = append(a.closers, store.Close)
		a.log.Info().Str("database", a.cfg.Mongo.Database).Bool("transactions", a.cfg.Mongo.Transactions).Msg("mongo connected")
	default:
		store := repository.NewMemoryStore()
		a.store = store
		a.tx = repository.NewMemoryTx(store)
		a.log.Warn().Msg("using in-memory storage, data is lost on exit")
	}
	return nil
}

// buildCatalog wires the engines. Without openServices events are only logged.
func (a *app) buildCatalog() {
	a.catalog = service.NewCatalog(a.store, service.MediaConfig{
		BaseURL: a.cfg.Media.BaseURL,
		Segment: a.cfg.Media.Segment,
	}, a.publisher, a.log)
}

// openServices connects idempotency, events and the payment provider.
func (a *app) openServices(ctx context.Context) error {
	if a.cfg.Redis.Addr != "" {
		client, err := idempotency.NewRedisClient(ctx, a.cfg.Redis.Addr,
			idempotency.WithPassword(a.cfg.Redis.Password),
			idempotency.WithDB(a.cfg.Redis.DB),
		)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.idem = idempotency.NewRedisStore(client, a.cfg.Idempotency.TTL)
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	} else {
		a.idem = idempotency.NewMemoryStore(a.cfg.Idempotency.TTL)
	}

	if len(a.cfg.Kafka.Brokers) > 0 {
		pub, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: a.cfg.Kafka.Brokers,
			Topic:   a.cfg.Kafka.Topic,
		}, a.log)
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		a.publisher = pub
	} else {
		a.publisher = events.NewLogPublisher(a.log)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.publisher.Close() })

	if a.cfg.Payment.APIKey != "" {
		a.gateway = payment.NewClient(payment.Config{
			BaseURL:       a.cfg.Payment.BaseURL,
			APIKey:        a.cfg.Payment.APIKey,
			IntegrationID: a.cfg.Payment.IntegrationID,
			IframeID:      a.cfg.Payment.IframeID,
			Currency:      a.cfg.Payment.Currency,
			KeyExpiration: a.cfg.Payment.KeyExpiration,
			Timeout:       a.cfg.Payment.Timeout,
		})
	} else {
		a.log.Warn().Msg("payment.api_key is empty, card checkout disabled")
	}
	return nil
}

func (a *app) checkout() *service.CheckoutService {
	return service.NewCheckoutService(service.CheckoutDeps{
		Carts:     a.store.Collection("carts"),
		Orders:    a.store.Collection("orders"),
		Products:  a.store.Collection("products"),
		Tx:        a.tx,
		Gateway:   a.gateway,
		Publisher: a.publisher,
		Logger:    a.log,
	})
}

// close releases everything in reverse order.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
