// Package payment talks to the card payment provider: it opens checkout
// sessions and reads the provider's transaction notifications.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

const (
	DefaultBaseURL       = "https://accept.paymob.com/api"
	DefaultCurrency      = "EGP"
	DefaultKeyExpiration = 3600
	DefaultTimeout       = 10 * time.Second
)

// Config настройки провайдера
type Config struct {
	BaseURL       string
	APIKey        string
	IntegrationID int64
	IframeID      string
	Currency      string
	// KeyExpiration срок жизни payment key в секундах
	KeyExpiration int
	// Timeout applies to each of the three calls separately.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Currency == "" {
		c.Currency = DefaultCurrency
	}
	if c.KeyExpiration <= 0 {
		c.KeyExpiration = DefaultKeyExpiration
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// APIError неуспешный ответ одного из шагов
type APIError struct {
	Step   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment %s: status %d: %s", e.Step, e.Status, e.Body)
}

var ErrEmptyResponse = errors.New("payment provider returned an unusable response")

// CheckoutRequest данные для открытия платёжной сессии
type CheckoutRequest struct {
	MerchantOrderID string
	Amount          decimal.Decimal
	Billing         BillingData
}

// Session результат: ссылка на iframe оплаты
type Session struct {
	Link            string
	PaymentToken    string
	ProviderOrderID int64
}

// BillingData billing_data as the provider expects it. Every field is mandatory
// on the provider side; unknown values are sent as "NA".
type BillingData struct {
	Apartment      string `json:"apartment"`
	Email          string `json:"email"`
	Floor          string `json:"floor"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Street         string `json:"street"`
	Building       string `json:"building"`
	PhoneNumber    string `json:"phone_number"`
	ShippingMethod string `json:"shipping_method"`
	PostalCode     string `json:"postal_code"`
	City           string `json:"city"`
	Country        string `json:"country"`
	State          string `json:"state"`
}

// BillingFromAddress maps a shipping address onto billing data.
func BillingFromAddress(a domain.ShippingAddress) BillingData {
	return BillingData{
		Apartment:      "NA",
		Email:          orNA(a.Email),
		Floor:          "NA",
		FirstName:      orNA(a.FirstName),
		LastName:       orNA(a.LastName),
		Street:         orNA(a.Details),
		Building:       "NA",
		PhoneNumber:    orNA(a.Phone),
		ShippingMethod: "NA",
		PostalCode:     orNA(a.PostalCode),
		City:           orNA(a.City),
		Country:        orNA(a.Country),
		State:          "NA",
	}
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "NA"
	}
	return s
}

// Client клиент провайдера: auth token -> order -> payment key
type Client struct {
	cfg  Config
	http *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{cfg: cfg.withDefaults(), http: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AmountCents converts a price to the provider's integer minor units.
func AmountCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// CreatePaymentLink runs the three provider calls in sequence. Any failure
// aborts the attempt; nothing is retried and no provider order is cleaned up.
func (c *Client) CreatePaymentLink(ctx context.Context, req CheckoutRequest) (*Session, error) {
	token, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	cents := AmountCents(req.Amount)

	providerOrderID, err := c.registerOrder(ctx, token, req.MerchantOrderID, cents)
	if err != nil {
		return nil, err
	}

	paymentToken, err := c.paymentKey(ctx, token, providerOrderID, cents, req.Billing)
	if err != nil {
		return nil, err
	}
	return &Session{
		Link:            fmt.Sprintf("%s/acceptance/iframes/%s?payment_token=%s", c.cfg.BaseURL, c.cfg.IframeID, paymentToken),
		PaymentToken:    paymentToken,
		ProviderOrderID: providerOrderID,
	}, nil
}

func (c *Client) authenticate(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "auth", "/auth/tokens", map[string]any{"api_key": c.cfg.APIKey}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("auth: %w", ErrEmptyResponse)
	}
	return resp.Token, nil
}

func (c *Client) registerOrder(ctx context.Context, token, merchantOrderID string, cents int64) (int64, error) {
	body := map[string]any{
		"auth_token":        token,
		"delivery_needed":   false,
		"amount_cents":      cents,
		"currency":          c.cfg.Currency,
		"merchant_order_id": merchantOrderID,
		"items":             []any{},
	}
	var resp struct {
		ID int64 `json:"id"`
	}
	if err := c.post(ctx, "order", "/ecommerce/orders", body, &resp); err != nil {
		return 0, err
	}
	if resp.ID == 0 {
		return 0, fmt.Errorf("order: %w", ErrEmptyResponse)
	}
	return resp.ID, nil
}

func (c *Client) paymentKey(ctx context.Context, token string, orderID, cents int64, billing BillingData) (string, error) {
	body := map[string]any{
		"auth_token":     token,
		"amount_cents":   cents,
		"expiration":     c.cfg.KeyExpiration,
		"order_id":       orderID,
		"billing_data":   billing,
		"currency":       c.cfg.Currency,
		"integration_id": c.cfg.IntegrationID,
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "payment key", "/acceptance/payment_keys", body, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("payment key: %w", ErrEmptyResponse)
	}
	return resp.Token, nil
}

func (c *Client) post(ctx context.Context, step, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", step, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", step, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", step, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{Step: step, Status: res.StatusCode, Body: string(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", step, err)
	}
	return nil
}
