package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/idempotency"
	"storefront/internal/metrics"
	"storefront/internal/payment"
	"storefront/internal/repository"
	"storefront/internal/service"
)

const testSecret = "webhook-secret"

type stubGateway struct {
	err error
}

func (g *stubGateway) CreatePaymentLink(_ context.Context, req payment.CheckoutRequest) (*payment.Session, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &payment.Session{
		Link:            "https://accept.example/iframes/7?payment_token=tok-" + req.MerchantOrderID,
		PaymentToken:    "tok-" + req.MerchantOrderID,
		ProviderOrderID: 1001,
	}, nil
}

type testEnv struct {
	s       *Server
	gateway *stubGateway
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	catalog := service.NewCatalog(store, service.MediaConfig{BaseURL: "http://localhost:9091"}, nil, zerolog.Nop())
	gw := &stubGateway{}
	checkout := service.NewCheckoutService(service.CheckoutDeps{
		Carts:    store.Collection("carts"),
		Orders:   store.Collection("orders"),
		Products: store.Collection("products"),
		Tx:       repository.NewMemoryTx(store),
		Gateway:  gw,
		Logger:   zerolog.Nop(),
	})
	reg := prometheus.NewRegistry()
	s, err := NewServer(Deps{
		Resources:     catalog.Resources(),
		Orders:        catalog.Orders(),
		Checkout:      checkout,
		Idempotency:   idempotency.NewMemoryStore(time.Hour),
		Metrics:       metrics.NewServerMetrics(reg),
		Gatherer:      reg,
		Logger:        zerolog.Nop(),
		WebhookSecret: testSecret,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{s: s, gateway: gw}
}

func doJSON(t *testing.T, s *Server, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func dataOf(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	data, ok := decode(t, w)["data"].(map[string]any)
	require.True(t, ok, w.Body.String())
	return data
}

// seedCart creates a product with 10 in stock and a cart holding two of it.
func seedCart(t *testing.T, s *Server, user string) (productID, cartID string) {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/v1/products", map[string]any{
		"name": "Lamp", "price": 10, "quantity": 10, "imageCover": "lamp.png",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create product %v: %s", w.Code, w.Body)
	}
	productID = dataOf(t, w)["_id"].(string)

	w = doJSON(t, s, http.MethodPost, "/api/v1/carts", map[string]any{
		"user":     user,
		"products": []map[string]any{{"product": productID, "count": 2, "price": 10}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create cart %v: %s", w.Code, w.Body)
	}
	cartID = dataOf(t, w)["_id"].(string)
	return productID, cartID
}

func TestProductFlow(t *testing.T) {
	s := setupServer(t).s
	// create
	w := doJSON(t, s, http.MethodPost, "/api/v1/products", map[string]any{
		"name": "Aspirin", "price": 10, "quantity": 5, "imageCover": "a.png",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create code %v", w.Code)
	}
	created := dataOf(t, w)
	id := created["_id"].(string)
	assert.Equal(t, "http://localhost:9091/products/a.png", created["imageCover"])

	// get
	w = doJSON(t, s, http.MethodGet, "/api/v1/products/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get code %v", w.Code)
	}
	// update
	w = doJSON(t, s, http.MethodPut, "/api/v1/products/"+id, map[string]any{"name": "A+", "price": 12})
	if w.Code != http.StatusOK {
		t.Fatalf("update code %v", w.Code)
	}
	assert.Equal(t, "A+", dataOf(t, w)["name"])

	// list
	w = doJSON(t, s, http.MethodGet, "/api/v1/products?price[gte]=11&keyword=a%2B", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list code %v", w.Code)
	}
	list := decode(t, w)
	assert.Equal(t, 1.0, list["results"])
	assert.Contains(t, list, "paginationResult")

	// delete
	w = doJSON(t, s, http.MethodDelete, "/api/v1/products/"+id, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete code %v", w.Code)
	}
	w = doJSON(t, s, http.MethodGet, "/api/v1/products/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", w.Code)
	}
	assert.Equal(t, "No document for this id: "+id, decode(t, w)["error"])
}

func TestDeleteAll(t *testing.T) {
	s := setupServer(t).s
	for _, title := range []string{"A", "B"} {
		if w := doJSON(t, s, http.MethodPost, "/api/v1/partners", map[string]any{"title": title}); w.Code != http.StatusCreated {
			t.Fatalf("create partner %v", w.Code)
		}
	}
	if w := doJSON(t, s, http.MethodDelete, "/api/v1/partners", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete all %v", w.Code)
	}
	w := doJSON(t, s, http.MethodGet, "/api/v1/partners", nil)
	assert.Equal(t, 0.0, decode(t, w)["results"])
}

func TestHTTP_BadRequests(t *testing.T) {
	s := setupServer(t).s
	// invalid json
	w := doJSON(t, s, http.MethodPost, "/api/v1/products", []byte("{"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", w.Code)
	}

	// schema violation
	w = doJSON(t, s, http.MethodPost, "/api/v1/contacts", map[string]any{"email": "nope"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", w.Code)
	}
	body := decode(t, w)
	fields, ok := body["errors"].([]any)
	require.True(t, ok)
	require.Len(t, fields, 1)
	assert.Equal(t, "email", fields[0].(map[string]any)["field"])

	// malformed id cannot match anything
	w = doJSON(t, s, http.MethodGet, "/api/v1/products/abc", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", w.Code)
	}
}

func TestCashOrderFlow(t *testing.T) {
	s := setupServer(t).s
	productID, cartID := seedCart(t, s, "u1")

	w := doJSON(t, s, http.MethodPost, "/api/v1/orders/"+cartID, map[string]any{
		"shippingAddress": map[string]any{"city": "Cairo", "phone": "0100"},
	}, headerIdempotencyKey, "k-1")
	if w.Code != http.StatusCreated {
		t.Fatalf("create order %v: %s", w.Code, w.Body)
	}
	body := decode(t, w)
	assert.Equal(t, "success", body["status"])
	order := body["data"].(map[string]any)
	orderID := order["_id"].(string)
	assert.Equal(t, "u1", order["user"])
	assert.Equal(t, 20.0, order["totalOrderPrice"])
	assert.Equal(t, "cash", order["paymentMethodType"])

	// replay returns the first order
	w = doJSON(t, s, http.MethodPost, "/api/v1/orders/"+cartID, nil, headerIdempotencyKey, "k-1")
	if w.Code != http.StatusOK {
		t.Fatalf("replay %v: %s", w.Code, w.Body)
	}
	assert.Equal(t, orderID, dataOf(t, w)["_id"])

	// the cart is gone for any other request
	w = doJSON(t, s, http.MethodPost, "/api/v1/orders/"+cartID, nil, headerIdempotencyKey, "k-2")
	if w.Code != http.StatusNotFound {
		t.Fatalf("second checkout %v", w.Code)
	}
	w = doJSON(t, s, http.MethodGet, "/api/v1/carts/"+cartID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("cart still there: %v", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/products/"+productID, nil)
	product := dataOf(t, w)
	assert.Equal(t, 8.0, product["quantity"])
	assert.Equal(t, 2.0, product["sold"])

	// populated product reference
	w = doJSON(t, s, http.MethodGet, "/api/v1/orders/"+orderID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get order %v", w.Code)
	}
	items := dataOf(t, w)["cartItems"].([]any)
	ref := items[0].(map[string]any)["product"].(map[string]any)
	assert.Equal(t, "Lamp", ref["name"])

	// pay, deliver
	w = doJSON(t, s, http.MethodPut, "/api/v1/orders/"+orderID+"/pay", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pay %v", w.Code)
	}
	assert.Equal(t, "Success", decode(t, w)["status"])
	assert.Equal(t, true, dataOf(t, w)["isPaid"])

	w = doJSON(t, s, http.MethodPut, "/api/v1/orders/"+orderID+"/deliver", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("deliver %v", w.Code)
	}
	assert.Equal(t, true, dataOf(t, w)["isDelivered"])

	w = doJSON(t, s, http.MethodDelete, "/api/v1/orders/"+orderID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete order %v", w.Code)
	}
	w = doJSON(t, s, http.MethodPut, "/api/v1/orders/"+orderID+"/pay", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("pay deleted order %v", w.Code)
	}
}

func TestListOrdersForLoggedUser(t *testing.T) {
	s := setupServer(t).s
	for _, user := range []string{"u1", "u2"} {
		_, cartID := seedCart(t, s, user)
		w := doJSON(t, s, http.MethodPost, "/api/v1/orders/"+cartID, nil, headerUserID, user, headerUserRole, roleUser)
		if w.Code != http.StatusCreated {
			t.Fatalf("order for %s: %v", user, w.Code)
		}
	}

	w := doJSON(t, s, http.MethodGet, "/api/v1/orders", nil, headerUserID, "u1", headerUserRole, roleUser)
	list := decode(t, w)
	assert.Equal(t, 1.0, list["results"])
	data := list["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "u1", data[0].(map[string]any)["user"])

	w = doJSON(t, s, http.MethodGet, "/api/v1/orders", nil, headerUserID, "a1", headerUserRole, "admin")
	assert.Equal(t, 2.0, decode(t, w)["results"])
}

func TestCardCheckoutAndWebhook(t *testing.T) {
	s := setupServer(t).s
	_, cartID := seedCart(t, s, "u1")

	w := doJSON(t, s, http.MethodPost, "/api/v1/orders/checkout-session/"+cartID, map[string]any{
		"shippingAddress": map[string]any{"city": "Giza"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("checkout session %v: %s", w.Code, w.Body)
	}
	body := decode(t, w)
	order := body["data"].(map[string]any)
	orderID := order["_id"].(string)
	assert.Equal(t, "card", order["paymentMethodType"])
	assert.True(t, strings.HasSuffix(body["link"].(string), "payment_token=tok-"+orderID))

	note := []byte(`{"type":"TRANSACTION","obj":{"id":"` + orderID + `","success":true}}`)

	// unsigned and badly signed notifications never reach storage
	w = doJSON(t, s, http.MethodPost, "/api/v1/orders/webhook-checkout", note)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned %v", w.Code)
	}
	w = doJSON(t, s, http.MethodPost, "/api/v1/orders/webhook-checkout?hmac=deadbeef", note)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature %v", w.Code)
	}
	w = doJSON(t, s, http.MethodGet, "/api/v1/orders/"+orderID, nil)
	assert.Equal(t, false, dataOf(t, w)["isPaid"])

	w = doJSON(t, s, http.MethodPost, "/api/v1/orders/webhook-checkout?hmac="+payment.Sign(testSecret, note), note)
	if w.Code != http.StatusOK {
		t.Fatalf("signed %v", w.Code)
	}
	assert.Equal(t, "Done", decode(t, w)["msg"])

	w = doJSON(t, s, http.MethodGet, "/api/v1/orders/"+orderID, nil)
	paid := dataOf(t, w)
	assert.Equal(t, true, paid["isPaid"])
	assert.Equal(t, "paid", paid["paymentStatus"])

	// unknown order and malformed payloads are acknowledged
	for _, raw := range [][]byte{
		[]byte(`{"type":"TRANSACTION","obj":{"id":"65a000000000000000000009","success":true}}`),
		[]byte(`not json`),
	} {
		w = doJSON(t, s, http.MethodPost, "/api/v1/orders/webhook-checkout", raw, headerSignature, payment.Sign(testSecret, raw))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %v", w.Code)
		}
	}
}

func TestCardCheckout_ProviderFailure(t *testing.T) {
	env := setupServer(t)
	_, cartID := seedCart(t, env.s, "u1")
	env.gateway.err = errors.New("upstream said: secret detail")

	w := doJSON(t, env.s, http.MethodPost, "/api/v1/orders/checkout-session/"+cartID, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", w.Code)
	}
	assert.NotContains(t, w.Body.String(), "secret detail")

	// the cart survives a failed checkout
	w = doJSON(t, env.s, http.MethodGet, "/api/v1/carts/"+cartID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cart lost: %v", w.Code)
	}
}

func TestNewServer_RequiresWebhookSecret(t *testing.T) {
	_, err := NewServer(Deps{Idempotency: idempotency.NewMemoryStore(time.Minute), Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, ErrUnsignedWebhook)

	_, err = NewServer(Deps{
		Orders:                service.NewCatalog(repository.NewMemoryStore(), service.MediaConfig{}, nil, zerolog.Nop()).Orders(),
		Idempotency:           idempotency.NewMemoryStore(time.Minute),
		Logger:                zerolog.Nop(),
		AllowUnsignedWebhooks: true,
	})
	assert.NoError(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
	s := setupServer(t).s
	w := doJSON(t, s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health %v", w.Code)
	}
	assert.NotEmpty(t, w.Header().Get(headerRequestID))

	w = doJSON(t, s, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics %v", w.Code)
	}
	assert.Contains(t, w.Body.String(), `storefront_http_requests_total{method="GET",route="/health",status="200"} 1`)
}
