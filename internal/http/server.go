package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"storefront/internal/idempotency"
	"storefront/internal/metrics"
	"storefront/internal/service"
)

// ErrUnsignedWebhook the webhook route needs a signing secret
var ErrUnsignedWebhook = errors.New("payment.hmac_secret is empty and unsigned webhooks are not allowed")

// Deps всё, что нужно серверу
type Deps struct {
	// Resources maps a route segment ("products") to its engine.
	Resources   map[string]*service.Engine
	Orders      *service.Engine
	Checkout    *service.CheckoutService
	Idempotency idempotency.Store
	Metrics     *metrics.ServerMetrics
	Gatherer    prometheus.Gatherer
	Logger      zerolog.Logger

	WebhookSecret         string
	AllowUnsignedWebhooks bool
}

type Server struct {
	engine *gin.Engine
	deps   Deps
	log    zerolog.Logger
}

func NewServer(d Deps) (*Server, error) {
	if d.WebhookSecret == "" && !d.AllowUnsignedWebhooks {
		return nil, ErrUnsignedWebhook
	}
	if d.Idempotency == nil {
		return nil, errors.New("idempotency store is required")
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	s := &Server{engine: r, deps: d, log: d.Logger.With().Str("component", "http").Logger()}
	r.Use(requestID(), s.accessLog(), s.instrument(), s.recovery(), identity())
	s.registerRoutes()
	return s, nil
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	// Swagger UI
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	s.engine.GET("/health", s.health)
	if s.deps.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(metrics.Handler(s.deps.Gatherer)))
	}

	v1 := s.engine.Group("/api/v1")
	for segment, e := range s.deps.Resources {
		h := resourceHandlers{engine: e}
		g := v1.Group("/" + segment)
		g.POST("", h.create)
		g.GET("", h.list)
		g.DELETE("", h.deleteAll)
		g.GET(":id", h.get)
		g.PUT(":id", h.update)
		g.DELETE(":id", h.delete)
	}

	orders := v1.Group("/orders")
	{
		orders.POST("webhook-checkout", s.webhookCheckout)
		orders.POST("checkout-session/:cartId", s.checkoutSession)
		orders.POST(":cartId", s.createCashOrder)
		orders.GET("", s.listOrders)
		orders.GET(":id", s.getOrder)
		orders.DELETE(":id", s.deleteOrder)
		orders.PUT(":id/pay", s.payOrder)
		orders.PUT(":id/deliver", s.deliverOrder)
	}
}

// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
