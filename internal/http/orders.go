package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"

	"storefront/internal/domain"
	"storefront/internal/payment"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerSignature      = "X-Signature"
)

type orderReq struct {
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
}

// bindOrder accepts an empty body: the shipping address is optional.
func bindOrder(c *gin.Context) (orderReq, bool) {
	var req orderReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return req, false
	}
	return req, true
}

func (s *Server) countCheckout(method, result string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.Checkouts.WithLabelValues(method, result).Inc()
	}
}

// @Summary Create cash order from cart
// @Description Converts the cart into an unpaid cash order. A repeated request with the same Idempotency-Key returns the first order.
// @Tags orders
// @Accept json
// @Produce json
// @Param cartId path string true "Cart ID"
// @Param Idempotency-Key header string false "Client generated key"
// @Param input body orderReq false "Shipping address"
// @Success 201 {object} map[string]interface{}
// @Success 200 {object} map[string]interface{} "replayed"
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /orders/{cartId} [post]
func (s *Server) createCashOrder(c *gin.Context) {
	req, ok := bindOrder(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	cartID := c.Param("cartId")
	user := currentUser(c)

	key := c.GetHeader(headerIdempotencyKey)
	if key != "" {
		key = "cash:" + cartID + ":" + key
		orderID, claimed, err := s.deps.Idempotency.Claim(ctx, key)
		if err != nil {
			s.countCheckout("cash", "error")
			writeError(c, err)
			return
		}
		if !claimed {
			doc, err := s.deps.Orders.ReadOne(ctx, orderID)
			if err != nil {
				writeError(c, err)
				return
			}
			s.countCheckout("cash", "replayed")
			c.JSON(http.StatusOK, gin.H{"status": "success", "data": doc})
			return
		}
	}

	doc, err := s.deps.Checkout.CreateCashOrder(ctx, cartID, user.ID, req.ShippingAddress)
	if err != nil {
		if key != "" {
			if rerr := s.deps.Idempotency.Release(context.WithoutCancel(ctx), key); rerr != nil {
				s.log.Error().Err(rerr).Str("cart_id", cartID).Msg("release idempotency key")
			}
		}
		s.countCheckout("cash", "error")
		writeError(c, err)
		return
	}
	if key != "" {
		if err := s.deps.Idempotency.Complete(context.WithoutCancel(ctx), key, domain.IDOf(doc)); err != nil {
			s.log.Error().Err(err).Str("cart_id", cartID).Msg("complete idempotency key")
		}
	}
	s.countCheckout("cash", "success")
	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": doc})
}

// @Summary Open card checkout session
// @Tags orders
// @Accept json
// @Produce json
// @Param cartId path string true "Cart ID"
// @Param input body orderReq false "Shipping address, sent as billing data"
// @Success 200 {object} service.CheckoutResult
// @Failure 404 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /orders/checkout-session/{cartId} [post]
func (s *Server) checkoutSession(c *gin.Context) {
	req, ok := bindOrder(c)
	if !ok {
		return
	}
	res, err := s.deps.Checkout.CreateCardCheckout(c.Request.Context(), c.Param("cartId"), currentUser(c).ID, req.ShippingAddress)
	if err != nil {
		s.countCheckout("card", "error")
		writeError(c, err)
		return
	}
	s.countCheckout("card", "success")
	c.JSON(http.StatusOK, res)
}

// filterOrdersForLoggedUser: role user sees only own orders
func filterOrdersForLoggedUser(user Identity) bson.M {
	if user.Role == roleUser {
		return bson.M{"user": user.ID}
	}
	return nil
}

// @Summary List orders
// @Tags orders
// @Produce json
// @Param X-User-Role header string false "Role; 'user' sees own orders only"
// @Success 200 {object} service.ListResult
// @Router /orders [get]
func (s *Server) listOrders(c *gin.Context) {
	res, err := s.deps.Orders.ReadAll(c.Request.Context(), filterOrdersForLoggedUser(currentUser(c)), c.Request.URL.Query())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Get order by id
// @Tags orders
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Router /orders/{id} [get]
func (s *Server) getOrder(c *gin.Context) {
	doc, err := s.deps.Orders.ReadOne(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": doc})
}

// @Summary Delete order
// @Tags orders
// @Param id path string true "Order ID"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /orders/{id} [delete]
func (s *Server) deleteOrder(c *gin.Context) {
	if err := s.deps.Orders.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary Toggle order paid
// @Tags orders
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Router /orders/{id}/pay [put]
func (s *Server) payOrder(c *gin.Context) {
	doc, err := s.deps.Checkout.TogglePaid(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Success", "data": doc})
}

// @Summary Toggle order delivered
// @Tags orders
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Router /orders/{id}/deliver [put]
func (s *Server) deliverOrder(c *gin.Context) {
	doc, err := s.deps.Checkout.ToggleDelivered(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Success", "data": doc})
}

// @Summary Payment provider notification
// @Description Body is signed with HMAC-SHA512 (hex) of the raw body, passed as ?hmac= or X-Signature.
// @Tags orders
// @Accept json
// @Produce json
// @Param hmac query string false "Signature"
// @Success 200 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /orders/webhook-checkout [post]
func (s *Server) webhookCheckout(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if s.deps.WebhookSecret != "" {
		sig := c.Query("hmac")
		if sig == "" {
			sig = c.GetHeader(headerSignature)
		}
		if err := payment.Verify(s.deps.WebhookSecret, body, sig); err != nil {
			s.log.Warn().Str("request_id", c.GetString(ctxRequestID)).Msg("provider notification with bad signature")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}
	outcome := s.deps.Checkout.HandleProviderNotification(c.Request.Context(), body)
	if s.deps.Metrics != nil {
		s.deps.Metrics.Notifications.WithLabelValues(string(outcome)).Inc()
	}
	c.JSON(http.StatusOK, gin.H{"msg": "Done"})
}
