package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/domain"
	"storefront/internal/idempotency"
	"storefront/internal/service"
)

func mapErrorToStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, idempotency.ErrInFlight):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError отдаёт {"error": msg}. Unknown errors are logged and hidden.
func writeError(c *gin.Context, err error) {
	status := mapErrorToStatus(err)
	body := gin.H{"error": err.Error()}

	var serr *service.Error
	switch {
	case errors.Is(err, service.ErrPaymentProvider) && errors.As(err, &serr) && serr.Message != "":
		body["error"] = serr.Message
	case status == http.StatusInternalServerError:
		body["error"] = "internal server error"
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		fields := make([]gin.H, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			fields = append(fields, gin.H{"field": f.Field, "msg": f.Reason})
		}
		body["errors"] = fields
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}
