package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-ID"
	headerUserID    = "X-User-Id"
	headerUserRole  = "X-User-Role"

	ctxRequestID = "request_id"
	ctxUser      = "user"
)

// Identity пользователь запроса. Аутентификацию делает gateway перед сервисом
// и передаёт результат заголовками.
type Identity struct {
	ID   string
	Role string
}

const roleUser = "user"

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxUser, Identity{ID: c.GetHeader(headerUserID), Role: c.GetHeader(headerUserRole)})
		c.Next()
	}
}

func currentUser(c *gin.Context) Identity {
	if v, ok := c.Get(ctxUser); ok {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{}
}

// accessLog пишет одну строку на запрос
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := s.log.Info()
		if status >= http.StatusInternalServerError {
			evt = s.log.Error()
			if err := c.Errors.Last(); err != nil {
				evt = evt.Err(err.Err)
			}
		}
		evt.Str("request_id", c.GetString(ctxRequestID)).
			Str("user_id", currentUser(c).ID).
			Str("method", c.Request.Method).
			Str("url", c.Request.URL.String()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request completed")
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		s.log.Error().
			Str("request_id", c.GetString(ctxRequestID)).
			Str("method", c.Request.Method).
			Str("url", c.Request.URL.String()).
			Interface("panic", err).
			Msg("panic recovered")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

func (s *Server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Metrics == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m := s.deps.Metrics
		m.Requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.LatencyMS.WithLabelValues(c.Request.Method, route).Observe(float64(time.Since(start).Milliseconds()))
	}
}
