package http

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tanglemarket/trade-engine/internal/api/dto"
	"github.com/tanglemarket/trade-engine/internal/core"
	"github.com/tanglemarket/trade-engine/internal/domain"
	"github.com/tanglemarket/trade-engine/internal/middleware"
)

type HTTPServer struct {
	Eng         *core.Engine
	submittedID sync.Map // for deduplication by OrderID
}

func NewHTTPServer(eng *core.Engine) *HTTPServer {
	return &HTTPServer{Eng: eng}
}

func (s *HTTPServer) Run(addr string) error {
	return s.Router().Run(addr)
}

func (s *HTTPServer) Router() *gin.Engine {
	r := gin.Default()

	// Middleware rate-limiting
	rl := middleware.NewRateLimiter(time.Millisecond * 100)
	r.Use(rl.Middleware())

	r.POST("/orders", s.submitOrder)
	r.POST("/orders/cancel", s.cancelOrder)
	r.GET("/orders/:id", s.getOrder)
	r.GET("/orders/:id/purchases", s.getPurchases)
	r.GET("/book", s.getBook)
	r.GET("/balances/:token/:member", s.getBalance)
	r.POST("/events/order-funded", s.orderFunded)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func (s *HTTPServer) submitOrder(c *gin.Context) {
	var req dto.SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// deduplication
	if req.OrderID != "" {
		if _, exists := s.submittedID.LoadOrStore(req.OrderID, struct{}{}); exists {
			c.JSON(http.StatusConflict, gin.H{"error": "duplicate order_id"})
			return
		}
	}

	o := &domain.TradeOrder{
		ID:             req.OrderID,
		Token:          req.Token,
		Owner:          req.Member,
		Direction:      domain.Direction(req.Direction),
		RequestedCount: req.Count,
		Price:          req.Price,
		SourceNetwork:  domain.Network(req.SourceNetwork),
		TargetNetwork:  domain.Network(req.TargetNetwork),
		SourceAddress:  req.SourceAddress,
	}
	if req.ExpiresAt != nil {
		o.ExpiresAt = *req.ExpiresAt
	}
	if o.SourceNetwork == "" {
		o.SourceNetwork = domain.NetworkIota
	}
	if o.TargetNetwork == "" {
		o.TargetNetwork = o.SourceNetwork
	}

	res, err := s.Eng.SubmitOrder(c.Request.Context(), o)
	if err != nil {
		// Nothing was stored; the client may retry under the same id.
		if req.OrderID != "" {
			s.submittedID.Delete(req.OrderID)
		}
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrInsufficientBalance):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, domain.ErrInvalidOrderState):
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	resp := dto.SubmitOrderResponse{
		OrderID:     o.ID,
		Status:      string(o.Status),
		FilledCount: res.FilledCount,
	}
	for _, p := range res.Purchases {
		resp.Purchases = append(resp.Purchases, *p)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) cancelOrder(c *gin.Context) {
	var req dto.CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Eng.CancelOrder(c.Request.Context(), req.OrderID, req.Member); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrInvalidOrderState):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.CancelOrderResponse{OrderID: req.OrderID, Cancelled: true})
}

// orderFunded is the payment reconciler's webhook. Delivery is
// at-least-once; the engine treats redelivery and terminal orders as
// no-ops, so every outcome except a hard failure answers 200 to stop the
// retry loop.
func (s *HTTPServer) orderFunded(c *gin.Context) {
	var ev dto.OrderFundedEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.Eng.HandleOrderFunded(c.Request.Context(), ev.OrderID, ev.ConfirmedAmount)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		// Retryable: the reconciler redelivers the event.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.OrderFundedResponse{
		OrderID:     ev.OrderID,
		FilledCount: res.FilledCount,
		Purchases:   len(res.Purchases),
	})
}

func (s *HTTPServer) getOrder(c *gin.Context) {
	o, err := s.Eng.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *HTTPServer) getPurchases(c *gin.Context) {
	purchases, err := s.Eng.GetPurchases(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, purchases)
}

func (s *HTTPServer) getBook(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}
	book, err := s.Eng.GetBook(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, book)
}

func (s *HTTPServer) getBalance(c *gin.Context) {
	b, err := s.Eng.GetBalance(c.Request.Context(), c.Param("token"), c.Param("member"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, b)
}
