// Package api exposes the trading core over HTTP and websocket. Identity is
// external: the caller arrives pre-authenticated and passes its user id in
// the X-User-ID header.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lapinex/lapinex/internal/marketdata"
	"github.com/lapinex/lapinex/internal/trading/engine"
	"github.com/lapinex/lapinex/internal/trading/store"
	"github.com/lapinex/lapinex/pkg/errs"
)

// Server is the HTTP front of the exchange.
type Server struct {
	router *gin.Engine
	engine *engine.Engine
	store  *store.Store
	hub    *marketdata.Hub
	logger *zap.Logger
}

// NewServer wires routes onto a gin engine.
func NewServer(eng *engine.Engine, st *store.Store, hub *marketdata.Hub, logger *zap.Logger) *Server {
	s := &Server{
		router: gin.New(),
		engine: eng,
		store:  st,
		hub:    hub,
		logger: logger,
	}
	s.router.Use(gin.Recovery())

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request)
	})

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/bunnies", s.listBunnies)
		v1.GET("/bunnies/:symbol/book", s.getOrderBook)
		v1.POST("/bunnies/:symbol/orders", s.placeOrder)
		v1.DELETE("/bunnies/:symbol/orders/:id", s.cancelOrder)
	}
	return s
}

// Handler returns the root http handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

type placeOrderRequest struct {
	Side     string `json:"side" binding:"required"`
	Quantity string `json:"quantity" binding:"required"`
	Price    string `json:"price" binding:"required"`
}

func (s *Server) placeOrder(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity"})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price"})
		return
	}

	result, err := s.engine.PlaceOrder(c.Request.Context(), engine.PlaceOrderRequest{
		Symbol:   c.Param("symbol"),
		Side:     req.Side,
		Quantity: quantity,
		Price:    price,
		UserID:   userID,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) cancelOrder(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	if err := s.engine.CancelOrder(c.Request.Context(), c.Param("symbol"), orderID, userID); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getOrderBook(c *gin.Context) {
	snapshot, err := s.engine.Snapshot(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) listBunnies(c *gin.Context) {
	bunnies, err := s.store.Bunnies(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bunnies": bunnies})
}

// callerID reads the externally authenticated user id.
func callerID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader("X-User-ID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid X-User-ID header"})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrInsufficientBalance), errors.Is(err, errs.ErrInsufficientHolding):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrBunnyNotFound), errors.Is(err, errs.ErrOrderNotFound), errors.Is(err, errs.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrAlreadyFilled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrTransient):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "retryable": true})
	default:
		s.logger.Error("unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
