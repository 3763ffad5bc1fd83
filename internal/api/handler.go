package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coin-bank/internal/service"
	"coin-bank/internal/store"
	"coin-bank/internal/util"
)

// Handler contains HTTP handlers for the command/event adapters. The
// adapters own authorization; privileged routes here assume the caller
// already passed that check.
type Handler struct {
	bank *service.BankService
}

// NewHandler creates a new HTTP handler
func NewHandler(bank *service.BankService) *Handler {
	return &Handler{bank: bank}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/identities", h.register)
		v1.GET("/identities/:id/balance", h.getBalance)
		v1.GET("/identities/external/:external_id/balance", h.getBalanceByExternalID)
		v1.GET("/identities/:id/ledger", h.getHistory)
		v1.GET("/identities/:id/holdings", h.getHoldings)

		v1.POST("/purchases", h.buy)
		v1.POST("/consumptions", h.use)
		v1.POST("/rewards", h.reward)
		v1.POST("/grants", h.grantItem)
		v1.POST("/ledger/corrections", h.correctEntry)

		v1.GET("/items", h.listItems)
		v1.GET("/items/:title", h.findItem)
		v1.POST("/items", h.registerItem)
		v1.DELETE("/items/:title", h.unregisterItem)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Unix()})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready", "time": time.Now().Unix()})
}

type registerRequest struct {
	ExternalID string `json:"external_id" binding:"required"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.bank.Register(c.Request.Context(), req.ExternalID)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyExisted {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (h *Handler) getBalance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	balance, err := h.bank.GetBalance(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"internal_id": id, "balance": balance})
}

func (h *Handler) getBalanceByExternalID(c *gin.Context) {
	externalID := c.Param("external_id")

	balance, err := h.bank.GetBalanceByExternalID(c.Request.Context(), externalID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"external_id": externalID, "balance": balance})
}

func (h *Handler) getHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	entries, err := h.bank.History(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"internal_id": id, "entries": entries})
}

func (h *Handler) getHoldings(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	holdings, err := h.bank.ListHoldings(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"internal_id": id, "holdings": holdings})
}

type purchaseRequest struct {
	InternalID int64  `json:"internal_id" binding:"required"`
	ItemID     int64  `json:"item_id" binding:"required"`
	EventRef   string `json:"event_ref,omitempty"`
}

func (h *Handler) buy(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	entry, err := h.bank.Buy(c.Request.Context(), req.InternalID, req.ItemID, req.EventRef, time.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

type consumeRequest struct {
	InternalID int64 `json:"internal_id" binding:"required"`
	ItemID     int64 `json:"item_id" binding:"required"`
}

func (h *Handler) use(c *gin.Context) {
	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.bank.Use(c.Request.Context(), req.InternalID, req.ItemID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "consumed"})
}

type rewardRequest struct {
	InternalID int64  `json:"internal_id" binding:"required"`
	Amount     int64  `json:"amount" binding:"required"`
	EventRef   string `json:"event_ref,omitempty"`
}

func (h *Handler) reward(c *gin.Context) {
	var req rewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	entry, err := h.bank.Reward(c.Request.Context(), req.InternalID, req.Amount, req.EventRef, time.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

type grantRequest struct {
	InternalID int64 `json:"internal_id" binding:"required"`
	ItemID     int64 `json:"item_id" binding:"required"`
	Quantity   int64 `json:"quantity" binding:"required,min=1"`
}

func (h *Handler) grantItem(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.bank.GrantItem(c.Request.Context(), req.InternalID, req.ItemID, req.Quantity); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "granted"})
}

type correctionRequest struct {
	EntryID  int64 `json:"entry_id" binding:"required"`
	NewDelta int64 `json:"new_delta"`
}

func (h *Handler) correctEntry(c *gin.Context) {
	var req correctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.bank.CorrectEntry(c.Request.Context(), req.EntryID, req.NewDelta); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "corrected"})
}

func (h *Handler) listItems(c *gin.Context) {
	items, err := h.bank.ListItems(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) findItem(c *gin.Context) {
	item, err := h.bank.FindItem(c.Request.Context(), c.Param("title"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

type registerItemRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description" binding:"required"`
	ImageRef    string `json:"image_ref" binding:"required"`
	Cost        int64  `json:"cost"`
}

func (h *Handler) registerItem(c *gin.Context) {
	var req registerItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	created, err := h.bank.RegisterItem(c.Request.Context(), req.Title, req.Description, req.ImageRef, req.Cost)
	if err != nil {
		writeError(c, err)
		return
	}

	if !created {
		c.JSON(http.StatusOK, gin.H{"created": false})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"created": true})
}

func (h *Handler) unregisterItem(c *gin.Context) {
	if err := h.bank.UnregisterItem(c.Request.Context(), c.Param("title")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

// writeError maps typed store outcomes to HTTP statuses. Anything not in
// the map is an infrastructure failure.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotRegistered),
		errors.Is(err, store.ErrItemNotFound),
		errors.Is(err, store.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrInsufficientBalance),
		errors.Is(err, store.ErrInsufficientHolding):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrInvalidCost),
		errors.Is(err, store.ErrInvalidReference):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage unavailable",
			"details": err.Error(),
		})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
