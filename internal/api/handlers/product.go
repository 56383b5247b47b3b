package handlers

import (
	"net/http"

	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/store"

	"github.com/gin-gonic/gin"
)

type ProductHandler struct {
	store  *store.Store
	logger *logger.Logger
}

func NewProductHandler(st *store.Store, logger *logger.Logger) *ProductHandler {
	return &ProductHandler{
		store:  st,
		logger: logger,
	}
}

func (h *ProductHandler) List(c *gin.Context) {
	// Pagination
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 20)
	offset := (page - 1) * limit

	products, total, err := h.store.ListProducts(c.Request.Context(), store.ProductFilter{
		Status: models.ProductStatus(c.Query("status")),
		Source: c.Query("source"),
		Search: c.Query("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.logger.Error("Failed to list products: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch products"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": products,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// Get returns one mirrored product with its variations and recent sync history.
func (h *ProductHandler) Get(c *gin.Context) {
	sku := c.Param("sku")

	product, err := h.store.GetProduct(c.Request.Context(), sku)
	if err != nil {
		fail(c, err)
		return
	}
	logs, err := h.store.SyncLogs(c.Request.Context(), sku, queryInt(c, "history", 20))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch sync history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": product, "history": logs})
}
