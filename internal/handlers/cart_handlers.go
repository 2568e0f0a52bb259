package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gvmbt/pvndora-shop/internal/carts"
	"github.com/gvmbt/pvndora-shop/internal/middleware"
)

//
// --- Cart Handlers ---
//

// GetCart is the handler for GET /v1/shop/cart
func (h *Handlers) GetCart(c *gin.Context) {
	userID := middleware.UserID(c)

	lines, err := h.Carts.LinesForUser(c, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load cart"})
		return
	}
	if lines == nil {
		lines = []carts.Line{}
	}
	c.JSON(http.StatusOK, gin.H{"items": lines})
}

type cartItemRequest struct {
	ProductID int64 `json:"productId" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// AddCartItem is the handler for POST /v1/shop/cart/items
func (h *Handlers) AddCartItem(c *gin.Context) {
	userID := middleware.UserID(c)

	var req cartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "productId and quantity (min 1) are required"})
		return
	}

	if err := h.Carts.AddItem(c, userID, req.ProductID, req.Quantity); err != nil {
		if errors.Is(err, carts.ErrProductUnavailable) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Product is not available for sale"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add item to cart"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Item added to cart"})
}

// UpdateCartItem is the handler for PUT /v1/shop/cart/items/:productId
func (h *Handlers) UpdateCartItem(c *gin.Context) {
	userID := middleware.UserID(c)

	productID, err := strconv.ParseInt(c.Param("productId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var req struct {
		Quantity int `json:"quantity" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity (min 1) is required"})
		return
	}

	if err := h.Carts.SetItemQuantity(c, userID, productID, req.Quantity); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update cart item"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart item updated"})
}

// RemoveCartItem is the handler for DELETE /v1/shop/cart/items/:productId
func (h *Handlers) RemoveCartItem(c *gin.Context) {
	userID := middleware.UserID(c)

	productID, err := strconv.ParseInt(c.Param("productId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	if err := h.Carts.RemoveItem(c, userID, productID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove cart item"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart item removed"})
}
