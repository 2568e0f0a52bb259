package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gvmbt/pvndora-shop/internal/checkout"
	"github.com/gvmbt/pvndora-shop/internal/fulfill"
	"github.com/gvmbt/pvndora-shop/internal/middleware"
	"github.com/gvmbt/pvndora-shop/internal/orders"
)

//
// --- Checkout & Order Handlers ---
//

type checkoutRequest struct {
	Gateway       string `json:"gateway" binding:"required"`
	PaymentMethod string `json:"paymentMethod" binding:"required"`
	PromoCode     string `json:"promoCode"`
}

// PostCheckout is the handler for POST /v1/shop/checkout
func (h *Handlers) PostCheckout(c *gin.Context) {
	userID := middleware.UserID(c)

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gateway and paymentMethod are required"})
		return
	}

	// 1. --- Load the cart ---
	cartLines, err := h.Carts.LinesForUser(c, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load cart"})
		return
	}

	input := checkout.Input{
		UserID:        userID,
		Gateway:       req.Gateway,
		PaymentMethod: req.PaymentMethod,
		PromoCode:     req.PromoCode,
	}
	for _, line := range cartLines {
		input.Lines = append(input.Lines, checkout.CartLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.Price,
		})
	}

	// 2. --- Run the checkout ---
	result, err := h.Checkout.Checkout(c, input)
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrEmptyCart):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Your cart is empty"})
		case errors.Is(err, checkout.ErrDuplicatePending):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "You already have an order awaiting payment"})
		case errors.Is(err, checkout.ErrPaymentUnavailable):
			c.JSON(http.StatusBadGateway, gin.H{"error": "Payment system is unavailable, please try again"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Checkout failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetMyOrders is the handler for GET /v1/shop/orders
func (h *Handlers) GetMyOrders(c *gin.Context) {
	userID := middleware.UserID(c)

	list, err := h.Orders.ListByUser(c, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

// GetOrderDetails is the handler for GET /v1/shop/orders/:id
func (h *Handlers) GetOrderDetails(c *gin.Context) {
	userID := middleware.UserID(c)

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := h.Orders.GetByIDForUser(c, orderID, userID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	lines, err := h.Orders.LinesByOrder(c, orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order lines"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order, "lines": lines})
}

// ConfirmPayment is the handler for POST /v1/payments/confirm/:id.
// The client calls it after returning from the gateway; the server verifies
// the invoice state instead of trusting the redirect.
func (h *Handlers) ConfirmPayment(c *gin.Context) {
	userID := middleware.UserID(c)

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	// Ownership check before touching the gateway.
	if _, err := h.Orders.GetByIDForUser(c, orderID, userID); err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	order, err := h.Fulfill.ConfirmPayment(c, orderID)
	if err != nil {
		if errors.Is(err, fulfill.ErrNotPayable) {
			c.JSON(http.StatusConflict, gin.H{"error": "Order has no payment to confirm"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not verify payment state"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// GetWallet is the handler for GET /v1/shop/wallet
func (h *Handlers) GetWallet(c *gin.Context) {
	userID := middleware.UserID(c)

	balance, err := h.Referral.WalletBalance(c, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load wallet balance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}
