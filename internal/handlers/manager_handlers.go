package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gvmbt/pvndora-shop/internal/fulfill"
)

//
// --- Manager Handlers ---
//

// DeliverOrder is the handler for POST /v1/manager/orders/:id/deliver
func (h *Handlers) DeliverOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := h.Fulfill.Deliver(c, orderID)
	if err != nil {
		if errors.Is(err, fulfill.ErrNotDeliverable) {
			c.JSON(http.StatusConflict, gin.H{"error": "Order is not in a deliverable state"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Delivery failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// FulfillPreorderLine is the handler for POST /v1/manager/orders/:id/lines/:lineId/fulfill
func (h *Handlers) FulfillPreorderLine(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	lineID, err := strconv.ParseInt(c.Param("lineId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid line ID"})
		return
	}

	order, err := h.Fulfill.FulfillPreorderUnit(c, orderID, lineID)
	if err != nil {
		switch {
		case errors.Is(err, fulfill.ErrNotDeliverable):
			c.JSON(http.StatusConflict, gin.H{"error": "Order is not in a deliverable state"})
		case errors.Is(err, fulfill.ErrLineNotFulfillable):
			c.JSON(http.StatusConflict, gin.H{"error": "Line cannot be fulfilled (wrong kind, already delivered, or no stock)"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Fulfillment failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// RunSweep is the handler for POST /v1/manager/sweep. The background loop
// does the same on its interval; this exists for operational nudges.
func (h *Handlers) RunSweep(c *gin.Context) {
	report, err := h.Sweeper.SweepExpired(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sweep failed", "report": report})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// StockAudit is the handler for GET /v1/manager/products/:id/stock-audit.
// Every sold unit should back exactly one delivered line; a mismatch means a
// double-sale or a lost delivery and needs a human.
func (h *Handlers) StockAudit(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	soldUnits, err := h.Ledger.CountSoldByProduct(c, productID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count sold units"})
		return
	}
	deliveredLines, err := h.Orders.CountDeliveredBoundLines(c, productID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count delivered lines"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"productId":      productID,
		"soldUnits":      soldUnits,
		"deliveredLines": deliveredLines,
		"balanced":       soldUnits == deliveredLines,
	})
}

// GetOrderCommissions is the handler for GET /v1/manager/orders/:id/commissions
func (h *Handlers) GetOrderCommissions(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	entries, err := h.Referral.EntriesByOrder(c, orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load commission entries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
