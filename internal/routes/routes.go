package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/gvmbt/pvndora-shop/internal/auth"
	"github.com/gvmbt/pvndora-shop/internal/handlers"
	"github.com/gvmbt/pvndora-shop/internal/metrics"
	"github.com/gvmbt/pvndora-shop/internal/middleware"
)

// CORSMiddleware allows the web frontend to talk to the API with its
// Authorization header.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func SetupRouter(h *handlers.Handlers, tokens *auth.Tokens, db *sqlx.DB) *gin.Engine {
	router := gin.Default()
	router.Use(CORSMiddleware())

	// Prometheus scrape endpoint, outside the /v1 surface.
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/v1")
	{
		// --- Ping Route (Public) ---
		v1.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "pong!"})
		})

		// --- Shop Routes (Login Required) ---
		shop := v1.Group("/shop")
		shop.Use(middleware.Auth(tokens))
		{
			shop.GET("/cart", h.GetCart)
			shop.POST("/cart/items", h.AddCartItem)
			shop.PUT("/cart/items/:productId", h.UpdateCartItem)
			shop.DELETE("/cart/items/:productId", h.RemoveCartItem)

			shop.POST("/checkout", h.PostCheckout)
			shop.GET("/orders", h.GetMyOrders)
			shop.GET("/orders/:id", h.GetOrderDetails)

			shop.GET("/wallet", h.GetWallet)
		}

		// --- Payment Routes (Login Required) ---
		pay := v1.Group("/payments")
		pay.Use(middleware.Auth(tokens))
		{
			pay.POST("/confirm/:id", h.ConfirmPayment)
		}

		// --- Manager-Only Routes ---
		manager := v1.Group("/manager")
		manager.Use(middleware.Auth(tokens))
		manager.Use(middleware.ManagerOnly(db))
		{
			manager.POST("/orders/:id/deliver", h.DeliverOrder)
			manager.POST("/orders/:id/lines/:lineId/fulfill", h.FulfillPreorderLine)
			manager.GET("/orders/:id/commissions", h.GetOrderCommissions)
			manager.GET("/products/:id/stock-audit", h.StockAudit)
			manager.POST("/sweep", h.RunSweep)
		}
	}

	return router
}
