package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/tradecredit/internal/observability/context"
	"github.com/smallbiznis/tradecredit/internal/shopcontext"
)

const (
	HeaderShop  = "X-Shop-ID"
	HeaderActor = "X-Actor"
)

// ShopContext scopes the request to the shop named by the X-Shop-ID header.
func ShopContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		shopID := shopcontext.Normalize(c.GetHeader(HeaderShop))
		if shopID == "" {
			AbortWithError(c, newValidationError("shop_id", "invalid_shop", "X-Shop-ID header is required"))
			return
		}
		c.Request = c.Request.WithContext(shopcontext.WithShopID(c.Request.Context(), shopID))
		c.Next()
	}
}

// ActorContext records the staff member or integration acting on the
// request for ledger attribution.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor := strings.TrimSpace(c.GetHeader(HeaderActor)); actor != "" {
			c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), actor))
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) string {
	return obscontext.ActorFromContext(c.Request.Context())
}
