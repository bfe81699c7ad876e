package shopcontext

import (
	"context"
	"strings"
)

// ShopContextKey is the request context key for the active shop.
type ShopContextKey struct{}

// WithShopID stores the shop identifier (its myshopify domain) in the context.
func WithShopID(ctx context.Context, shopID string) context.Context {
	return context.WithValue(ctx, ShopContextKey{}, Normalize(shopID))
}

// ShopIDFromContext returns the shop ID from context, if set.
func ShopIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(ShopContextKey{}).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// Normalize lower-cases and trims a shop domain so lookups are stable.
func Normalize(shopID string) string {
	shopID = strings.ToLower(strings.TrimSpace(shopID))
	shopID = strings.TrimPrefix(shopID, "https://")
	return strings.TrimSuffix(shopID, "/")
}
