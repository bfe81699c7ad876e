package shopcontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShopIDRoundTrip(t *testing.T) {
	ctx := WithShopID(context.Background(), " https://Acme-Supply.myshopify.com/ ")

	shopID, ok := ShopIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "acme-supply.myshopify.com", shopID)
}

func TestShopIDMissing(t *testing.T) {
	_, ok := ShopIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = ShopIDFromContext(WithShopID(context.Background(), "  "))
	assert.False(t, ok)
}
