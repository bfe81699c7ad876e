package creditsync

import (
	"context"

	creditdomain "github.com/smallbiznis/tradecredit/internal/credit/domain"
	"github.com/smallbiznis/tradecredit/internal/shopify"
)

type snapshotPusher interface {
	PushCreditSnapshot(ctx context.Context, shopID string, snapshot shopify.CreditSnapshot) error
}

// ShopifySink mirrors the company credit position onto storefront
// metafields.
type ShopifySink struct {
	client snapshotPusher
}

func NewShopifySink(client snapshotPusher) *ShopifySink {
	return &ShopifySink{client: client}
}

func (s *ShopifySink) Name() string { return "shopify_metafields" }

func (s *ShopifySink) Deliver(ctx context.Context, event creditdomain.CreditChanged) error {
	// Companies created locally without a storefront counterpart have
	// nothing to mirror.
	if event.CompanyExternalID == "" {
		return nil
	}
	return s.client.PushCreditSnapshot(ctx, event.ShopID, shopify.CreditSnapshot{
		CompanyExternalID: event.CompanyExternalID,
		CreditLimit:       event.Credit.CreditLimit,
		UsedCredit:        event.Credit.UsedCredit,
		PendingCredit:     event.Credit.PendingCredit,
		AvailableCredit:   event.Credit.AvailableCredit,
	})
}
