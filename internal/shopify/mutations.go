package shopify

import (
	"context"

	"github.com/shopspring/decimal"
)

const metafieldsSetMutation = `mutation SetCompanyCredit($metafields: [MetafieldsSetInput!]!) {
  metafieldsSet(metafields: $metafields) {
    metafields { key }
    userErrors { field message }
  }
}`

const draftOrderDeleteMutation = `mutation DeleteDraftOrder($input: DraftOrderDeleteInput!) {
  draftOrderDelete(input: $input) {
    deletedId
    userErrors { field message }
  }
}`

// CreditSnapshot is the company credit position mirrored onto storefront
// metafields so Liquid and checkout extensions can read it.
type CreditSnapshot struct {
	CompanyExternalID string
	CreditLimit       decimal.Decimal
	UsedCredit        decimal.Decimal
	PendingCredit     decimal.Decimal
	AvailableCredit   decimal.Decimal
}

type metafieldInput struct {
	OwnerID   string `json:"ownerId"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Value     string `json:"value"`
}

func (s CreditSnapshot) metafields() []metafieldInput {
	field := func(key string, v decimal.Decimal) metafieldInput {
		return metafieldInput{
			OwnerID:   s.CompanyExternalID,
			Namespace: MetafieldNamespace,
			Key:       key,
			Type:      "number_decimal",
			Value:     v.StringFixed(2),
		}
	}
	return []metafieldInput{
		field("credit_limit", s.CreditLimit),
		field("used_credit", s.UsedCredit),
		field("pending_credit", s.PendingCredit),
		field("available_credit", s.AvailableCredit),
	}
}

// PushCreditSnapshot writes the snapshot to the company's b2b_credit
// metafields.
func (c *Client) PushCreditSnapshot(ctx context.Context, shopID string, snapshot CreditSnapshot) error {
	var out struct {
		MetafieldsSet struct {
			UserErrors UserErrors `json:"userErrors"`
		} `json:"metafieldsSet"`
	}
	err := c.do(ctx, shopID, metafieldsSetMutation, map[string]any{
		"metafields": snapshot.metafields(),
	}, &out)
	if err != nil {
		return err
	}
	if len(out.MetafieldsSet.UserErrors) > 0 {
		return out.MetafieldsSet.UserErrors
	}
	return nil
}

// CancelDraftOrder deletes the storefront draft order backing a cancelled
// credit order.
func (c *Client) CancelDraftOrder(ctx context.Context, shopID, draftID string) error {
	var out struct {
		DraftOrderDelete struct {
			DeletedID  *string    `json:"deletedId"`
			UserErrors UserErrors `json:"userErrors"`
		} `json:"draftOrderDelete"`
	}
	err := c.do(ctx, shopID, draftOrderDeleteMutation, map[string]any{
		"input": map[string]string{"id": draftID},
	}, &out)
	if err != nil {
		return err
	}
	if len(out.DraftOrderDelete.UserErrors) > 0 {
		return out.DraftOrderDelete.UserErrors
	}
	return nil
}
