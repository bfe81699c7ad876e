package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CreditChanged is emitted after a credit-affecting transaction commits.
type CreditChanged struct {
	ShopID            string          `json:"shop_id"`
	CompanyID         snowflake.ID    `json:"company_id"`
	CompanyExternalID string          `json:"company_external_id"`
	Cause             TransactionType `json:"cause"`
	OrderID           *snowflake.ID   `json:"order_id,omitempty"`
	Credit            Availability    `json:"credit"`
	OccurredAt        time.Time       `json:"occurred_at"`
}

// CauseReconciled marks a snapshot republished by a recalculation rather
// than by a ledger entry.
const CauseReconciled TransactionType = "reconciled"

// EventPublisher receives post-commit credit events. Publish must not block
// the caller and must not fail the credit operation.
type EventPublisher interface {
	Publish(ctx context.Context, event CreditChanged)
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, CreditChanged) {}
