package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tanglemarket/trade-engine/internal/domain"
)

type SubmitOrderRequest struct {
	OrderID       string          `json:"order_id,omitempty"` // for deduplication
	Member        string          `json:"member" binding:"required"`
	Token         string          `json:"token" binding:"required"`
	Direction     string          `json:"direction" binding:"required"`
	Count         uint64          `json:"count" binding:"required"`
	Price         decimal.Decimal `json:"price" binding:"required"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	SourceNetwork string          `json:"source_network,omitempty"`
	TargetNetwork string          `json:"target_network,omitempty"`
	SourceAddress string          `json:"source_address,omitempty"`
}

type SubmitOrderResponse struct {
	OrderID     string            `json:"order_id"`
	Status      string            `json:"status"`
	Purchases   []domain.Purchase `json:"purchases,omitempty"`
	FilledCount uint64            `json:"filled_count"`
	Message     string            `json:"message,omitempty"`
}

type CancelOrderRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	Member  string `json:"member" binding:"required"`
}

type CancelOrderResponse struct {
	OrderID   string `json:"order_id"`
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message,omitempty"`
}

type OrderFundedEvent struct {
	OrderID         string `json:"order_id" binding:"required"`
	ConfirmedAmount uint64 `json:"confirmed_amount" binding:"required"`
	NativeToken     uint64 `json:"native_token_amount,omitempty"`
}

type OrderFundedResponse struct {
	OrderID     string `json:"order_id"`
	FilledCount uint64 `json:"filled_count"`
	Purchases   int    `json:"purchases"`
}
