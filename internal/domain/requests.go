package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderItemRequest struct {
	ProductID      string          `json:"product_id"`
	VariantID      *string         `json:"variant_id,omitempty"`
	Name           string          `json:"name"`
	Quantity       int             `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	OnRequest      bool            `json:"on_request"`
	CustomMetadata CustomMetadata  `json:"custom_metadata"`
}

type CreateOrderRequest struct {
	UserID          *string            `json:"user_id,omitempty"`
	Items           []OrderItemRequest `json:"items"`
	ShippingAddress string             `json:"shipping_address"`
	Customer        Customer           `json:"customer"`
	CreditToApply   decimal.Decimal    `json:"credit_to_apply"`
	PaymentMethodID *string            `json:"payment_method_id,omitempty"`
	PaymentDiscount decimal.Decimal    `json:"payment_discount"`
	AsQuote         bool               `json:"as_quote"`
}

// FinanceHint names the account (and optional category) that receives the
// income entry when an order reaches processing.
type FinanceHint struct {
	AccountID  string  `json:"account_id"`
	CategoryID *string `json:"category_id,omitempty"`
}

type TransitionRequest struct {
	Status  string       `json:"status"`
	Finance *FinanceHint `json:"finance,omitempty"`
}

type SubmitConfirmationRequest struct {
	OrderID         string          `json:"-"`
	ReferenceNumber string          `json:"reference_number"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	Currency        string          `json:"currency"`
	AccountID       *string         `json:"account_id,omitempty"`
	ProofRef        string          `json:"proof_ref"`
}

type PaymentSummary struct {
	OrderID          string                `json:"order_id"`
	OrderTotal       decimal.Decimal       `json:"order_total"`
	TotalReportedUSD decimal.Decimal       `json:"total_reported_usd"`
	IsFullyReported  bool                  `json:"is_fully_reported"`
	Confirmations    []PaymentConfirmation `json:"confirmations"`
}

type ReviewRequest struct {
	Status     string `json:"status"`
	AdminNotes string `json:"admin_notes"`
}

type ReturnLineRequest struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type RequestReturnRequest struct {
	OrderID string              `json:"-"`
	Lines   []ReturnLineRequest `json:"lines"`
	Reason  string              `json:"reason"`
}

type CloseDayRequest struct {
	Date  string `json:"date"`
	Notes string `json:"notes"`
}

type FinanceEntryRequest struct {
	AccountID       string          `json:"account_id"`
	CategoryID      *string         `json:"category_id,omitempty"`
	Type            string          `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	TransactionDate *time.Time      `json:"transaction_date,omitempty"`
}

type StockMovementRequest struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

type CreditAdjustmentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type StoreCreditStatement struct {
	ProfileID string             `json:"profile_id"`
	Balance   decimal.Decimal    `json:"balance"`
	History   []StoreCreditEntry `json:"history"`
}
