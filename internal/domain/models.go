package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

type Actor struct {
	ID   string
	Role string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

const (
	OrderStatusQuote      = "quote"
	OrderStatusPending    = "pending"
	OrderStatusEvaluating = "evaluating"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusCompleted  = "completed"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Order struct {
	ID                    string          `json:"id"`
	ControlID             string          `json:"control_id"`
	Status                string          `json:"status"`
	UserID                *string         `json:"user_id,omitempty"`
	Subtotal              decimal.Decimal `json:"subtotal"`
	Total                 decimal.Decimal `json:"total"`
	CreditApplied         decimal.Decimal `json:"credit_applied"`
	PaymentMethodID       *string         `json:"payment_method_id,omitempty"`
	PaymentDiscountAmount decimal.Decimal `json:"payment_discount_amount"`
	ShippingAddress       string          `json:"shipping_address"`
	Customer              Customer        `json:"customer"`
	Items                 []OrderItem     `json:"items"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func (o Order) IsGuest() bool {
	return o.UserID == nil || *o.UserID == ""
}

type OrderItem struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	ProductID      string          `json:"product_id"`
	VariantID      *string         `json:"variant_id,omitempty"`
	Name           string          `json:"name"`
	Quantity       int             `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	OnRequest      bool            `json:"on_request"`
	CustomMetadata CustomMetadata  `json:"custom_metadata"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Product struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Stock            int     `json:"stock"`
	DefaultVariantID *string `json:"default_variant_id,omitempty"`
}

type Variant struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Stock     int    `json:"stock"`
}

const (
	StockMovementOrder  = "order"
	StockMovementReturn = "return"
	StockMovementManual = "manual"
)

type StockMovement struct {
	ID        string    `json:"id"`
	VariantID string    `json:"variant_id"`
	Quantity  int       `json:"quantity"`
	Type      string    `json:"type"`
	Reason    string    `json:"reason"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type Profile struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone"`
	StoreCredit decimal.Decimal `json:"store_credit"`
}

const (
	CreditTypePurchase   = "purchase"
	CreditTypeReturn     = "return"
	CreditTypeAdjustment = "adjustment"
)

type StoreCreditEntry struct {
	ID           string          `json:"id"`
	ProfileID    string          `json:"profile_id"`
	Amount       decimal.Decimal `json:"amount"`
	Type         string          `json:"type"`
	Reason       string          `json:"reason"`
	OrderID      *string         `json:"order_id,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

type FinanceAccount struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

type FinanceCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

const (
	FinanceIncome  = "income"
	FinanceExpense = "expense"
)

type FinanceTransaction struct {
	ID                  string          `json:"id"`
	AccountID           string          `json:"account_id"`
	CategoryID          *string         `json:"category_id,omitempty"`
	OrderID             *string         `json:"order_id,omitempty"`
	Type                string          `json:"type"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	ExchangeRate        decimal.Decimal `json:"exchange_rate"`
	AmountUSDEquivalent decimal.Decimal `json:"amount_usd_equivalent"`
	Description         string          `json:"description"`
	CreatedBy           string          `json:"created_by"`
	TransactionDate     time.Time       `json:"transaction_date"`
}

type ClosingAccountSummary struct {
	AccountID    string          `json:"account_id"`
	AccountName  string          `json:"account_name"`
	Currency     string          `json:"currency"`
	Income       decimal.Decimal `json:"income"`
	Expense      decimal.Decimal `json:"expense"`
	Transactions int             `json:"transactions"`
}

type ClosingCategorySummary struct {
	CategoryID   string          `json:"category_id"`
	CategoryName string          `json:"category_name"`
	IncomeUSD    decimal.Decimal `json:"income_usd"`
	ExpenseUSD   decimal.Decimal `json:"expense_usd"`
	Transactions int             `json:"transactions"`
}

type ClosingSummary struct {
	ByAccount        []ClosingAccountSummary  `json:"by_account"`
	ByCategory       []ClosingCategorySummary `json:"by_category"`
	TransactionCount int                      `json:"transaction_count"`
}

type CashClosing struct {
	ID                string          `json:"id"`
	CloseDate         string          `json:"close_date"`
	Summary           ClosingSummary  `json:"summary"`
	TotalIncomeUSD    decimal.Decimal `json:"total_income_usd"`
	TotalIncomeLocal  decimal.Decimal `json:"total_income_local"`
	TotalExpenseUSD   decimal.Decimal `json:"total_expense_usd"`
	TotalExpenseLocal decimal.Decimal `json:"total_expense_local"`
	TotalOrders       int             `json:"total_orders"`
	Notes             string          `json:"notes"`
	CreatedBy         string          `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
}

const (
	ConfirmationPending  = "pending"
	ConfirmationApproved = "approved"
	ConfirmationRejected = "rejected"
)

type PaymentConfirmation struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	ReferenceNumber string          `json:"reference_number"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	Currency        string          `json:"currency"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	AmountUSD       decimal.Decimal `json:"amount_usd"`
	AccountID       *string         `json:"account_id,omitempty"`
	ProofRef        string          `json:"proof_ref"`
	Status          string          `json:"status"`
	SubmittedBy     string          `json:"submitted_by"`
	ReviewedBy      string          `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time      `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

const (
	ReturnRequested = "requested"
	ReturnApproved  = "approved"
	ReturnRejected  = "rejected"
	ReturnCompleted = "completed"
)

type ReturnLine struct {
	VariantID string          `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type Return struct {
	ID           string          `json:"id"`
	ControlID    string          `json:"control_id"`
	OrderID      string          `json:"order_id"`
	Lines        []ReturnLine    `json:"lines"`
	Status       string          `json:"status"`
	Reason       string          `json:"reason"`
	AdminNotes   string          `json:"admin_notes"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	RequestedBy  string          `json:"requested_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}
