package store

import (
	"context"
	"time"

	"storefront/backend/internal/domain"
)

// StatusGuard inspects the order as it is stored, inside the same atomic unit
// as the status write, and vetoes the write by returning an error.
type StatusGuard func(current domain.Order) error

// ReturnGuard sees every return already stored for the order, inside the same
// atomic unit as the insert, and vetoes the insert by returning an error.
type ReturnGuard func(existing []domain.Return) error

type Repository interface {
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	CreateOrderItems(ctx context.Context, orderID string, items []domain.OrderItem) ([]domain.OrderItem, error)
	DeleteOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	// TransitionOrderStatus reads the current status and writes target in one
	// atomic unit. It returns the status that was replaced.
	TransitionOrderStatus(ctx context.Context, orderID string, target string, at time.Time, guard StatusGuard) (string, *domain.Order, error)

	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	GetVariant(ctx context.Context, variantID string) (*domain.Variant, error)
	DecrementProductStock(ctx context.Context, productID string, qty int) error

	// RecordStockMovement appends the movement and applies its quantity to the
	// variant's stock counter atomically. It does not deduplicate.
	RecordStockMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error)
	ListStockMovements(ctx context.Context, variantID string) ([]domain.StockMovement, error)

	GetProfile(ctx context.Context, profileID string) (*domain.Profile, error)
	// AdjustStoreCredit locks the profile, re-reads its balance, applies the
	// signed amount and appends the history row atomically.
	AdjustStoreCredit(ctx context.Context, entry domain.StoreCreditEntry) (*domain.StoreCreditEntry, error)
	ListStoreCreditHistory(ctx context.Context, profileID string) ([]domain.StoreCreditEntry, error)

	GetFinanceAccount(ctx context.Context, accountID string) (*domain.FinanceAccount, error)
	ListFinanceAccounts(ctx context.Context) ([]domain.FinanceAccount, error)
	GetFinanceCategory(ctx context.Context, categoryID string) (*domain.FinanceCategory, error)
	ListFinanceCategories(ctx context.Context) ([]domain.FinanceCategory, error)
	FindIncomeByOrder(ctx context.Context, orderID string) (*domain.FinanceTransaction, error)
	CreateFinanceTransaction(ctx context.Context, tx domain.FinanceTransaction) (*domain.FinanceTransaction, error)
	// ListFinanceTransactions returns rows with from <= transaction_date < to.
	ListFinanceTransactions(ctx context.Context, from time.Time, to time.Time) ([]domain.FinanceTransaction, error)

	GetCashClosing(ctx context.Context, closeDate string) (*domain.CashClosing, error)
	CreateCashClosing(ctx context.Context, closing domain.CashClosing) (*domain.CashClosing, error)
	ListCashClosings(ctx context.Context, limit int) ([]domain.CashClosing, error)

	CreatePaymentConfirmation(ctx context.Context, confirmation domain.PaymentConfirmation) (*domain.PaymentConfirmation, error)
	ListPaymentConfirmations(ctx context.Context, orderID string) ([]domain.PaymentConfirmation, error)
	ReviewPaymentConfirmation(ctx context.Context, confirmationID string, status string, reviewer string, at time.Time) (*domain.PaymentConfirmation, error)

	// CreateReturn locks the order, runs guard over its existing returns and
	// inserts ret in one atomic unit.
	CreateReturn(ctx context.Context, ret domain.Return, guard ReturnGuard) (*domain.Return, error)
	GetReturn(ctx context.Context, returnID string) (*domain.Return, error)
	ListReturnsByOrder(ctx context.Context, orderID string) ([]domain.Return, error)
	// TransitionReturnStatus moves a return from one status to another only if
	// it is still in from; otherwise it fails with ErrInvalidTransition.
	TransitionReturnStatus(ctx context.Context, returnID string, from string, to string, adminNotes string, at time.Time) (*domain.Return, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
