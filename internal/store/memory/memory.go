package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

// Store keeps everything in process memory. A single mutex serialises every
// write, which gives each ledger call the same all-or-nothing behaviour the
// postgres store gets from a locked transaction.
type Store struct {
	mu                 sync.RWMutex
	orders             map[string]domain.Order
	products           map[string]domain.Product
	variants           map[string]domain.Variant
	stockMovements     []domain.StockMovement
	profiles           map[string]domain.Profile
	creditHistory      []domain.StoreCreditEntry
	creditReferences   map[string]struct{}
	financeAccounts    map[string]domain.FinanceAccount
	financeCategories  map[string]domain.FinanceCategory
	financeByID        map[string]domain.FinanceTransaction
	financeOrder       []string
	incomeByOrder      map[string]string
	closingsByDate     map[string]domain.CashClosing
	confirmationsByID  map[string]domain.PaymentConfirmation
	confirmationsOrder []string
	returnsByID        map[string]domain.Return
	returnsOrder       []string
	auditLogs          []domain.AuditLog
}

func New() *Store {
	return &Store{
		orders:            make(map[string]domain.Order),
		products:          make(map[string]domain.Product),
		variants:          make(map[string]domain.Variant),
		stockMovements:    make([]domain.StockMovement, 0, 64),
		profiles:          make(map[string]domain.Profile),
		creditHistory:     make([]domain.StoreCreditEntry, 0, 64),
		creditReferences:  make(map[string]struct{}),
		financeAccounts:   make(map[string]domain.FinanceAccount),
		financeCategories: make(map[string]domain.FinanceCategory),
		financeByID:       make(map[string]domain.FinanceTransaction),
		incomeByOrder:     make(map[string]string),
		closingsByDate:    make(map[string]domain.CashClosing),
		confirmationsByID: make(map[string]domain.PaymentConfirmation),
		returnsByID:       make(map[string]domain.Return),
		auditLogs:         make([]domain.AuditLog, 0, 128),
	}
}

// NewSeeded returns a store with a small demo catalog, two customers and the
// default finance accounts. Stock for seeded variants is created through the
// stock ledger so the counters match the movement history.
func NewSeeded() *Store {
	s := New()
	ctx := context.Background()

	tee := "var-tee-m"
	s.PutProduct(domain.Product{ID: "prod-tee", Name: "Logo Tee", DefaultVariantID: &tee})
	s.PutProduct(domain.Product{ID: "prod-cap", Name: "Trucker Cap"})
	s.PutProduct(domain.Product{ID: "prod-sticker", Name: "Sticker Pack", Stock: 500})

	for _, v := range []domain.Variant{
		{ID: "var-tee-s", ProductID: "prod-tee", SKU: "TEE-S"},
		{ID: "var-tee-m", ProductID: "prod-tee", SKU: "TEE-M"},
		{ID: "var-tee-l", ProductID: "prod-tee", SKU: "TEE-L"},
		{ID: "var-cap-std", ProductID: "prod-cap", SKU: "CAP-STD"},
	} {
		s.PutVariant(v)
		if _, err := s.RecordStockMovement(ctx, domain.StockMovement{
			VariantID: v.ID,
			Quantity:  100,
			Type:      domain.StockMovementManual,
			Reason:    "opening stock",
			CreatedBy: "system",
		}); err != nil {
			zap.L().Warn("seed stock failed", zap.String("variant_id", v.ID), zap.Error(err))
		}
	}

	s.PutProfile(domain.Profile{ID: "user-ana", Name: "Ana Perez", Email: "ana@example.com", Phone: "+58 412 0000001"})
	s.PutProfile(domain.Profile{ID: "user-luis", Name: "Luis Mora", Email: "luis@example.com", Phone: "+58 414 0000002"})
	if _, err := s.AdjustStoreCredit(ctx, domain.StoreCreditEntry{
		ProfileID: "user-ana",
		Amount:    decimal.NewFromInt(25),
		Type:      domain.CreditTypeAdjustment,
		Reason:    "welcome credit",
		CreatedBy: "system",
	}); err != nil {
		zap.L().Warn("seed credit failed", zap.Error(err))
	}

	s.PutFinanceAccount(domain.FinanceAccount{ID: "acct-usd-bank", Name: "USD Bank", Currency: "USD"})
	s.PutFinanceAccount(domain.FinanceAccount{ID: "acct-local-bank", Name: "Local Bank", Currency: "VES"})
	s.PutFinanceCategory(domain.FinanceCategory{ID: "cat-sales", Name: "Sales"})
	s.PutFinanceCategory(domain.FinanceCategory{ID: "cat-supplies", Name: "Supplies"})

	return s
}

func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

// PutVariant registers a variant with zero stock; stock only changes through
// RecordStockMovement.
func (s *Store) PutVariant(variant domain.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	variant.Stock = 0
	s.variants[variant.ID] = variant
}

// PutProfile registers a profile with zero credit; credit only changes through
// AdjustStoreCredit.
func (s *Store) PutProfile(profile domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile.StoreCredit = decimal.Zero
	s.profiles[profile.ID] = profile
}

func (s *Store) PutFinanceAccount(account domain.FinanceAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.financeAccounts[account.ID] = account
}

func (s *Store) PutFinanceCategory(category domain.FinanceCategory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.financeCategories[category.ID] = category
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.ControlID == "" {
		order.ControlID = xid.Control("ORD")
	}
	if _, exists := s.orders[order.ID]; exists {
		return nil, store.ErrInvalidRequest
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt
	order.Items = nil
	s.orders[order.ID] = order

	return cloneOrder(order), nil
}

func (s *Store) CreateOrderItems(_ context.Context, orderID string, items []domain.OrderItem) ([]domain.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidRequest
		}
	}

	created := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		item.OrderID = orderID
		created = append(created, item)
	}
	order.Items = append(order.Items, created...)
	s.orders[orderID] = order

	return slices.Clone(created), nil
}

func (s *Store) DeleteOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[orderID]; !ok {
		return store.ErrNotFound
	}
	delete(s.orders, orderID)
	return nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) TransitionOrderStatus(_ context.Context, orderID string, target string, at time.Time, guard store.StatusGuard) (string, *domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return "", nil, store.ErrNotFound
	}
	if guard != nil {
		if err := guard(*cloneOrder(order)); err != nil {
			return "", nil, err
		}
	}

	prior := order.Status
	if prior != target {
		if at.IsZero() {
			at = time.Now().UTC()
		}
		order.Status = target
		order.UpdatedAt = at
		s.orders[orderID] = order
	}
	return prior, cloneOrder(order), nil
}

func (s *Store) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetVariant(_ context.Context, variantID string) (*domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	variant, ok := s.variants[variantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &variant, nil
}

func (s *Store) DecrementProductStock(_ context.Context, productID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	product.Stock -= qty
	s.products[productID] = product
	return nil
}

func (s *Store) RecordStockMovement(_ context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	if movement.VariantID == "" || movement.Quantity == 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	variant, ok := s.variants[movement.VariantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	variant.Stock += movement.Quantity
	s.variants[variant.ID] = variant
	s.stockMovements = append(s.stockMovements, movement)

	created := movement
	return &created, nil
}

func (s *Store) ListStockMovements(_ context.Context, variantID string) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.variants[variantID]; !ok {
		return nil, store.ErrNotFound
	}
	result := make([]domain.StockMovement, 0, 16)
	for _, m := range s.stockMovements {
		if m.VariantID == variantID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (s *Store) GetProfile(_ context.Context, profileID string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[profileID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &profile, nil
}

func (s *Store) AdjustStoreCredit(_ context.Context, entry domain.StoreCreditEntry) (*domain.StoreCreditEntry, error) {
	if entry.ProfileID == "" || entry.Amount.IsZero() {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[entry.ProfileID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if entry.Reference != "" {
		if _, used := s.creditReferences[entry.Reference]; used {
			return nil, store.ErrDuplicateEntry
		}
	}

	next := profile.StoreCredit.Add(entry.Amount)
	if entry.Amount.IsNegative() && next.IsNegative() {
		return nil, &store.InsufficientCreditError{
			ProfileID: profile.ID,
			Available: profile.StoreCredit,
			Requested: entry.Amount.Neg(),
		}
	}

	if entry.ID == "" {
		entry.ID = xid.New("scr")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.BalanceAfter = next

	profile.StoreCredit = next
	s.profiles[profile.ID] = profile
	s.creditHistory = append(s.creditHistory, entry)
	if entry.Reference != "" {
		s.creditReferences[entry.Reference] = struct{}{}
	}

	created := entry
	return &created, nil
}

func (s *Store) ListStoreCreditHistory(_ context.Context, profileID string) ([]domain.StoreCreditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.profiles[profileID]; !ok {
		return nil, store.ErrNotFound
	}
	result := make([]domain.StoreCreditEntry, 0, 16)
	for _, e := range s.creditHistory {
		if e.ProfileID == profileID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *Store) GetFinanceAccount(_ context.Context, accountID string) (*domain.FinanceAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.financeAccounts[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &account, nil
}

func (s *Store) ListFinanceAccounts(_ context.Context) ([]domain.FinanceAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.FinanceAccount, 0, len(s.financeAccounts))
	for _, a := range s.financeAccounts {
		result = append(result, a)
	}
	slices.SortFunc(result, func(a, b domain.FinanceAccount) int { return strings.Compare(a.ID, b.ID) })
	return result, nil
}

func (s *Store) GetFinanceCategory(_ context.Context, categoryID string) (*domain.FinanceCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category, ok := s.financeCategories[categoryID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &category, nil
}

func (s *Store) ListFinanceCategories(_ context.Context) ([]domain.FinanceCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.FinanceCategory, 0, len(s.financeCategories))
	for _, c := range s.financeCategories {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b domain.FinanceCategory) int { return strings.Compare(a.ID, b.ID) })
	return result, nil
}

func (s *Store) FindIncomeByOrder(_ context.Context, orderID string) (*domain.FinanceTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.incomeByOrder[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	tx := s.financeByID[id]
	return &tx, nil
}

func (s *Store) CreateFinanceTransaction(_ context.Context, tx domain.FinanceTransaction) (*domain.FinanceTransaction, error) {
	if tx.AccountID == "" || (tx.Type != domain.FinanceIncome && tx.Type != domain.FinanceExpense) {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.financeAccounts[tx.AccountID]; !ok {
		return nil, store.ErrNotFound
	}
	incomeForOrder := tx.Type == domain.FinanceIncome && tx.OrderID != nil && *tx.OrderID != ""
	if incomeForOrder {
		if _, exists := s.incomeByOrder[*tx.OrderID]; exists {
			return nil, store.ErrDuplicateFinanceEntry
		}
	}

	if tx.ID == "" {
		tx.ID = xid.New("fin")
	}
	if tx.TransactionDate.IsZero() {
		tx.TransactionDate = time.Now()
	}
	s.financeByID[tx.ID] = tx
	s.financeOrder = append(s.financeOrder, tx.ID)
	if incomeForOrder {
		s.incomeByOrder[*tx.OrderID] = tx.ID
	}

	created := tx
	return &created, nil
}

func (s *Store) ListFinanceTransactions(_ context.Context, from time.Time, to time.Time) ([]domain.FinanceTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.FinanceTransaction, 0, 32)
	for _, id := range s.financeOrder {
		tx := s.financeByID[id]
		if tx.TransactionDate.Before(from) || !tx.TransactionDate.Before(to) {
			continue
		}
		result = append(result, tx)
	}
	return result, nil
}

func (s *Store) GetCashClosing(_ context.Context, closeDate string) (*domain.CashClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	closing, ok := s.closingsByDate[closeDate]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &closing, nil
}

func (s *Store) CreateCashClosing(_ context.Context, closing domain.CashClosing) (*domain.CashClosing, error) {
	if strings.TrimSpace(closing.CloseDate) == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.closingsByDate[closing.CloseDate]; exists {
		return nil, &store.AlreadyClosedError{Date: closing.CloseDate}
	}
	if closing.ID == "" {
		closing.ID = xid.New("close")
	}
	if closing.CreatedAt.IsZero() {
		closing.CreatedAt = time.Now().UTC()
	}
	s.closingsByDate[closing.CloseDate] = closing

	created := closing
	return &created, nil
}

func (s *Store) ListCashClosings(_ context.Context, limit int) ([]domain.CashClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashClosing, 0, len(s.closingsByDate))
	for _, c := range s.closingsByDate {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b domain.CashClosing) int { return strings.Compare(b.CloseDate, a.CloseDate) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreatePaymentConfirmation(_ context.Context, confirmation domain.PaymentConfirmation) (*domain.PaymentConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[confirmation.OrderID]; !ok {
		return nil, store.ErrNotFound
	}
	if confirmation.ID == "" {
		confirmation.ID = xid.New("pay")
	}
	if confirmation.CreatedAt.IsZero() {
		confirmation.CreatedAt = time.Now().UTC()
	}
	if confirmation.Status == "" {
		confirmation.Status = domain.ConfirmationPending
	}
	s.confirmationsByID[confirmation.ID] = confirmation
	s.confirmationsOrder = append(s.confirmationsOrder, confirmation.ID)

	created := confirmation
	return &created, nil
}

func (s *Store) ListPaymentConfirmations(_ context.Context, orderID string) ([]domain.PaymentConfirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PaymentConfirmation, 0, 4)
	for _, id := range s.confirmationsOrder {
		c := s.confirmationsByID[id]
		if c.OrderID == orderID {
			result = append(result, c)
		}
	}
	return result, nil
}

func (s *Store) ReviewPaymentConfirmation(_ context.Context, confirmationID string, status string, reviewer string, at time.Time) (*domain.PaymentConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.confirmationsByID[confirmationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if c.Status != domain.ConfirmationPending {
		return nil, &store.TransitionError{Entity: "payment confirmation", ID: c.ID, From: c.Status, To: status}
	}
	c.Status = status
	c.ReviewedBy = reviewer
	c.ReviewedAt = &at
	s.confirmationsByID[c.ID] = c

	updated := c
	return &updated, nil
}

func (s *Store) CreateReturn(_ context.Context, ret domain.Return, guard store.ReturnGuard) (*domain.Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[ret.OrderID]; !ok {
		return nil, store.ErrNotFound
	}
	if guard != nil {
		if err := guard(s.returnsForOrder(ret.OrderID)); err != nil {
			return nil, err
		}
	}
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.ControlID == "" {
		ret.ControlID = xid.Control("RET")
	}
	now := time.Now().UTC()
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = now
	}
	ret.UpdatedAt = ret.CreatedAt
	if ret.Status == "" {
		ret.Status = domain.ReturnRequested
	}
	s.returnsByID[ret.ID] = cloneReturn(ret)
	s.returnsOrder = append(s.returnsOrder, ret.ID)

	created := cloneReturn(ret)
	return &created, nil
}

func (s *Store) GetReturn(_ context.Context, returnID string) (*domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, ok := s.returnsByID[returnID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := cloneReturn(ret)
	return &copied, nil
}

func (s *Store) ListReturnsByOrder(_ context.Context, orderID string) ([]domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.returnsForOrder(orderID), nil
}

// returnsForOrder expects s.mu to be held.
func (s *Store) returnsForOrder(orderID string) []domain.Return {
	result := make([]domain.Return, 0, 2)
	for _, id := range s.returnsOrder {
		ret := s.returnsByID[id]
		if ret.OrderID == orderID {
			result = append(result, cloneReturn(ret))
		}
	}
	return result
}

func (s *Store) TransitionReturnStatus(_ context.Context, returnID string, from string, to string, adminNotes string, at time.Time) (*domain.Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret, ok := s.returnsByID[returnID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if ret.Status != from {
		return nil, &store.TransitionError{Entity: "return", ID: ret.ID, From: ret.Status, To: to}
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	ret.Status = to
	ret.UpdatedAt = at
	if adminNotes != "" {
		ret.AdminNotes = adminNotes
	}
	if to == domain.ReturnCompleted {
		ret.CompletedAt = &at
	}
	s.returnsByID[ret.ID] = ret

	updated := cloneReturn(ret)
	return &updated, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func cloneOrder(src domain.Order) *domain.Order {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return &dst
}

func cloneReturn(src domain.Return) domain.Return {
	dst := src
	dst.Lines = slices.Clone(src.Lines)
	return dst
}
