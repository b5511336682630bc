package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) beginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

const orderColumns = `
	id, control_id, status, user_id, subtotal, total, credit_applied,
	payment_method_id, payment_discount_amount, shipping_address,
	customer_name, customer_email, customer_phone, created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.ControlID == "" {
		order.ControlID = xid.Control("ORD")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt
	order.Items = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, order.ID, order.ControlID, order.Status, nullString(order.UserID), order.Subtotal, order.Total, order.CreditApplied,
		nullString(order.PaymentMethodID), order.PaymentDiscountAmount, order.ShippingAddress,
		order.Customer.Name, order.Customer.Email, order.Customer.Phone, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	created := order
	return &created, nil
}

func (s *Store) CreateOrderItems(ctx context.Context, orderID string, items []domain.OrderItem) ([]domain.OrderItem, error) {
	pgTx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var exists bool
	if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	created := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidRequest
		}
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		item.OrderID = orderID
		metadata, err := json.Marshal(item.CustomMetadata)
		if err != nil {
			return nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, variant_id, name, quantity, price, on_request, custom_metadata)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, item.ID, orderID, item.ProductID, nullString(item.VariantID), item.Name, item.Quantity, item.Price, item.OnRequest, metadata)
		if err != nil {
			return nil, err
		}
		created = append(created, item)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) DeleteOrder(ctx context.Context, orderID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return loadOrder(ctx, s.db, orderID, false)
}

func (s *Store) TransitionOrderStatus(ctx context.Context, orderID string, target string, at time.Time, guard store.StatusGuard) (string, *domain.Order, error) {
	pgTx, err := s.beginTx(ctx)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	order, err := loadOrder(ctx, pgTx, orderID, true)
	if err != nil {
		return "", nil, err
	}
	if guard != nil {
		if err := guard(*order); err != nil {
			return "", nil, err
		}
	}

	prior := order.Status
	if prior != target {
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
		`, orderID, target, at); err != nil {
			return "", nil, err
		}
		order.Status = target
		order.UpdatedAt = at
	}

	if err := pgTx.Commit(); err != nil {
		return "", nil, err
	}
	return prior, order, nil
}

func loadOrder(ctx context.Context, q querier, orderID string, forUpdate bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		order           domain.Order
		userID          sql.NullString
		paymentMethodID sql.NullString
	)
	err := q.QueryRowContext(ctx, query, orderID).Scan(
		&order.ID, &order.ControlID, &order.Status, &userID, &order.Subtotal, &order.Total, &order.CreditApplied,
		&paymentMethodID, &order.PaymentDiscountAmount, &order.ShippingAddress,
		&order.Customer.Name, &order.Customer.Email, &order.Customer.Phone, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.UserID = stringPtr(userID)
	order.PaymentMethodID = stringPtr(paymentMethodID)

	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, variant_id, name, quantity, price, on_request, custom_metadata
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	order.Items = make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		var (
			item      domain.OrderItem
			variantID sql.NullString
			metadata  []byte
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &variantID, &item.Name, &item.Quantity,
			&item.Price, &item.OnRequest, &metadata); err != nil {
			return nil, err
		}
		item.VariantID = stringPtr(variantID)
		if err := json.Unmarshal(metadata, &item.CustomMetadata); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var (
		product          domain.Product
		defaultVariantID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, stock, default_variant_id
		FROM products
		WHERE id = $1
	`, productID).Scan(&product.ID, &product.Name, &product.Stock, &defaultVariantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.DefaultVariantID = stringPtr(defaultVariantID)
	return &product, nil
}

func (s *Store) GetVariant(ctx context.Context, variantID string) (*domain.Variant, error) {
	var variant domain.Variant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, product_id, sku, stock
		FROM product_variants
		WHERE id = $1
	`, variantID).Scan(&variant.ID, &variant.ProductID, &variant.SKU, &variant.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &variant, nil
}

func (s *Store) DecrementProductStock(ctx context.Context, productID string, qty int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE products SET stock = stock - $2 WHERE id = $1`, productID, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RecordStockMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	if movement.VariantID == "" || movement.Quantity == 0 {
		return nil, store.ErrInvalidRequest
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	res, err := pgTx.ExecContext(ctx, `
		UPDATE product_variants SET stock = stock + $2 WHERE id = $1
	`, movement.VariantID, movement.Quantity)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, variant_id, quantity, type, reason, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, movement.ID, movement.VariantID, movement.Quantity, movement.Type, movement.Reason, movement.CreatedBy, movement.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := movement
	return &created, nil
}

func (s *Store) ListStockMovements(ctx context.Context, variantID string) ([]domain.StockMovement, error) {
	if _, err := s.GetVariant(ctx, variantID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, variant_id, quantity, type, reason, created_by, created_at
		FROM stock_movements
		WHERE variant_id = $1
		ORDER BY created_at, id
	`, variantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.StockMovement, 0, 16)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.VariantID, &m.Quantity, &m.Type, &m.Reason, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetProfile(ctx context.Context, profileID string) (*domain.Profile, error) {
	var profile domain.Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, store_credit
		FROM profiles
		WHERE id = $1
	`, profileID).Scan(&profile.ID, &profile.Name, &profile.Email, &profile.Phone, &profile.StoreCredit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &profile, nil
}

func (s *Store) AdjustStoreCredit(ctx context.Context, entry domain.StoreCreditEntry) (*domain.StoreCreditEntry, error) {
	if entry.ProfileID == "" || entry.Amount.IsZero() {
		return nil, store.ErrInvalidRequest
	}
	if entry.ID == "" {
		entry.ID = xid.New("scr")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var balance decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT store_credit FROM profiles WHERE id = $1 FOR UPDATE
	`, entry.ProfileID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	next := balance.Add(entry.Amount)
	if entry.Amount.IsNegative() && next.IsNegative() {
		return nil, &store.InsufficientCreditError{
			ProfileID: entry.ProfileID,
			Available: balance,
			Requested: entry.Amount.Neg(),
		}
	}
	entry.BalanceAfter = next

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO store_credit_history (id, profile_id, amount, type, reason, order_id, reference, balance_after, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, entry.ProfileID, entry.Amount, entry.Type, entry.Reason, nullString(entry.OrderID),
		nullIfEmpty(entry.Reference), entry.BalanceAfter, entry.CreatedBy, entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateEntry
		}
		return nil, err
	}

	if _, err := pgTx.ExecContext(ctx, `UPDATE profiles SET store_credit = $2 WHERE id = $1`, entry.ProfileID, next); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := entry
	return &created, nil
}

func (s *Store) ListStoreCreditHistory(ctx context.Context, profileID string) ([]domain.StoreCreditEntry, error) {
	if _, err := s.GetProfile(ctx, profileID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, amount, type, reason, order_id, reference, balance_after, created_by, created_at
		FROM store_credit_history
		WHERE profile_id = $1
		ORDER BY created_at, id
	`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.StoreCreditEntry, 0, 16)
	for rows.Next() {
		var (
			e         domain.StoreCreditEntry
			orderID   sql.NullString
			reference sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ProfileID, &e.Amount, &e.Type, &e.Reason, &orderID, &reference,
			&e.BalanceAfter, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.OrderID = stringPtr(orderID)
		e.Reference = reference.String
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetFinanceAccount(ctx context.Context, accountID string) (*domain.FinanceAccount, error) {
	var account domain.FinanceAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, currency FROM finance_accounts WHERE id = $1
	`, accountID).Scan(&account.ID, &account.Name, &account.Currency)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *Store) ListFinanceAccounts(ctx context.Context) ([]domain.FinanceAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, currency FROM finance_accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.FinanceAccount, 0, 8)
	for rows.Next() {
		var a domain.FinanceAccount
		if err := rows.Scan(&a.ID, &a.Name, &a.Currency); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) GetFinanceCategory(ctx context.Context, categoryID string) (*domain.FinanceCategory, error) {
	var category domain.FinanceCategory
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name FROM finance_categories WHERE id = $1
	`, categoryID).Scan(&category.ID, &category.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &category, nil
}

func (s *Store) ListFinanceCategories(ctx context.Context) ([]domain.FinanceCategory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM finance_categories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.FinanceCategory, 0, 8)
	for rows.Next() {
		var c domain.FinanceCategory
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

const financeColumns = `
	id, account_id, category_id, order_id, type, amount, currency,
	exchange_rate, amount_usd_equivalent, description, created_by, transaction_date`

func scanFinance(scan func(dest ...any) error) (domain.FinanceTransaction, error) {
	var (
		tx         domain.FinanceTransaction
		categoryID sql.NullString
		orderID    sql.NullString
	)
	err := scan(&tx.ID, &tx.AccountID, &categoryID, &orderID, &tx.Type, &tx.Amount, &tx.Currency,
		&tx.ExchangeRate, &tx.AmountUSDEquivalent, &tx.Description, &tx.CreatedBy, &tx.TransactionDate)
	tx.CategoryID = stringPtr(categoryID)
	tx.OrderID = stringPtr(orderID)
	return tx, err
}

func (s *Store) FindIncomeByOrder(ctx context.Context, orderID string) (*domain.FinanceTransaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+financeColumns+`
		FROM finance_transactions
		WHERE order_id = $1 AND type = $2
	`, orderID, domain.FinanceIncome)
	tx, err := scanFinance(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (s *Store) CreateFinanceTransaction(ctx context.Context, tx domain.FinanceTransaction) (*domain.FinanceTransaction, error) {
	if tx.AccountID == "" || (tx.Type != domain.FinanceIncome && tx.Type != domain.FinanceExpense) {
		return nil, store.ErrInvalidRequest
	}
	if tx.ID == "" {
		tx.ID = xid.New("fin")
	}
	if tx.TransactionDate.IsZero() {
		tx.TransactionDate = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO finance_transactions (`+financeColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, tx.ID, tx.AccountID, nullString(tx.CategoryID), nullString(tx.OrderID), tx.Type, tx.Amount, tx.Currency,
		tx.ExchangeRate, tx.AmountUSDEquivalent, tx.Description, tx.CreatedBy, tx.TransactionDate)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateFinanceEntry
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created := tx
	return &created, nil
}

func (s *Store) ListFinanceTransactions(ctx context.Context, from time.Time, to time.Time) ([]domain.FinanceTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+financeColumns+`
		FROM finance_transactions
		WHERE transaction_date >= $1 AND transaction_date < $2
		ORDER BY transaction_date, id
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.FinanceTransaction, 0, 32)
	for rows.Next() {
		tx, err := scanFinance(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

const closingColumns = `
	id, close_date, summary, total_income_usd, total_income_local,
	total_expense_usd, total_expense_local, total_orders, notes, created_by, created_at`

func scanClosing(scan func(dest ...any) error) (domain.CashClosing, error) {
	var (
		closing domain.CashClosing
		summary []byte
	)
	if err := scan(&closing.ID, &closing.CloseDate, &summary, &closing.TotalIncomeUSD, &closing.TotalIncomeLocal,
		&closing.TotalExpenseUSD, &closing.TotalExpenseLocal, &closing.TotalOrders, &closing.Notes,
		&closing.CreatedBy, &closing.CreatedAt); err != nil {
		return closing, err
	}
	if err := json.Unmarshal(summary, &closing.Summary); err != nil {
		return closing, err
	}
	return closing, nil
}

func (s *Store) GetCashClosing(ctx context.Context, closeDate string) (*domain.CashClosing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+closingColumns+` FROM cash_closings WHERE close_date = $1`, closeDate)
	closing, err := scanClosing(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &closing, nil
}

func (s *Store) CreateCashClosing(ctx context.Context, closing domain.CashClosing) (*domain.CashClosing, error) {
	if strings.TrimSpace(closing.CloseDate) == "" {
		return nil, store.ErrInvalidRequest
	}
	if closing.ID == "" {
		closing.ID = xid.New("close")
	}
	if closing.CreatedAt.IsZero() {
		closing.CreatedAt = time.Now().UTC()
	}
	summary, err := json.Marshal(closing.Summary)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cash_closings (`+closingColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, closing.ID, closing.CloseDate, summary, closing.TotalIncomeUSD, closing.TotalIncomeLocal,
		closing.TotalExpenseUSD, closing.TotalExpenseLocal, closing.TotalOrders, closing.Notes,
		closing.CreatedBy, closing.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &store.AlreadyClosedError{Date: closing.CloseDate}
		}
		return nil, err
	}

	created := closing
	return &created, nil
}

func (s *Store) ListCashClosings(ctx context.Context, limit int) ([]domain.CashClosing, error) {
	if limit < 1 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+closingColumns+`
		FROM cash_closings
		ORDER BY close_date DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.CashClosing, 0, limit)
	for rows.Next() {
		closing, err := scanClosing(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, closing)
	}
	return result, rows.Err()
}

const confirmationColumns = `
	id, order_id, reference_number, amount_paid, currency, exchange_rate, amount_usd,
	account_id, proof_ref, status, submitted_by, reviewed_by, reviewed_at, created_at`

func scanConfirmation(scan func(dest ...any) error) (domain.PaymentConfirmation, error) {
	var (
		c          domain.PaymentConfirmation
		accountID  sql.NullString
		reviewedAt sql.NullTime
	)
	err := scan(&c.ID, &c.OrderID, &c.ReferenceNumber, &c.AmountPaid, &c.Currency, &c.ExchangeRate, &c.AmountUSD,
		&accountID, &c.ProofRef, &c.Status, &c.SubmittedBy, &c.ReviewedBy, &reviewedAt, &c.CreatedAt)
	c.AccountID = stringPtr(accountID)
	if reviewedAt.Valid {
		at := reviewedAt.Time
		c.ReviewedAt = &at
	}
	return c, err
}

func (s *Store) CreatePaymentConfirmation(ctx context.Context, confirmation domain.PaymentConfirmation) (*domain.PaymentConfirmation, error) {
	if confirmation.ID == "" {
		confirmation.ID = xid.New("pay")
	}
	if confirmation.CreatedAt.IsZero() {
		confirmation.CreatedAt = time.Now().UTC()
	}
	if confirmation.Status == "" {
		confirmation.Status = domain.ConfirmationPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_confirmations (`+confirmationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, confirmation.ID, confirmation.OrderID, confirmation.ReferenceNumber, confirmation.AmountPaid, confirmation.Currency,
		confirmation.ExchangeRate, confirmation.AmountUSD, nullString(confirmation.AccountID), confirmation.ProofRef,
		confirmation.Status, confirmation.SubmittedBy, confirmation.ReviewedBy, nullTime(confirmation.ReviewedAt),
		confirmation.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created := confirmation
	return &created, nil
}

func (s *Store) ListPaymentConfirmations(ctx context.Context, orderID string) ([]domain.PaymentConfirmation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+confirmationColumns+`
		FROM payment_confirmations
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PaymentConfirmation, 0, 4)
	for rows.Next() {
		c, err := scanConfirmation(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) ReviewPaymentConfirmation(ctx context.Context, confirmationID string, status string, reviewer string, at time.Time) (*domain.PaymentConfirmation, error) {
	pgTx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	row := pgTx.QueryRowContext(ctx, `
		SELECT `+confirmationColumns+` FROM payment_confirmations WHERE id = $1 FOR UPDATE
	`, confirmationID)
	c, err := scanConfirmation(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if c.Status != domain.ConfirmationPending {
		return nil, &store.TransitionError{Entity: "payment confirmation", ID: c.ID, From: c.Status, To: status}
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE payment_confirmations SET status = $2, reviewed_by = $3, reviewed_at = $4 WHERE id = $1
	`, confirmationID, status, reviewer, at); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	c.Status = status
	c.ReviewedBy = reviewer
	c.ReviewedAt = &at
	return &c, nil
}

const returnColumns = `
	id, control_id, order_id, lines, status, reason, admin_notes, refund_amount,
	requested_by, created_at, updated_at, completed_at`

func scanReturn(scan func(dest ...any) error) (domain.Return, error) {
	var (
		ret         domain.Return
		lines       []byte
		completedAt sql.NullTime
	)
	if err := scan(&ret.ID, &ret.ControlID, &ret.OrderID, &lines, &ret.Status, &ret.Reason, &ret.AdminNotes,
		&ret.RefundAmount, &ret.RequestedBy, &ret.CreatedAt, &ret.UpdatedAt, &completedAt); err != nil {
		return ret, err
	}
	if completedAt.Valid {
		at := completedAt.Time
		ret.CompletedAt = &at
	}
	if err := json.Unmarshal(lines, &ret.Lines); err != nil {
		return ret, err
	}
	return ret, nil
}

func (s *Store) CreateReturn(ctx context.Context, ret domain.Return, guard store.ReturnGuard) (*domain.Return, error) {
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.ControlID == "" {
		ret.ControlID = xid.Control("RET")
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Now().UTC()
	}
	ret.UpdatedAt = ret.CreatedAt
	if ret.Status == "" {
		ret.Status = domain.ReturnRequested
	}
	lines, err := json.Marshal(ret.Lines)
	if err != nil {
		return nil, err
	}

	pgTx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	// The order row lock serialises concurrent returns for the same order.
	var locked string
	if err := pgTx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1 FOR UPDATE`, ret.OrderID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if guard != nil {
		existing, err := listReturns(ctx, pgTx, ret.OrderID)
		if err != nil {
			return nil, err
		}
		if err := guard(existing); err != nil {
			return nil, err
		}
	}

	if _, err := pgTx.ExecContext(ctx, `
		INSERT INTO returns (`+returnColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, ret.ID, ret.ControlID, ret.OrderID, lines, ret.Status, ret.Reason, ret.AdminNotes, ret.RefundAmount,
		ret.RequestedBy, ret.CreatedAt, ret.UpdatedAt, nullTime(ret.CompletedAt)); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := ret
	return &created, nil
}

func (s *Store) GetReturn(ctx context.Context, returnID string) (*domain.Return, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+returnColumns+` FROM returns WHERE id = $1`, returnID)
	ret, err := scanReturn(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &ret, nil
}

func (s *Store) ListReturnsByOrder(ctx context.Context, orderID string) ([]domain.Return, error) {
	return listReturns(ctx, s.db, orderID)
}

func listReturns(ctx context.Context, q querier, orderID string) ([]domain.Return, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+returnColumns+`
		FROM returns
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Return, 0, 2)
	for rows.Next() {
		ret, err := scanReturn(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, ret)
	}
	return result, rows.Err()
}

func (s *Store) TransitionReturnStatus(ctx context.Context, returnID string, from string, to string, adminNotes string, at time.Time) (*domain.Return, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var completedAt any
	if to == domain.ReturnCompleted {
		completedAt = at
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE returns
		SET status = $3,
			updated_at = $4,
			admin_notes = CASE WHEN $5::text = '' THEN admin_notes ELSE $5::text END,
			completed_at = COALESCE($6::timestamptz, completed_at)
		WHERE id = $1 AND status = $2
	`, returnID, from, to, at, adminNotes, completedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		current, err := s.GetReturn(ctx, returnID)
		if err != nil {
			return nil, err
		}
		return nil, &store.TransitionError{Entity: "return", ID: returnID, From: current.Status, To: to}
	}
	return s.GetReturn(ctx, returnID)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorID, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.ActorRole, &entry.Action, &entry.EntityType,
			&entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullString(val *string) any {
	if val == nil {
		return nil
	}
	return nullIfEmpty(*val)
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func stringPtr(val sql.NullString) *string {
	if !val.Valid {
		return nil
	}
	v := val.String
	return &v
}
