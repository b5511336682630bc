package postgres

import (
	"context"

	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	stock INTEGER NOT NULL DEFAULT 0,
	default_variant_id TEXT
);

CREATE TABLE IF NOT EXISTS product_variants (
	id TEXT PRIMARY KEY,
	product_id TEXT NOT NULL REFERENCES products(id),
	sku TEXT NOT NULL DEFAULT '',
	stock INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS stock_movements (
	id TEXT PRIMARY KEY,
	variant_id TEXT NOT NULL REFERENCES product_variants(id),
	quantity INTEGER NOT NULL CHECK (quantity <> 0),
	type TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_stock_movements_variant ON stock_movements(variant_id, created_at);

CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	store_credit NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (store_credit >= 0)
);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	control_id TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	user_id TEXT REFERENCES profiles(id),
	subtotal NUMERIC(14,2) NOT NULL,
	total NUMERIC(14,2) NOT NULL,
	credit_applied NUMERIC(14,2) NOT NULL DEFAULT 0,
	payment_method_id TEXT,
	payment_discount_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
	shipping_address TEXT NOT NULL DEFAULT '',
	customer_name TEXT NOT NULL DEFAULT '',
	customer_email TEXT NOT NULL DEFAULT '',
	customer_phone TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);

CREATE TABLE IF NOT EXISTS order_items (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	product_id TEXT NOT NULL,
	variant_id TEXT,
	name TEXT NOT NULL DEFAULT '',
	quantity INTEGER NOT NULL CHECK (quantity >= 1),
	price NUMERIC(14,2) NOT NULL,
	on_request BOOLEAN NOT NULL DEFAULT false,
	custom_metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);

CREATE TABLE IF NOT EXISTS store_credit_history (
	id TEXT PRIMARY KEY,
	profile_id TEXT NOT NULL REFERENCES profiles(id),
	amount NUMERIC(14,2) NOT NULL CHECK (amount <> 0),
	type TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	order_id TEXT,
	reference TEXT,
	balance_after NUMERIC(14,2) NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_store_credit_reference ON store_credit_history(reference) WHERE reference IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_store_credit_profile ON store_credit_history(profile_id, created_at);

CREATE TABLE IF NOT EXISTS finance_accounts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	currency TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS finance_categories (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS finance_transactions (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES finance_accounts(id),
	category_id TEXT REFERENCES finance_categories(id),
	order_id TEXT,
	type TEXT NOT NULL CHECK (type IN ('income','expense')),
	amount NUMERIC(14,2) NOT NULL,
	currency TEXT NOT NULL,
	exchange_rate NUMERIC(18,6) NOT NULL,
	amount_usd_equivalent NUMERIC(14,2) NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	transaction_date TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_finance_income_order ON finance_transactions(order_id) WHERE type = 'income' AND order_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_finance_transactions_date ON finance_transactions(transaction_date);

CREATE TABLE IF NOT EXISTS cash_closings (
	id TEXT PRIMARY KEY,
	close_date TEXT NOT NULL UNIQUE,
	summary JSONB NOT NULL,
	total_income_usd NUMERIC(14,2) NOT NULL,
	total_income_local NUMERIC(14,2) NOT NULL,
	total_expense_usd NUMERIC(14,2) NOT NULL,
	total_expense_local NUMERIC(14,2) NOT NULL,
	total_orders INTEGER NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_confirmations (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	reference_number TEXT NOT NULL DEFAULT '',
	amount_paid NUMERIC(14,2) NOT NULL,
	currency TEXT NOT NULL,
	exchange_rate NUMERIC(18,6) NOT NULL,
	amount_usd NUMERIC(14,2) NOT NULL,
	account_id TEXT,
	proof_ref TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	submitted_by TEXT NOT NULL DEFAULT '',
	reviewed_by TEXT NOT NULL DEFAULT '',
	reviewed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payment_confirmations_order ON payment_confirmations(order_id, created_at);

CREATE TABLE IF NOT EXISTS returns (
	id TEXT PRIMARY KEY,
	control_id TEXT NOT NULL UNIQUE,
	order_id TEXT NOT NULL REFERENCES orders(id),
	lines JSONB NOT NULL,
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	admin_notes TEXT NOT NULL DEFAULT '',
	refund_amount NUMERIC(14,2) NOT NULL,
	requested_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_returns_order ON returns(order_id);

CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL DEFAULT '',
	actor_role TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at);
`

// Migrate creates any missing tables and indexes. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	zap.L().Info("postgres schema ready")
	return nil
}
