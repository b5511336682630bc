package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront/backend/internal/currency"
	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
)

// RecordStockMovement applies a manual stock correction to a variant.
func (s *Service) RecordStockMovement(ctx context.Context, variantID string, req domain.StockMovementRequest) (domain.StockMovement, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.StockMovement{}, err
	}
	if req.Quantity == 0 {
		return domain.StockMovement{}, fmt.Errorf("%w: quantity must not be zero", store.ErrInvalidRequest)
	}

	movement, err := s.repo.RecordStockMovement(ctx, domain.StockMovement{
		VariantID: variantID,
		Quantity:  req.Quantity,
		Type:      domain.StockMovementManual,
		Reason:    strings.TrimSpace(req.Reason),
		CreatedBy: actor.ID,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.StockMovement{}, err
	}

	s.logAudit(ctx, "stock_adjust", "variant", variantID, fmt.Sprintf("quantity=%d,reason=%s", req.Quantity, movement.Reason))
	return *movement, nil
}

func (s *Service) ListStockMovements(ctx context.Context, variantID string) ([]domain.StockMovement, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListStockMovements(ctx, variantID)
}

// AdjustStoreCredit grants or removes credit by hand.
func (s *Service) AdjustStoreCredit(ctx context.Context, profileID string, req domain.CreditAdjustmentRequest) (domain.StoreCreditEntry, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.StoreCreditEntry{}, err
	}
	amount := currency.Round(req.Amount)
	if amount.IsZero() {
		return domain.StoreCreditEntry{}, fmt.Errorf("%w: amount must not be zero", store.ErrInvalidRequest)
	}

	entry, err := s.repo.AdjustStoreCredit(ctx, domain.StoreCreditEntry{
		ProfileID: profileID,
		Amount:    amount,
		Type:      domain.CreditTypeAdjustment,
		Reason:    strings.TrimSpace(req.Reason),
		CreatedBy: actor.ID,
	})
	if err != nil {
		return domain.StoreCreditEntry{}, err
	}

	s.logAudit(ctx, "credit_adjust", "profile", profileID, fmt.Sprintf("amount=%s,balance=%s", amount.StringFixed(2), entry.BalanceAfter.StringFixed(2)))
	return *entry, nil
}

func (s *Service) StoreCreditStatement(ctx context.Context, profileID string) (domain.StoreCreditStatement, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || (!actor.IsAdmin() && actor.ID != profileID) {
		return domain.StoreCreditStatement{}, fmt.Errorf("%w: statement belongs to another customer", ErrForbidden)
	}

	profile, err := s.repo.GetProfile(ctx, profileID)
	if err != nil {
		return domain.StoreCreditStatement{}, err
	}
	history, err := s.repo.ListStoreCreditHistory(ctx, profileID)
	if err != nil {
		return domain.StoreCreditStatement{}, err
	}
	return domain.StoreCreditStatement{
		ProfileID: profile.ID,
		Balance:   profile.StoreCredit,
		History:   history,
	}, nil
}

// RecordFinanceTransaction books a manual income or expense that is not tied
// to an order.
func (s *Service) RecordFinanceTransaction(ctx context.Context, req domain.FinanceEntryRequest) (domain.FinanceTransaction, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.FinanceTransaction{}, err
	}
	kind := strings.ToLower(strings.TrimSpace(req.Type))
	if kind != domain.FinanceIncome && kind != domain.FinanceExpense {
		return domain.FinanceTransaction{}, fmt.Errorf("%w: type must be income or expense", store.ErrInvalidRequest)
	}
	amount := currency.Round(req.Amount)
	if !amount.IsPositive() {
		return domain.FinanceTransaction{}, fmt.Errorf("%w: amount must be positive", store.ErrInvalidRequest)
	}

	account, err := s.repo.GetFinanceAccount(ctx, req.AccountID)
	if err != nil {
		return domain.FinanceTransaction{}, fmt.Errorf("finance account %s: %w", req.AccountID, err)
	}
	if req.CategoryID != nil && *req.CategoryID != "" {
		if _, err := s.repo.GetFinanceCategory(ctx, *req.CategoryID); err != nil {
			return domain.FinanceTransaction{}, fmt.Errorf("finance category %s: %w", *req.CategoryID, err)
		}
	} else {
		req.CategoryID = nil
	}

	snap, err := s.snapshot(ctx)
	if err != nil {
		return domain.FinanceTransaction{}, err
	}
	code := currency.Normalize(account.Currency)
	if !snap.AcceptsCurrency(code) {
		return domain.FinanceTransaction{}, fmt.Errorf("%w: account currency %s has no exchange rate", store.ErrInvalidRequest, code)
	}
	rate := snap.RateFor(code)
	usd, err := currency.ToUSD(amount, code, rate)
	if err != nil {
		return domain.FinanceTransaction{}, fmt.Errorf("%w: %v", store.ErrInvalidRequest, err)
	}

	date := s.now()
	if req.TransactionDate != nil && !req.TransactionDate.IsZero() {
		date = *req.TransactionDate
	}
	// A closed day's snapshot must keep matching its transactions.
	closeDate := date.In(s.closingLoc).Format(closeDateLayout)
	if _, err := s.repo.GetCashClosing(ctx, closeDate); err == nil {
		return domain.FinanceTransaction{}, &store.AlreadyClosedError{Date: closeDate}
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.FinanceTransaction{}, err
	}

	tx, err := s.repo.CreateFinanceTransaction(ctx, domain.FinanceTransaction{
		AccountID:           account.ID,
		CategoryID:          req.CategoryID,
		Type:                kind,
		Amount:              amount,
		Currency:            code,
		ExchangeRate:        rate,
		AmountUSDEquivalent: currency.Round(usd),
		Description:         strings.TrimSpace(req.Description),
		CreatedBy:           actor.ID,
		TransactionDate:     date,
	})
	if err != nil {
		return domain.FinanceTransaction{}, err
	}

	s.logAudit(ctx, "finance_record", "finance_transaction", tx.ID, fmt.Sprintf("type=%s,amount=%s,currency=%s", kind, amount.StringFixed(2), code))
	return *tx, nil
}
