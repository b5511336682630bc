package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront/backend/internal/currency"
	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
)

const closeDateLayout = "2006-01-02"

// CloseDay snapshots every finance transaction of one local calendar day.
// A closing is never merged or replaced; a second call for the same date
// fails with *store.AlreadyClosedError.
func (s *Service) CloseDay(ctx context.Context, req domain.CloseDayRequest) (domain.CashClosing, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.CashClosing{}, err
	}

	start, err := s.closingDay(req.Date)
	if err != nil {
		return domain.CashClosing{}, err
	}
	closeDate := start.Format(closeDateLayout)

	if _, err := s.repo.GetCashClosing(ctx, closeDate); err == nil {
		return domain.CashClosing{}, &store.AlreadyClosedError{Date: closeDate}
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.CashClosing{}, err
	}

	txs, err := s.repo.ListFinanceTransactions(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return domain.CashClosing{}, err
	}
	accounts, err := s.repo.ListFinanceAccounts(ctx)
	if err != nil {
		return domain.CashClosing{}, err
	}
	categories, err := s.repo.ListFinanceCategories(ctx)
	if err != nil {
		return domain.CashClosing{}, err
	}

	closing := aggregateClosing(txs, accounts, categories)
	closing.CloseDate = closeDate
	closing.Notes = strings.TrimSpace(req.Notes)
	closing.CreatedBy = actor.ID
	closing.CreatedAt = s.now()

	created, err := s.repo.CreateCashClosing(ctx, closing)
	if err != nil {
		return domain.CashClosing{}, err
	}

	s.logAudit(ctx, "cash_close", "cash_closing", created.CloseDate, fmt.Sprintf("transactions=%d,orders=%d", created.Summary.TransactionCount, created.TotalOrders))
	zap.L().Info("cash closing recorded",
		zap.String("close_date", created.CloseDate),
		zap.Int("transactions", created.Summary.TransactionCount),
		zap.String("income_usd", created.TotalIncomeUSD.StringFixed(2)),
		zap.String("income_local", created.TotalIncomeLocal.StringFixed(2)),
	)
	return *created, nil
}

func (s *Service) GetCashClosing(ctx context.Context, closeDate string) (domain.CashClosing, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.CashClosing{}, err
	}
	closing, err := s.repo.GetCashClosing(ctx, strings.TrimSpace(closeDate))
	if err != nil {
		return domain.CashClosing{}, err
	}
	return *closing, nil
}

func (s *Service) ListCashClosings(ctx context.Context, limit int) ([]domain.CashClosing, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 366 {
		limit = 31
	}
	return s.repo.ListCashClosings(ctx, limit)
}

// closingDay returns local midnight of the requested date, or of today when
// the date is empty.
func (s *Service) closingDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		now := s.now().In(s.closingLoc)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.closingLoc), nil
	}
	day, err := time.ParseInLocation(closeDateLayout, raw, s.closingLoc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must use YYYY-MM-DD", store.ErrInvalidRequest)
	}
	return day, nil
}

// aggregateClosing builds the totals of a closing. Native amounts are summed
// apart for USD and local rows; categories compare across currencies through
// the USD equivalent.
func aggregateClosing(txs []domain.FinanceTransaction, accounts []domain.FinanceAccount, categories []domain.FinanceCategory) domain.CashClosing {
	accountNames := make(map[string]string, len(accounts))
	for _, a := range accounts {
		accountNames[a.ID] = a.Name
	}
	categoryNames := make(map[string]string, len(categories))
	for _, c := range categories {
		categoryNames[c.ID] = c.Name
	}

	closing := domain.CashClosing{
		TotalIncomeUSD:    decimal.Zero,
		TotalIncomeLocal:  decimal.Zero,
		TotalExpenseUSD:   decimal.Zero,
		TotalExpenseLocal: decimal.Zero,
	}
	byAccount := map[string]*domain.ClosingAccountSummary{}
	byCategory := map[string]*domain.ClosingCategorySummary{}
	orders := map[string]struct{}{}

	for _, tx := range txs {
		usdRow := currency.IsUSD(tx.Currency)
		income := tx.Type == domain.FinanceIncome

		switch {
		case income && usdRow:
			closing.TotalIncomeUSD = closing.TotalIncomeUSD.Add(tx.Amount)
		case income:
			closing.TotalIncomeLocal = closing.TotalIncomeLocal.Add(tx.Amount)
		case usdRow:
			closing.TotalExpenseUSD = closing.TotalExpenseUSD.Add(tx.Amount)
		default:
			closing.TotalExpenseLocal = closing.TotalExpenseLocal.Add(tx.Amount)
		}

		acct, ok := byAccount[tx.AccountID]
		if !ok {
			acct = &domain.ClosingAccountSummary{
				AccountID:   tx.AccountID,
				AccountName: accountNames[tx.AccountID],
				Currency:    currency.Normalize(tx.Currency),
				Income:      decimal.Zero,
				Expense:     decimal.Zero,
			}
			byAccount[tx.AccountID] = acct
		}
		if income {
			acct.Income = acct.Income.Add(tx.Amount)
		} else {
			acct.Expense = acct.Expense.Add(tx.Amount)
		}
		acct.Transactions++

		categoryID := ""
		if tx.CategoryID != nil {
			categoryID = *tx.CategoryID
		}
		cat, ok := byCategory[categoryID]
		if !ok {
			name := categoryNames[categoryID]
			if categoryID == "" {
				name = "Uncategorized"
			}
			cat = &domain.ClosingCategorySummary{
				CategoryID:   categoryID,
				CategoryName: name,
				IncomeUSD:    decimal.Zero,
				ExpenseUSD:   decimal.Zero,
			}
			byCategory[categoryID] = cat
		}
		if income {
			cat.IncomeUSD = cat.IncomeUSD.Add(tx.AmountUSDEquivalent)
		} else {
			cat.ExpenseUSD = cat.ExpenseUSD.Add(tx.AmountUSDEquivalent)
		}
		cat.Transactions++

		if tx.OrderID != nil && *tx.OrderID != "" {
			orders[*tx.OrderID] = struct{}{}
		}
	}

	summary := domain.ClosingSummary{
		ByAccount:        make([]domain.ClosingAccountSummary, 0, len(byAccount)),
		ByCategory:       make([]domain.ClosingCategorySummary, 0, len(byCategory)),
		TransactionCount: len(txs),
	}
	for _, acct := range byAccount {
		acct.Income = currency.Round(acct.Income)
		acct.Expense = currency.Round(acct.Expense)
		summary.ByAccount = append(summary.ByAccount, *acct)
	}
	for _, cat := range byCategory {
		cat.IncomeUSD = currency.Round(cat.IncomeUSD)
		cat.ExpenseUSD = currency.Round(cat.ExpenseUSD)
		summary.ByCategory = append(summary.ByCategory, *cat)
	}
	sort.Slice(summary.ByAccount, func(i, j int) bool {
		return summary.ByAccount[i].AccountID < summary.ByAccount[j].AccountID
	})
	sort.Slice(summary.ByCategory, func(i, j int) bool {
		return summary.ByCategory[i].CategoryID < summary.ByCategory[j].CategoryID
	})

	closing.Summary = summary
	closing.TotalIncomeUSD = currency.Round(closing.TotalIncomeUSD)
	closing.TotalIncomeLocal = currency.Round(closing.TotalIncomeLocal)
	closing.TotalExpenseUSD = currency.Round(closing.TotalExpenseUSD)
	closing.TotalExpenseLocal = currency.Round(closing.TotalExpenseLocal)
	closing.TotalOrders = len(orders)
	return closing
}
