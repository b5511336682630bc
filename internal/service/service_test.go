package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/settings"
	"storefront/backend/internal/store"
	"storefront/backend/internal/store/memory"
	"storefront/backend/internal/webhook"
)

type recordingNotifier struct {
	mu       sync.Mutex
	payloads []webhook.Payload
}

func (n *recordingNotifier) Notify(_ context.Context, payload webhook.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, payload)
	return nil
}

func (n *recordingNotifier) events() []webhook.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]webhook.Event, 0, len(n.payloads))
	for _, p := range n.payloads {
		out = append(out, p.Event)
	}
	return out
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, webhook.Payload) error {
	return webhook.ErrDispatchFailed
}

var testDay = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memory.Store, *recordingNotifier) {
	t.Helper()
	repo := memory.NewSeeded()
	notifier := &recordingNotifier{}
	svc := New(repo, settings.Static(settings.DefaultSnapshot()), notifier, time.UTC)
	svc.now = func() time.Time { return testDay }
	return svc, repo, notifier
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{ID: "staff-1", Role: domain.RoleAdmin})
}

func customerCtx(id string) context.Context {
	return WithActor(context.Background(), domain.Actor{ID: id, Role: domain.RoleCustomer})
}

func strPtr(v string) *string { return &v }

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func variantStock(t *testing.T, repo *memory.Store, id string) int {
	t.Helper()
	v, err := repo.GetVariant(context.Background(), id)
	require.NoError(t, err)
	return v.Stock
}

func creditBalance(t *testing.T, repo *memory.Store, id string) decimal.Decimal {
	t.Helper()
	p, err := repo.GetProfile(context.Background(), id)
	require.NoError(t, err)
	return p.StoreCredit
}

func movementsOfType(t *testing.T, repo *memory.Store, variantID string, kind string) []domain.StockMovement {
	t.Helper()
	all, err := repo.ListStockMovements(context.Background(), variantID)
	require.NoError(t, err)
	var out []domain.StockMovement
	for _, m := range all {
		if m.Type == kind {
			out = append(out, m)
		}
	}
	return out
}

// twoLineOrder is 3 x $10 small tees plus one $25 cap.
func twoLineOrder(userID *string) domain.CreateOrderRequest {
	return domain.CreateOrderRequest{
		UserID: userID,
		Items: []domain.OrderItemRequest{
			{VariantID: strPtr("var-tee-s"), Name: "Logo Tee S", Quantity: 3, Price: dec("10")},
			{VariantID: strPtr("var-cap-std"), Name: "Trucker Cap", Quantity: 1, Price: dec("25")},
		},
		ShippingAddress: "Av. Principal 12, Caracas",
		Customer:        domain.Customer{Name: "Guest Buyer", Email: "guest@example.com", Phone: "+58 412 5550000"},
	}
}

func TestScenarioAProcessingRecordsOneIncome(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := adminCtx()

	order, err := svc.CreateOrder(context.Background(), twoLineOrder(nil))
	require.NoError(t, err)
	assert.Equal(t, "55.00", order.Total.StringFixed(2))
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, 97, variantStock(t, repo, "var-tee-s"))
	assert.Equal(t, 99, variantStock(t, repo, "var-cap-std"))

	_, err = svc.TransitionOrder(ctx, order.ID, domain.TransitionRequest{
		Status:  domain.OrderStatusProcessing,
		Finance: &domain.FinanceHint{AccountID: "acct-usd-bank"},
	})
	require.NoError(t, err)

	income, err := repo.FindIncomeByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FinanceIncome, income.Type)
	assert.Equal(t, "55.00", income.Amount.StringFixed(2))
	assert.Equal(t, "55.00", income.AmountUSDEquivalent.StringFixed(2))
	assert.Equal(t, "USD", income.Currency)
}

func TestScenarioBCancelRestoresStock(t *testing.T) {
	svc, repo, _ := newTestService(t)

	order, err := svc.CreateOrder(context.Background(), twoLineOrder(nil))
	require.NoError(t, err)

	_, err = svc.TransitionOrder(adminCtx(), order.ID, domain.TransitionRequest{Status: domain.OrderStatusCancelled})
	require.NoError(t, err)

	tee := movementsOfType(t, repo, "var-tee-s", domain.StockMovementReturn)
	caps := movementsOfType(t, repo, "var-cap-std", domain.StockMovementReturn)
	require.Len(t, tee, 1)
	require.Len(t, caps, 1)
	assert.Equal(t, 3, tee[0].Quantity)
	assert.Equal(t, 1, caps[0].Quantity)
	assert.Equal(t, 100, variantStock(t, repo, "var-tee-s"))
	assert.Equal(t, 100, variantStock(t, repo, "var-cap-std"))
}

func TestScenarioCCreditDebitAndRefund(t *testing.T) {
	svc, repo, _ := newTestService(t)

	_, err := svc.AdjustStoreCredit(adminCtx(), "user-luis", domain.CreditAdjustmentRequest{Amount: dec("20"), Reason: "goodwill"})
	require.NoError(t, err)

	req := twoLineOrder(strPtr("user-luis"))
	req.CreditToApply = dec("20")
	order, err := svc.CreateOrder(customerCtx("user-luis"), req)
	require.NoError(t, err)
	assert.Equal(t, "20.00", order.CreditApplied.StringFixed(2))
	assert.Equal(t, "35.00", order.Total.StringFixed(2))
	assert.True(t, creditBalance(t, repo, "user-luis").IsZero())

	_, err = svc.TransitionOrder(adminCtx(), order.ID, domain.TransitionRequest{Status: domain.OrderStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, "20.00", creditBalance(t, repo, "user-luis").StringFixed(2))
}

func TestScenarioDPaymentSummaryAcrossCurrencies(t *testing.T) {
	repo := memory.NewSeeded()
	snap := settings.DefaultSnapshot()
	snap.ExchangeRate = dec("150")
	svc := New(repo, settings.Static(snap), nil, time.UTC)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		Items: []domain.OrderItemRequest{{VariantID: strPtr("var-tee-l"), Quantity: 1, Price: dec("100")}},
	})
	require.NoError(t, err)

	_, err = svc.SubmitPaymentConfirmation(context.Background(), domain.SubmitConfirmationRequest{
		OrderID: order.ID, ReferenceNumber: "ZL-1", AmountPaid: dec("60"), Currency: "USD",
	})
	require.NoError(t, err)
	local, err := svc.SubmitPaymentConfirmation(context.Background(), domain.SubmitConfirmationRequest{
		OrderID: order.ID, ReferenceNumber: "PM-2", AmountPaid: dec("3000"), Currency: "ves",
	})
	require.NoError(t, err)
	assert.Equal(t, "VES", local.Currency)
	assert.Equal(t, "150", local.ExchangeRate.String())
	assert.Equal(t, "20.00", local.AmountUSD.StringFixed(2))

	summary, err := svc.PaymentSummary(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "80.00", summary.TotalReportedUSD.StringFixed(2))
	assert.False(t, summary.IsFullyReported)
	assert.Len(t, summary.Confirmations, 2)

	// the order itself never moves
	got, err := svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
}

func TestRejectedConfirmationLeavesSummary(t *testing.T) {
	svc, _, _ := newTestService(t)

	order, err := svc.CreateOrder(context.Background(), twoLineOrder(nil))
	require.NoError(t, err)
	first, err := svc.SubmitPaymentConfirmation(context.Background(), domain.SubmitConfirmationRequest{
		OrderID: order.ID, AmountPaid: dec("55"), Currency: "USD",
	})
	require.NoError(t, err)

	reviewed, err := svc.ReviewPaymentConfirmation(adminCtx(), first.ID, domain.ReviewRequest{Status: domain.ConfirmationRejected})
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationRejected, reviewed.Status)

	summary, err := svc.PaymentSummary(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, summary.TotalReportedUSD.IsZero())
	assert.False(t, summary.IsFullyReported)

	_, err = svc.ReviewPaymentConfirmation(adminCtx(), first.ID, domain.ReviewRequest{Status: domain.ConfirmationApproved})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = svc.ReviewPaymentConfirmation(customerCtx("user-ana"), first.ID, domain.ReviewRequest{Status: domain.ConfirmationApproved})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSubmitConfirmationRejectsUnknownCurrency(t *testing.T) {
	svc, _, _ := newTestService(t)
	order, err := svc.CreateOrder(context.Background(), twoLineOrder(nil))
	require.NoError(t, err)

	_, err = svc.SubmitPaymentConfirmation(context.Background(), domain.SubmitConfirmationRequest{
		OrderID: order.ID, AmountPaid: dec("10"), Currency: "EUR",
	})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	_, err = svc.SubmitPaymentConfirmation(context.Background(), domain.SubmitConfirmationRequest{
		OrderID: order.ID, AmountPaid: dec("0"), Currency: "USD",
	})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)
}

func TestCancellationIsIdempotentUnderConcurrency(t *testing.T) {
	svc, repo, notifier := newTestService(t)

	req := twoLineOrder(strPtr("user-ana"))
	req.CreditToApply = dec("10")
	order, err := svc.CreateOrder(adminCtx(), req)
	require.NoError(t, err)
	assert.Equal(t, "15.00", creditBalance(t, repo, "user-ana").StringFixed(2))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.TransitionOrder(adminCtx(), order.ID, domain.TransitionRequest{Status: domain.OrderStatusCancelled})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, movementsOfType(t, repo, "var-tee-s", domain.StockMovementReturn), 1)
	assert.Len(t, movementsOfType(t, repo, "var-cap-std", domain.StockMovementReturn), 1)
	assert.Equal(t, "25.00", creditBalance(t, repo, "user-ana").StringFixed(2))

	cancelled := 0
	for _, e := range notifier.events() {
		if e == webhook.EventOrderCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
}

func TestProcessingReplayRecordsIncomeOnce(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	ctx := adminCtx()

	order, err := svc.CreateOrder(context.Background(), twoLineOrder(nil))
	require.NoError(t, err)

	hint := &domain.FinanceHint{AccountID: "acct-local-bank", CategoryID: strPtr("cat-sales")}
	for i := 0; i < 3; i++ {
		_, err := svc.TransitionOrder(ctx, order.ID, domain.TransitionRequest{Status: domain.OrderStatusProcessing, Finance: hint})
		require.NoError(t, err)
	}

	txs, err := repo.ListFinanceTransactions(context.Background(), testDay.Add(-time.Hour), testDay.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "VES", txs[0].Currency)
	assert.Equal(t, "2007.50", txs[0].Amount.StringFixed(2))
	assert.Equal(t, "36.5", txs[0].ExchangeRate.String())
	assert.Equal(t, "55.00", txs[0].AmountUSDEquivalent.StringFixed(2))

	assert.Equal(t, []webhook.Event{webhook.EventOrderCreated, webhook.EventPaymentConfirmed}, notifier.events())
}

func TestFinanceHintValidatedBeforeStatusChange(t *testing.T) {
	svc, _, _ := newTestService(t)
	order, err := svc.CreateOrder(context.Background(), twoLineOrder(nil))
	require.NoError(t, err)

	_, err = svc.TransitionOrder(adminCtx(), order.ID, domain.TransitionRequest{
		Status:  domain.OrderStatusProcessing,
		Finance: &domain.FinanceHint{AccountID: "acct-missing"},
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := svc.GetOrder(adminCtx(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
}

func TestTransitionGuards(t *testing.T) {
	svc, _, _ := newTestService(t)

	order, err := svc.CreateOrder(customerCtx("user-ana"), twoLineOrder(strPtr("user-ana")))
	require.NoError(t, err)

	_, err = svc.TransitionOrder(customerCtx("user-ana"), order.ID, domain.TransitionRequest{Status: domain.OrderStatusCancelled})
	assert.ErrorIs(t, err, ErrForbidden, "customers cannot cancel a placed order")

	_, err = svc.TransitionOrder(adminCtx(), order.ID, domain.TransitionRequest{Status: domain.OrderStatusShipped})
	var terr *store.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.OrderStatusPending, terr.From)
	assert.Equal(t, domain.OrderStatusShipped, terr.To)

	_, err = svc.TransitionOrder(adminCtx(), order.ID, domain.TransitionRequest{Status: "teleported"})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	_, err = svc.GetOrder(customerCtx("user-luis"), order.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.TransitionOrder(adminCtx(), order.ID, domain.TransitionRequest{Status: domain.OrderStatusCancelled})
	require.NoError(t, err)
	_, err = svc.TransitionOrder(adminCtx(), order.ID, domain.TransitionRequest{Status: domain.OrderStatusPending})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestQuoteAcceptedByOwner(t *testing.T) {
	svc, repo, notifier := newTestService(t)

	req := twoLineOrder(strPtr("user-ana"))
	req.AsQuote = true
	quote, err := svc.CreateOrder(adminCtx(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusQuote, quote.Status)
	assert.Equal(t, 97, variantStock(t, repo, "var-tee-s"))

	_, err = svc.TransitionOrder(customerCtx("user-luis"), quote.ID, domain.TransitionRequest{Status: domain.OrderStatusPending})
	assert.ErrorIs(t, err, ErrForbidden)

	accepted, err := svc.TransitionOrder(customerCtx("user-ana"), quote.ID, domain.TransitionRequest{Status: domain.OrderStatusPending})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, accepted.Status)
	assert.Contains(t, notifier.events(), webhook.EventBudgetFinalized)

	_, err = svc.CreateOrder(customerCtx("user-ana"), req)
	assert.ErrorIs(t, err, ErrForbidden, "customers cannot draft quotes")
}

func TestCheckoutValidation(t *testing.T) {
	svc, repo, _ := newTestService(t)

	req := twoLineOrder(nil)
	req.CreditToApply = dec("5")
	_, err := svc.CreateOrder(context.Background(), req)
	assert.ErrorIs(t, err, store.ErrInvalidRequest, "guests have no credit")

	req = twoLineOrder(strPtr("user-ana"))
	req.CreditToApply = dec("30")
	_, err = svc.CreateOrder(customerCtx("user-ana"), req)
	var credErr *store.InsufficientCreditError
	require.ErrorAs(t, err, &credErr)
	assert.Equal(t, "25.00", credErr.Available.StringFixed(2))
	assert.Equal(t, "25.00", creditBalance(t, repo, "user-ana").StringFixed(2))

	_, err = svc.CreateOrder(customerCtx("user-luis"), twoLineOrder(strPtr("user-ana")))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.CreateOrder(context.Background(), domain.CreateOrderRequest{})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	req = twoLineOrder(nil)
	req.PaymentDiscount = dec("100")
	_, err = svc.CreateOrder(context.Background(), req)
	assert.ErrorIs(t, err, store.ErrInvalidRequest, "total must not go negative")
}

func TestCheckoutAppliesPaymentMethodDiscount(t *testing.T) {
	svc, _, notifier := newTestService(t)

	req := twoLineOrder(nil)
	req.PaymentMethodID = strPtr("cash-usd")
	order, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "2.75", order.PaymentDiscountAmount.StringFixed(2))
	assert.Equal(t, "52.25", order.Total.StringFixed(2))

	require.Len(t, notifier.payloads, 1)
	payment := notifier.payloads[0].Payment
	require.NotNil(t, payment)
	assert.Equal(t, "Cash USD", payment.MethodName)
	assert.Equal(t, "Pay on pickup", payment.Instructions)
}

func TestCheckoutPinsDefaultVariant(t *testing.T) {
	svc, repo, _ := newTestService(t)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		Items: []domain.OrderItemRequest{
			{ProductID: "prod-tee", Quantity: 2, Price: dec("12")},
			{ProductID: "prod-sticker", Quantity: 5, Price: dec("1")},
		},
	})
	require.NoError(t, err)
	require.Len(t, order.Items, 2)
	require.NotNil(t, order.Items[0].VariantID)
	assert.Equal(t, "var-tee-m", *order.Items[0].VariantID)
	assert.Nil(t, order.Items[1].VariantID)
	assert.Equal(t, 98, variantStock(t, repo, "var-tee-m"))

	sticker, err := repo.GetProduct(context.Background(), "prod-sticker")
	require.NoError(t, err)
	assert.Equal(t, 495, sticker.Stock)

	_, err = svc.TransitionOrder(adminCtx(), order.ID, domain.TransitionRequest{Status: domain.OrderStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, 100, variantStock(t, repo, "var-tee-m"))
}

type failingItemsRepo struct {
	store.Repository
}

func (failingItemsRepo) CreateOrderItems(context.Context, string, []domain.OrderItem) ([]domain.OrderItem, error) {
	return nil, errors.New("disk full")
}

func TestCheckoutCompensatesWhenItemsFail(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(failingItemsRepo{Repository: repo}, nil, nil, time.UTC)

	req := twoLineOrder(strPtr("user-ana"))
	req.CreditToApply = dec("10")
	_, err := svc.CreateOrder(customerCtx("user-ana"), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	assert.Equal(t, "25.00", creditBalance(t, repo, "user-ana").StringFixed(2))
	history, err := repo.ListStoreCreditHistory(context.Background(), "user-ana")
	require.NoError(t, err)
	require.Len(t, history, 3)
	reversal := history[2]
	assert.Equal(t, domain.CreditTypeAdjustment, reversal.Type)
	assert.Equal(t, "10.00", reversal.Amount.StringFixed(2))
	require.NotNil(t, reversal.OrderID)
	assert.Equal(t, "checkout-reversal:"+*reversal.OrderID, reversal.Reference)

	_, err = repo.GetOrder(context.Background(), *reversal.OrderID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 100, variantStock(t, repo, "var-tee-s"))
}

func TestWebhookFailureDoesNotFailTransition(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(repo, nil, failingNotifier{}, time.UTC)

	order, err := svc.CreateOrder(context.Background(), twoLineOrder(nil))
	require.NoError(t, err)
	cancelled, err := svc.TransitionOrder(adminCtx(), order.ID, domain.TransitionRequest{Status: domain.OrderStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 100, variantStock(t, repo, "var-tee-s"))
}

func TestCloseDayTotalsAndExclusivity(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := adminCtx()

	order, err := svc.CreateOrder(context.Background(), twoLineOrder(nil))
	require.NoError(t, err)
	_, err = svc.TransitionOrder(ctx, order.ID, domain.TransitionRequest{
		Status:  domain.OrderStatusProcessing,
		Finance: &domain.FinanceHint{AccountID: "acct-usd-bank", CategoryID: strPtr("cat-sales")},
	})
	require.NoError(t, err)

	entries := []domain.FinanceEntryRequest{
		{AccountID: "acct-usd-bank", CategoryID: strPtr("cat-sales"), Type: "income", Amount: dec("100")},
		{AccountID: "acct-local-bank", CategoryID: strPtr("cat-sales"), Type: "income", Amount: dec("3650")},
		{AccountID: "acct-usd-bank", CategoryID: strPtr("cat-supplies"), Type: "expense", Amount: dec("20")},
	}
	for _, e := range entries {
		_, err := svc.RecordFinanceTransaction(ctx, e)
		require.NoError(t, err)
	}
	nextDay := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	_, err = svc.RecordFinanceTransaction(ctx, domain.FinanceEntryRequest{
		AccountID: "acct-usd-bank", Type: "income", Amount: dec("999"), TransactionDate: &nextDay,
	})
	require.NoError(t, err)

	closing, err := svc.CloseDay(ctx, domain.CloseDayRequest{Date: "2026-03-10", Notes: "end of day"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", closing.CloseDate)
	assert.Equal(t, "155.00", closing.TotalIncomeUSD.StringFixed(2))
	assert.Equal(t, "3650.00", closing.TotalIncomeLocal.StringFixed(2))
	assert.Equal(t, "20.00", closing.TotalExpenseUSD.StringFixed(2))
	assert.True(t, closing.TotalExpenseLocal.IsZero())
	assert.Equal(t, 1, closing.TotalOrders)
	assert.Equal(t, 4, closing.Summary.TransactionCount)

	require.Len(t, closing.Summary.ByCategory, 2)
	sales := closing.Summary.ByCategory[0]
	assert.Equal(t, "cat-sales", sales.CategoryID)
	assert.Equal(t, "255.00", sales.IncomeUSD.StringFixed(2))
	assert.Equal(t, "20.00", closing.Summary.ByCategory[1].ExpenseUSD.StringFixed(2))

	require.Len(t, closing.Summary.ByAccount, 2)
	assert.Equal(t, "acct-local-bank", closing.Summary.ByAccount[0].AccountID)
	assert.Equal(t, "3650.00", closing.Summary.ByAccount[0].Income.StringFixed(2))

	_, err = svc.CloseDay(ctx, domain.CloseDayRequest{Date: "2026-03-10"})
	var closed *store.AlreadyClosedError
	require.ErrorAs(t, err, &closed)
	assert.Equal(t, "2026-03-10", closed.Date)

	stored, err := svc.GetCashClosing(ctx, "2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, closing.TotalIncomeUSD.StringFixed(2), stored.TotalIncomeUSD.StringFixed(2))

	_, err = svc.CloseDay(customerCtx("user-ana"), domain.CloseDayRequest{Date: "2026-03-12"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.CloseDay(ctx, domain.CloseDayRequest{Date: "10/03/2026"})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)
}

func TestCloseDayDefaultsToToday(t *testing.T) {
	svc, _, _ := newTestService(t)

	closing, err := svc.CloseDay(adminCtx(), domain.CloseDayRequest{})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", closing.CloseDate)
	assert.Zero(t, closing.Summary.TransactionCount)
	assert.True(t, closing.TotalIncomeUSD.IsZero())
}

func TestFinanceEntryRejectedForClosedDay(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := adminCtx()

	_, err := svc.CloseDay(ctx, domain.CloseDayRequest{Date: "2026-03-09"})
	require.NoError(t, err)

	closedDay := time.Date(2026, 3, 9, 18, 0, 0, 0, time.UTC)
	_, err = svc.RecordFinanceTransaction(ctx, domain.FinanceEntryRequest{
		AccountID: "acct-usd-bank", Type: "expense", Amount: dec("12"), TransactionDate: &closedDay,
	})
	var closed *store.AlreadyClosedError
	require.ErrorAs(t, err, &closed)
	assert.Equal(t, "2026-03-09", closed.Date)
	assert.ErrorIs(t, err, store.ErrAlreadyClosed)

	txs, err := repo.ListFinanceTransactions(context.Background(), time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, txs)

	_, err = svc.RecordFinanceTransaction(ctx, domain.FinanceEntryRequest{
		AccountID: "acct-usd-bank", Type: "expense", Amount: dec("12"),
	})
	assert.NoError(t, err, "today is still open")
}

func deliveredOrder(t *testing.T, svc *Service, userID string) domain.Order {
	t.Helper()
	order, err := svc.CreateOrder(adminCtx(), twoLineOrder(strPtr(userID)))
	require.NoError(t, err)
	for _, status := range []string{domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered} {
		order, err = svc.TransitionOrder(adminCtx(), order.ID, domain.TransitionRequest{Status: status})
		require.NoError(t, err)
	}
	return order
}

func TestReturnLifecycle(t *testing.T) {
	svc, repo, _ := newTestService(t)
	order := deliveredOrder(t, svc, "user-luis")
	customer := customerCtx("user-luis")

	_, err := svc.RequestReturn(customer, domain.RequestReturnRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLineRequest{{VariantID: "var-tee-s", Quantity: 4}},
	})
	assert.ErrorIs(t, err, store.ErrInvalidRequest, "more than was bought")

	_, err = svc.RequestReturn(customerCtx("user-ana"), domain.RequestReturnRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLineRequest{{VariantID: "var-tee-s", Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrForbidden)

	ret, err := svc.RequestReturn(customer, domain.RequestReturnRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLineRequest{{VariantID: "var-tee-s", Quantity: 2}},
		Reason:  "wrong size",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnRequested, ret.Status)
	assert.Equal(t, "20.00", ret.RefundAmount.StringFixed(2))

	_, err = svc.RequestReturn(customer, domain.RequestReturnRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLineRequest{{VariantID: "var-tee-s", Quantity: 2}},
	})
	assert.ErrorIs(t, err, store.ErrInvalidRequest, "only one tee left to return")

	_, err = svc.ReviewReturn(adminCtx(), ret.ID, domain.ReviewRequest{Status: domain.ReturnCompleted})
	assert.ErrorIs(t, err, store.ErrInvalidTransition, "must be approved first")

	_, err = svc.ReviewReturn(adminCtx(), ret.ID, domain.ReviewRequest{Status: domain.ReturnApproved, AdminNotes: "ok"})
	require.NoError(t, err)

	completed, err := svc.ReviewReturn(adminCtx(), ret.ID, domain.ReviewRequest{Status: domain.ReturnCompleted})
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)
	assert.Equal(t, 99, variantStock(t, repo, "var-tee-s"))
	assert.Equal(t, "20.00", creditBalance(t, repo, "user-luis").StringFixed(2))

	_, err = svc.ReviewReturn(adminCtx(), ret.ID, domain.ReviewRequest{Status: domain.ReturnCompleted})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	assert.Equal(t, 99, variantStock(t, repo, "var-tee-s"))
	assert.Equal(t, "20.00", creditBalance(t, repo, "user-luis").StringFixed(2))
}

func TestRejectedReturnFreesQuantity(t *testing.T) {
	svc, _, _ := newTestService(t)
	order := deliveredOrder(t, svc, "user-ana")
	customer := customerCtx("user-ana")

	ret, err := svc.RequestReturn(customer, domain.RequestReturnRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLineRequest{{VariantID: "var-cap-std", Quantity: 1}},
	})
	require.NoError(t, err)
	_, err = svc.ReviewReturn(adminCtx(), ret.ID, domain.ReviewRequest{Status: domain.ReturnRejected})
	require.NoError(t, err)

	_, err = svc.RequestReturn(customer, domain.RequestReturnRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLineRequest{{VariantID: "var-cap-std", Quantity: 1}},
	})
	assert.NoError(t, err)
}

// slowOrderReads widens the gap between reading an order and writing a
// return against it, the way a network round trip to postgres would.
type slowOrderReads struct {
	store.Repository
}

func (r slowOrderReads) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	time.Sleep(10 * time.Millisecond)
	return r.Repository.GetOrder(ctx, orderID)
}

func TestConcurrentReturnsCannotOverclaim(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(slowOrderReads{Repository: repo}, settings.Static(settings.DefaultSnapshot()), nil, time.UTC)
	svc.now = func() time.Time { return testDay }
	order := deliveredOrder(t, svc, "user-ana")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RequestReturn(customerCtx("user-ana"), domain.RequestReturnRequest{
				OrderID: order.ID,
				Lines:   []domain.ReturnLineRequest{{VariantID: "var-tee-s", Quantity: 3}},
			})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, store.ErrInvalidRequest)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	returns, err := svc.ListOrderReturns(customerCtx("user-ana"), order.ID)
	require.NoError(t, err)
	assert.Len(t, returns, 1)

	_, err = svc.ListOrderReturns(customerCtx("user-luis"), order.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestReturnNeedsFinishedOrder(t *testing.T) {
	svc, _, _ := newTestService(t)
	order, err := svc.CreateOrder(customerCtx("user-ana"), twoLineOrder(strPtr("user-ana")))
	require.NoError(t, err)

	_, err = svc.RequestReturn(customerCtx("user-ana"), domain.RequestReturnRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLineRequest{{VariantID: "var-tee-s", Quantity: 1}},
	})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)
}

func TestManualLedgerOperationsRequireAdmin(t *testing.T) {
	svc, repo, _ := newTestService(t)
	customer := customerCtx("user-ana")

	_, err := svc.RecordStockMovement(customer, "var-tee-s", domain.StockMovementRequest{Quantity: 5})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.AdjustStoreCredit(customer, "user-ana", domain.CreditAdjustmentRequest{Amount: dec("5")})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.RecordFinanceTransaction(customer, domain.FinanceEntryRequest{AccountID: "acct-usd-bank", Type: "income", Amount: dec("1")})
	assert.ErrorIs(t, err, ErrForbidden)

	movement, err := svc.RecordStockMovement(adminCtx(), "var-tee-s", domain.StockMovementRequest{Quantity: -4, Reason: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, domain.StockMovementManual, movement.Type)
	assert.Equal(t, 96, variantStock(t, repo, "var-tee-s"))

	_, err = svc.RecordStockMovement(adminCtx(), "var-tee-s", domain.StockMovementRequest{Quantity: 0})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	statement, err := svc.StoreCreditStatement(customer, "user-ana")
	require.NoError(t, err)
	assert.Equal(t, "25.00", statement.Balance.StringFixed(2))
	assert.Len(t, statement.History, 1)

	_, err = svc.StoreCreditStatement(customerCtx("user-luis"), "user-ana")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.RecordFinanceTransaction(adminCtx(), domain.FinanceEntryRequest{AccountID: "acct-usd-bank", Type: "transfer", Amount: dec("1")})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)
}

func TestAuditTrailRecordsActor(t *testing.T) {
	svc, _, _ := newTestService(t)

	order, err := svc.CreateOrder(adminCtx(), twoLineOrder(nil))
	require.NoError(t, err)
	_, err = svc.TransitionOrder(adminCtx(), order.ID, domain.TransitionRequest{Status: domain.OrderStatusEvaluating})
	require.NoError(t, err)

	logs, err := svc.ListAuditLogs(adminCtx(), time.Time{}, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "order_transition", logs[0].Action)
	assert.Equal(t, "staff-1", logs[0].ActorID)
	assert.Equal(t, order.ID, logs[0].EntityID)

	_, err = svc.ListAuditLogs(customerCtx("user-ana"), time.Time{}, time.Time{}, 10)
	assert.ErrorIs(t, err, ErrForbidden)
}
