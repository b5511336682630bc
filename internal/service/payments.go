package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront/backend/internal/currency"
	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
)

// SubmitPaymentConfirmation records a customer's proof of payment. An order
// may collect several, in different currencies; none of them moves the order.
func (s *Service) SubmitPaymentConfirmation(ctx context.Context, req domain.SubmitConfirmationRequest) (domain.PaymentConfirmation, error) {
	order, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return domain.PaymentConfirmation{}, err
	}
	if err := canAccessOrder(ctx, *order); err != nil {
		return domain.PaymentConfirmation{}, err
	}

	amount := currency.Round(req.AmountPaid)
	if !amount.IsPositive() {
		return domain.PaymentConfirmation{}, fmt.Errorf("%w: amount paid must be positive", store.ErrInvalidRequest)
	}
	if req.AccountID != nil && *req.AccountID != "" {
		if _, err := s.repo.GetFinanceAccount(ctx, *req.AccountID); err != nil {
			return domain.PaymentConfirmation{}, fmt.Errorf("finance account %s: %w", *req.AccountID, err)
		}
	} else {
		req.AccountID = nil
	}

	snap, err := s.snapshot(ctx)
	if err != nil {
		return domain.PaymentConfirmation{}, err
	}
	code := currency.Normalize(req.Currency)
	if code == "" {
		code = currency.USD
	}
	if !snap.AcceptsCurrency(code) {
		return domain.PaymentConfirmation{}, fmt.Errorf("%w: currency %s is not accepted", store.ErrInvalidRequest, code)
	}
	rate := snap.RateFor(code)
	usd, err := currency.ToUSD(amount, code, rate)
	if err != nil {
		return domain.PaymentConfirmation{}, fmt.Errorf("%w: %v", store.ErrInvalidRequest, err)
	}

	created, err := s.repo.CreatePaymentConfirmation(ctx, domain.PaymentConfirmation{
		OrderID:         order.ID,
		ReferenceNumber: strings.TrimSpace(req.ReferenceNumber),
		AmountPaid:      amount,
		Currency:        code,
		ExchangeRate:    rate,
		AmountUSD:       currency.Round(usd),
		AccountID:       req.AccountID,
		ProofRef:        strings.TrimSpace(req.ProofRef),
		Status:          domain.ConfirmationPending,
		SubmittedBy:     actorID(ctx),
		CreatedAt:       s.now(),
	})
	if err != nil {
		return domain.PaymentConfirmation{}, err
	}

	s.logAudit(ctx, "payment_confirmation_submit", "order", order.ID, fmt.Sprintf("confirmation=%s,amount=%s,currency=%s", created.ID, amount.StringFixed(2), code))
	zap.L().Info("payment confirmation submitted",
		zap.String("order_id", order.ID),
		zap.String("confirmation_id", created.ID),
		zap.String("amount_usd", created.AmountUSD.StringFixed(2)),
	)
	return *created, nil
}

// PaymentSummary totals the non-rejected confirmations of an order in USD,
// each converted at the rate captured when it was submitted.
func (s *Service) PaymentSummary(ctx context.Context, orderID string) (domain.PaymentSummary, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.PaymentSummary{}, err
	}
	if err := canAccessOrder(ctx, *order); err != nil {
		return domain.PaymentSummary{}, err
	}

	confirmations, err := s.repo.ListPaymentConfirmations(ctx, orderID)
	if err != nil {
		return domain.PaymentSummary{}, err
	}

	total := decimal.Zero
	for _, c := range confirmations {
		if c.Status == domain.ConfirmationRejected {
			continue
		}
		usd, err := currency.ToUSD(c.AmountPaid, c.Currency, c.ExchangeRate)
		if err != nil {
			zap.L().Warn("skipping confirmation with unusable rate", zap.String("confirmation_id", c.ID), zap.Error(err))
			continue
		}
		total = total.Add(usd)
	}
	total = currency.Round(total)

	return domain.PaymentSummary{
		OrderID:          order.ID,
		OrderTotal:       order.Total,
		TotalReportedUSD: total,
		IsFullyReported:  total.GreaterThanOrEqual(order.Total),
		Confirmations:    confirmations,
	}, nil
}

func (s *Service) ReviewPaymentConfirmation(ctx context.Context, confirmationID string, req domain.ReviewRequest) (domain.PaymentConfirmation, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.PaymentConfirmation{}, err
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if status != domain.ConfirmationApproved && status != domain.ConfirmationRejected {
		return domain.PaymentConfirmation{}, fmt.Errorf("%w: status must be approved or rejected", store.ErrInvalidRequest)
	}

	reviewed, err := s.repo.ReviewPaymentConfirmation(ctx, confirmationID, status, actor.ID, s.now())
	if err != nil {
		return domain.PaymentConfirmation{}, err
	}

	s.logAudit(ctx, "payment_confirmation_review", "payment_confirmation", reviewed.ID, "status="+status)
	return *reviewed, nil
}
