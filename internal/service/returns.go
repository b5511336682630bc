package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront/backend/internal/currency"
	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
)

func (s *Service) GetReturn(ctx context.Context, returnID string) (domain.Return, error) {
	ret, err := s.repo.GetReturn(ctx, returnID)
	if err != nil {
		return domain.Return{}, err
	}
	order, err := s.repo.GetOrder(ctx, ret.OrderID)
	if err != nil {
		return domain.Return{}, err
	}
	if err := canAccessOrder(ctx, *order); err != nil {
		return domain.Return{}, err
	}
	return *ret, nil
}

// ListOrderReturns returns every return filed against the order, oldest first.
func (s *Service) ListOrderReturns(ctx context.Context, orderID string) ([]domain.Return, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := canAccessOrder(ctx, *order); err != nil {
		return nil, err
	}
	return s.repo.ListReturnsByOrder(ctx, order.ID)
}

// RequestReturn opens a return against a finished order. Quantities are
// checked against what was bought minus what other open or settled returns
// already claim.
func (s *Service) RequestReturn(ctx context.Context, req domain.RequestReturnRequest) (domain.Return, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Return{}, fmt.Errorf("%w: sign in to request a return", ErrForbidden)
	}

	order, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return domain.Return{}, err
	}
	if order.IsGuest() {
		return domain.Return{}, fmt.Errorf("%w: guest orders cannot be returned", store.ErrInvalidRequest)
	}
	if !actor.IsAdmin() && actor.ID != *order.UserID {
		return domain.Return{}, fmt.Errorf("%w: order belongs to another customer", ErrForbidden)
	}
	if order.Status != domain.OrderStatusCompleted && order.Status != domain.OrderStatusDelivered {
		return domain.Return{}, fmt.Errorf("%w: order is %s, returns need a completed or delivered order", store.ErrInvalidRequest, order.Status)
	}
	if len(req.Lines) == 0 {
		return domain.Return{}, fmt.Errorf("%w: at least one line is required", store.ErrInvalidRequest)
	}

	purchased := map[string]int{}
	prices := map[string]decimal.Decimal{}
	for _, item := range order.Items {
		if item.VariantID == nil {
			continue
		}
		purchased[*item.VariantID] += item.Quantity
		if _, ok := prices[*item.VariantID]; !ok {
			prices[*item.VariantID] = item.Price
		}
	}

	requested := map[string]int{}
	lines := make([]domain.ReturnLine, 0, len(req.Lines))
	refund := decimal.Zero
	for _, l := range req.Lines {
		variantID := strings.TrimSpace(l.VariantID)
		bought, ok := purchased[variantID]
		if !ok {
			return domain.Return{}, fmt.Errorf("%w: variant %s is not part of the order", store.ErrInvalidRequest, variantID)
		}
		if l.Quantity <= 0 {
			return domain.Return{}, fmt.Errorf("%w: quantity for %s must be positive", store.ErrInvalidRequest, variantID)
		}
		requested[variantID] += l.Quantity
		if requested[variantID] > bought {
			return domain.Return{}, fmt.Errorf("%w: only %d of %s were bought", store.ErrInvalidRequest, bought, variantID)
		}

		price := prices[variantID]
		lines = append(lines, domain.ReturnLine{VariantID: variantID, Quantity: l.Quantity, Price: price})
		refund = refund.Add(price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	// Other returns are counted inside the store's atomic unit so concurrent
	// requests cannot claim the same units twice.
	guard := func(existing []domain.Return) error {
		claimed := map[string]int{}
		for _, ret := range existing {
			if ret.Status == domain.ReturnRejected {
				continue
			}
			for _, line := range ret.Lines {
				claimed[line.VariantID] += line.Quantity
			}
		}
		for variantID, qty := range requested {
			if claimed[variantID]+qty > purchased[variantID] {
				return fmt.Errorf("%w: only %d of %s left to return", store.ErrInvalidRequest, purchased[variantID]-claimed[variantID], variantID)
			}
		}
		return nil
	}

	now := s.now()
	created, err := s.repo.CreateReturn(ctx, domain.Return{
		OrderID:      order.ID,
		Lines:        lines,
		Status:       domain.ReturnRequested,
		Reason:       strings.TrimSpace(req.Reason),
		RefundAmount: currency.Round(refund),
		RequestedBy:  actor.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, guard)
	if err != nil {
		return domain.Return{}, err
	}

	s.logAudit(ctx, "return_request", "return", created.ID, fmt.Sprintf("order=%s,refund=%s", order.ID, created.RefundAmount.StringFixed(2)))
	return *created, nil
}

// ReviewReturn moves a return along requested -> approved|rejected and
// approved -> completed. Only the call whose status write wins runs the
// completion side effects.
func (s *Service) ReviewReturn(ctx context.Context, returnID string, req domain.ReviewRequest) (domain.Return, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Return{}, err
	}

	target := strings.ToLower(strings.TrimSpace(req.Status))
	var from string
	switch target {
	case domain.ReturnApproved, domain.ReturnRejected:
		from = domain.ReturnRequested
	case domain.ReturnCompleted:
		from = domain.ReturnApproved
	default:
		return domain.Return{}, fmt.Errorf("%w: status must be approved, rejected or completed", store.ErrInvalidRequest)
	}

	updated, err := s.repo.TransitionReturnStatus(ctx, returnID, from, target, strings.TrimSpace(req.AdminNotes), s.now())
	if err != nil {
		return domain.Return{}, err
	}

	if target == domain.ReturnCompleted {
		s.completeReturn(ctx, *updated)
	}

	s.logAudit(ctx, "return_review", "return", updated.ID, fmt.Sprintf("from=%s,to=%s", from, target))
	zap.L().Info("return reviewed",
		zap.String("return_id", updated.ID),
		zap.String("order_id", updated.OrderID),
		zap.String("status", target),
	)
	return *updated, nil
}

func (s *Service) completeReturn(ctx context.Context, ret domain.Return) {
	logger := zap.L().With(zap.String("return_id", ret.ID), zap.String("order_id", ret.OrderID))

	for _, line := range ret.Lines {
		_, err := s.repo.RecordStockMovement(ctx, domain.StockMovement{
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			Type:      domain.StockMovementReturn,
			Reason:    "return " + ret.ControlID + " completed",
			CreatedBy: actorID(ctx),
			CreatedAt: s.now(),
		})
		if err != nil {
			logger.Warn("return restock failed", zap.String("variant_id", line.VariantID), zap.Int("quantity", line.Quantity), zap.Error(err))
		}
	}

	if !ret.RefundAmount.IsPositive() {
		return
	}
	order, err := s.repo.GetOrder(ctx, ret.OrderID)
	if err != nil {
		logger.Warn("return refund skipped, order unavailable", zap.Error(err))
		return
	}
	if order.IsGuest() {
		return
	}

	orderID := order.ID
	_, err = s.repo.AdjustStoreCredit(ctx, domain.StoreCreditEntry{
		ProfileID: *order.UserID,
		Amount:    ret.RefundAmount,
		Type:      domain.CreditTypeReturn,
		Reason:    "refund for return " + ret.ControlID,
		OrderID:   &orderID,
		Reference: "return:" + ret.ID,
		CreatedBy: actorID(ctx),
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicateEntry):
		logger.Info("return credit already refunded")
	default:
		logger.Warn("return refund failed", zap.String("amount", ret.RefundAmount.StringFixed(2)), zap.Error(err))
	}
}
