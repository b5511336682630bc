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
	"storefront/backend/internal/settings"
	"storefront/backend/internal/store"
	"storefront/backend/internal/webhook"
	"storefront/backend/internal/xid"
)

var orderTransitions = map[string][]string{
	domain.OrderStatusQuote:      {domain.OrderStatusPending, domain.OrderStatusCancelled},
	domain.OrderStatusPending:    {domain.OrderStatusEvaluating, domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusEvaluating: {domain.OrderStatusPending, domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCompleted, domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusCompleted, domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusCompleted:  nil,
	domain.OrderStatusDelivered:  nil,
	domain.OrderStatusCancelled:  nil,
}

func isKnownOrderStatus(status string) bool {
	_, ok := orderTransitions[status]
	return ok
}

func canTransition(from string, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transitionEvent maps a genuine status change to the webhook it announces.
func transitionEvent(prior string, target string) (webhook.Event, bool) {
	switch target {
	case domain.OrderStatusPending:
		if prior == domain.OrderStatusQuote {
			return webhook.EventBudgetFinalized, true
		}
	case domain.OrderStatusProcessing:
		return webhook.EventPaymentConfirmed, true
	case domain.OrderStatusShipped:
		return webhook.EventOrderShipped, true
	case domain.OrderStatusCompleted, domain.OrderStatusDelivered:
		return webhook.EventOrderDelivered, true
	case domain.OrderStatusCancelled:
		return webhook.EventOrderCancelled, true
	}
	return "", false
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := canAccessOrder(ctx, *order); err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	actor, hasActor := ActorFromContext(ctx)
	isAdmin := hasActor && actor.IsAdmin()

	if req.UserID != nil && strings.TrimSpace(*req.UserID) == "" {
		req.UserID = nil
	}
	if req.UserID != nil && !isAdmin && (!hasActor || actor.ID != *req.UserID) {
		return domain.Order{}, fmt.Errorf("%w: cannot order on behalf of another customer", ErrForbidden)
	}
	if req.AsQuote && !isAdmin {
		return domain.Order{}, fmt.Errorf("%w: only staff can draft quotes", ErrForbidden)
	}
	if len(req.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: at least one item is required", store.ErrInvalidRequest)
	}
	if req.CreditToApply.IsNegative() || req.PaymentDiscount.IsNegative() {
		return domain.Order{}, fmt.Errorf("%w: credit and discount must not be negative", store.ErrInvalidRequest)
	}
	credit := currency.Round(req.CreditToApply)
	if credit.IsPositive() && req.UserID == nil {
		return domain.Order{}, fmt.Errorf("%w: guest orders cannot use store credit", store.ErrInvalidRequest)
	}
	if credit.IsPositive() && req.AsQuote {
		return domain.Order{}, fmt.Errorf("%w: quotes cannot use store credit", store.ErrInvalidRequest)
	}

	items, subtotal, err := s.resolveItems(ctx, req.Items)
	if err != nil {
		return domain.Order{}, err
	}

	snap, err := s.snapshot(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	var method *settings.PaymentMethod
	if req.PaymentMethodID != nil && *req.PaymentMethodID != "" {
		m, ok := snap.PaymentMethod(*req.PaymentMethodID)
		if !ok {
			return domain.Order{}, fmt.Errorf("%w: unknown payment method %q", store.ErrInvalidRequest, *req.PaymentMethodID)
		}
		method = &m
	}
	discount := currency.Round(req.PaymentDiscount)
	if discount.IsZero() && method != nil {
		discount = settings.PaymentDiscount(*method, subtotal.Sub(credit))
	}

	total := subtotal.Sub(credit).Sub(discount)
	if total.IsNegative() {
		return domain.Order{}, fmt.Errorf("%w: credit and discount exceed the order subtotal", store.ErrInvalidRequest)
	}

	customer := req.Customer
	if req.UserID != nil {
		profile, err := s.repo.GetProfile(ctx, *req.UserID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("load profile %s: %w", *req.UserID, err)
		}
		if customer.Name == "" {
			customer.Name = profile.Name
		}
		if customer.Email == "" {
			customer.Email = profile.Email
		}
		if customer.Phone == "" {
			customer.Phone = profile.Phone
		}
	}

	status := domain.OrderStatusPending
	if req.AsQuote {
		status = domain.OrderStatusQuote
	}
	order := domain.Order{
		ID:                    xid.New("ord"),
		ControlID:             xid.Control("ORD"),
		Status:                status,
		UserID:                req.UserID,
		Subtotal:              subtotal,
		Total:                 total,
		CreditApplied:         credit,
		PaymentMethodID:       req.PaymentMethodID,
		PaymentDiscountAmount: discount,
		ShippingAddress:       strings.TrimSpace(req.ShippingAddress),
		Customer:              customer,
		CreatedAt:             s.now(),
	}
	logger := zap.L().With(zap.String("order_id", order.ID), zap.String("control_id", order.ControlID))

	if credit.IsPositive() {
		_, err := s.repo.AdjustStoreCredit(ctx, domain.StoreCreditEntry{
			ProfileID: *req.UserID,
			Amount:    credit.Neg(),
			Type:      domain.CreditTypePurchase,
			Reason:    "applied to order " + order.ControlID,
			OrderID:   &order.ID,
			CreatedBy: actorID(ctx),
		})
		if err != nil {
			return domain.Order{}, err
		}
	}

	created, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		s.reverseCheckoutCredit(ctx, order)
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	createdItems, err := s.repo.CreateOrderItems(ctx, created.ID, items)
	if err != nil {
		if delErr := s.repo.DeleteOrder(ctx, created.ID); delErr != nil {
			logger.Warn("checkout rollback: delete order failed", zap.Error(delErr))
		}
		s.reverseCheckoutCredit(ctx, order)
		return domain.Order{}, fmt.Errorf("create order items: %w", err)
	}
	created.Items = createdItems

	for _, item := range createdItems {
		s.deductStock(ctx, *created, item)
	}

	var payment *webhook.Payment
	if method != nil || credit.IsPositive() || discount.IsPositive() {
		payment = &webhook.Payment{CreditApplied: credit, Discount: discount}
		if method != nil {
			payment.MethodID = method.ID
			payment.MethodName = method.Name
			payment.Instructions = method.Instructions
		}
	}
	s.notify(ctx, webhook.EventOrderCreated, *created, payment)

	s.logAudit(ctx, "order_create", "order", created.ID, fmt.Sprintf("control_id=%s,status=%s,total=%s,credit=%s,discount=%s",
		created.ControlID, created.Status, created.Total.StringFixed(2), credit.StringFixed(2), discount.StringFixed(2)))
	logger.Info("order created", zap.String("status", created.Status), zap.String("total", created.Total.StringFixed(2)))

	return *created, nil
}

// resolveItems validates the requested lines and pins product-only lines to
// the product's default variant when it has one, so stock deducted at checkout
// is restored to the same variant on cancellation.
func (s *Service) resolveItems(ctx context.Context, reqs []domain.OrderItemRequest) ([]domain.OrderItem, decimal.Decimal, error) {
	items := make([]domain.OrderItem, 0, len(reqs))
	subtotal := decimal.Zero

	for i, r := range reqs {
		if r.Quantity < 1 {
			return nil, decimal.Zero, fmt.Errorf("%w: item %d quantity must be positive", store.ErrInvalidRequest, i)
		}
		if r.Price.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("%w: item %d price must not be negative", store.ErrInvalidRequest, i)
		}

		item := domain.OrderItem{
			ProductID:      r.ProductID,
			Name:           strings.TrimSpace(r.Name),
			Quantity:       r.Quantity,
			Price:          currency.Round(r.Price),
			OnRequest:      r.OnRequest,
			CustomMetadata: r.CustomMetadata,
		}

		switch {
		case r.VariantID != nil && *r.VariantID != "":
			variant, err := s.repo.GetVariant(ctx, *r.VariantID)
			if err != nil {
				return nil, decimal.Zero, fmt.Errorf("variant %s: %w", *r.VariantID, err)
			}
			variantID := variant.ID
			item.VariantID = &variantID
			if item.ProductID == "" {
				item.ProductID = variant.ProductID
			}
		case r.ProductID != "":
			product, err := s.repo.GetProduct(ctx, r.ProductID)
			if err != nil {
				return nil, decimal.Zero, fmt.Errorf("product %s: %w", r.ProductID, err)
			}
			if product.DefaultVariantID != nil && *product.DefaultVariantID != "" {
				variantID := *product.DefaultVariantID
				item.VariantID = &variantID
			}
			if item.Name == "" {
				item.Name = product.Name
			}
		default:
			return nil, decimal.Zero, fmt.Errorf("%w: item %d needs a product or variant", store.ErrInvalidRequest, i)
		}

		items = append(items, item)
		subtotal = subtotal.Add(item.LineTotal())
	}

	return items, currency.Round(subtotal), nil
}

func (s *Service) deductStock(ctx context.Context, order domain.Order, item domain.OrderItem) {
	if item.VariantID != nil {
		_, err := s.repo.RecordStockMovement(ctx, domain.StockMovement{
			VariantID: *item.VariantID,
			Quantity:  -item.Quantity,
			Type:      domain.StockMovementOrder,
			Reason:    "order " + order.ControlID,
			CreatedBy: actorID(ctx),
			CreatedAt: s.now(),
		})
		if err != nil {
			zap.L().Warn("stock deduction failed",
				zap.String("order_id", order.ID),
				zap.String("variant_id", *item.VariantID),
				zap.Error(err),
			)
		}
		return
	}

	if err := s.repo.DecrementProductStock(ctx, item.ProductID, item.Quantity); err != nil {
		zap.L().Warn("legacy product stock decrement failed",
			zap.String("order_id", order.ID),
			zap.String("product_id", item.ProductID),
			zap.Error(err),
		)
	}
}

// reverseCheckoutCredit returns credit debited for an order whose creation
// failed. The reversal is its own history row keyed by the order id.
func (s *Service) reverseCheckoutCredit(ctx context.Context, order domain.Order) {
	if !order.CreditApplied.IsPositive() || order.IsGuest() {
		return
	}

	_, err := s.repo.AdjustStoreCredit(ctx, domain.StoreCreditEntry{
		ProfileID: *order.UserID,
		Amount:    order.CreditApplied,
		Type:      domain.CreditTypeAdjustment,
		Reason:    "checkout reversal for " + order.ControlID,
		OrderID:   &order.ID,
		Reference: "checkout-reversal:" + order.ID,
		CreatedBy: actorID(ctx),
	})
	switch {
	case err == nil:
		zap.L().Info("checkout credit reversed", zap.String("order_id", order.ID), zap.String("amount", order.CreditApplied.StringFixed(2)))
	case errors.Is(err, store.ErrDuplicateEntry):
		zap.L().Info("checkout credit already reversed", zap.String("order_id", order.ID))
	default:
		zap.L().Warn("checkout rollback: credit reversal failed",
			zap.String("order_id", order.ID),
			zap.String("amount", order.CreditApplied.StringFixed(2)),
			zap.Error(err),
		)
	}
}

func (s *Service) TransitionOrder(ctx context.Context, orderID string, req domain.TransitionRequest) (domain.Order, error) {
	target := strings.ToLower(strings.TrimSpace(req.Status))
	if !isKnownOrderStatus(target) {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", store.ErrInvalidRequest, req.Status)
	}
	actor, hasActor := ActorFromContext(ctx)
	isAdmin := hasActor && actor.IsAdmin()

	var (
		account *domain.FinanceAccount
		snap    settings.Snapshot
	)
	if target == domain.OrderStatusProcessing && req.Finance != nil {
		if !isAdmin {
			return domain.Order{}, fmt.Errorf("%w: admin role required", ErrForbidden)
		}
		var err error
		account, snap, err = s.resolveFinanceHint(ctx, *req.Finance)
		if err != nil {
			return domain.Order{}, err
		}
	}

	guard := func(current domain.Order) error {
		if !isAdmin {
			if !hasActor || current.IsGuest() || *current.UserID != actor.ID {
				return fmt.Errorf("%w: order belongs to another customer", ErrForbidden)
			}
			if current.Status != domain.OrderStatusQuote ||
				(target != domain.OrderStatusPending && target != domain.OrderStatusCancelled) {
				return fmt.Errorf("%w: customers may only accept or decline a quote", ErrForbidden)
			}
		}
		if current.Status == target {
			return nil
		}
		if !canTransition(current.Status, target) {
			return &store.TransitionError{Entity: "order", ID: current.ID, From: current.Status, To: target}
		}
		return nil
	}

	prior, order, err := s.repo.TransitionOrderStatus(ctx, orderID, target, s.now(), guard)
	if err != nil {
		return domain.Order{}, err
	}
	changed := prior != target
	logger := zap.L().With(zap.String("order_id", order.ID), zap.String("from", prior), zap.String("to", target))

	if target == domain.OrderStatusProcessing && account != nil {
		s.recordOrderIncome(ctx, *order, *account, req.Finance.CategoryID, snap)
	}

	if changed && target == domain.OrderStatusCancelled {
		s.compensateCancellation(ctx, *order)
	}

	if !changed {
		logger.Info("order transition replayed")
		return *order, nil
	}

	if event, ok := transitionEvent(prior, target); ok {
		s.notify(ctx, event, *order, nil)
	}
	s.logAudit(ctx, "order_transition", "order", order.ID, fmt.Sprintf("from=%s,to=%s", prior, target))
	logger.Info("order transitioned")

	return *order, nil
}

func (s *Service) resolveFinanceHint(ctx context.Context, hint domain.FinanceHint) (*domain.FinanceAccount, settings.Snapshot, error) {
	if strings.TrimSpace(hint.AccountID) == "" {
		return nil, settings.Snapshot{}, fmt.Errorf("%w: finance account is required", store.ErrInvalidRequest)
	}
	account, err := s.repo.GetFinanceAccount(ctx, hint.AccountID)
	if err != nil {
		return nil, settings.Snapshot{}, fmt.Errorf("finance account %s: %w", hint.AccountID, err)
	}
	if hint.CategoryID != nil && *hint.CategoryID != "" {
		if _, err := s.repo.GetFinanceCategory(ctx, *hint.CategoryID); err != nil {
			return nil, settings.Snapshot{}, fmt.Errorf("finance category %s: %w", *hint.CategoryID, err)
		}
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, settings.Snapshot{}, err
	}
	if !snap.AcceptsCurrency(account.Currency) {
		return nil, settings.Snapshot{}, fmt.Errorf("%w: account currency %s has no exchange rate", store.ErrInvalidRequest, account.Currency)
	}
	return account, snap, nil
}

// recordOrderIncome books the order total once per order. Both the lookup and
// the unique index on (order_id, income) make a second call a no-op.
func (s *Service) recordOrderIncome(ctx context.Context, order domain.Order, account domain.FinanceAccount, categoryID *string, snap settings.Snapshot) {
	logger := zap.L().With(zap.String("order_id", order.ID), zap.String("account_id", account.ID))

	existing, err := s.repo.FindIncomeByOrder(ctx, order.ID)
	if err == nil {
		logger.Info("order income already recorded", zap.String("finance_id", existing.ID))
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		logger.Warn("order income lookup failed", zap.Error(err))
		return
	}

	code := currency.Normalize(account.Currency)
	rate := snap.RateFor(code)
	amount, err := currency.FromUSD(order.Total, code, rate)
	if err != nil {
		logger.Warn("order income conversion failed", zap.Error(err))
		return
	}
	amount = currency.Round(amount)
	usd, err := currency.ToUSD(amount, code, rate)
	if err != nil {
		logger.Warn("order income conversion failed", zap.Error(err))
		return
	}

	orderID := order.ID
	tx, err := s.repo.CreateFinanceTransaction(ctx, domain.FinanceTransaction{
		AccountID:           account.ID,
		CategoryID:          categoryID,
		OrderID:             &orderID,
		Type:                domain.FinanceIncome,
		Amount:              amount,
		Currency:            code,
		ExchangeRate:        rate,
		AmountUSDEquivalent: currency.Round(usd),
		Description:         "payment for order " + order.ControlID,
		CreatedBy:           actorID(ctx),
		TransactionDate:     s.now(),
	})
	switch {
	case err == nil:
		logger.Info("order income recorded", zap.String("finance_id", tx.ID), zap.String("amount", amount.StringFixed(2)), zap.String("currency", code))
	case errors.Is(err, store.ErrDuplicateFinanceEntry):
		logger.Info("order income already recorded")
	default:
		logger.Warn("order income write failed", zap.Error(err))
	}
}

// compensateCancellation restores stock and refunds applied credit. It only
// runs on a genuine change into cancelled; the credit refund is additionally
// keyed by order id.
func (s *Service) compensateCancellation(ctx context.Context, order domain.Order) {
	logger := zap.L().With(zap.String("order_id", order.ID))

	for _, item := range order.Items {
		if item.VariantID == nil {
			continue
		}
		_, err := s.repo.RecordStockMovement(ctx, domain.StockMovement{
			VariantID: *item.VariantID,
			Quantity:  item.Quantity,
			Type:      domain.StockMovementReturn,
			Reason:    "order " + order.ControlID + " cancelled",
			CreatedBy: actorID(ctx),
			CreatedAt: s.now(),
		})
		if err != nil {
			logger.Warn("stock restoration failed", zap.String("variant_id", *item.VariantID), zap.Int("quantity", item.Quantity), zap.Error(err))
		}
	}

	if !order.CreditApplied.IsPositive() || order.IsGuest() {
		return
	}
	orderID := order.ID
	_, err := s.repo.AdjustStoreCredit(ctx, domain.StoreCreditEntry{
		ProfileID: *order.UserID,
		Amount:    order.CreditApplied,
		Type:      domain.CreditTypeReturn,
		Reason:    "refund for cancelled order " + order.ControlID,
		OrderID:   &orderID,
		Reference: "order-cancel:" + order.ID,
		CreatedBy: actorID(ctx),
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicateEntry):
		logger.Info("cancellation credit already refunded")
	default:
		logger.Warn("credit refund failed", zap.String("amount", order.CreditApplied.StringFixed(2)), zap.Error(err))
	}
}
