package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/settings"
	"storefront/backend/internal/store"
	"storefront/backend/internal/webhook"
)

var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo       store.Repository
	settings   settings.Provider
	notifier   webhook.Notifier
	closingLoc *time.Location
	now        func() time.Time
}

func New(repo store.Repository, provider settings.Provider, notifier webhook.Notifier, closingLoc *time.Location) *Service {
	if provider == nil {
		provider = settings.Static(settings.DefaultSnapshot())
	}
	if notifier == nil {
		notifier = webhook.Discard{}
	}
	if closingLoc == nil {
		closingLoc = time.Local
	}

	return &Service{
		repo:       repo,
		settings:   provider,
		notifier:   notifier,
		closingLoc: closingLoc,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.IsAdmin() {
		return domain.Actor{}, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return actor, nil
}

// canAccessOrder lets admins see every order, owners see their own and anyone
// holding the id see a guest order.
func canAccessOrder(ctx context.Context, order domain.Order) error {
	actor, ok := ActorFromContext(ctx)
	if ok && actor.IsAdmin() {
		return nil
	}
	if order.IsGuest() {
		return nil
	}
	if !ok || actor.ID != *order.UserID {
		return fmt.Errorf("%w: order belongs to another customer", ErrForbidden)
	}
	return nil
}

func actorID(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.ID != "" {
		return actor.ID
	}
	return "system"
}

func (s *Service) snapshot(ctx context.Context) (settings.Snapshot, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return settings.Snapshot{}, fmt.Errorf("load settings: %w", err)
	}
	return snap, nil
}

// notify hands the event to the dispatcher. Failures are logged and never
// reach the caller.
func (s *Service) notify(ctx context.Context, event webhook.Event, order domain.Order, payment *webhook.Payment) {
	if err := s.notifier.Notify(ctx, webhook.NewPayload(event, order, payment)); err != nil {
		zap.L().Warn("webhook dispatch failed",
			zap.String("event", string(event)),
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
	}
}
