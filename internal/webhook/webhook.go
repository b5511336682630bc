// Package webhook notifies an external automation endpoint about order
// lifecycle events. Notifications are queued and delivered by a Worker so the
// caller never waits on the remote side.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/xid"
)

type Event string

const (
	EventOrderCreated     Event = "order_created"
	EventBudgetFinalized  Event = "budget_finalized"
	EventPaymentConfirmed Event = "payment_confirmed"
	EventOrderShipped     Event = "order_shipped"
	EventOrderDelivered   Event = "order_delivered"
	EventOrderCancelled   Event = "order_cancelled"
)

var (
	ErrDispatchFailed = errors.New("webhook dispatch failed")
	ErrQueueFull      = errors.New("webhook queue is full")
)

type Item struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	OnRequest bool            `json:"on_request"`
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Payment struct {
	MethodID      string          `json:"method_id,omitempty"`
	MethodName    string          `json:"method_name,omitempty"`
	Instructions  string          `json:"instructions,omitempty"`
	CreditApplied decimal.Decimal `json:"credit_applied"`
	Discount      decimal.Decimal `json:"discount"`
}

type Payload struct {
	Event           Event           `json:"event"`
	OrderID         string          `json:"order_id"`
	ControlID       string          `json:"control_id"`
	Status          string          `json:"status"`
	Total           decimal.Decimal `json:"total"`
	ShippingAddress string          `json:"shipping_address"`
	Items           []Item          `json:"items"`
	Customer        Customer        `json:"customer"`
	Payment         *Payment        `json:"payment,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// NewPayload builds the notification body for order.
func NewPayload(event Event, order domain.Order, payment *Payment) Payload {
	items := make([]Item, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, Item{Name: it.Name, Quantity: it.Quantity, Price: it.Price, OnRequest: it.OnRequest})
	}
	return Payload{
		Event:           event,
		OrderID:         order.ID,
		ControlID:       order.ControlID,
		Status:          order.Status,
		Total:           order.Total,
		ShippingAddress: order.ShippingAddress,
		Items:           items,
		Customer: Customer{
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
		},
		Payment:    payment,
		OccurredAt: time.Now().UTC(),
	}
}

// Task is one queued delivery.
type Task struct {
	ID        string    `json:"id"`
	Payload   Payload   `json:"payload"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	QueuedAt  time.Time `json:"queued_at"`
}

type Queue interface {
	// Enqueue must not block; a full queue returns ErrQueueFull.
	Enqueue(ctx context.Context, task Task) error
	// Dequeue blocks until a task is available or ctx is done.
	Dequeue(ctx context.Context) (Task, error)
	DeadLetter(ctx context.Context, task Task) error
}

type Notifier interface {
	Notify(ctx context.Context, payload Payload) error
}

// Dispatcher turns notifications into queued tasks.
type Dispatcher struct {
	queue Queue
}

func NewDispatcher(queue Queue) *Dispatcher {
	return &Dispatcher{queue: queue}
}

func (d *Dispatcher) Notify(ctx context.Context, payload Payload) error {
	task := Task{
		ID:       xid.New("whk"),
		Payload:  payload,
		QueuedAt: time.Now().UTC(),
	}
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("%w: %s for order %s: %v", ErrDispatchFailed, payload.Event, payload.OrderID, err)
	}
	zap.L().Debug("webhook queued",
		zap.String("task_id", task.ID),
		zap.String("event", string(payload.Event)),
		zap.String("order_id", payload.OrderID),
	)
	return nil
}

// Discard drops every notification. It is used when no endpoint is configured.
type Discard struct{}

func (Discard) Notify(_ context.Context, payload Payload) error {
	zap.L().Debug("webhook endpoint not configured, dropping event",
		zap.String("event", string(payload.Event)),
		zap.String("order_id", payload.OrderID),
	)
	return nil
}
