package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/backend/internal/domain"
)

func sampleOrder() domain.Order {
	return domain.Order{
		ID:              "ord_1",
		ControlID:       "ORD-0000ABCD",
		Status:          domain.OrderStatusPending,
		Total:           decimal.NewFromInt(45),
		ShippingAddress: "Av. Principal 1",
		Customer:        domain.Customer{Name: "Ana", Email: "ana@example.com"},
		Items: []domain.OrderItem{
			{Name: "Logo Tee", Quantity: 2, Price: decimal.NewFromInt(20)},
			{Name: "Custom Cap", Quantity: 1, Price: decimal.NewFromInt(5), OnRequest: true},
		},
	}
}

func TestNewPayloadCopiesOrder(t *testing.T) {
	p := NewPayload(EventOrderCreated, sampleOrder(), &Payment{MethodID: "zelle"})

	assert.Equal(t, EventOrderCreated, p.Event)
	assert.Equal(t, "ORD-0000ABCD", p.ControlID)
	require.Len(t, p.Items, 2)
	assert.True(t, p.Items[1].OnRequest)
	assert.Equal(t, "ana@example.com", p.Customer.Email)
	assert.Equal(t, "zelle", p.Payment.MethodID)
	assert.False(t, p.OccurredAt.IsZero())
}

func TestDispatcherReportsFullQueue(t *testing.T) {
	q := NewMemoryQueue(1)
	d := NewDispatcher(q)
	ctx := context.Background()

	require.NoError(t, d.Notify(ctx, NewPayload(EventOrderCreated, sampleOrder(), nil)))
	err := d.Notify(ctx, NewPayload(EventOrderShipped, sampleOrder(), nil))
	assert.ErrorIs(t, err, ErrDispatchFailed)
	assert.Equal(t, 1, q.Len())
}

func TestWorkerDeliversSignedPayload(t *testing.T) {
	var (
		gotEvent     string
		gotSignature string
		gotBody      []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get(HeaderEvent)
		gotSignature = r.Header.Get(HeaderSignature)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	q := NewMemoryQueue(4)
	w := NewWorker(q, WorkerConfig{URL: srv.URL, Secret: "s3cret", MaxAttempts: 3, Backoff: time.Millisecond})

	ok := w.Deliver(context.Background(), Task{ID: "t1", Payload: NewPayload(EventOrderDelivered, sampleOrder(), nil)})
	require.True(t, ok)

	assert.Equal(t, string(EventOrderDelivered), gotEvent)
	assert.Equal(t, "sha256="+Sign("s3cret", gotBody), gotSignature)

	var decoded Payload
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "ord_1", decoded.OrderID)
	assert.True(t, decoded.Total.Equal(decimal.NewFromInt(45)))
	assert.Empty(t, q.DeadLetters())
}

func TestWorkerRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := NewMemoryQueue(4)
	w := NewWorker(q, WorkerConfig{URL: srv.URL, MaxAttempts: 5, Backoff: time.Millisecond})

	ok := w.Deliver(context.Background(), Task{ID: "t1", Payload: NewPayload(EventOrderShipped, sampleOrder(), nil)})
	assert.True(t, ok)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWorkerDeadLettersAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	q := NewMemoryQueue(4)
	w := NewWorker(q, WorkerConfig{URL: srv.URL, MaxAttempts: 3, Backoff: time.Millisecond})

	ok := w.Deliver(context.Background(), Task{ID: "t1", Payload: NewPayload(EventOrderCancelled, sampleOrder(), nil)})
	assert.False(t, ok)
	assert.Equal(t, int32(3), calls.Load())

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Contains(t, dead[0].LastError, "502")
}

func TestWorkerDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	q := NewMemoryQueue(4)
	w := NewWorker(q, WorkerConfig{URL: srv.URL, MaxAttempts: 5, Backoff: time.Millisecond})

	assert.False(t, w.Deliver(context.Background(), Task{ID: "t1", Payload: NewPayload(EventOrderCreated, sampleOrder(), nil)}))
	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, q.DeadLetters(), 1)
}

func TestWorkerRunDrainsQueue(t *testing.T) {
	received := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get(HeaderEvent)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := NewMemoryQueue(4)
	d := NewDispatcher(q)
	w := NewWorker(q, WorkerConfig{URL: srv.URL, MaxAttempts: 1, Backoff: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.NoError(t, d.Notify(ctx, NewPayload(EventPaymentConfirmed, sampleOrder(), nil)))
	select {
	case ev := <-received:
		assert.Equal(t, string(EventPaymentConfirmed), ev)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRedisQueueRoundTrip(t *testing.T) {
	addr := os.Getenv("STOREFRONT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set STOREFRONT_TEST_REDIS_ADDR to run redis queue test")
	}

	ctx := context.Background()
	q := NewRedisQueue(addr, "", 0, 10)
	q.key = fmt.Sprintf("storefront:test:%d", time.Now().UnixNano())
	q.deadKey = q.key + ":dead"
	t.Cleanup(func() {
		_ = q.client.Del(ctx, q.key, q.deadKey).Err()
		_ = q.Close()
	})
	require.NoError(t, q.Ping(ctx))

	task := Task{ID: "t1", Payload: NewPayload(EventOrderCreated, sampleOrder(), nil)}
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, "ord_1", got.Payload.OrderID)

	require.NoError(t, q.DeadLetter(ctx, got))
	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
}
