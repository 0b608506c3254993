package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMarshalRoundTrip(t *testing.T) {
	e := Event{
		ID:         "e1",
		Type:       OrderShipped,
		OrderID:    "o1",
		UserID:     "u1",
		Status:     "SHIPPED",
		Attrs:      map[string]string{"tracking_number": "1Z999"},
		OccurredAt: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}

	got, err := Unmarshal(Marshal(e))
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestUnmarshal_Invalid(t *testing.T) {
	_, err := Unmarshal([]byte(`{"occurred_at":"yesterday"}`))
	require.Error(t, err)
}

func TestType_Analytics(t *testing.T) {
	assert.True(t, CheckoutCompleted.Analytics())
	assert.False(t, OrderCancelled.Analytics())
}

func TestDispatcher_Publish(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []Event
	)
	record := EmitterFunc(func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e)
		return nil
	})

	d := NewDispatcher(zap.NewNop(), time.Second, record, record)
	d.Publish(context.Background(), Event{Type: OrderConfirmed, OrderID: "o1"})
	require.NoError(t, d.Wait(context.Background()))

	require.Len(t, seen, 2)
	assert.NotEmpty(t, seen[0].ID)
	assert.False(t, seen[0].OccurredAt.IsZero())
	assert.Equal(t, seen[0].ID, seen[1].ID)
}

func TestDispatcher_FailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	failing := EmitterFunc(func(context.Context, Event) error { return errors.New("broker down") })

	d := NewDispatcher(zap.New(core), time.Second, failing)
	d.Publish(context.Background(), Event{Type: OrderCancelled, OrderID: "o1"})
	require.NoError(t, d.Wait(context.Background()))

	entries := logs.FilterMessage("Event delivery failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "o1", entries[0].ContextMap()["order_id"])
}

func TestDispatcher_SurvivesCallerCancel(t *testing.T) {
	delivered := make(chan error, 1)
	slow := EmitterFunc(func(ctx context.Context, _ Event) error {
		time.Sleep(10 * time.Millisecond)
		delivered <- ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(zap.NewNop(), time.Second, slow)
	d.Publish(ctx, Event{Type: OrderCreated})
	cancel()

	require.NoError(t, d.Wait(context.Background()))
	assert.NoError(t, <-delivered)
}
