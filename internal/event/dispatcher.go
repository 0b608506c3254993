package event

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher fans events out to emitters in the background.
type Dispatcher struct {
	lg       *zap.Logger
	emitters []Emitter
	timeout  time.Duration
	now      func() time.Time
	wg       sync.WaitGroup
}

var _ Publisher = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher. Each delivery is bounded by timeout.
func NewDispatcher(lg *zap.Logger, timeout time.Duration, emitters ...Emitter) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		lg:       lg,
		emitters: emitters,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Publish schedules delivery to every emitter and returns immediately.
func (d *Dispatcher) Publish(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = d.now()
	}

	// Delivery outlives the request that produced the event.
	base := context.WithoutCancel(ctx)
	for _, em := range d.emitters {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()

			ctx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()

			if err := em.Emit(ctx, e); err != nil {
				d.lg.Warn("Event delivery failed",
					zap.String("event_type", string(e.Type)),
					zap.String("event_id", e.ID),
					zap.String("order_id", e.OrderID),
					zap.Error(err),
				)
			}
		}()
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogEmitter writes events to a logger.
type LogEmitter struct {
	lg *zap.Logger
}

// NewLogEmitter creates a LogEmitter.
func NewLogEmitter(lg *zap.Logger) *LogEmitter {
	return &LogEmitter{lg: lg}
}

func (l *LogEmitter) Emit(_ context.Context, e Event) error {
	l.lg.Info("Event",
		zap.String("event_type", string(e.Type)),
		zap.String("event_id", e.ID),
		zap.String("order_id", e.OrderID),
		zap.String("user_id", e.UserID),
		zap.String("status", e.Status),
		zap.Any("attrs", e.Attrs),
	)
	return nil
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, e Event) error

func (f EmitterFunc) Emit(ctx context.Context, e Event) error { return f(ctx, e) }
