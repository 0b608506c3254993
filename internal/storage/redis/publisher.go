package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/marketplace-checkout/internal/event"
)

var _ event.Emitter = (*Emitter)(nil)

// Emitter publishes events as JSON on two channels: one for order
// notifications and one for checkout analytics.
type Emitter struct {
	rdb              *goredis.Client
	orderChannel     string
	analyticsChannel string
}

// NewEmitter returns an Emitter that publishes to the given channels.
func NewEmitter(rdb *goredis.Client, orderChannel, analyticsChannel string) *Emitter {
	return &Emitter{rdb: rdb, orderChannel: orderChannel, analyticsChannel: analyticsChannel}
}

func (e *Emitter) Emit(ctx context.Context, ev event.Event) error {
	channel := e.orderChannel
	if ev.Type.Analytics() {
		channel = e.analyticsChannel
	}
	if err := e.rdb.Publish(ctx, channel, event.Marshal(ev)).Err(); err != nil {
		return fmt.Errorf("publishing %s to %s: %w", ev.Type, channel, err)
	}
	return nil
}
