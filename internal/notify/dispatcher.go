package notify

import (
	"context"

	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/bus"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/sync"
	"go.uber.org/zap"
)

// Dispatcher subscribes to chat events on the bus and turns them into
// notification calls. It does not talk to the sync engine directly; the
// bus decouples the two, so a slow notification path never blocks sync.
type Dispatcher struct {
	notifier Notifier
	bus      *bus.Bus
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewDispatcher creates a dispatcher over the given notifier.
func NewDispatcher(notifier Notifier, b *bus.Bus, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{notifier: notifier, bus: b, logger: logger}
}

// Start subscribes to chat events and dispatches notifications until the
// context is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	ch, unsub := d.bus.Subscribe("chat.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				d.handle(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the dispatcher.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Dispatcher) handle(ctx context.Context, evt bus.Event) {
	if evt.Kind != bus.KindMessage {
		return
	}
	me, ok := evt.Payload.(sync.MessageEvent)
	if !ok {
		return
	}

	// Outbound messages notify the counterpart; inbound arrivals are the
	// shell's local-banner concern and carry no recipient here.
	if me.Inbound || me.Recipient == "" {
		return
	}

	payload := Payload{
		ConversationID: me.ConversationID,
		SenderName:     me.Message.SenderName,
		Preview:        Truncate(me.Message.Content),
	}
	err := d.notifier.Notify(ctx, me.Recipient, me.Message.SenderName, payload.Preview, payload)
	if err != nil {
		// Notification failures never propagate to the send path.
		d.logger.Warn("notification dispatch failed",
			zap.String("conversation_id", me.ConversationID), zap.Error(err))
	}
}
