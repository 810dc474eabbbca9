// Package dispatch routes wire frames between the single channel and the
// independent consumers sitting on top of it: roster, state store, puzzle
// relay, chat UI. One handler per event type, dispatched in receipt order.
package dispatch

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/manoiroublie/manoir-client/pkg/protocol"
)

// Sender is the outbound half of the channel. Satisfied by *transport.Conn.
type Sender interface {
	Send(protocol.Frame)
}

// Dispatcher demultiplexes inbound frames by event type and multiplexes
// outbound commands onto the channel, attaching the player token to every
// command so callers never handle credentials.
//
// Handlers run on the dispatch goroutine, one frame at a time, in the order
// the transport received them. Handler code therefore never races itself.
type Dispatcher struct {
	token  func() string
	logger *zap.Logger

	mu       sync.Mutex
	sender   Sender
	handlers map[string]func(json.RawMessage)
}

// New builds a dispatcher. token is read at emit time so a refreshed
// credential is picked up without rewiring.
func New(token func() string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		token:    token,
		logger:   logger,
		handlers: make(map[string]func(json.RawMessage)),
	}
}

// On registers the handler for one wire event type. Registering the same
// type again replaces the previous handler; distinct types never interact.
func (d *Dispatcher) On(eventType string, handler func(json.RawMessage)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = handler
}

// Emit sends one outbound command. With no channel attached, or the channel
// disconnected, the command is dropped silently: queuing would risk
// replaying stale intents after a long disconnect.
func (d *Dispatcher) Emit(eventType string, payload any) {
	d.mu.Lock()
	sender := d.sender
	d.mu.Unlock()
	if sender == nil {
		d.logger.Debug("emit with no channel", zap.String("type", eventType))
		return
	}
	f, err := protocol.NewFrame(eventType, d.token(), payload)
	if err != nil {
		d.logger.Warn("unencodable command payload", zap.String("type", eventType), zap.Error(err))
		return
	}
	sender.Send(f)
}

// Attach binds the dispatcher to a channel. Outbound emits go to sender
// immediately; a goroutine consumes inbound frames until the stream closes
// or ctx is cancelled, then detaches.
func (d *Dispatcher) Attach(ctx context.Context, sender Sender, frames <-chan protocol.Frame) {
	d.mu.Lock()
	d.sender = sender
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			if d.sender == sender {
				d.sender = nil
			}
			d.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-frames:
				if !ok {
					return
				}
				d.dispatch(f)
			}
		}
	}()
}

func (d *Dispatcher) dispatch(f protocol.Frame) {
	d.mu.Lock()
	handler := d.handlers[f.Type]
	d.mu.Unlock()
	if handler == nil {
		// Unknown event types are not errors; newer servers may emit more
		// than this client understands.
		d.logger.Debug("no handler for event", zap.String("type", f.Type))
		return
	}
	handler(f.Data)
}
