// Package relay fans puzzle-scoped state payloads between the puzzle
// components of every client. The sync layer never interprets the inner
// payload; it only enforces the {puzzleId, tag} envelope so payloads can
// never leak across puzzles.
package relay

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/manoiroublie/manoir-client/pkg/protocol"
)

// Emitter sends outbound commands; satisfied by *dispatch.Dispatcher.
type Emitter interface {
	Emit(eventType string, payload any)
}

// Listener receives puzzle payloads for one puzzle. Listeners ignore tags
// they do not recognize; tag naming is the only cross-component convention.
type Listener func(tag string, data json.RawMessage)

type Relay struct {
	emit   Emitter
	logger *zap.Logger

	mu        sync.Mutex
	listeners map[int][]Listener
}

func New(emit Emitter, logger *zap.Logger) *Relay {
	return &Relay{
		emit:      emit,
		logger:    logger,
		listeners: make(map[int][]Listener),
	}
}

// Register wires the relay to the puzzle:state wire event.
func (r *Relay) Register(on func(string, func(json.RawMessage))) {
	on(protocol.EvtPuzzleState, r.handleState)
}

// Broadcast sends an opaque payload to every player viewing puzzleID.
// Fire-and-forget; there is no acknowledgement and no delivery guarantee
// across a disconnect.
func (r *Relay) Broadcast(puzzleID int, tag string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("unencodable puzzle payload",
			zap.Int("puzzleId", puzzleID),
			zap.String("tag", tag),
			zap.Error(err))
		return
	}
	r.emit.Emit(protocol.EvtPuzzleState, protocol.PuzzleEnvelope{
		PuzzleID: puzzleID,
		Tag:      tag,
		Data:     data,
	})
}

// Subscribe delivers inbound payloads for puzzleID to listener.
func (r *Relay) Subscribe(puzzleID int, listener Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[puzzleID] = append(r.listeners[puzzleID], listener)
}

func (r *Relay) handleState(data json.RawMessage) {
	var env protocol.PuzzleEnvelope
	if err := json.Unmarshal(data, &env); err != nil || !env.Valid() {
		r.logger.Warn("dropping puzzle payload without envelope", zap.Error(err))
		return
	}
	r.mu.Lock()
	listeners := append([]Listener(nil), r.listeners[env.PuzzleID]...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(env.Tag, env.Data)
	}
}
