// Package roster tracks the players in a session. The server is the
// authority: players:update replaces the whole list, player:joined appends
// if the name is new.
package roster

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/manoiroublie/manoir-client/pkg/protocol"
)

type Tracker struct {
	logger *zap.Logger

	mu      sync.Mutex
	players []protocol.Player
	subs    []func([]protocol.Player)
}

func New(logger *zap.Logger) *Tracker {
	return &Tracker{logger: logger}
}

// Register wires the tracker to its wire events.
func (t *Tracker) Register(on func(string, func(json.RawMessage))) {
	on(protocol.EvtPlayersUpdate, t.handleUpdate)
	on(protocol.EvtPlayerJoined, t.handleJoined)
}

// Players returns a copy of the current roster.
func (t *Tracker) Players() []protocol.Player {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Subscribe registers fn to receive a roster copy after every change.
func (t *Tracker) Subscribe(fn func([]protocol.Player)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

// Replace installs an authoritative roster snapshot, e.g. from room:joined.
func (t *Tracker) Replace(players []protocol.Player) {
	t.mu.Lock()
	t.players = append([]protocol.Player(nil), players...)
	t.notifyLocked()
}

// Add merges one player into the roster. A name already present keeps its
// existing entry untouched, so replayed or out-of-order join events cannot
// duplicate a player or clobber their ready flag.
func (t *Tracker) Add(p protocol.Player) {
	t.mu.Lock()
	for _, existing := range t.players {
		if existing.Name == p.Name || (p.ID != "" && existing.ID == p.ID) {
			t.mu.Unlock()
			return
		}
	}
	t.players = append(t.players, p)
	t.notifyLocked()
}

// SetReady applies a local ready toggle optimistically; the server echoes
// the change back through players:update.
func (t *Tracker) SetReady(name string, ready bool) {
	t.mu.Lock()
	changed := false
	for i := range t.players {
		if t.players[i].Name == name && t.players[i].Ready != ready {
			t.players[i].Ready = ready
			changed = true
		}
	}
	if !changed {
		t.mu.Unlock()
		return
	}
	t.notifyLocked()
}

func (t *Tracker) handleUpdate(data json.RawMessage) {
	var upd protocol.PlayersUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		t.logger.Warn("dropping malformed players:update", zap.Error(err))
		return
	}
	t.Replace(upd.Players)
}

func (t *Tracker) handleJoined(data json.RawMessage) {
	var ev protocol.PlayerJoined
	if err := json.Unmarshal(data, &ev); err != nil || ev.Player.Name == "" {
		t.logger.Warn("dropping malformed player:joined", zap.Error(err))
		return
	}
	t.Add(ev.Player)
}

// notifyLocked snapshots the roster, releases the lock and fans out.
func (t *Tracker) notifyLocked() {
	snap := t.snapshotLocked()
	subs := make([]func([]protocol.Player), len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func (t *Tracker) snapshotLocked() []protocol.Player {
	return append([]protocol.Player(nil), t.players...)
}
