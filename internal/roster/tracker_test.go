package roster

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/manoiroublie/manoir-client/pkg/protocol"
)

func newTracker(t *testing.T) (*Tracker, func(eventType string, payload any)) {
	t.Helper()
	tracker := New(zap.NewNop())
	handlers := make(map[string]func(json.RawMessage))
	tracker.Register(func(eventType string, h func(json.RawMessage)) {
		handlers[eventType] = h
	})
	feed := func(eventType string, payload any) {
		t.Helper()
		h, ok := handlers[eventType]
		require.True(t, ok, "no handler for %s", eventType)
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		h(data)
	}
	return tracker, feed
}

func TestTracker_SnapshotReplacesRoster(t *testing.T) {
	tracker, feed := newTracker(t)
	tracker.Replace([]protocol.Player{{Name: "Old", Role: protocol.RoleCurator}})

	feed(protocol.EvtPlayersUpdate, protocol.PlayersUpdate{Players: []protocol.Player{
		{ID: "p1", Name: "Alice", Role: protocol.RoleCurator, Ready: true},
		{ID: "p2", Name: "Bob", Role: protocol.RoleAnalyst},
	}})

	players := tracker.Players()
	require.Len(t, players, 2)
	assert.Equal(t, "Alice", players[0].Name)
	assert.True(t, players[0].Ready)
}

func TestTracker_JoinIsIdempotentByName(t *testing.T) {
	tracker, feed := newTracker(t)

	feed(protocol.EvtPlayerJoined, protocol.PlayerJoined{Player: protocol.Player{Name: "Alice"}})
	tracker.SetReady("Alice", true)

	// Replayed join must neither duplicate the entry nor clobber ready.
	feed(protocol.EvtPlayerJoined, protocol.PlayerJoined{Player: protocol.Player{Name: "Alice"}})

	players := tracker.Players()
	require.Len(t, players, 1)
	assert.True(t, players[0].Ready)
}

func TestTracker_JoinAppendsNewPlayers(t *testing.T) {
	tracker, feed := newTracker(t)

	feed(protocol.EvtPlayerJoined, protocol.PlayerJoined{Player: protocol.Player{Name: "Alice"}})
	feed(protocol.EvtPlayerJoined, protocol.PlayerJoined{Player: protocol.Player{Name: "Bob"}})

	assert.Len(t, tracker.Players(), 2)
}

func TestTracker_MalformedJoinDropped(t *testing.T) {
	tracker := New(zap.NewNop())
	handlers := make(map[string]func(json.RawMessage))
	tracker.Register(func(eventType string, h func(json.RawMessage)) {
		handlers[eventType] = h
	})

	handlers[protocol.EvtPlayerJoined]([]byte(`not json`))
	handlers[protocol.EvtPlayerJoined]([]byte(`{"player":{}}`))

	assert.Empty(t, tracker.Players())
}

func TestTracker_SubscribersGetCopies(t *testing.T) {
	tracker, _ := newTracker(t)

	var seen [][]protocol.Player
	tracker.Subscribe(func(players []protocol.Player) {
		seen = append(seen, players)
	})

	tracker.Replace([]protocol.Player{{Name: "Alice"}})
	require.Len(t, seen, 1)

	// Mutating the delivered slice must not leak into the tracker.
	seen[0][0].Name = "Mallory"
	assert.Equal(t, "Alice", tracker.Players()[0].Name)
}

func TestTracker_SetReadyNoopForUnknown(t *testing.T) {
	tracker, _ := newTracker(t)

	var notified int
	tracker.Subscribe(func([]protocol.Player) { notified++ })

	tracker.SetReady("Ghost", true)
	assert.Zero(t, notified)
}
