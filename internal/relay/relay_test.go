package relay

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/manoiroublie/manoir-client/pkg/protocol"
)

type fakeEmitter struct {
	mu     sync.Mutex
	frames []protocol.PuzzleEnvelope
}

func (f *fakeEmitter) Emit(eventType string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if env, ok := payload.(protocol.PuzzleEnvelope); ok {
		f.frames = append(f.frames, env)
	}
}

func newRelay(t *testing.T) (*Relay, *fakeEmitter, func(payload any)) {
	t.Helper()
	emitter := &fakeEmitter{}
	r := New(emitter, zap.NewNop())
	var handler func(json.RawMessage)
	r.Register(func(eventType string, h func(json.RawMessage)) {
		require.Equal(t, protocol.EvtPuzzleState, eventType)
		handler = h
	})
	feed := func(payload any) {
		t.Helper()
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		handler(data)
	}
	return r, emitter, feed
}

func TestRelay_BroadcastWrapsEnvelope(t *testing.T) {
	r, emitter, _ := newRelay(t)

	r.Broadcast(1, "puzzle:shuffle", map[string]int{"seed": 42})

	require.Len(t, emitter.frames, 1)
	env := emitter.frames[0]
	assert.Equal(t, 1, env.PuzzleID)
	assert.Equal(t, "puzzle:shuffle", env.Tag)
	assert.JSONEq(t, `{"seed":42}`, string(env.Data))
}

func TestRelay_DeliversOnlyToMatchingPuzzle(t *testing.T) {
	r, _, feed := newRelay(t)

	var got []string
	r.Subscribe(1, func(tag string, _ json.RawMessage) {
		got = append(got, "p1:"+tag)
	})
	r.Subscribe(2, func(tag string, _ json.RawMessage) {
		got = append(got, "p2:"+tag)
	})

	feed(protocol.PuzzleEnvelope{PuzzleID: 1, Tag: "lumiere:toggle", Data: json.RawMessage(`{}`)})

	assert.Equal(t, []string{"p1:lumiere:toggle"}, got)
}

func TestRelay_RejectsPayloadsWithoutEnvelope(t *testing.T) {
	r, _, feed := newRelay(t)

	var delivered int
	r.Subscribe(1, func(string, json.RawMessage) { delivered++ })

	feed(map[string]any{"seed": 42})                  // no puzzleId, no tag
	feed(map[string]any{"puzzleId": 1})               // no tag
	feed(map[string]any{"tag": "puzzle:swap"})        // no puzzleId
	feed(map[string]any{"puzzleId": 0, "tag": "x:y"}) // invalid puzzleId

	assert.Zero(t, delivered)
}

func TestRelay_FanOutToAllListenersOfPuzzle(t *testing.T) {
	r, _, feed := newRelay(t)

	var a, b int
	r.Subscribe(3, func(string, json.RawMessage) { a++ })
	r.Subscribe(3, func(string, json.RawMessage) { b++ })

	feed(protocol.PuzzleEnvelope{PuzzleID: 3, Tag: "son:listening"})

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
