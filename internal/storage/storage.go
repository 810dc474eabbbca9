// Package storage persists the client's session credentials so a restart can
// rejoin a running game, mirroring what the browser client keeps in local
// storage. Durable state lives in a small JSON file; per-run state stays in
// memory and is cleared when the player returns home.
package storage

// Keys for durable session state.
const (
	KeyPlayerToken = "playerToken"
	KeyGameID      = "gameId"
	KeyRoomCode    = "roomCode"
	KeyPlayerName  = "playerName"
)

// Keys for volatile per-run state.
const (
	KeyScreen           = "screen"
	KeySelectedEnigme   = "selectedEnigme"
	KeyCompletedEnigmes = "completedEnigmes"
)

// Store is a flat string key/value store. Get returns "" for missing keys.
type Store interface {
	Get(key string) string
	Set(key, value string) error
	Delete(key string) error
	Clear() error
}

// Volatile is an in-memory Store for tab-scoped state.
type Volatile struct {
	values map[string]string
}

func NewVolatile() *Volatile {
	return &Volatile{values: make(map[string]string)}
}

func (v *Volatile) Get(key string) string { return v.values[key] }

func (v *Volatile) Set(key, value string) error {
	v.values[key] = value
	return nil
}

func (v *Volatile) Delete(key string) error {
	delete(v.values, key)
	return nil
}

func (v *Volatile) Clear() error {
	v.values = make(map[string]string)
	return nil
}
