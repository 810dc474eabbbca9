// Package protocol defines the wire format shared with the manoir session
// server. Every frame on the realtime channel is a JSON envelope carrying an
// event type, an optional player token and an opaque data payload.
package protocol

import (
	"encoding/json"
	"time"
)

// Client -> Server
const (
	EvtRoomJoin         = "room:join"
	EvtGameStateRequest = "game:state:request"
)

// Server -> Client
const (
	EvtSystemHello       = "system:hello"
	EvtSystemError       = "system:error"
	EvtRoomJoined        = "room:joined"
	EvtPlayerJoined      = "player:joined"
	EvtPlayersUpdate     = "players:update"
	EvtPuzzleSolved      = "puzzle:solved"
	EvtGameStateResponse = "game:state:response"
	EvtGameCompleted     = "game:completed"
)

// Both directions
const (
	EvtChatMsg         = "chat:msg"
	EvtPuzzleState     = "puzzle:state"
	EvtGameStateUpdate = "game:state:update"
	EvtEnigmeSelect    = "player:enigme:select"
	EvtPositionUpdate  = "player:position:update"
)

// Frame is the envelope for every message on the channel. Token is only set
// on outbound frames; the server never echoes it back.
type Frame struct {
	Type  string          `json:"type"`
	Token string          `json:"token,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals payload into a Frame. A nil payload produces an empty
// data field, which is valid for events like room:join that only need the
// envelope token.
func NewFrame(eventType, token string, payload any) (Frame, error) {
	f := Frame{Type: eventType, Token: token}
	if payload == nil {
		return f, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	f.Data = data
	return f, nil
}

// Decode unmarshals the frame's data payload into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Data, v)
}

type Role string

const (
	RoleCurator Role = "curator"
	RoleAnalyst Role = "analyst"
)

type Player struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
	Ready bool   `json:"ready"`
	Score int    `json:"score"`
}

type GamePhase string

const (
	PhaseWaiting   GamePhase = "waiting"
	PhasePlaying   GamePhase = "playing"
	PhaseCompleted GamePhase = "completed"
)

// GameState is the authoritative snapshot shape inside room:joined and
// game:state:response payloads.
type GameState struct {
	CurrentEnigmeID  *int           `json:"currentEnigmeId"`
	CompletedEnigmes []int          `json:"completedEnigmes"`
	Scores           map[string]int `json:"scores,omitempty"`
	GamePhase        GamePhase      `json:"gamePhase,omitempty"`
}

// RoomJoined is sent by the server once the room:join handshake succeeds.
type RoomJoined struct {
	GID       string     `json:"gid"`
	Players   []Player   `json:"players"`
	GameState *GameState `json:"gameState,omitempty"`
}

type PlayerJoined struct {
	Player Player `json:"player"`
}

type PlayersUpdate struct {
	Players []Player `json:"players"`
}

// ChatSend is the outbound chat payload; ChatMessage is the inbound echo.
type ChatSend struct {
	Text string `json:"text"`
}

type ChatMessage struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// PuzzleSolved announces a confirmed completion to every player in the room.
type PuzzleSolved struct {
	Player   string `json:"player"`
	EnigmeID int    `json:"enigmeId"`
	Slug     string `json:"slug,omitempty"`
	Points   int    `json:"points"`
}

// StateUpdate is a partial authoritative merge: only non-nil fields
// overwrite local state. CompletedEnigmes, when present, replaces the local
// confirmed set rather than unioning into it.
type StateUpdate struct {
	CurrentEnigmeID  *int           `json:"currentEnigmeId,omitempty"`
	CompletedEnigmes *[]int         `json:"completedEnigmes,omitempty"`
	Scores           map[string]int `json:"scores,omitempty"`
	GamePhase        *GamePhase     `json:"gamePhase,omitempty"`
}

type GameCompleted struct {
	CompletedEnigmes []int `json:"completedEnigmes"`
}

type SystemError struct {
	Msg string `json:"msg"`
}

// EnigmeSelect broadcasts which puzzle a player is viewing. Advisory only,
// never a lock.
type EnigmeSelect struct {
	EnigmeID int    `json:"enigmeId"`
	Player   string `json:"player,omitempty"`
}

type PositionUpdate struct {
	PlayerName string  `json:"playerName,omitempty"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

// PuzzleEnvelope wraps every puzzle:state payload. PuzzleID and Tag are
// mandatory; Data stays opaque to the sync layer.
type PuzzleEnvelope struct {
	PuzzleID int             `json:"puzzleId"`
	Tag      string          `json:"tag"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Valid reports whether the envelope carries the mandatory fields. Frames
// failing this check are dropped at the relay boundary.
func (e PuzzleEnvelope) Valid() bool {
	return e.PuzzleID > 0 && e.Tag != ""
}
