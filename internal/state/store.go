// Package state holds the reconciled session state: chat transcript, solved
// puzzles, scores, avatar positions and game phase. Local optimism is kept
// in a separate overlay that authoritative server snapshots fully supersede.
package state

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/manoiroublie/manoir-client/pkg/protocol"
)

// TotalEnigmes is the fixed number of puzzles in a session. Completing all
// of them ends the game.
const TotalEnigmes = 5

type ChatMessage struct {
	ID        string
	Sender    string
	Text      string
	Timestamp time.Time
	System    bool
}

type Position struct {
	X, Y float64
}

// Snapshot is a read-only copy of the store. CompletedEnigmes is the merged
// view: confirmed completions plus local optimistic ones.
type Snapshot struct {
	Phase            protocol.GamePhase
	CompletedEnigmes []int
	Scores           map[string]int
	CurrentEnigmeID  *int
	Selections       map[string]int
	Positions        map[string]Position
	Chat             []ChatMessage
}

// Emitter sends outbound commands; satisfied by *dispatch.Dispatcher.
type Emitter interface {
	Emit(eventType string, payload any)
}

// Store applies inbound session events and exposes snapshots plus change
// subscriptions. Every handler either fully applies an update or fully
// discards it; a malformed payload never leaves partial state behind.
type Store struct {
	emit   Emitter
	logger *zap.Logger

	mu             sync.Mutex
	confirmed      map[int]struct{}
	optimistic     map[int]struct{}
	scores         map[string]int
	phase          protocol.GamePhase
	currentEnigme  *int
	selections     map[string]int
	positions      map[string]Position
	chat           []ChatMessage
	subs           []func(Snapshot)
	onCompleted    []func()
	completedFired bool
}

func New(emit Emitter, logger *zap.Logger) *Store {
	return &Store{
		emit:       emit,
		logger:     logger,
		confirmed:  make(map[int]struct{}),
		optimistic: make(map[int]struct{}),
		scores:     make(map[string]int),
		phase:      protocol.PhaseWaiting,
		selections: make(map[string]int),
		positions:  make(map[string]Position),
	}
}

// Register wires the store to its wire events.
func (s *Store) Register(on func(string, func(json.RawMessage))) {
	on(protocol.EvtChatMsg, s.handleChat)
	on(protocol.EvtPuzzleSolved, s.handleSolved)
	on(protocol.EvtGameStateUpdate, s.handleStateMerge)
	on(protocol.EvtGameStateResponse, s.handleStateMerge)
	on(protocol.EvtGameCompleted, s.handleCompleted)
	on(protocol.EvtEnigmeSelect, s.handleSelect)
	on(protocol.EvtPositionUpdate, s.handlePosition)
}

// Subscribe registers fn to receive a snapshot after every change.
func (s *Store) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// OnCompleted registers fn to fire when the session reaches full
// completion. Fires at most once per session, regardless of how many
// duplicate events arrive afterwards.
func (s *Store) OnCompleted(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCompleted = append(s.onCompleted, fn)
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Completed reports whether enigmeID is solved in the merged view.
func (s *Store) Completed(enigmeID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.confirmed[enigmeID]; ok {
		return true
	}
	_, ok := s.optimistic[enigmeID]
	return ok
}

// Phase returns the current game phase.
func (s *Store) Phase() protocol.GamePhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Begin transitions waiting -> playing after a successful start command.
func (s *Store) Begin() {
	s.mu.Lock()
	if s.phase != protocol.PhaseWaiting {
		s.mu.Unlock()
		return
	}
	s.phase = protocol.PhasePlaying
	s.notifyLocked()
}

// MarkLocalComplete records the local player's completion optimistically,
// before the server confirms it. The confirming puzzle:solved broadcast (or
// the next authoritative snapshot) supersedes this overlay; score may be
// corrected then.
func (s *Store) MarkLocalComplete(player string, enigmeID, points int) {
	s.mu.Lock()
	s.optimistic[enigmeID] = struct{}{}
	s.scores[player] += points
	s.checkCompletionLocked()
	s.notifyLocked()
}

// SelectEnigme records which puzzle the local player is viewing and
// broadcasts the choice. Advisory only.
func (s *Store) SelectEnigme(enigmeID int) {
	s.mu.Lock()
	id := enigmeID
	s.currentEnigme = &id
	s.notifyLocked()
	s.emit.Emit(protocol.EvtEnigmeSelect, protocol.EnigmeSelect{EnigmeID: enigmeID})
}

// SendChat emits an outbound chat message. The transcript entry is appended
// when the server echoes it back.
func (s *Store) SendChat(text string) {
	if text == "" {
		return
	}
	s.emit.Emit(protocol.EvtChatMsg, protocol.ChatSend{Text: text})
}

// SendPosition broadcasts the local avatar position.
func (s *Store) SendPosition(x, y float64) {
	s.emit.Emit(protocol.EvtPositionUpdate, protocol.PositionUpdate{X: x, Y: y})
}

// RequestResync asks the server for a full authoritative snapshot. Called
// after every reconnect, and safe to call defensively at any time.
func (s *Store) RequestResync() {
	s.emit.Emit(protocol.EvtGameStateRequest, nil)
}

// Reset clears everything for a session restart.
func (s *Store) Reset() {
	s.mu.Lock()
	s.confirmed = make(map[int]struct{})
	s.optimistic = make(map[int]struct{})
	s.scores = make(map[string]int)
	s.phase = protocol.PhaseWaiting
	s.currentEnigme = nil
	s.selections = make(map[string]int)
	s.positions = make(map[string]Position)
	s.chat = nil
	s.completedFired = false
	s.notifyLocked()
}

// ApplyJoined seeds the store from the room:joined handshake payload.
func (s *Store) ApplyJoined(gs *protocol.GameState) {
	if gs == nil {
		return
	}
	s.mu.Lock()
	s.applyAuthoritativeLocked(protocol.StateUpdate{
		CurrentEnigmeID:  gs.CurrentEnigmeID,
		CompletedEnigmes: &gs.CompletedEnigmes,
		Scores:           gs.Scores,
		GamePhase:        phasePtr(gs.GamePhase),
	})
	s.notifyLocked()
}

func (s *Store) handleChat(data json.RawMessage) {
	var msg protocol.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Text == "" {
		s.logger.Warn("dropping malformed chat:msg", zap.Error(err))
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.mu.Lock()
	s.appendChatLocked(ChatMessage{
		Sender:    msg.Sender,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
	})
	s.notifyLocked()
}

// handleSolved applies a confirmed completion: union the puzzle id, credit
// the player, announce it in chat, and end the game when all puzzles are
// done. Duplicate delivery re-credits the score (the server is the source
// of truth on points) but cannot duplicate the set member.
func (s *Store) handleSolved(data json.RawMessage) {
	var ev protocol.PuzzleSolved
	if err := json.Unmarshal(data, &ev); err != nil || (ev.EnigmeID == 0 && ev.Slug == "") {
		s.logger.Warn("dropping malformed puzzle:solved", zap.Error(err))
		return
	}
	s.mu.Lock()
	// Some servers identify the puzzle by slug only. The score credit and
	// the chat notice still apply; only the completion set needs an id.
	if ev.EnigmeID != 0 {
		s.confirmed[ev.EnigmeID] = struct{}{}
		delete(s.optimistic, ev.EnigmeID)
	}
	if ev.Player != "" {
		s.scores[ev.Player] += ev.Points
	}
	label := ev.Slug
	if ev.EnigmeID != 0 {
		label = fmt.Sprintf("puzzle %d", ev.EnigmeID)
	}
	s.appendChatLocked(ChatMessage{
		Sender:    "system",
		Text:      fmt.Sprintf("%s solved %s (+%d points)", ev.Player, label, ev.Points),
		Timestamp: time.Now(),
		System:    true,
	})
	s.checkCompletionLocked()
	s.notifyLocked()
}

func (s *Store) handleStateMerge(data json.RawMessage) {
	var upd protocol.StateUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		s.logger.Warn("dropping malformed state update", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.applyAuthoritativeLocked(upd)
	s.checkCompletionLocked()
	s.notifyLocked()
}

func (s *Store) handleCompleted(data json.RawMessage) {
	var ev protocol.GameCompleted
	if err := json.Unmarshal(data, &ev); err != nil {
		s.logger.Warn("dropping malformed game:completed", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.applyAuthoritativeLocked(protocol.StateUpdate{CompletedEnigmes: &ev.CompletedEnigmes})
	s.phase = protocol.PhaseCompleted
	s.fireCompletedLocked()
	s.notifyLocked()
}

func (s *Store) handleSelect(data json.RawMessage) {
	var ev protocol.EnigmeSelect
	if err := json.Unmarshal(data, &ev); err != nil || ev.Player == "" {
		s.logger.Warn("dropping malformed player:enigme:select", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.selections[ev.Player] = ev.EnigmeID
	s.notifyLocked()
}

func (s *Store) handlePosition(data json.RawMessage) {
	var ev protocol.PositionUpdate
	if err := json.Unmarshal(data, &ev); err != nil || ev.PlayerName == "" {
		s.logger.Warn("dropping malformed player:position:update", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.positions[ev.PlayerName] = Position{X: ev.X, Y: ev.Y}
	s.notifyLocked()
}

// applyAuthoritativeLocked merges a server snapshot: present fields
// overwrite local ones, and a present completion set replaces the confirmed
// set and discards the optimistic overlay entirely. Replace, not union; a
// union could resurrect an id the server has since invalidated.
func (s *Store) applyAuthoritativeLocked(upd protocol.StateUpdate) {
	if upd.CurrentEnigmeID != nil {
		id := *upd.CurrentEnigmeID
		s.currentEnigme = &id
	}
	if upd.CompletedEnigmes != nil {
		s.confirmed = make(map[int]struct{}, len(*upd.CompletedEnigmes))
		for _, id := range *upd.CompletedEnigmes {
			s.confirmed[id] = struct{}{}
		}
		s.optimistic = make(map[int]struct{})
	}
	for name, score := range upd.Scores {
		s.scores[name] = score
	}
	if upd.GamePhase != nil && *upd.GamePhase != "" {
		s.phase = *upd.GamePhase
	}
}

func (s *Store) checkCompletionLocked() {
	if len(s.mergedLocked()) < TotalEnigmes {
		return
	}
	s.phase = protocol.PhaseCompleted
	s.fireCompletedLocked()
}

func (s *Store) fireCompletedLocked() {
	if s.completedFired {
		return
	}
	s.completedFired = true
	fns := make([]func(), len(s.onCompleted))
	copy(fns, s.onCompleted)
	go func() {
		for _, fn := range fns {
			fn()
		}
	}()
}

func (s *Store) appendChatLocked(msg ChatMessage) {
	msg.ID = uuid.NewString()
	s.chat = append(s.chat, msg)
}

func (s *Store) mergedLocked() []int {
	merged := make(map[int]struct{}, len(s.confirmed)+len(s.optimistic))
	for id := range s.confirmed {
		merged[id] = struct{}{}
	}
	for id := range s.optimistic {
		merged[id] = struct{}{}
	}
	ids := make([]int, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:            s.phase,
		CompletedEnigmes: s.mergedLocked(),
		Scores:           make(map[string]int, len(s.scores)),
		Selections:       make(map[string]int, len(s.selections)),
		Positions:        make(map[string]Position, len(s.positions)),
		Chat:             append([]ChatMessage(nil), s.chat...),
	}
	if s.currentEnigme != nil {
		id := *s.currentEnigme
		snap.CurrentEnigmeID = &id
	}
	for k, v := range s.scores {
		snap.Scores[k] = v
	}
	for k, v := range s.selections {
		snap.Selections[k] = v
	}
	for k, v := range s.positions {
		snap.Positions[k] = v
	}
	return snap
}

// notifyLocked snapshots, releases the lock and fans out to subscribers.
func (s *Store) notifyLocked() {
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func phasePtr(p protocol.GamePhase) *protocol.GamePhase {
	if p == "" {
		return nil
	}
	return &p
}
