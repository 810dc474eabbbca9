// Package session is the top-level flow: which screen the player is on, how
// a session is created, joined, resumed and torn down. It wires the REST
// client, the channel transport, the dispatcher and the state components
// together; it contains no protocol logic of its own.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/manoiroublie/manoir-client/internal/api"
	"github.com/manoiroublie/manoir-client/internal/config"
	"github.com/manoiroublie/manoir-client/internal/dispatch"
	"github.com/manoiroublie/manoir-client/internal/relay"
	"github.com/manoiroublie/manoir-client/internal/roster"
	"github.com/manoiroublie/manoir-client/internal/state"
	"github.com/manoiroublie/manoir-client/internal/storage"
	"github.com/manoiroublie/manoir-client/internal/transport"
	"github.com/manoiroublie/manoir-client/pkg/protocol"
)

type Screen string

const (
	ScreenHome            Screen = "home"
	ScreenWaiting         Screen = "waiting"
	ScreenSelection       Screen = "selection"
	ScreenGame            Screen = "game"
	ScreenCongratulations Screen = "congratulations"
)

// ErrEnigmeCompleted is returned when selecting a puzzle another player has
// already solved.
var ErrEnigmeCompleted = errors.New("enigme already solved")

// RandomCode joins any open session instead of a specific room.
const RandomCode = "RANDOM"

type Controller struct {
	api      *api.Client
	manager  *transport.Manager
	disp     *dispatch.Dispatcher
	roster   *roster.Tracker
	store    *state.Store
	relay    *relay.Relay
	durable  storage.Store
	volatile storage.Store
	logger   *zap.Logger

	ctx context.Context

	mu         sync.Mutex
	screen     Screen
	playerName string
	roomCode   string
	gameID     string
	token      string
	conn       *transport.Conn
	connCancel context.CancelFunc
	screenSubs []func(Screen)
	errSubs    []func(string)
	statusSubs []func(transport.Status)
}

func New(ctx context.Context, cfg *config.Config, durable, volatile storage.Store, logger *zap.Logger) *Controller {
	c := &Controller{
		durable:  durable,
		volatile: volatile,
		logger:   logger,
		ctx:      ctx,
		screen:   ScreenHome,
	}
	c.api = api.NewClient(cfg.APIURL, c.currentToken, logger)
	c.manager = transport.NewManager(ctx, cfg.SocketURL, logger)
	c.disp = dispatch.New(c.currentToken, logger)
	c.roster = roster.New(logger)
	c.store = state.New(c.disp, logger)
	c.relay = relay.New(c.disp, logger)

	c.roster.Register(c.disp.On)
	c.store.Register(c.disp.On)
	c.relay.Register(c.disp.On)
	c.disp.On(protocol.EvtRoomJoined, c.handleRoomJoined)
	c.disp.On(protocol.EvtSystemHello, c.handleHello)
	c.disp.On(protocol.EvtSystemError, c.handleServerError)

	c.store.OnCompleted(func() {
		c.setScreen(ScreenCongratulations)
	})
	return c
}

// Accessors for the UI layers.
func (c *Controller) Store() *state.Store     { return c.store }
func (c *Controller) Roster() *roster.Tracker { return c.roster }
func (c *Controller) Relay() *relay.Relay     { return c.relay }
func (c *Controller) API() *api.Client        { return c.api }

func (c *Controller) Screen() Screen {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screen
}

func (c *Controller) PlayerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerName
}

func (c *Controller) RoomCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomCode
}

// OnScreenChange registers fn for screen transitions.
func (c *Controller) OnScreenChange(fn func(Screen)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.screenSubs = append(c.screenSubs, fn)
}

// OnServerError registers fn for application-level server rejections. The
// connection stays open when these arrive.
func (c *Controller) OnServerError(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errSubs = append(c.errSubs, fn)
}

// OnConnectionStatus registers fn for transport state transitions, e.g. to
// show a "reconnecting" notice.
func (c *Controller) OnConnectionStatus(fn func(transport.Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusSubs = append(c.statusSubs, fn)
}

// Resume restores a persisted session after a restart, if one exists.
// Returns false when there is nothing to resume.
func (c *Controller) Resume() bool {
	token := c.durable.Get(storage.KeyPlayerToken)
	gameID := c.durable.Get(storage.KeyGameID)
	if token == "" || gameID == "" {
		return false
	}
	c.mu.Lock()
	c.token = token
	c.gameID = gameID
	c.roomCode = c.durable.Get(storage.KeyRoomCode)
	c.playerName = c.durable.Get(storage.KeyPlayerName)
	c.mu.Unlock()

	if err := c.connect(); err != nil {
		c.logger.Warn("session resume failed", zap.Error(err))
		return false
	}
	c.setScreen(ScreenWaiting)
	return true
}

// EnterManor creates a new session with the caller as curator.
func (c *Controller) EnterManor(ctx context.Context, name string) error {
	creds, err := c.api.CreateGame(ctx, name)
	if err != nil {
		return err
	}
	return c.adopt(name, protocol.RoleCurator, creds)
}

// Join joins an existing session by room code, or any open session when
// code is RandomCode.
func (c *Controller) Join(ctx context.Context, code, name string) error {
	var creds api.SessionCredentials
	var err error
	if code == RandomCode {
		creds, err = c.api.JoinRandomGame(ctx, name)
	} else {
		creds, err = c.api.JoinGame(ctx, code, name)
		if creds.Code == "" {
			creds.Code = code
		}
	}
	if err != nil {
		return err
	}
	return c.adopt(name, protocol.RoleAnalyst, creds)
}

func (c *Controller) adopt(name string, role protocol.Role, creds api.SessionCredentials) error {
	c.mu.Lock()
	c.playerName = name
	c.roomCode = creds.Code
	c.gameID = creds.GameID
	c.token = creds.PlayerToken
	c.mu.Unlock()

	for key, value := range map[string]string{
		storage.KeyPlayerToken: creds.PlayerToken,
		storage.KeyGameID:      creds.GameID,
		storage.KeyRoomCode:    creds.Code,
		storage.KeyPlayerName:  name,
	} {
		if err := c.durable.Set(key, value); err != nil {
			c.logger.Warn("persisting session state failed", zap.String("key", key), zap.Error(err))
		}
	}

	// Provisional roster entry until the server confirms the real one.
	c.roster.Replace([]protocol.Player{{
		ID:   "local-" + uuid.NewString(),
		Name: name,
		Role: role,
	}})

	if err := c.connect(); err != nil {
		return err
	}
	c.setScreen(ScreenWaiting)
	return nil
}

func (c *Controller) connect() error {
	c.mu.Lock()
	gameID, token := c.gameID, c.token
	c.mu.Unlock()

	conn, err := c.manager.Open(gameID, token)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.conn == conn {
		c.mu.Unlock()
		return nil
	}
	if c.connCancel != nil {
		c.connCancel()
	}
	attachCtx, cancel := context.WithCancel(c.ctx)
	c.conn = conn
	c.connCancel = cancel
	c.mu.Unlock()

	conn.Subscribe(c.fanoutStatus)
	conn.OnReconnect(c.store.RequestResync)
	c.disp.Attach(attachCtx, conn, conn.Frames())
	return nil
}

// SetReady toggles the local player's ready flag optimistically; the server
// echoes the authoritative roster through players:update.
func (c *Controller) SetReady(ready bool) {
	c.roster.SetReady(c.PlayerName(), ready)
}

// Start begins the game. Curator only; the server rejects anyone else.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.api.StartGame(ctx); err != nil {
		return err
	}
	c.store.Begin()
	c.setScreen(ScreenSelection)
	return nil
}

// SelectEnigme moves the player into a puzzle, refusing ids that any player
// has already solved.
func (c *Controller) SelectEnigme(enigmeID int) error {
	if c.store.Completed(enigmeID) {
		return ErrEnigmeCompleted
	}
	_ = c.volatile.Set(storage.KeySelectedEnigme, strconv.Itoa(enigmeID))
	c.store.SelectEnigme(enigmeID)
	c.setScreen(ScreenGame)
	return nil
}

// CompleteEnigme is the completion callback handed to puzzle components. It
// records the completion optimistically; server confirmation arrives as a
// puzzle:solved broadcast after the REST validation.
func (c *Controller) CompleteEnigme(points int) {
	selected, _ := strconv.Atoi(c.volatile.Get(storage.KeySelectedEnigme))
	if selected == 0 {
		return
	}
	c.store.MarkLocalComplete(c.PlayerName(), selected, points)
	if c.store.Phase() != protocol.PhaseCompleted {
		c.setScreen(ScreenSelection)
	}
}

// ReturnToSelection leaves the current puzzle without completing it.
func (c *Controller) ReturnToSelection() {
	c.setScreen(ScreenSelection)
}

// Restart clears local progress and returns to the selection screen. The
// session itself survives; a full reset means leaving and creating a new
// game.
func (c *Controller) Restart() {
	c.store.Reset()
	_ = c.volatile.Delete(storage.KeySelectedEnigme)
	c.setScreen(ScreenSelection)
}

// ReturnHome leaves the session entirely: closes the channel, wipes the
// persisted credentials and resets every component.
func (c *Controller) ReturnHome() {
	c.mu.Lock()
	conn := c.conn
	cancel := c.connCancel
	c.conn = nil
	c.connCancel = nil
	c.playerName = ""
	c.roomCode = ""
	c.gameID = ""
	c.token = ""
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if err := c.durable.Clear(); err != nil {
		c.logger.Warn("clearing persisted session failed", zap.Error(err))
	}
	_ = c.volatile.Clear()
	c.store.Reset()
	c.roster.Replace(nil)
	c.setScreen(ScreenHome)
}

func (c *Controller) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Controller) setScreen(s Screen) {
	c.mu.Lock()
	if c.screen == s {
		c.mu.Unlock()
		return
	}
	c.screen = s
	subs := make([]func(Screen), len(c.screenSubs))
	copy(subs, c.screenSubs)
	c.mu.Unlock()

	_ = c.volatile.Set(storage.KeyScreen, string(s))
	for _, fn := range subs {
		fn(s)
	}
}

func (c *Controller) fanoutStatus(st transport.Status) {
	c.mu.Lock()
	subs := make([]func(transport.Status), len(c.statusSubs))
	copy(subs, c.statusSubs)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}

func (c *Controller) handleRoomJoined(data json.RawMessage) {
	var ev protocol.RoomJoined
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Warn("dropping malformed room:joined", zap.Error(err))
		return
	}
	c.logger.Info("joined room", zap.String("gid", ev.GID))
	// An empty roster is still authoritative; only an absent field keeps the
	// provisional local entry.
	if ev.Players != nil {
		c.roster.Replace(ev.Players)
	}
	c.store.ApplyJoined(ev.GameState)
}

func (c *Controller) handleHello(json.RawMessage) {
	c.logger.Debug("server hello")
}

func (c *Controller) handleServerError(data json.RawMessage) {
	var ev protocol.SystemError
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Warn("dropping malformed system:error", zap.Error(err))
		return
	}
	c.logger.Warn("server error", zap.String("msg", ev.Msg))
	c.mu.Lock()
	subs := make([]func(string), len(c.errSubs))
	copy(subs, c.errSubs)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(ev.Msg)
	}
}
