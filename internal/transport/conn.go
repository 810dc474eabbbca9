package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/manoiroublie/manoir-client/internal/config"
	"github.com/manoiroublie/manoir-client/pkg/protocol"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Status is a connection-state transition plus the last transport error, nil
// while healthy.
type Status struct {
	State State
	Err   error
}

// Conn is the single persistent channel for one game session. It dials the
// realtime endpoint, performs the room:join handshake, feeds inbound frames
// to Frames(), and reconnects on its own after unexpected drops.
//
// All state is owned by the run goroutine except the small subscriber lists,
// which are mutex-guarded so callers can subscribe at any time.
type Conn struct {
	gameID string
	token  string
	url    string
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	frames chan protocol.Frame
	send   chan []byte

	mu          sync.Mutex
	state       State
	lastErr     error
	subs        []func(Status)
	onReconnect []func()

	onClose func()
	done    chan struct{}
}

func newConn(parent context.Context, url, gameID, token string, logger *zap.Logger, onClose func()) *Conn {
	ctx, cancel := context.WithCancel(parent)
	c := &Conn{
		gameID:  gameID,
		token:   token,
		url:     url,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		frames:  make(chan protocol.Frame, config.SendBufferSize),
		send:    make(chan []byte, config.SendBufferSize),
		onClose: onClose,
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

// GameID reports which session this channel belongs to.
func (c *Conn) GameID() string { return c.gameID }

// Frames is the inbound frame stream, closed when the connection terminates
// for good.
func (c *Conn) Frames() <-chan protocol.Frame { return c.frames }

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for connection-state transitions. It is invoked
// from the connection's own goroutine; fn must not block.
func (c *Conn) Subscribe(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// OnReconnect registers fn to run after every successful reconnect (not the
// first connect), once the room:join command has been re-issued. This is
// where the state store hooks its resync request.
func (c *Conn) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = append(c.onReconnect, fn)
}

// Send enqueues one outbound frame. While not connected the frame is
// dropped silently: commands issued offline must not be replayed later.
func (c *Conn) Send(f protocol.Frame) {
	if c.State() != StateConnected {
		c.logger.Debug("dropping frame while disconnected", zap.String("type", f.Type))
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		c.logger.Warn("unencodable outbound frame", zap.String("type", f.Type), zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("outbound buffer full, dropping frame", zap.String("type", f.Type))
	}
}

// Close tears the channel down. Idempotent; a closed connection never
// reconnects.
func (c *Conn) Close() {
	c.cancel()
	<-c.done
}

func (c *Conn) setState(s State, err error) {
	c.mu.Lock()
	c.state = s
	c.lastErr = err
	subs := make([]func(Status), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(Status{State: s, Err: err})
	}
}

func (c *Conn) notifyReconnect() {
	c.mu.Lock()
	fns := make([]func(), len(c.onReconnect))
	copy(fns, c.onReconnect)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Conn) run() {
	defer close(c.done)
	// However the loop ends, Close or an exhausted reconnect budget, the
	// owner forgets this handle so the next Open dials fresh.
	defer func() {
		if c.onClose != nil {
			c.onClose()
		}
	}()
	defer close(c.frames)
	defer c.setState(StateDisconnected, nil)

	attempt := 0
	connectedBefore := false
	for {
		if c.ctx.Err() != nil {
			return
		}
		c.setState(StateConnecting, nil)

		ws, err := c.dial()
		if err != nil {
			cerr := &ConnectionError{Op: "dial", Err: err}
			c.setState(StateDisconnected, cerr)
			attempt++
			if attempt >= config.ReconnectAttempts {
				c.logger.Error("giving up on channel", zap.String("gid", c.gameID), zap.Error(err))
				return
			}
			c.logger.Warn("dial failed, backing off",
				zap.String("gid", c.gameID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if !c.sleep(backoff(attempt)) {
				return
			}
			continue
		}

		attempt = 0
		c.setState(StateConnected, nil)
		c.join(ws)
		if connectedBefore {
			c.notifyReconnect()
		}
		connectedBefore = true

		err = c.serve(ws)
		c.drainSend()
		if c.ctx.Err() != nil {
			ws.Close(websocket.StatusNormalClosure, "bye")
			return
		}
		c.setState(StateDisconnected, &ConnectionError{Op: "read", Err: err})

		// A clean server close reconnects immediately; an unexpected drop
		// waits out the first backoff step.
		if websocket.CloseStatus(err) < 0 {
			if !c.sleep(config.ReconnectBaseWait) {
				return
			}
		}
	}
}

func (c *Conn) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, config.DialTimeout)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, c.url+"?gid="+c.gameID, nil)
	return ws, err
}

// join re-issues the room:join command. Sent directly rather than through
// the send buffer so it always precedes any queued command.
func (c *Conn) join(ws *websocket.Conn) {
	f, err := protocol.NewFrame(protocol.EvtRoomJoin, c.token, nil)
	if err != nil {
		return
	}
	data, _ := json.Marshal(f)
	ctx, cancel := context.WithTimeout(c.ctx, config.WriteTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		c.logger.Warn("join command failed", zap.String("gid", c.gameID), zap.Error(err))
	}
}

// serve pumps one live websocket until it fails. The writer goroutine is
// scoped to this connection attempt.
func (c *Conn) serve(ws *websocket.Conn) error {
	writeCtx, stopWriter := context.WithCancel(c.ctx)
	defer stopWriter()
	go func() {
		for {
			select {
			case <-writeCtx.Done():
				return
			case data := <-c.send:
				ctx, cancel := context.WithTimeout(writeCtx, config.WriteTimeout)
				err := ws.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					c.logger.Warn("write failed", zap.Error(err))
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.Read(c.ctx)
		if err != nil {
			ws.Close(websocket.StatusNormalClosure, "bye")
			return err
		}
		var f protocol.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		select {
		case c.frames <- f:
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

// drainSend discards anything queued while the connection was going down.
// Stale intents must not replay after a reconnect; the post-reconnect resync
// covers whatever was lost.
func (c *Conn) drainSend() {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func (c *Conn) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-c.ctx.Done():
		return false
	}
}

func backoff(attempt int) time.Duration {
	d := config.ReconnectBaseWait << (attempt - 1)
	if d > config.ReconnectMaxWait {
		return config.ReconnectMaxWait
	}
	return d
}
