// Package transport owns the persistent realtime channel to the session
// server: one connection per game, authenticated join on connect, bounded
// reconnect with backoff, and explicit teardown.
package transport

import (
	"context"

	"go.uber.org/zap"
)

type mgrMsg interface{ isMgrMsg() }

type openConn struct {
	GameID string
	Token  string
	Reply  chan *Conn
}

type getConn struct {
	GameID string
	Reply  chan *Conn
}

type dropConn struct {
	GameID string
}

type shutdownMgr struct{}

func (openConn) isMgrMsg()    {}
func (getConn) isMgrMsg()     {}
func (dropConn) isMgrMsg()    {}
func (shutdownMgr) isMgrMsg() {}

// Manager hands out channel connections, guaranteeing at most one live Conn
// per gameID. Ownership runs through a single goroutine so concurrent Open
// calls from UI re-render cycles can never race a duplicate connection into
// existence.
type Manager struct {
	inbox  chan mgrMsg
	conns  map[string]*Conn
	url    string
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(parent context.Context, socketURL string, logger *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(parent)
	m := &Manager{
		inbox:  make(chan mgrMsg, 16),
		conns:  make(map[string]*Conn),
		url:    socketURL,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	go m.loop()
	return m
}

// Open returns the channel for gameID, reusing the existing connection when
// one is already open or opening. Fails fast with ErrAuthMissing when no
// token is available; no network I/O happens in that case.
func (m *Manager) Open(gameID, token string) (*Conn, error) {
	if token == "" {
		return nil, ErrAuthMissing
	}
	reply := make(chan *Conn, 1)
	select {
	case m.inbox <- openConn{GameID: gameID, Token: token, Reply: reply}:
	case <-m.ctx.Done():
		return nil, ErrManagerClosed
	}
	select {
	case c := <-reply:
		return c, nil
	case <-m.ctx.Done():
		return nil, ErrManagerClosed
	}
}

// Get returns the live connection for gameID, or nil.
func (m *Manager) Get(gameID string) *Conn {
	reply := make(chan *Conn, 1)
	select {
	case m.inbox <- getConn{GameID: gameID, Reply: reply}:
		return <-reply
	case <-m.ctx.Done():
		return nil
	}
}

// Shutdown closes every connection and stops the manager.
func (m *Manager) Shutdown() {
	select {
	case m.inbox <- shutdownMgr{}:
	case <-m.ctx.Done():
	}
}

func (m *Manager) loop() {
	for {
		select {
		case <-m.ctx.Done():
			return

		case msg := <-m.inbox:
			switch msg := msg.(type) {
			case openConn:
				if c := m.conns[msg.GameID]; c != nil {
					msg.Reply <- c
					break
				}
				gid := msg.GameID
				c := newConn(m.ctx, m.url, gid, msg.Token, m.logger, func() {
					select {
					case m.inbox <- dropConn{GameID: gid}:
					case <-m.ctx.Done():
					}
				})
				m.conns[gid] = c
				m.logger.Info("channel opened", zap.String("gid", gid))
				msg.Reply <- c

			case getConn:
				msg.Reply <- m.conns[msg.GameID]

			case dropConn:
				delete(m.conns, msg.GameID)

			case shutdownMgr:
				for gid, c := range m.conns {
					c.cancel()
					delete(m.conns, gid)
				}
				m.cancel()
			}
		}
	}
}
