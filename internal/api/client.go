// Package api is the client for the session REST endpoints: creating,
// joining and starting games, and validating puzzle answers. The validate
// endpoint is the sole authority on puzzle correctness; the realtime
// puzzle:solved broadcast carries the confirmation to every player.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/manoiroublie/manoir-client/pkg/protocol"
)

// Error is an HTTP-level rejection from the session server.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: HTTP %d: %s", e.Status, e.Body)
}

// IsNotFound reports an invalid room code.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsForbidden reports a full or already-finished game.
func IsForbidden(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden
}

type Client struct {
	baseURL string
	httpc   *http.Client
	token   func() string
	logger  *zap.Logger
}

// NewClient builds a REST client. token is read per request so it follows
// credential changes; it may return "" before a session exists.
func NewClient(baseURL string, token func() string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 15 * time.Second},
		token:   token,
		logger:  logger,
	}
}

// SessionCredentials is the response to creating or joining a game.
type SessionCredentials struct {
	Code        string `json:"code"`
	GameID      string `json:"gameId"`
	PlayerToken string `json:"playerToken"`
}

// ValidationResult is the verdict on a puzzle attempt. ok=false is a normal
// outcome, not an error; the player is re-prompted.
type ValidationResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// GameInfo is the REST view of a session.
type GameInfo struct {
	GameID    string              `json:"gameId"`
	Code      string              `json:"code"`
	Players   []protocol.Player   `json:"players"`
	GameState *protocol.GameState `json:"gameState,omitempty"`
}

type joinRequest struct {
	Code     string        `json:"code,omitempty"`
	Nickname string        `json:"nickname"`
	Role     protocol.Role `json:"role"`
}

// CreateGame creates a session; the caller becomes its curator.
func (c *Client) CreateGame(ctx context.Context, nickname string) (SessionCredentials, error) {
	var creds SessionCredentials
	err := c.do(ctx, http.MethodPost, "/api/games",
		joinRequest{Nickname: nickname, Role: protocol.RoleCurator}, &creds)
	return creds, err
}

// JoinGame joins the session identified by code as an analyst.
func (c *Client) JoinGame(ctx context.Context, code, nickname string) (SessionCredentials, error) {
	var creds SessionCredentials
	err := c.do(ctx, http.MethodPost, "/api/games/join",
		joinRequest{Code: code, Nickname: nickname, Role: protocol.RoleAnalyst}, &creds)
	return creds, err
}

// JoinRandomGame joins any session with a free seat.
func (c *Client) JoinRandomGame(ctx context.Context, nickname string) (SessionCredentials, error) {
	var creds SessionCredentials
	err := c.do(ctx, http.MethodPost, "/api/games/join-random",
		joinRequest{Nickname: nickname, Role: protocol.RoleAnalyst}, &creds)
	return creds, err
}

// StartGame asks the server to start the current session.
func (c *Client) StartGame(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/games/start", nil, nil)
}

// GetGame fetches the REST view of a session.
func (c *Client) GetGame(ctx context.Context, gameID string) (GameInfo, error) {
	var info GameInfo
	err := c.do(ctx, http.MethodGet, "/api/games/"+gameID, nil, &info)
	return info, err
}

// GetEnigme fetches the content document for one puzzle.
func (c *Client) GetEnigme(ctx context.Context, id int) (json.RawMessage, error) {
	var doc json.RawMessage
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/enigmes/%d", id), nil, &doc)
	return doc, err
}

// ValidatePuzzle submits an answer attempt for the puzzle named by slug.
func (c *Client) ValidatePuzzle(ctx context.Context, slug string, attempt any) (ValidationResult, error) {
	var res ValidationResult
	err := c.do(ctx, http.MethodPost, "/api/validate/"+slug,
		struct {
			Attempt any `json:"attempt"`
		}{Attempt: attempt}, &res)
	return res, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("api request rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return &Error{Status: resp.StatusCode, Body: string(msg)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
