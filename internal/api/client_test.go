package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, token string, route func(chi.Router)) *Client {
	t.Helper()
	r := chi.NewRouter()
	route(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, func() string { return token }, zap.NewNop())
}

func TestClient_CreateGameStoresNothingButReturnsCredentials(t *testing.T) {
	client := newTestClient(t, "", func(r chi.Router) {
		r.Post("/api/games", func(w http.ResponseWriter, req *http.Request) {
			var body map[string]string
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "Alice", body["nickname"])
			assert.Equal(t, "curator", body["role"])
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(SessionCredentials{
				Code: "ABC123", GameID: "g1", PlayerToken: "tok-1",
			})
		})
	})

	creds, err := client.CreateGame(context.Background(), "Alice")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", creds.Code)
	assert.Equal(t, "g1", creds.GameID)
	assert.Equal(t, "tok-1", creds.PlayerToken)
}

func TestClient_JoinGameErrorMapping(t *testing.T) {
	client := newTestClient(t, "", func(r chi.Router) {
		r.Post("/api/games/join", func(w http.ResponseWriter, req *http.Request) {
			var body map[string]string
			_ = json.NewDecoder(req.Body).Decode(&body)
			switch body["code"] {
			case "NOPE":
				http.Error(w, "unknown code", http.StatusNotFound)
			case "FULL":
				http.Error(w, "game full", http.StatusForbidden)
			default:
				_ = json.NewEncoder(w).Encode(SessionCredentials{GameID: "g1", PlayerToken: "tok"})
			}
		})
	})

	_, err := client.JoinGame(context.Background(), "NOPE", "Bob")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsForbidden(err))

	_, err = client.JoinGame(context.Background(), "FULL", "Bob")
	assert.True(t, IsForbidden(err))

	_, err = client.JoinGame(context.Background(), "OK1", "Bob")
	assert.NoError(t, err)
}

func TestClient_AuthorizationHeader(t *testing.T) {
	var got string
	client := newTestClient(t, "tok-9", func(r chi.Router) {
		r.Post("/api/games/start", func(w http.ResponseWriter, req *http.Request) {
			got = req.Header.Get("Authorization")
			w.WriteHeader(http.StatusOK)
		})
	})

	require.NoError(t, client.StartGame(context.Background()))
	assert.Equal(t, "Bearer tok-9", got)
}

func TestClient_ValidatePuzzleFailureIsNotAnError(t *testing.T) {
	client := newTestClient(t, "tok", func(r chi.Router) {
		r.Post("/api/validate/{slug}", func(w http.ResponseWriter, req *http.Request) {
			assert.Equal(t, "lumiere", chi.URLParam(req, "slug"))
			var body struct {
				Attempt any `json:"attempt"`
			}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			_ = json.NewEncoder(w).Encode(ValidationResult{OK: false, Message: "try again"})
		})
	})

	res, err := client.ValidatePuzzle(context.Background(), "lumiere", []bool{true, false})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "try again", res.Message)
}

func TestClient_GetEnigmeReturnsRawDocument(t *testing.T) {
	client := newTestClient(t, "", func(r chi.Router) {
		r.Get("/api/enigmes/{id}", func(w http.ResponseWriter, req *http.Request) {
			_, _ = w.Write([]byte(`{"images":["a.png","b.png"],"mode":"choose-three"}`))
		})
	})

	doc, err := client.GetEnigme(context.Background(), 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"images":["a.png","b.png"],"mode":"choose-three"}`, string(doc))
}
