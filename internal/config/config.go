package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Connection tuning for the realtime channel.
const (
	// Reconnect policy: bounded exponential backoff. Matches the original
	// client's five attempts starting at one second.
	ReconnectAttempts = 5
	ReconnectBaseWait = time.Second
	ReconnectMaxWait  = 30 * time.Second

	WriteTimeout   = 10 * time.Second
	DialTimeout    = 10 * time.Second
	SendBufferSize = 64
)

type Config struct {
	// APIURL is the base URL of the session REST endpoints.
	APIURL string
	// SocketURL is the websocket endpoint of the realtime channel.
	SocketURL string
	// StateDir overrides where durable session state is written.
	StateDir string
}

// Load reads configuration from the environment, with an optional .env file.
// A missing .env is not an error; explicit environment always wins.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		APIURL:    getenv("MANOIR_API_URL", "http://localhost:5000"),
		SocketURL: getenv("MANOIR_SOCKET_URL", "ws://localhost:5000/ws"),
		StateDir:  os.Getenv("MANOIR_STATE_DIR"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
