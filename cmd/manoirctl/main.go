// manoirctl is a terminal client for the manoir session server: create or
// join a game, watch the roster and chat, and send messages from stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/manoiroublie/manoir-client/internal/config"
	"github.com/manoiroublie/manoir-client/internal/session"
	"github.com/manoiroublie/manoir-client/internal/state"
	"github.com/manoiroublie/manoir-client/internal/storage"
	"github.com/manoiroublie/manoir-client/internal/transport"
	"github.com/manoiroublie/manoir-client/pkg/protocol"
)

func main() {
	var (
		name   = flag.String("name", "Agent", "player nickname")
		join   = flag.String("join", "", "room code to join (RANDOM for any open game)")
		create = flag.Bool("create", false, "create a new game as curator")
		debug  = flag.Bool("debug", false, "verbose logging")
	)
	flag.Parse()

	logger, err := newLogger(*debug)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	cfg := config.Load()

	path, err := storage.DefaultPath(cfg.StateDir)
	if err != nil {
		logger.Fatal("resolving state path", zap.Error(err))
	}
	durable, err := storage.OpenFile(path)
	if err != nil {
		logger.Fatal("opening session state", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctl := session.New(ctx, cfg, durable, storage.NewVolatile(), logger)

	ctl.OnScreenChange(func(s session.Screen) {
		fmt.Printf("--- screen: %s ---\n", s)
	})
	ctl.OnServerError(func(msg string) {
		fmt.Printf("!! server: %s\n", msg)
	})
	ctl.OnConnectionStatus(func(st transport.Status) {
		if st.State == transport.StateConnecting {
			fmt.Println("... reconnecting")
		}
	})
	ctl.Roster().Subscribe(func(players []protocol.Player) {
		names := make([]string, 0, len(players))
		for _, p := range players {
			marker := ""
			if p.Ready {
				marker = "*"
			}
			names = append(names, p.Name+marker)
		}
		fmt.Printf("players: %s\n", strings.Join(names, ", "))
	})

	var chatMu sync.Mutex
	lastChat := 0
	ctl.Store().Subscribe(func(snap state.Snapshot) {
		chatMu.Lock()
		defer chatMu.Unlock()
		for ; lastChat < len(snap.Chat); lastChat++ {
			msg := snap.Chat[lastChat]
			fmt.Printf("[%s] %s\n", msg.Sender, msg.Text)
		}
	})

	switch {
	case *create:
		if err := ctl.EnterManor(ctx, *name); err != nil {
			logger.Fatal("creating game", zap.Error(err))
		}
		fmt.Printf("room code: %s\n", ctl.RoomCode())
	case *join != "":
		if err := ctl.Join(ctx, *join, *name); err != nil {
			logger.Fatal("joining game", zap.Error(err))
		}
	default:
		if !ctl.Resume() {
			fmt.Println("no session to resume; use -create or -join CODE")
			return
		}
		fmt.Printf("resumed session %s\n", ctl.RoomCode())
	}

	fmt.Println("type to chat; /ready, /start, /pick N, /done POINTS, /home, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			ctl.Store().SendChat(line)
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit":
			return
		case "/home":
			ctl.ReturnHome()
		case "/ready":
			ctl.SetReady(true)
		case "/start":
			if err := ctl.Start(ctx); err != nil {
				fmt.Printf("!! start: %v\n", err)
			}
		case "/pick":
			if len(fields) < 2 {
				fmt.Println("usage: /pick N")
				continue
			}
			id, _ := strconv.Atoi(fields[1])
			if err := ctl.SelectEnigme(id); err != nil {
				fmt.Printf("!! pick: %v\n", err)
			}
		case "/done":
			if len(fields) < 2 {
				fmt.Println("usage: /done POINTS")
				continue
			}
			points, _ := strconv.Atoi(fields[1])
			ctl.CompleteEnigme(points)
		default:
			fmt.Printf("unknown command %s\n", fields[0])
		}
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
