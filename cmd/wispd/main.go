package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/wispim/server/internal/arena"
	"github.com/wispim/server/internal/blob"
	"github.com/wispim/server/internal/config"
	"github.com/wispim/server/internal/game"
	"github.com/wispim/server/internal/handler"
	gonet "github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
	"github.com/wispim/server/internal/roster"
	"github.com/wispim/server/internal/scripting"
	"github.com/wispim/server/internal/store"
	"github.com/wispim/server/internal/words"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, port int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m               Wisp  v0.1.0                \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m    self-hosted messaging · game server    \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mServer:\033[0m %s \033[90m(tcp: %d)\033[0m\n\n", serverName, port)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := strconv.Itoa(count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config, then layer positional arguments over it
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyArgs(os.Args[1:]); err != nil {
		return err
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.Port)

	// 3. Open the identity store and the blob store
	printSection("Storage")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users, err := store.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("identity store: %w", err)
	}
	defer users.Close()
	printOK(fmt.Sprintf("identity store ready (%s)", cfg.Storage.Driver))
	printStat("Users", len(users.Users()))

	blobs, err := blob.Open(
		filepath.Join(cfg.Server.DataDir, "files"),
		cfg.Limits.MaxBlobBytes(),
		int64(cfg.Limits.InlineBytes()),
		log,
	)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	printStat("Stored files", blobs.Count())
	printStat("Stored KiB", int(blobs.Bytes()/1024))
	fmt.Println()

	// 4. Load word tables and the Lua chat-filter engine
	printSection("Game data")

	wordTable, err := words.Load(cfg.Games.WordsDir, cfg.Games.DefaultLanguage)
	if err != nil {
		return fmt.Errorf("load word lists: %w", err)
	}
	for _, lang := range wordTable.Languages() {
		printStat("Words ("+lang+")", wordTable.Count(lang))
	}

	luaEngine, err := scripting.NewEngine(cfg.Scripting.Dir, log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer luaEngine.Close()
	if luaEngine.Enabled() {
		printOK("Lua chat filters loaded")
	}
	fmt.Println()

	// 5. Wire the session registry, presence fan-out, and game managers
	registry := roster.NewRegistry()
	presence := roster.NewPresence(registry, users, log)

	ttt := game.NewTicTacToe(registry.Get, presence.BroadcastUser, log)
	guess := game.NewDrawGuess(wordTable, cfg.Games.DefaultLanguage, registry.Get, presence.BroadcastUser, log)
	tele := game.NewTelephone(registry.Get, presence.BroadcastUser, log)
	cards := game.NewCardHand(registry.Get, presence.BroadcastUser, log)
	tables := game.NewCardBet(registry.Get, presence.BroadcastUser, log)
	duel := game.NewDuel(registry.Get, presence.BroadcastUser, log)
	grid := arena.New(registry.Get, log)

	// Presence asks each manager in turn whether the user is mid-game.
	infos := []roster.GameInfoFunc{
		ttt.GameInfo, duel.GameInfo,
		guess.GameInfo, tele.GameInfo, cards.GameInfo, tables.GameInfo,
	}
	presence.SetGameInfo(func(username string) (string, string, bool) {
		for _, fn := range infos {
			if id, desc, ok := fn(username); ok {
				return id, desc, true
			}
		}
		return "", "", false
	})

	// 6. Create the packet registry and register handlers
	pktReg := protocol.NewRegistry(log)
	deps := &handler.Deps{
		Config:    cfg,
		Log:       log,
		Users:     users,
		Blobs:     blobs,
		Registry:  registry,
		Presence:  presence,
		Scripting: luaEngine,
		TicTacToe: ttt,
		DrawGuess: guess,
		Telephone: tele,
		CardHand:  cards,
		CardBet:   tables,
		Duel:      duel,
		Arena:     grid,
	}
	handler.RegisterAll(pktReg, deps)

	// 7. Create the TCP server and the LAN discovery responder
	netServer, err := gonet.NewServer(
		cfg.BindAddr(),
		pktReg,
		gonet.SessionConfig{
			MaxFrameBytes:    cfg.Network.MaxFrameBytes(),
			MaxPacketsPerSec: cfg.Network.MaxPacketsPerSec,
			WriteTimeout:     cfg.Network.WriteTimeout,
		},
		func(s *gonet.Session) { handler.HandleDisconnect(s, deps) },
		log,
	)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}

	var disc *gonet.Discovery
	if cfg.Discovery.Enabled {
		disc, err = gonet.NewDiscovery(cfg.Discovery.Port, cfg.Server.Name, cfg.Server.Port, registry.Count, log)
		if err != nil {
			return fmt.Errorf("discovery: %w", err)
		}
	}

	printSection("Server ready")
	printReady(fmt.Sprintf("listening on %s", netServer.Addr().String()))
	if disc != nil {
		printReady(fmt.Sprintf("LAN discovery on %s", disc.Addr().String()))
	}
	printReady(fmt.Sprintf("liveness pings every %s", cfg.Network.PingInterval))
	fmt.Println()

	// 8. Run accept loop, discovery, and pings until a signal arrives
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		netServer.AcceptLoop()
		return nil
	})
	if disc != nil {
		g.Go(disc.Serve)
	}
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Network.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				for _, sess := range registry.All() {
					// A failed write closes the session; the read loop
					// runs the disconnect cascade.
					_ = sess.Send(protocol.PktPing, nil)
				}
			}
		}
	})
	g.Go(func() error {
		select {
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
		case <-gctx.Done():
		}
		stop()
		if disc != nil {
			disc.Close()
		}
		netServer.Shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
