package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/vctt94/bisonbotkit/logging"

	"github.com/stacksgame/stacks-server/pkg/server"
)

func main() {
	var (
		dbPath       string
		host         string
		port         int
		portFile     string
		seed         int64
		sessionID    string
		lobbySecs    int
		drawMs       int
		settleMs     int
		debugLevel   string
	)
	flag.StringVar(&dbPath, "db", "", "Path to SQLite database file (created if missing)")
	flag.StringVar(&host, "host", "127.0.0.1", "Host to listen on")
	flag.IntVar(&port, "port", 8080, "Port to listen on (0 for random free port)")
	flag.StringVar(&portFile, "portfile", "", "If set, write selected port to this file")
	flag.Int64Var(&seed, "seed", 0, "Deterministic RNG seed for cards (0 = random)")
	flag.StringVar(&sessionID, "session", "session-1", "Session identifier reported to clients")
	flag.IntVar(&lobbySecs, "lobbysecs", 30, "Betting window length in seconds")
	flag.IntVar(&drawMs, "drawms", 1200, "Delay between dealt cards in milliseconds")
	flag.IntVar(&settleMs, "settlems", 5000, "Results display time in milliseconds")
	flag.StringVar(&debugLevel, "debuglevel", "info", "Logging level: trace, debug, info, warn, error")
	flag.Parse()

	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "stacks.sqlite")
	}

	db, err := server.NewDatabase(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init db: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	logBackend, _ := logging.NewLogBackend(logging.LogConfig{DebugLevel: debugLevel})
	log := logBackend.Logger("MAIN")

	if seed == 0 {
		// Allow env override for convenience
		if env := os.Getenv("STACKS_SEED"); env != "" {
			if v, err := strconv.ParseInt(env, 10, 64); err == nil {
				seed = v
			}
		}
	}

	srv := server.NewServer(db, logBackend, server.Config{
		SessionID:    sessionID,
		LobbySeconds: lobbySecs,
		DrawInterval: time.Duration(drawMs) * time.Millisecond,
		SettleDelay:  time.Duration(settleMs) * time.Millisecond,
		Seed:         seed,
	})

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to listen: %v\n", err)
		os.Exit(1)
	}

	if portFile != "" {
		_, p, _ := net.SplitHostPort(lis.Addr().String())
		_ = os.WriteFile(portFile, []byte(p), 0600)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Run(ctx); err != nil && err != context.Canceled {
			log.Errorf("game loop exited: %v", err)
		}
	}()

	httpSrv := &http.Server{Handler: mux}
	go func() {
		log.Infof("listening on %s", lis.Addr())
		if err := httpSrv.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Errorf("http serve error: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		log.Infof("shutting down")
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
