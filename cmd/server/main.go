// chessrelay pairs remote chess clients into rated two-player games and
// relays their traffic. Positional arguments: authentication,
// admin_authentication, port, ip. All but the first are optional.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"chessrelay/internal/config"
	"chessrelay/internal/game"
	"chessrelay/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("[server] %v", err)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args, "")
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	storeCfg := store.Config{Driver: cfg.DBType, DSN: cfg.DBName}
	if cfg.DBType == "postgres" {
		storeCfg.DSN = cfg.PostgresDSN()
	}
	gw, err := store.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer gw.Close()

	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", cfg.Port, err)
	}

	srv := game.NewServer(game.Config{
		Host:                cfg.IP,
		Port:                port,
		Authentication:      cfg.Authentication,
		AdminAuthentication: cfg.AdminAuthentication,
		AdminTOTPSecret:     cfg.AdminTOTPSecret,
		DataDir:             cfg.DataDir,
		DatabaseFilename:    cfg.DBName,
	}, gw)

	if err := srv.LoadAccounts(); err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	if err := srv.Bind(); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	log.Printf("[server] listening on %s", srv.BoundAddress())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("[server] received %s, stopping", sig)
			srv.RequestStop()
			cancel()
		case <-ctx.Done():
		}
	}()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return srv.Serve()
	})

	group.Go(func() error {
		// Relay exit (signal or admin 'stop') ends the ticker below too.
		srv.Run()
		cancel()
		return nil
	})

	group.Go(func() error {
		ticker := time.NewTicker(game.DBUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := srv.UpdateDatabase(); err != nil {
					log.Printf("[server] periodic update: %v", err)
				}
			}
		}
	})

	return group.Wait()
}
