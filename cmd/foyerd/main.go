package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foyerhq/foyer/internal/config"
	"github.com/foyerhq/foyer/internal/gateway"
	"github.com/foyerhq/foyer/internal/identity"
	"github.com/foyerhq/foyer/internal/inbox"
	"github.com/foyerhq/foyer/internal/logger"
	"github.com/foyerhq/foyer/internal/server"
	"github.com/foyerhq/foyer/internal/store"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "foyerd",
		Short:   "foyer dashboard daemon",
		Version: version,
		RunE:    runDaemon,
	}
	root.Flags().String("config", "", "config file path (default ~/.foyer/config.yaml)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		var err error
		cfgPath, err = config.File()
		if err != nil {
			return err
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return err
	}
	log := logger.Log

	dir, err := config.EnsureDir()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	gw := gateway.New(&gateway.Client{
		URL:      cfg.Gateway.URL,
		Token:    cfg.Gateway.Token,
		Password: cfg.Gateway.Password,
		Role:     cfg.Gateway.Role,
		Scopes:   cfg.Gateway.Scopes,
		Locale:   cfg.Gateway.Locale,
		Client: gateway.ClientDescriptor{
			Version: version,
		},
		IdentityStore: identity.NewFileStore(dir),
		Log:           log.With("component", "gateway"),
	})
	srv, err := server.NewServer(st, gw, cfg.Server.Password, log.With("component", "api"))
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	// Start after the server has wired its callbacks.
	if err := gw.Start(); err != nil {
		return fmt.Errorf("start gateway client: %w", err)
	}
	defer gw.Stop()
	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: srv}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Inbox.Dir != "" {
		w := inbox.NewWatcher(cfg.Inbox.Dir, st, log.With("component", "inbox"))
		go func() {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("inbox watcher stopped", "err", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("foyerd listening", "addr", cfg.Server.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return httpSrv.Close()
	case err := <-errCh:
		return err
	}
}
