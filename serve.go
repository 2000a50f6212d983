package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"wallora-server/config"
	"wallora-server/core"
	"wallora-server/handlers/auth"
	"wallora-server/handlers/websocket"
	"wallora-server/removebg"
	"wallora-server/stores"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and Socket.IO server",
		RunE:  runServe,
	}
	cmd.Flags().String("listen", "", "The address to listen on.")
	return cmd
}

// loadConfig reads configuration and applies the command line overrides and
// the log settings.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("loglevel"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		cfg.Listen = f.Value.String()
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	store, err := stores.GetStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	authService, err := auth.NewService(ctx, cfg.Auth)
	if err != nil {
		return err
	}

	registry, _ := store.(core.RoomRegistry)
	hub := websocket.NewHub(store, registry, cfg.CORS.AllowedOrigins)

	r := setupRouter(server{
		store:          store,
		auth:           authService,
		hub:            hub,
		remover:        removebg.NewClient(cfg.RemoveBG.APIKey, cfg.RemoveBG.BaseURL),
		allowedOrigins: cfg.CORS.AllowedOrigins,
		thumbnailWidth: cfg.Thumbnail.Width,
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logrus.WithField("addr", cfg.Listen).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logrus.Info("Shutting down...")
	hub.Server().Close(nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
