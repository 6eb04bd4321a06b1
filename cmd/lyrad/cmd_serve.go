package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"lyra/internal/bootstrap"
	"lyra/internal/bridge"
	"lyra/internal/config"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	var addr string
	var static string
	var noEngine bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the UI command surface over HTTP and WebSocket",
		Long:  "Start the session controller and the engine, then serve the command surface.\nPoint the frontend dev server at /ws, or pass --static to serve a built bundle.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			if addr != "" {
				cfg.Bridge.Addr = addr
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return serve(ctx, cmd, cfg, static, !noEngine)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from LYRA_BRIDGE_ADDR)")
	cmd.Flags().StringVar(&static, "static", "", "directory with a built frontend to serve at /")
	cmd.Flags().BoolVar(&noEngine, "no-engine", false, "do not launch the inference engine")
	return cmd
}

func serve(ctx context.Context, cmd *cobra.Command, cfg config.Config, static string, startEngine bool) error {
	hub := bridge.NewHub(nil)
	services, err := bootstrap.BuildWithConfig(ctx, cfg, hub)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer func() { _ = services.Close() }()

	var assets http.FileSystem
	if static != "" {
		assets = http.Dir(static)
	}
	commands := bridge.NewCommands(services.Router)
	srv := &http.Server{
		Addr:              cfg.Bridge.Addr,
		Handler:           bridge.NewServer(hub, commands, assets, services.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return services.Controller.Run(gctx)
	})
	if startEngine {
		g.Go(func() error {
			if err := services.Controller.StartEngine(gctx); err != nil {
				services.Logger.Error("engine failed to start", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		fmt.Fprintf(cmd.OutOrStdout(), "lyrad listening on http://%s\n", cfg.Bridge.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		services.Controller.Shutdown(shutdownCtx)
		services.Router.Close()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
