package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"referral-tree/handlers"
	"referral-tree/logger"
	"referral-tree/routers"
	"referral-tree/socket"
)

const (
	noSocketFlagName = "no-socket"
	shutdownTimeout  = 10 * time.Second
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool(noSocketFlagName, false, "Run without the live update socket")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard HTTP API and follow live updates",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setupConfig(cmd)
		if err != nil {
			return err
		}
		noSocket, err := cmd.Flags().GetBool(noSocketFlagName)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Logger.Info("Starting referral tree server...")
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var client *socket.Client
		var subscriber handlers.Subscriber
		if !noSocket {
			url, err := cfg.SocketURL()
			if err != nil {
				return err
			}
			client = socket.NewClient(socket.Config{
				URL:                  url,
				HeartbeatInterval:    cfg.Socket.HeartbeatInterval,
				ReconnectInterval:    cfg.Socket.ReconnectInterval,
				MaxReconnectAttempts: cfg.Socket.MaxReconnectAttempts,
				MaxReconnectDelay:    cfg.Socket.MaxReconnectDelay,
				ReconcileDelay:       cfg.Socket.ReconcileDelay,
			}, a.store, socket.WithReconcile(a.svc.ScheduleReconcile))
			subscriber = client
		}

		h := handlers.NewHandler(a.svc, subscriber)
		r := mux.NewRouter()
		routers.RegisterRoutes(r, h)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Logger.Info("Server running on port", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		if client != nil {
			g.Go(func() error {
				// a failed first attempt is retried by the client itself
				if err := client.Connect(gctx); err != nil {
					logger.Logger.Warn("Initial socket connection failed", zap.Error(err))
				}
				return nil
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			logger.Logger.Info("Shutdown signal received, exiting...")
			if client != nil {
				client.Disconnect()
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}
