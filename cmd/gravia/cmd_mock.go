package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/gravia/internal/mockserver"
	"github.com/user/gravia/internal/state"
)

func init() {
	rootCmd.AddCommand(mockCmd)
	mockCmd.Flags().String("listen", "", "listen address (default mock.listen)")
	mockCmd.Flags().Int("profile-status", http.StatusOK, "status served by /user/profile")
	mockCmd.Flags().Bool("trace", false, "record frames under data_dir and serve /api/sessions/{id}/frames")
}

var mockCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Run the reference chat backend",
	Args:  cobra.NoArgs,
	RunE:  runMock,
}

func runMock(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	listen, _ := cmd.Flags().GetString("listen")
	if listen == "" {
		listen = cfg.Mock.Listen
	}
	profileStatus, _ := cmd.Flags().GetInt("profile-status")
	trace, _ := cmd.Flags().GetBool("trace")

	var frames *state.FrameLog
	if trace {
		dir := filepath.Join(cfg.DataDir, "mock")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		frames = state.NewFrameLog(dir)
	}

	srv := mockserver.NewServer(mockserver.Config{
		AuthToken:      cfg.Server.AuthToken,
		ChunkDelay:     cfg.ChunkDelay(),
		MaxConnections: int64(cfg.Mock.MaxConnections),
	}, frames)
	srv.SetProfileStatus(profileStatus)

	httpServer := &http.Server{
		Addr:              listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("mock server started", "listen", listen, "trace", trace)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mock server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
