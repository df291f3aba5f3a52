// Package server provides server-related CLI commands.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/andrei-cloud/go_optiga/internal/bootstrap"
	"github.com/andrei-cloud/go_optiga/internal/config"
	"github.com/andrei-cloud/go_optiga/internal/datastore"
	"github.com/andrei-cloud/go_optiga/internal/inspect"
	"github.com/andrei-cloud/go_optiga/internal/server"
)

const shutdownTimeout = 5 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an emulated OPTIGA chip",
		Long: `Serve an emulated OPTIGA Trust M chip over TCP for clients running with
device mode "remote". With --http a read-only inspection API is served as well.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	// Add serve command specific flags that can override config.
	cmd.Flags().String("host", "localhost", "Server host")
	cmd.Flags().Int("port", 1600, "Server port")
	cmd.Flags().String("http", "", "inspection API address (disabled when empty)")

	config.BindFlag("server.host", cmd.Flags().Lookup("host"))
	config.BindFlag("server.port", cmd.Flags().Lookup("port"))
	config.BindFlag("inspect.address", cmd.Flags().Lookup("http"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Get()

	store, err := datastore.Open(cfg.Datastore.Path)
	if err != nil {
		return err
	}
	c, err := bootstrap.NewChip(cfg, store)
	if err != nil {
		return err
	}

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv, err := server.NewServer(serverAddr, c)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}

		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")

		return srv.Stop()
	})

	if cfg.Inspect.Address != "" {
		httpSrv := &http.Server{
			Addr:              cfg.Inspect.Address,
			Handler:           inspect.NewHandler(c).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("event", "inspect_started").Str("address", httpSrv.Addr).Msg("inspection api started")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("inspection api: %w", err)
			}

			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			return httpSrv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	log.Info().Uint64("frames", srv.Served()).Msg("server stopped")

	if cfg.Chip.Image {
		img, serr := c.Snapshot()
		if serr == nil {
			serr = store.SaveChipImage(img)
		}
		if serr != nil {
			err = errors.Join(err, fmt.Errorf("save chip image: %w", serr))
		}
	}

	return err
}
