package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	controller "github.com/Itish41/virtualbackroom/controller"
	"github.com/Itish41/virtualbackroom/initializers"
	middleware "github.com/Itish41/virtualbackroom/middleware"
	services "github.com/Itish41/virtualbackroom/service"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "virtualbackroom",
		Short:         "Compliance dashboard backend: CAPA workflows, regulatory email and scheduled sweeps",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), sweepCmd())

	if err := root.Execute(); err != nil {
		log.Printf("[CRITICAL] %v", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, s)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.hub.RelayChanges(ctx, a.store, services.DashboardCollections...)

			if !noScheduler {
				if err := a.scheduler.EnsureDefaultTasks(ctx); err != nil {
					return fmt.Errorf("failed to seed scheduled tasks: %w", err)
				}
				go a.scheduler.Run(ctx)
			}

			router := controller.NewRouter(a.handlers(), middleware.GlobalRateLimiter, middleware.StrictRateLimiter)
			srv := &http.Server{
				Addr:         ":" + cfg.Port,
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 60 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Printf("Server listening on %s", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
			case <-ctx.Done():
			}

			log.Println("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			log.Println("Server exited")
			return nil
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve the API without running scheduled tasks")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			db, err := initializers.ConnectDB(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize database connection: %w", err)
			}
			return initializers.Migrate(db, cfg)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one scheduler pass (email dispatch and due tasks) and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, s)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.scheduler.EnsureDefaultTasks(ctx); err != nil {
				return err
			}
			result, err := a.scheduler.RunOnce(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}
