package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bher20/meterlog/internal/alerting"
	"github.com/bher20/meterlog/internal/api"
	"github.com/bher20/meterlog/internal/config"
	"github.com/bher20/meterlog/internal/cron"
	"github.com/bher20/meterlog/internal/extraction"
	"github.com/bher20/meterlog/internal/ingest"
	"github.com/bher20/meterlog/internal/metrics"
	migrate "github.com/bher20/meterlog/internal/migrate"
	"github.com/bher20/meterlog/internal/notification"
	"github.com/bher20/meterlog/internal/storage"
	"github.com/bher20/meterlog/internal/weather"
)

func main() {
	root := &cobra.Command{
		Use:   "meterlog",
		Short: "Utility meter ingestion and reconciliation service",
	}
	root.AddCommand(serveCmd(), workerCmd(), migrateCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg := config.FromEnv()
			st, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			svc, notif := buildServices(ctx, cfg, st)

			addr := ":" + port
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewMux(svc, st, notif),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.Printf("meterlog listening on %s (driver=%s)", addr, cfg.DBDriver)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&port, "port", envOr("PORT", "8000"), "listen port")
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the periodic maintenance worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg := config.FromEnv()
			st, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			wc := weather.NewClient(os.Getenv("METERLOG_WEATHER_URL"), cfg.WeatherLatitude, cfg.WeatherLongitude)
			notif := notification.NewService(st)

			w := cron.NewWorker(st, wc, notif)
			if err := w.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down|status]",
		Short: "Run database migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			ctx := cmd.Context()
			switch args[0] {
			case "up":
				return migrate.Up(ctx, cfg.DBDriver, cfg.DBDSN)
			case "down":
				return migrate.Down(ctx, cfg.DBDriver, cfg.DBDSN)
			case "status":
				return migrate.Status(ctx, cfg.DBDriver, cfg.DBDSN)
			default:
				return fmt.Errorf("unknown migrate action %q", args[0])
			}
		},
	}
	return cmd
}

// openStorage opens the configured backend, optionally auto-migrating first,
// and starts the pool metrics loop for pgxpool.
func openStorage(ctx context.Context, cfg config.Config) (storage.Storage, error) {
	if autoMigrate() && cfg.DBDriver != "memory" {
		if err := migrate.Up(ctx, cfg.DBDriver, cfg.DBDSN); err != nil {
			log.Printf("auto-migration failed: %v", err)
		}
	}
	st, err := storage.Open(ctx, storage.Config{Driver: cfg.DBDriver, DSN: cfg.DBDSN})
	if err != nil {
		return nil, fmt.Errorf("open storage (driver=%s): %w", cfg.DBDriver, err)
	}
	if pg, ok := st.(*storage.PostgresPoolStorage); ok {
		go poolMetricsLoop(ctx, pg)
	}
	return st, nil
}

// buildServices wires the ingest service and its collaborators from config.
func buildServices(ctx context.Context, cfg config.Config, st storage.Storage) (*ingest.Service, *notification.Service) {
	opts := []ingest.Option{ingest.WithTimezone(cfg.Timezone)}
	if cfg.ExtractorURL != "" {
		opts = append(opts, ingest.WithExtractor(extraction.NewClient(cfg.ExtractorURL)))
	} else {
		log.Printf("METERLOG_EXTRACTOR_URL not set; document and photo ingest disabled")
	}
	alertCfg := alerting.DefaultAlertConfig()
	if alertCfg.WebhookURL != "" {
		opts = append(opts, ingest.WithAlerter(alerting.NewAlerter(alertCfg)))
	}

	svc := ingest.NewService(st, opts...)
	if err := svc.SeedUnits(ctx); err != nil {
		log.Printf("seeding units failed: %v", err)
	}
	return svc, notification.NewService(st)
}

func poolMetricsLoop(ctx context.Context, pg *storage.PostgresPoolStorage) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	var lastAcquires int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := pg.Stat()
			acquires := s.AcquireCount()
			delta := acquires - lastAcquires
			if delta < 0 {
				delta = 0
			}
			lastAcquires = acquires
			metrics.UpdateDBPoolMetrics("postgrespool",
				float64(s.TotalConns()), float64(s.IdleConns()), float64(s.AcquiredConns()), uint64(delta))
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func autoMigrate() bool {
	v := strings.ToLower(os.Getenv("METERLOG_AUTO_MIGRATE"))
	return v == "1" || v == "true" || v == "yes"
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
