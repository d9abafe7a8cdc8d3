package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"studiobook/internal/accesslog"
	"studiobook/internal/admin"
	"studiobook/internal/api"
	"studiobook/internal/availability"
	"studiobook/internal/booking"
	"studiobook/internal/config"
	"studiobook/internal/database"
	"studiobook/internal/events"
	"studiobook/internal/lock"
	"studiobook/internal/metrics"
	"studiobook/internal/models"
	"studiobook/internal/report"
)

func main() {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("STUDIOBOOK_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	roomsCfg, err := config.LoadRoomsConfig(os.Getenv("STUDIOBOOK_ROOMS_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load rooms config")
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rooms := make([]models.Room, 0, len(roomsCfg.Rooms))
	for i := range roomsCfg.Rooms {
		rooms = append(rooms, roomsCfg.Rooms[i].ToModel())
	}
	if err := db.SyncRooms(ctx, rooms); err != nil {
		logger.Fatal().Err(err).Msg("sync rooms error")
	}

	gateway := lock.NewGatewayClient(cfg.LockGateway.BaseURL, cfg.LockGateway.APIKey,
		cfg.GatewayTimeout(), cfg.LockGateway.RatePerSecond, cfg.LockGateway.Burst)

	var rdb *redis.Client
	if cfg.Redis.Address != "" && cfg.LockGateway.CacheTTLSeconds > 0 {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		gateway.UseRedisCache(rdb, time.Duration(cfg.LockGateway.CacheTTLSeconds)*time.Second)
	}

	credentials := lock.NewManager(gateway, db, cfg.GracePeriod(), cfg.PasscodeLength(), logger)
	reconciler := lock.NewReconciler(credentials, db, cfg.ResyncInterval(), cfg.Access.MaxProvisionAttempts, logger)
	go reconciler.Start(ctx)

	open, closeHour := cfg.BusinessHours()
	engine := availability.NewEngine(db, open, closeHour, logger)

	bus := events.NewEventBus()
	bookings := booking.NewService(db, engine, credentials, bus, logger)
	adminSvc := admin.NewService(db, bookings, credentials, logger)
	exporter := report.NewExcelExporter(db)
	matcher := accesslog.NewMatcher(db, cfg.GracePeriod())

	if cfg.Sheets.Enabled {
		sheets, err := report.NewSheetsService(ctx, cfg.Sheets.CredentialsFile,
			cfg.Sheets.SpreadsheetID, "Bookings", db, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("sheets service error")
		}
		subscribeSheets(ctx, bus, sheets, db, &logger)
	}

	backup := database.NewBackupService(cfg.Database.Path, database.BackupConfig{
		Enabled:       cfg.Backup.Enabled,
		IntervalHours: cfg.Backup.IntervalHours,
		StoragePath:   cfg.Backup.Path,
		RetentionDays: cfg.Backup.RetentionDays,
	}, &logger)
	go backup.Start(ctx)

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	server := api.NewHTTPServer(fmt.Sprintf(":%d", cfg.Server.Port),
		bookings, adminSvc, engine, db, exporter, reconciler, matcher, cfg.Server.AdminAPIKey, logger)

	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctxShutdown)
	}()

	logger.Info().Msg("studiobook started")
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("api server error")
	}
}

// subscribeSheets mirrors booking lifecycle events into the front-desk
// spreadsheet. Push failures are logged, never propagated to the booking
// path.
func subscribeSheets(ctx context.Context, bus *events.EventBus, sheets *report.SheetsService, db *database.DB, logger *zerolog.Logger) {
	update := func(event events.Event) error {
		b, err := db.GetBooking(ctx, event.BookingID)
		if err != nil {
			logger.Error().Err(err).Int64("booking_id", event.BookingID).Msg("load booking for sheet push")
			return err
		}
		if err := sheets.UpdateBooking(ctx, b); err != nil {
			logger.Error().Err(err).Int64("booking_id", event.BookingID).Msg("sheet push failed")
			return err
		}
		return nil
	}
	bus.Subscribe(events.BookingCreated, update)
	bus.Subscribe(events.BookingUpdated, update)
	bus.Subscribe(events.BookingCancelled, update)

	if err := sheets.PushUpcoming(ctx, 0); err != nil {
		logger.Error().Err(err).Msg("initial sheet push failed")
	}
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
