/*
main.go - Application entry point

PURPOSE:
  Starts the registration engine HTTP server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (viper: defaults, -config YAML, REGISTRATION_* env)
  2. Build the logrus logger
  3. Open the SQLite store (auto-migrates)
  4. Seed coupons from coupons.seed_file, skipping codes that exist
  5. Wire services and router (demo scenario routes if demo.scenarios)
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection

EXAMPLES:
  ./server -config=./configs/config.yaml
  REGISTRATION_DATABASE_PATH=":memory:" REGISTRATION_LOG_FORMAT=json ./server

SEE ALSO:
  - config/config.go: Keys and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/registration-engine/api"
	"github.com/warp/registration-engine/config"
	"github.com/warp/registration-engine/enrollment"
	"github.com/warp/registration-engine/factory"
	"github.com/warp/registration-engine/logging"
	"github.com/warp/registration-engine/notify"
	"github.com/warp/registration-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	log := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	handler := api.NewHandler(store, notify.NewLogPublisher(log), log)
	handler.Ping = store.Ping
	if cfg.Demo.Scenarios {
		handler.Reset = store.Reset
		log.Warn("demo scenarios enabled: POST /api/scenarios/load resets the database")
	}

	if cfg.Coupons.SeedFile != "" {
		if err := seedCoupons(context.Background(), handler.Coupons, cfg.Coupons.SeedFile, log); err != nil {
			log.WithError(err).Fatal("failed to seed coupons")
		}
	}

	router := api.NewRouter(handler, cfg.CORS.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	log.Info("server stopped")
}

// seedCoupons creates every coupon in path whose code is not stored yet.
func seedCoupons(ctx context.Context, ledger *enrollment.CouponLedger, path string, log logrus.FieldLogger) error {
	coupons, err := factory.NewCouponFactory().LoadFile(path)
	if err != nil {
		return err
	}

	created := 0
	for _, c := range coupons {
		_, err := ledger.Create(ctx, c)
		if errors.Is(err, enrollment.ErrDuplicateCoupon) {
			continue
		}
		if err != nil {
			return err
		}
		created++
	}
	log.WithFields(logrus.Fields{"file": path, "created": created, "total": len(coupons)}).Info("coupons seeded")
	return nil
}
