package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"relaygate.org/internal/access"
	"relaygate.org/internal/config"
	"relaygate.org/internal/events"
	"relaygate.org/internal/httpapi"
	"relaygate.org/internal/intake"
	"relaygate.org/internal/obs"
)

var version = "0.3.1"

func main() {
	configPath := flag.String("config", "relaygate.yaml", "path to the YAML config file")
	flag.Parse()

	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("RELAYGATE_COMMIT"))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Подключение к БД (если задан DSN); без DSN работаем на in-memory
	// хранилищах — удобно для локальной разработки и smoke-тестов.
	var db *sql.DB
	var accessStore access.Store
	var intakeStore intake.Store
	if cfg.Postgres.DSN != "" {
		db, err = sql.Open("pgx", cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		accessStore = access.NewPGStore(db)
		intakeStore = intake.NewPGStore(db)
	} else {
		log.Println("RELAYGATE_PG_DSN is empty, using in-memory stores")
		accessStore = access.NewInMemory()
		intakeStore = intake.NewInMemory()
	}

	resolver := access.NewResolver(accessStore)
	accessSvc := access.NewService(accessStore)
	intakeSvc := intake.NewService(intakeStore)

	// HTTP API
	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, resolver, accessSvc, intakeSvc, events.New())
	api.SetLimits(cfg.Server.RateBurst, cfg.Server.RatePerSec, cfg.Server.MaxBodyBytes)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting relaygate-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
