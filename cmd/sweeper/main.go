package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adhocore/gronx"
	_ "github.com/jackc/pgx/v5/stdlib"

	"relaygate.org/internal/access"
	"relaygate.org/internal/config"
	"relaygate.org/internal/intake"
)

// Свипер — единственный источник временных переходов: таймаут зависших
// pending-сообщений и снятие истёкших suspension. Резолвер эти записи
// никогда не пишет сам.
func main() {
	configPath := flag.String("config", "relaygate.yaml", "path to the YAML config file")
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Postgres.DSN == "" {
		log.Fatal("missing DSN: set RELAYGATE_PG_DSN or postgres.dsn")
	}
	if !gronx.IsValid(cfg.Sweeper.Cron) {
		log.Fatalf("invalid sweeper cron expression: %s", cfg.Sweeper.Cron)
	}

	db, err := sql.Open("pgx", cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	accessSvc := access.NewService(access.NewPGStore(db))
	intakeSvc := intake.NewService(intake.NewPGStore(db))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	if *once {
		sweep(ctx, accessSvc, intakeSvc, cfg.Sweeper.PendingTTL.Std())
		return
	}

	log.Printf("Starting relaygate-sweeper (cron %q, pending ttl %s)", cfg.Sweeper.Cron, cfg.Sweeper.PendingTTL.Std())
	for {
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cfg.Sweeper.Cron, now, false)
		if err != nil {
			log.Printf("next tick: %v", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				log.Println("Stopped")
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			sweep(ctx, accessSvc, intakeSvc, cfg.Sweeper.PendingTTL.Std())
		case <-ctx.Done():
			log.Println("Stopped")
			return
		}
	}
}

func sweep(ctx context.Context, accessSvc *access.Service, intakeSvc *intake.Service, ttl time.Duration) {
	timedOut, err := intakeSvc.SweepTimeouts(ctx, ttl)
	if err != nil {
		log.Printf("sweep timeouts: %v", err)
	} else if timedOut > 0 {
		log.Printf("timed out %d pending messages", timedOut)
	}

	reactivated, err := accessSvc.ReactivateExpired(ctx)
	if err != nil {
		log.Printf("reactivate expired: %v", err)
	} else if reactivated > 0 {
		log.Printf("reactivated %d suspended accounts", reactivated)
	}
}
