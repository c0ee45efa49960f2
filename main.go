package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zots0127/tempstore/pkg/api/handler"
	"github.com/zots0127/tempstore/pkg/cleanup"
	"github.com/zots0127/tempstore/pkg/clock"
	"github.com/zots0127/tempstore/pkg/config"
	"github.com/zots0127/tempstore/pkg/quota"
	"github.com/zots0127/tempstore/pkg/registry"
	"github.com/zots0127/tempstore/pkg/session"
	"github.com/zots0127/tempstore/pkg/stats"
	"github.com/zots0127/tempstore/pkg/storage"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	clk := clock.New()

	var store storage.ObjectStorage = storage.Nop{}
	if cfg.Storage.Enabled {
		s3Store, err := storage.NewS3Storage(cfg.Storage.Region, cfg.Storage.Endpoint)
		if err != nil {
			log.Fatal("Failed to initialize object storage: ", err)
		}
		store = s3Store
	}

	ledger := quota.NewLedger(cfg.Quota, clk)
	sessions := session.NewAggregator(time.Duration(cfg.Expiry.DefaultSessionHours)*time.Hour, clk)
	reg := registry.NewRegistry(cfg, ledger, sessions, store, clk)

	engine, err := cleanup.NewEngine(cfg.Cleanup.Policies)
	if err != nil {
		log.Fatal("Invalid cleanup policy configuration: ", err)
	}

	var history *cleanup.HistoryStore
	if cfg.Cleanup.HistoryDB != "" {
		history, err = cleanup.NewHistoryStore(cfg.Cleanup.HistoryDB)
		if err != nil {
			log.Printf("Cleanup history disabled: %v", err)
		} else {
			defer history.Close()
		}
	}

	janitor := cleanup.NewJanitor(reg, engine, sessions, history, clk, cfg.Cleanup.PruneExpiredSessions)

	scheduler, err := cleanup.NewScheduler(janitor, cfg.Cleanup.Schedule)
	if err != nil {
		log.Fatal("Failed to create cleanup scheduler: ", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	reporter := stats.NewReporter(reg, clk)

	api := handler.NewAPI(reg, ledger, sessions, janitor, history, reporter)

	router := gin.Default()
	api.RegisterRoutes(router)
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		log.Printf("Starting server on %s", addr)
		if err := router.Run(addr); err != nil {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down")
}
