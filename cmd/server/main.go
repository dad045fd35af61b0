package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"embervale.gg/internal/persistence/tradelog"
	"embervale.gg/internal/sim/economy"
	"embervale.gg/internal/sim/trade"
	"embervale.gg/internal/sim/tuning"
	"embervale.gg/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		schemasDir = flag.String("schemas", "./schemas", "wire schema directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite settlement index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := *tuningPath
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tun, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("tuning: %v", err)
		}
		tun = tuning.Defaults()
		logger.Printf("tuning: %s not found, using defaults", tp)
	}

	auditLog := tradelog.NewWriter(filepath.Join(*dataDir, "trades"))
	defer auditLog.Close()

	var idx *tradelog.SettlementIndex
	if !*disableDB {
		idx, err = tradelog.OpenSettlementIndex(*dataDir)
		if err != nil {
			logger.Fatalf("settlement index: %v", err)
		}
		defer idx.Close()
	}

	store := economy.NewStore(tun.InventorySlots, tun.StartingSpark)
	trades := trade.NewService(trade.Limits{
		MaxOfferItems:      tun.MaxOfferItems,
		RequestWindowTicks: uint64(tun.RateLimits.RequestTradeWindowTicks),
		RequestMax:         tun.RateLimits.RequestTradeMax,
	})
	trades.SetAuditLogger(tradelog.NewRecorder(auditLog, idx))

	// Logical clock: one tick loop drives timestamps for every operation.
	var tick atomic.Uint64
	tickRate := tun.TickRateHz
	if tickRate <= 0 {
		tickRate = 5
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			tick.Add(1)
		}
	}()

	gateway, err := ws.NewServer(trades, store, *schemasDir, tick.Load, logger)
	if err != nil {
		logger.Fatalf("ws: %v", err)
	}
	trades.SetNotifySink(gateway.Deliver)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", gateway.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Printf("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
