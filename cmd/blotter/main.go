package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/quickfixgo/quickfix"
	filestore "github.com/quickfixgo/quickfix/store/file"
	"go.uber.org/zap/zapcore"

	"github.com/mdeadwiler/pf-blotter-fix/params"
	"github.com/mdeadwiler/pf-blotter-fix/pkg/api"
	"github.com/mdeadwiler/pf-blotter-fix/pkg/audit"
	"github.com/mdeadwiler/pf-blotter-fix/pkg/blotter"
	"github.com/mdeadwiler/pf-blotter-fix/pkg/fix"
	"github.com/mdeadwiler/pf-blotter-fix/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	logger, err := util.NewLoggerWithFile(cfg.LogFile, level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile)

	// ---- Audit journal ----
	journal, err := audit.Open(cfg.AuditDB, util.RealClock{}, sugar)
	if err != nil {
		sugar.Fatalw("audit journal", "path", cfg.AuditDB, "err", err)
	}
	defer journal.Close()
	journal.LogSystem("STARTUP", "blotter starting")

	// ---- FIX plumbing ----
	registry := fix.NewRegistry(nil, sugar)
	engine := blotter.NewEngine(blotter.EngineOpts{
		Outbound:           fix.NewBridge(registry),
		Clock:              util.RealClock{},
		Logger:             sugar,
		ReassociateOnLogon: cfg.Blotter.ReassociateOnLogon,
	})
	fixApp := fix.NewApp(registry, engine, sugar)

	settingsFile, err := os.Open(cfg.FixConfig)
	if err != nil {
		sugar.Fatalw("fix config", "path", cfg.FixConfig, "err", err)
	}
	settings, err := quickfix.ParseSettings(settingsFile)
	settingsFile.Close()
	if err != nil {
		sugar.Fatalw("fix settings", "err", err)
	}

	logFactory, err := quickfix.NewFileLogFactory(settings)
	if err != nil {
		sugar.Fatalw("fix log factory", "err", err)
	}
	initiator, err := quickfix.NewInitiator(fixApp, filestore.NewStoreFactory(settings), settings, logFactory)
	if err != nil {
		sugar.Fatalw("fix initiator", "err", err)
	}
	if err := initiator.Start(); err != nil {
		sugar.Fatalw("fix start", "err", err)
	}
	defer initiator.Stop()

	// ---- HTTP surface ----
	server := api.NewServer(api.ServerOpts{
		Engine:        engine,
		Registry:      registry,
		Journal:       journal,
		OrdersPerMin:  cfg.HTTP.OrdersPerMin,
		CancelsPerMin: cfg.HTTP.CancelsPerMin,
		TrustProxy:    cfg.HTTP.TrustProxy,
	})

	// Every state change fans out to websocket subscribers and the journal.
	engine.OnUpdate = func(ord blotter.Order) {
		server.BroadcastOrder(ord)
		journal.Log("ORDER_UPDATE", ord.ClOrdID, ord.Status.String())
	}

	go func() {
		if err := server.Start(cfg.HTTP.Addr); err != nil {
			sugar.Fatalw("http server", "err", err)
		}
	}()
	sugar.Infow("blotter_started", "http", cfg.HTTP.Addr, "fix_config", cfg.FixConfig)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	sugar.Infow("shutting_down", "signal", sig.String())
	journal.LogSystem("SHUTDOWN", sig.String())
}
