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
	"github.com/mdeadwiler/pf-blotter-fix/pkg/marketsim"
	"github.com/mdeadwiler/pf-blotter-fix/pkg/util"
)

// marketsim is the play exchange: a FIX acceptor that acks, rejects, fills
// and cancels orders against a random-walk price feed. The blotter connects
// to it for end-to-end runs.
func main() {
	cfg := params.LoadFromEnv("")

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	logger, err := util.NewLogger(level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	market := marketsim.New(cfg.Sim.Seed, cfg.Sim.StartPrice, cfg.Sim.Step)
	app := marketsim.NewApp(market, sugar)

	fixConfig := os.Getenv("FIX_ACCEPTOR_CONFIG")
	if fixConfig == "" {
		fixConfig = "config/acceptor.cfg"
	}
	settingsFile, err := os.Open(fixConfig)
	if err != nil {
		sugar.Fatalw("fix config", "path", fixConfig, "err", err)
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
	acceptor, err := quickfix.NewAcceptor(app, filestore.NewStoreFactory(settings), settings, logFactory)
	if err != nil {
		sugar.Fatalw("fix acceptor", "err", err)
	}
	if err := acceptor.Start(); err != nil {
		sugar.Fatalw("fix start", "err", err)
	}
	defer acceptor.Stop()

	app.StartFillLoop(cfg.Sim.FillInterval)
	defer app.StopFillLoop()

	sugar.Infow("marketsim_started", "fix_config", fixConfig, "seed", cfg.Sim.Seed)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	sugar.Infow("shutting_down", "signal", sig.String())
}
