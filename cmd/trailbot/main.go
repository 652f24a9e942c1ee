package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/raykavin/trailbot/config"
	"github.com/raykavin/trailbot/core"
	"github.com/raykavin/trailbot/exchange/binance"
	"github.com/raykavin/trailbot/exchange/kraken"
	"github.com/raykavin/trailbot/logger"
	zerologadapter "github.com/raykavin/trailbot/logger/zerolog"
	"github.com/raykavin/trailbot/notification"
	"github.com/raykavin/trailbot/storage"
	"github.com/raykavin/trailbot/strategy"
	"github.com/raykavin/trailbot/trailing"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "trailbot",
		Short:   "Trailing-stop trading daemon",
		Version: "1.0.0",
	}

	rootCmd.AddCommand(buildRunCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading daemon",
		RunE:  runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)

	pairs, exc, err := initializeExchange(cfg, log)
	if err != nil {
		return err
	}

	store, err := storage.NewFileStateStore(cfg.StateFile)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}

	closed, err := openClosedLog(cfg)
	if err != nil {
		return fmt.Errorf("failed to open closed-positions log: %w", err)
	}
	defer closed.Close()

	pause := &trailing.PauseFlag{}

	bot, err := notification.NewTelegram(
		cfg.TelegramToken,
		cfg.AllowedUserID,
		cfg.PollInterval,
		pause,
		store,
		exc,
		pairs,
		cfg.Mode,
		log,
	)
	if err != nil {
		return err
	}

	engine := trailing.NewEngine(
		exc,
		closed,
		strategy.All(cfg.Params),
		cfg.Mode,
		cfg.Params,
		log,
		trailing.WithNotifier(bot),
	)

	scheduler := trailing.NewScheduler(engine, exc, store, pairs, cfg.SleepInterval, pause, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bot.Start()
	defer bot.Stop()

	log.Infof("daemon started: exchange=%s mode=%s pairs=%d interval=%s",
		cfg.Exchange, cfg.Mode, len(pairs), cfg.SleepInterval)

	return scheduler.Run(ctx)
}

func openClosedLog(cfg *config.Config) (core.ClosedLog, error) {
	if dir := filepath.Dir(cfg.ClosedDB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	if cfg.ClosedBackend == config.ClosedBackendSQLite {
		return storage.NewSQLiteClosedLog(cfg.ClosedDB)
	}
	return storage.NewBuntClosedLog(cfg.ClosedDB)
}

// initializeExchange resolves the configured pair names against the selected
// backend and builds its port.
func initializeExchange(cfg *config.Config, log logger.Logger) ([]core.Pair, core.Exchange, error) {
	switch cfg.Exchange {
	case config.ExchangeKraken:
		pairs, err := kraken.ResolvePairs(cfg.PairNames)
		if err != nil {
			return nil, nil, err
		}
		exc, err := kraken.NewExchange(cfg.KrakenKey, cfg.KrakenSecret, pairs, cfg.ATRDataDays, log)
		if err != nil {
			return nil, nil, err
		}
		return pairs, exc, nil

	case config.ExchangeBinance:
		pairs, err := binance.ResolvePairs(cfg.PairNames)
		if err != nil {
			return nil, nil, err
		}
		return pairs, binance.NewExchange(cfg.BinanceKey, cfg.BinanceSecret, pairs, cfg.ATRDataDays, log), nil

	default:
		return nil, nil, fmt.Errorf("unknown exchange: %q", cfg.Exchange)
	}
}

func newLogger(level string) logger.Logger {
	zl, err := zerolog.ParseLevel(level)
	if err != nil {
		zl = zerolog.InfoLevel
	}

	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	base := zerolog.New(writer).Level(zl).With().Timestamp().Logger()

	return zerologadapter.NewAdapter(&base)
}
