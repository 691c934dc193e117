package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"darkhold/internal/analytics"
	"darkhold/internal/auth"
	"darkhold/internal/chat"
	"darkhold/internal/classifier"
	"darkhold/internal/config"
	"darkhold/internal/history"
	"darkhold/internal/llm"
	"darkhold/internal/marvel"
	"darkhold/internal/matcher"
	"darkhold/internal/metrics"
	"darkhold/internal/orchestrator"
	"darkhold/internal/scheduler"
	"darkhold/internal/storage"
	"darkhold/internal/telegram"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logger.Warn("storage_close_failed", zap.Error(err))
		}
	}()

	m, err := buildMatcher(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(reg)

	gateway, err := llm.NewGatewayFromConfig(ctx, cfg, logger, met)
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}

	var lookup orchestrator.CharacterLookup
	if cfg.MarvelPublicKey != "" && cfg.MarvelPrivateKey != "" {
		lookup = marvel.NewClient(cfg.MarvelBaseURL, cfg.MarvelPublicKey, cfg.MarvelPrivateKey,
			marvel.WithHTTPClient(&http.Client{Timeout: cfg.BackendTimeout}))
	} else {
		logger.Warn("marvel_keys_missing", zap.String("effect", "character queries use the generator"))
	}

	timing := orchestrator.Timing{
		InitialGreeting: cfg.InitialGreetingDelay,
		ClearGreeting:   cfg.ClearGreetingDelay,
		Greeting:        cfg.GreetingDelay,
		CharacterReply:  cfg.CharacterReplyDelay,
		StreamWord:      cfg.StreamWordDelay,
		Backend:         cfg.BackendTimeout,
	}
	cls := classifier.New(m)
	factory := func(chatID int64, obs orchestrator.Observer) *orchestrator.Session {
		return orchestrator.New(orchestrator.Deps{
			Store:      history.NewStore(kv, strconv.FormatInt(chatID, 10)),
			Classifier: cls,
			Matcher:    m,
			Lookup:     lookup,
			Generator:  gateway,
			Observer:   obs,
			Logger:     logger.With(zap.Int64("chat_id", chatID)),
			Metrics:    met,
		}, timing)
	}

	authSvc, err := auth.New(kv, cfg.AllowedUsers, auth.WithOpenAccess(cfg.OpenAccess))
	if err != nil {
		return err
	}
	bot, err := telegram.New(cfg.TelegramBotToken, logger, authSvc, factory, cfg.StreamEditsPerSecond)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}
	defer bot.Close()

	srv := serveMetrics(cfg.MetricsAddr, reg, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	sched := scheduler.New(logger)
	sched.SetReportFunction(func(ctx context.Context) error {
		stats, err := dailyReport(kv, time.Now().UTC())
		if err != nil {
			return err
		}
		summary := stats.GenerateReportSummary()
		logger.Info("daily_report", zap.String("date", stats.Date), zap.Int("user_messages", stats.UserMessages))
		bot.Notify(summary)
		return nil
	})
	if err := sched.Start(cfg.ReportSchedule); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	bot.Start(ctx)
	logger.Info("bot_stopped")
	return nil
}

func buildMatcher(cfg *config.Config) (*matcher.Matcher, error) {
	records := matcher.DefaultGazetteer()
	if cfg.GazetteerPath != "" {
		var err error
		records, err = matcher.LoadGazetteerFile(cfg.GazetteerPath)
		if err != nil {
			return nil, fmt.Errorf("load gazetteer: %w", err)
		}
	}
	return matcher.New(records, cfg.CandidateThreshold, cfg.AcceptThreshold), nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if addr == "" {
		return srv
	}
	go func() {
		logger.Info("metrics_listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", zap.Error(err))
		}
	}()
	return srv
}

// dailyReport aggregates every persisted session for the given day.
func dailyReport(kv storage.Store, day time.Time) (*analytics.DailyStats, error) {
	sessions, err := history.Sessions(kv)
	if err != nil {
		return nil, err
	}
	logs := make(map[string][]chat.Message, len(sessions))
	for _, s := range sessions {
		msgs, err := history.NewStore(kv, s).Load()
		if err != nil {
			return nil, err
		}
		logs[s] = msgs
	}
	return analytics.AnalyzeDay(logs, day), nil
}
