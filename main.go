// Command roombot is the chat-room bot service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the durable store (Postgres, SQLite or memory) and migrates it.
//   - Serves the webhook, operator endpoints, /healthz, /readyz and /metrics.
//   - Runs the scheduled jobs: greeting, ranking, forecast, earthquake watch
//     and, when enabled, message polling.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/roombot/chat"
	"github.com/onnwee/roombot/chatwork"
	"github.com/onnwee/roombot/command"
	"github.com/onnwee/roombot/config"
	"github.com/onnwee/roombot/counter"
	"github.com/onnwee/roombot/crypto"
	"github.com/onnwee/roombot/ratelimit"
	"github.com/onnwee/roombot/scheduler"
	"github.com/onnwee/roombot/server"
	"github.com/onnwee/roombot/sources"
	"github.com/onnwee/roombot/store"
	"github.com/onnwee/roombot/telemetry"
)

var version = "dev"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogger()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Warn("chatwork credentials incomplete; outbound calls will fail", slog.Any("err", err))
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("roombot", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()
	slog.Info("telemetry ready", slog.String("version", version), slog.Bool("tracing", telemetry.IsTracingEnabled()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("roombot exited with error", slog.Any("err", err))
		stop()
		shutdown()
		os.Exit(1) //nolint:gocritic // deferred calls were run explicitly above
	}
	slog.Info("shutting down")
}

// setupLogger configures level and format. Defaults: level=info, format=text.
func setupLogger() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func run(ctx context.Context, cfg *config.Config) error {
	st, closeStore, err := store.Open(ctx, cfg.StoreBackend, cfg.DBDsn, cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Error("failed to close store", slog.Any("err", err))
		}
	}()

	gov := ratelimit.New(cfg.RateLimit, cfg.RateWindow)
	telemetry.WatchGovernor(gov.InFlight)
	client := chatwork.NewClient(cfg.ChatworkBaseURL, cfg.ChatworkToken, gov)
	gw := sources.New(sources.Config{
		WikiBaseURL:    cfg.WikiBaseURL,
		WeatherBaseURL: cfg.WeatherBaseURL,
		QuakeBaseURL:   cfg.QuakeBaseURL,
		YesNoURL:       cfg.YesNoURL,
		ProfileBaseURL: cfg.ProfileBaseURL,
		ProjectBaseURL: cfg.ProjectBaseURL,
	})
	ctr := counter.New(cfg.Location)

	router := command.New(client, gw, st, ctr)
	router.Location = cfg.Location
	router.ModerationMin = cfg.ModerationMinEmoji
	router.DefaultToggles = command.Toggles{
		AdminBoost: cfg.ToggleAdminBoost,
		Party:      cfg.ToggleParty,
		Favorites:  cfg.ToggleFavorites,
	}
	if cfg.KeywordsFile != "" {
		kw, err := command.LoadKeywords(cfg.KeywordsFile)
		if err != nil {
			return err
		}
		router.Keywords = kw
	}

	pipeline := chat.NewPipeline(st, ctr, router, client)
	pipeline.History = chat.History{Client: client}
	pipeline.Rooms = client
	pipeline.BotAccountID = cfg.BotAccountID

	jobs := scheduler.NewJobs(cfg, client, st)
	jobs.Counter = ctr
	jobs.Tally = pipeline
	jobs.Weather = gw
	jobs.Quakes = &sources.QuakeWatcher{
		Gateway: gw,
		Store:   st,
		Filter:  sources.QuakeFilter{MinScale: cfg.QuakeMinScale, Regions: cfg.QuakeRegions},
	}
	if cfg.PollEnabled {
		jobs.Poller = &chat.Poller{
			Client:        client,
			Pipeline:      pipeline,
			Store:         st,
			RoomsPerCycle: cfg.RoomsPerCycle,
			Pacing:        cfg.RoomPacing,
			Started:       time.Now(),
		}
	}
	sched := scheduler.New(cfg.Location)
	if err := jobs.Register(sched); err != nil {
		return err
	}

	var verifier crypto.Verifier = crypto.NoopVerifier{}
	if cfg.ChatworkWebhookToken != "" {
		v, err := crypto.NewHMACVerifier(cfg.ChatworkWebhookToken)
		if err != nil {
			return err
		}
		verifier = v
	} else {
		slog.Warn("CHATWORK_WEBHOOK_TOKEN not set; webhook signatures are not checked")
	}

	h := &server.Handlers{
		Pipeline:        pipeline,
		Sender:          client,
		Counter:         ctr,
		Tally:           pipeline,
		Store:           st,
		Jobs:            sched,
		Verifier:        verifier,
		TokenConfigured: cfg.ChatworkToken != "",
	}

	startPprof()

	sched.Start(ctx)
	defer sched.Stop()
	slog.Info("scheduler started", slog.Any("jobs", sched.Names()), slog.String("tz", cfg.Location.String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(gctx, cfg, h); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return g.Wait()
}

// startPprof enables profiling endpoints in debug mode (ENABLE_PPROF=1).
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
