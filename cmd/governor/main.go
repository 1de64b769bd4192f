package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mwork/chat-governor/internal/config"
	"github.com/mwork/chat-governor/internal/domain/activity"
	"github.com/mwork/chat-governor/internal/domain/admission"
	"github.com/mwork/chat-governor/internal/domain/ban"
	"github.com/mwork/chat-governor/internal/domain/enforcement"
	"github.com/mwork/chat-governor/internal/domain/operator"
	"github.com/mwork/chat-governor/internal/domain/removal"
	"github.com/mwork/chat-governor/internal/middleware"
	"github.com/mwork/chat-governor/internal/pkg/database"
	"github.com/mwork/chat-governor/internal/pkg/discord"
	"github.com/mwork/chat-governor/internal/pkg/jwt"
	"github.com/mwork/chat-governor/internal/pkg/logger"
	"github.com/mwork/chat-governor/internal/pkg/notice"
	pkgresponse "github.com/mwork/chat-governor/internal/pkg/response"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	if errs := cfg.Validate(); errs != nil {
		log.Fatal().Interface("errors", errs).Msg("Invalid configuration")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Bool("enforcer_enabled", cfg.EnforcerEnabled).
		Msg("Starting chat governor")

	clk := clockwork.NewRealClock()

	// ---------- Storage ----------
	var db *sqlx.DB
	var banRepo ban.Repository
	if cfg.DatabaseURL != "" {
		var err error
		db, err = database.NewPostgres(cfg.DatabaseURL, cfg.DBMaxOpenConns)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer database.ClosePostgres(db)

		migrateCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err = database.Migrate(migrateCtx, db)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		banRepo = ban.NewRepository(db)
	} else {
		log.Warn().Msg("DATABASE_URL not configured, bans kept in memory")
		banRepo = ban.NewMemoryRepository()
	}

	rdb, err := database.NewRedis(cfg.RedisURL, cfg.RedisPoolSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	var stats activity.Store
	if rdb != nil {
		stats = activity.NewRedisStore(rdb, activity.WithRetention(cfg.StatRetention))
	} else {
		stats = activity.NewMemoryStore(cfg.StatRetention, clk)
	}

	// ---------- Transport ----------
	var bot *discord.Bot
	var transport removal.Transport = discord.LogTransport{}
	if cfg.DiscordBotToken != "" {
		bot, err = discord.NewBot(cfg.DiscordBotToken)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Discord session")
		}
		transport = bot
	} else {
		log.Warn().Msg("DISCORD_BOT_TOKEN not configured, transport disabled")
	}

	// ---------- Services ----------
	notices := notice.New(cfg.NoticeLocale)
	banService := ban.NewService(banRepo, clk)
	remover := removal.NewRemover(transport, cfg.RemovalRatePerSecond, cfg.RemovalBurst)
	gate := admission.NewGate(banService, remover, notices, admission.Config{
		MinPopulation: cfg.MinChatPopulation,
		OperatorIDs:   cfg.OperatorIDs,
	})

	acc := activity.NewAccumulator()
	flusher := activity.NewFlusher(acc, stats, cfg.FlushInterval(), clk)
	enforcer := enforcement.NewEnforcer(stats, banService, remover, notices, enforcement.Config{
		Enabled:       cfg.EnforcerEnabled,
		Interval:      cfg.EnforcerInterval(),
		SymbolsLimit:  int64(cfg.SymbolsPerDayLimit),
		MessagesLimit: int64(cfg.MessagesPerDayLimit),
	}, clk)

	flusher.Start()
	enforcer.Start()

	if bot != nil {
		bot.Bind(gate, acc)
		if err := bot.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Discord")
		}
	}

	// ---------- Router ----------
	jwtService := jwt.NewService(cfg.JWTSecret, cfg.OperatorJWTTTL)
	authMiddleware := middleware.Auth(jwtService)
	operatorHandler := operator.NewHandler(banService, gate, remover, notices, stats, acc, clk)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", healthHandler(db, rdb))

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/chats", operatorHandler.Routes(authMiddleware))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down governor...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if bot != nil {
		bot.Stop()
	}
	stopWorkers(enforcer, flusher, 20*time.Second, 10*time.Second)

	log.Info().Msg("Governor exited properly")
}

type stopper interface {
	Stop(ctx context.Context)
}

// stopWorkers drains the enforcer and then runs the final flush.
// Each gets its own budget so a slow scan cannot starve the flush.
func stopWorkers(enforcer, flusher stopper, scanBudget, flushBudget time.Duration) {
	scanCtx, scanCancel := context.WithTimeout(context.Background(), scanBudget)
	enforcer.Stop(scanCtx)
	scanCancel()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), flushBudget)
	defer flushCancel()
	flusher.Stop(flushCtx)
}

func healthHandler(db *sqlx.DB, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok", "postgres": "memory", "redis": "memory"}
		healthy := true

		if db != nil {
			status["postgres"] = "ok"
			if err := db.PingContext(ctx); err != nil {
				status["postgres"] = "unreachable"
				healthy = false
			}
		}
		if rdb != nil {
			status["redis"] = "ok"
			if err := rdb.Ping(ctx).Err(); err != nil {
				status["redis"] = "unreachable"
				healthy = false
			}
		}

		if !healthy {
			status["status"] = "degraded"
			pkgresponse.JSON(w, http.StatusServiceUnavailable, status)
			return
		}
		pkgresponse.OK(w, status)
	}
}
