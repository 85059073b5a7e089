package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-lead-agent/internal/agent"
	"voice-lead-agent/internal/auth"
	"voice-lead-agent/internal/config"
	"voice-lead-agent/internal/httpapi"
	"voice-lead-agent/internal/lead"
	"voice-lead-agent/internal/rbac"
	"voice-lead-agent/internal/realtime"
	"voice-lead-agent/internal/reporting"
	"voice-lead-agent/internal/telephony"
	"voice-lead-agent/pkg/logger"
	"voice-lead-agent/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const callSlotsKey = "voice-lead-agent:calls"

func main() {
	// Cancelled on SIGINT/SIGTERM. It is also the base context of every request,
	// so open media streams see the shutdown and end their calls.
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	store, closeStore, err := openLeadStore(rootCtx, cfg, log)
	if err != nil {
		log.Error("lead store init failed", "store", cfg.Leads.Store, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	limiter, closeLimiter, err := newLimiter(rootCtx, cfg)
	if err != nil {
		log.Error("call limiter init failed", "err", err)
		os.Exit(1)
	}
	defer closeLimiter()

	registry := agent.NewRegistry(agent.Options{
		Store: store,
		Endpoint: func(h realtime.Handlers) agent.Endpoint {
			return realtime.New(realtime.Config{
				URL:    cfg.OpenAI.RealtimeURL,
				Model:  cfg.OpenAI.Model,
				APIKey: cfg.OpenAI.APIKey,
				Voice:  cfg.OpenAI.Voice,
			}, h, log)
		},
		Log: log,
	}, limiter)

	webhooks := telephony.WebhookHandler{
		PublicURL: cfg.App.PublicURL,
		Starter: func(ctx context.Context, st telephony.StreamStart, out *telephony.MediaStream) (telephony.Session, error) {
			a, err := registry.Start(ctx, st.PhoneNumber, out)
			if err != nil {
				return nil, err
			}
			logger.From(ctx).Info("call started",
				"lead_id", a.ID(),
				"call_sid", st.CallSID,
				"stream_sid", st.StreamSID,
			)
			return a, nil
		},
	}

	api := httpapi.Handlers{
		Leads:     store,
		Reports:   reporting.NewService(store),
		Calls:     registry,
		PublicURL: cfg.App.PublicURL,
	}
	if cfg.OutboundEnabled() {
		tw, err := telephony.NewTwilioClient(telephony.TwilioConfig{
			AccountSID:  cfg.Twilio.AccountSID,
			AuthToken:   cfg.Twilio.AuthToken,
			PhoneNumber: cfg.Twilio.PhoneNumber,
		}, log)
		if err != nil {
			log.Error("twilio client init failed", "err", err)
			os.Exit(1)
		}
		api.Dialer = tw
	}

	authMW, err := operatorAuth(cfg, log)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, api, webhooks, authMW)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return rootCtx },
	}

	go func() {
		log.Info("api listening",
			"addr", srv.Addr,
			"env", cfg.App.Env,
			"leads_store", cfg.Leads.Store,
			"max_concurrent_calls", cfg.Calls.MaxConcurrent,
			"outbound", cfg.OutboundEnabled(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated", "active_calls", registry.Len())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Error("ending active calls failed", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

func openLeadStore(ctx context.Context, cfg config.Config, log *slog.Logger) (lead.Store, func(), error) {
	if cfg.Leads.Store != config.LeadsStorePostgres {
		return lead.NewJSONLStore(cfg.Leads.File, log), func() {}, nil
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, nil, err
	}
	if err := lead.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return lead.NewPostgresStore(db, log), func() { _ = db.Close() }, nil
}

// newLimiter shares the call cap through Redis when it is configured.
func newLimiter(ctx context.Context, cfg config.Config) (agent.Limiter, func(), error) {
	if cfg.RedisAddr() == "" {
		return agent.NewLocalLimiter(cfg.Calls.MaxConcurrent), func() {}, nil
	}
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		return nil, nil, err
	}
	l := agent.NewRedisLimiter(rdb, callSlotsKey, cfg.Calls.MaxConcurrent, cfg.Calls.SlotTTL)
	return l, func() { _ = rdb.Close() }, nil
}

// operatorAuth guards the operator API. Without a JWT secret (never in production)
// every request acts as a local admin.
func operatorAuth(cfg config.Config, log *slog.Logger) (gin.HandlerFunc, error) {
	if cfg.Auth.JWTSecret == "" {
		log.Warn("JWT_SECRET not set; operator API is unauthenticated")
		return auth.AllowAll("local", rbac.RoleAdmin), nil
	}
	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, err
	}
	return auth.RequireAccessToken(m), nil
}
