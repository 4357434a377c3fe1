package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwrk-planet/aidchat/config"
	"github.com/cwrk-planet/aidchat/internal/gateway"
	"github.com/cwrk-planet/aidchat/internal/geocode"
	"github.com/cwrk-planet/aidchat/internal/hub"
	"github.com/cwrk-planet/aidchat/internal/memory"
	"github.com/cwrk-planet/aidchat/internal/postgres"
	"github.com/cwrk-planet/aidchat/internal/repository"
	"github.com/cwrk-planet/aidchat/internal/security"
	"github.com/cwrk-planet/aidchat/internal/service"
	grpcx "github.com/cwrk-planet/aidchat/internal/transport/grpc"
	httpx "github.com/cwrk-planet/aidchat/internal/transport/http"
	"github.com/cwrk-planet/aidchat/internal/transport/ws"
	"github.com/cwrk-planet/aidchat/pkg/logger"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	defer logger.Sync()
	slog.Info("starting aidchat",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "storage", cfg.Storage.Driver)

	if cfg.Logging.Tracing {
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	// --- storage ---
	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to init storage", slog.Any("err", err))
		os.Exit(1)
	}
	defer store.Close()

	// --- security ---
	signer, err := newSigner(cfg.Security.JWT)
	if err != nil {
		slog.Error("failed to init jwt signer", slog.Any("err", err))
		os.Exit(1)
	}
	passCfg := security.BcryptConfig{
		Cost:      cfg.Security.Password.BcryptCost,
		MinLength: cfg.Security.Password.MinLength,
	}

	// --- services ---
	authSvc := service.NewAuthService(store, signer, passCfg, time.Now)
	chatSvc := service.NewChatService(store, store, store,
		service.WithHistoryLimit(cfg.Chat.HistoryLimit),
		service.WithMaxMessageLen(cfg.Chat.MaxMessageLength),
	)

	// --- room registry & session gateway ---
	rooms := hub.New()
	gw := gateway.New(authSvc, store, chatSvc, rooms,
		gateway.WithLookupTimeout(cfg.Chat.LookupTimeout),
		gateway.WithHistoryLimit(cfg.Chat.HistoryLimit),
	)

	// шлюз выселяет живые сессии при потере членства
	groupSvc := service.NewGroupService(store, store, gw, time.Now)
	seed := service.AdminSeed{Username: cfg.Admin.Username, Email: cfg.Admin.Email, Password: cfg.Admin.Password}
	adminSvc := service.NewAdminService(store, authSvc, gw, seed, time.Now)

	var geo service.Geocoder
	if cfg.Geocoding.Enabled() {
		geo = geocode.NewZippopotam(cfg.Geocoding.BaseURL, cfg.Geocoding.Country, cfg.Geocoding.Timeout)
	}
	activitySvc := service.NewActivityService(store, store, geo)

	if err := authSvc.EnsureAdmin(ctx, seed); err != nil {
		slog.Error("failed to seed admin", slog.Any("err", err))
		os.Exit(1)
	}

	// --- WS ---
	wsServer := ws.NewServer(gw, ws.Config{
		PingEvery:      cfg.Chat.PingInterval,
		ReadLimit:      cfg.Chat.ReadLimit,
		SendRate:       cfg.Chat.SendRate,
		SendBurst:      cfg.Chat.SendBurst,
		OutboundBuffer: cfg.Chat.OutboundBuffer,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	// --- HTTP ---
	router := httpx.NewRouter(httpx.Deps{
		Handler:        httpx.NewHandler(authSvc, groupSvc, chatSvc, adminSvc, activitySvc),
		Verifier:       authSvc,
		WS:             wsServer.HandleWS,
		Sessions:       gw.Sessions,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// --- gRPC ---
	var grpcServer *grpc.Server
	if cfg.GRPC.Addr != "" {
		grpcServer = grpcx.NewGRPCServer(grpcx.NewServer(gw, groupSvc, chatSvc, cfg.Chat.OutboundBuffer), authSvc)
	}

	// --- run servers ---
	errCh := make(chan error, 2)

	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if grpcServer != nil {
		go func() {
			lis, err := net.Listen("tcp", cfg.GRPC.Addr)
			if err != nil {
				errCh <- err
				return
			}
			slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	_ = httpSrv.Shutdown(ctxShutdown)
	// hijacked websocket соединения Shutdown не закрывает
	gw.EvictAll(service.ReasonShutdown)
	slog.Info("stopped", "sessions_left", gw.Sessions())
}

// openStore выбирает драйвер хранилища; postgres применяет схему при старте.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Storage.Postgres.ToPGConfig())
		if err != nil {
			return nil, err
		}
		st := postgres.New(pool, time.Now)
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		slog.Info("connected to postgres")
		return st, nil
	default:
		return memory.New(time.Now), nil
	}
}

// newSigner читает RSA ключи; без путей (dev) генерирует ключ на время процесса.
func newSigner(cfg config.JWT) (*security.JWTSigner, error) {
	var (
		private *rsa.PrivateKey
		public  *rsa.PublicKey
		err     error
	)
	if cfg.Ephemeral() {
		slog.Warn("jwt keys not configured, generating ephemeral key")
		if private, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			return nil, err
		}
		public = &private.PublicKey
	} else {
		if private, err = security.LoadRSAPrivateKeyFromPEM(cfg.PrivateKeyPath); err != nil {
			return nil, err
		}
		if public, err = security.LoadRSAPublicKeyFromPEM(cfg.PublicKeyPath); err != nil {
			return nil, err
		}
	}
	return security.NewJWTSigner(private, public, cfg.Issuer, cfg.Audience, cfg.AccessTTL, cfg.ClockSkew), nil
}
