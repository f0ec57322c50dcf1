package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"google.golang.org/grpc"

	"github.com/Dakshin211/soulsync-vibes-connect/config"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/directory"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/postgres"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/profile"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/security"
	httpserver "github.com/Dakshin211/soulsync-vibes-connect/internal/server/http"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/service"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/docstore"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/memory"
	storeredis "github.com/Dakshin211/soulsync-vibes-connect/internal/store/redis"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/sqlite"
	grpcx "github.com/Dakshin211/soulsync-vibes-connect/internal/transport/grpc"
	httpx "github.com/Dakshin211/soulsync-vibes-connect/internal/transport/http"
	httpmw "github.com/Dakshin211/soulsync-vibes-connect/internal/transport/http/middleware"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/transport/ws"
	"github.com/Dakshin211/soulsync-vibes-connect/pkg/logger"
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
	slog.Info("starting room-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "store", cfg.Store.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- store ---
	backend, extraProfiles, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("store backend: %v", err)
	}
	defer closeBackend()

	engine, err := docstore.Open(ctx, backend, docstore.WithLogger(logger.Component("store")))
	if err != nil {
		log.Fatalf("store engine: %v", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			slog.Error("store close", "err", err)
		}
	}()
	serverSession := engine.Session()

	profiles := profile.Chain{profile.NewStoreLookup(serverSession)}
	if extraProfiles != nil {
		profiles = append(profiles, extraProfiles)
	}

	// --- directory & services ---
	dir := directory.New(serverSession, profiles,
		directory.WithoutDisconnectCleanup(),
		directory.WithLogger(logger.Component("directory")))
	roomSvc := service.NewRoomService(dir, profiles, cfg.HTTP.JoinLinkBase)
	memberSvc := service.NewMemberService(dir, profiles)
	memberSvc.SetHeartbeatWindow(cfg.Rooms.Heartbeat())

	// --- auth ---
	var verifier security.TokenVerifier
	if cfg.Auth.PublicKeyPath != "" {
		pub, err := security.LoadRSAPublicKey(cfg.Auth.PublicKeyPath)
		if err != nil {
			log.Fatalf("auth public key: %v", err)
		}
		verifier = security.NewVerifier(pub, security.TokenOptions{
			Issuer:    cfg.Auth.Issuer,
			Audience:  cfg.Auth.Audience,
			ClockSkew: cfg.Auth.Skew(),
		})
	} else {
		slog.Warn("auth: no public key configured, trusting X-User-ID header")
	}
	auth := httpmw.NewAuth(verifier)

	// --- WS Hub & Server ---
	hub := ws.NewHub()
	wsServer := ws.NewServer(hub, engine, auth)
	memberSvc.SetLiveness(hub)

	// --- HTTP ---
	handler := httpx.NewHandler(roomSvc, memberSvc)
	router := httpx.NewRouter(httpx.Deps{
		Handler:        handler,
		Auth:           auth,
		MemberSvc:      memberSvc,
		WS:             wsServer,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})
	read, write, idle := cfg.HTTP.Timeouts()
	httpSrv := httpserver.New(httpserver.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, router)
	httpSrv.OnShutdown(hub.CloseAll)

	// --- gRPC ---
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcx.UnaryServerInterceptor(cfg.GRPC.CallTimeout())),
	)
	grpcx.Register(grpcServer, grpcx.NewServer(roomSvc, auth))

	// --- background: TTL sweep + реактивная сборка пустых комнат ---
	go memberSvc.Run(ctx, cfg.Rooms.Sweep())
	unwatch, err := dir.Watch(ctx, nil)
	if err != nil {
		log.Fatalf("directory watch: %v", err)
	}
	defer unwatch()

	// --- run both servers ---
	errCh := make(chan error, 2)
	httpDone := make(chan struct{})

	go func() {
		defer close(httpDone)
		if err := httpSrv.Run(ctx); err != nil {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	go func() {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			errCh <- err
			return
		}
		slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	// --- graceful shutdown ---
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal")
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}
	stop()

	grpcServer.GracefulStop()
	<-httpDone
	slog.Info("stopped")
}

// openBackend выбирает бэкенд хранилища по store.driver. Для postgres
// дополнительно возвращает профили из таблицы users.
func openBackend(ctx context.Context, cfg *config.Config) (docstore.Backend, profile.Lookup, func(), error) {
	noop := func() {}
	switch cfg.Store.Driver {
	case "sqlite":
		b, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, noop, err
		}
		return b, nil, noop, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPass,
			DB:       cfg.Store.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, noop, fmt.Errorf("redis ping: %w", err)
		}
		return storeredis.New(client, cfg.Store.RedisPrefix), nil, func() { _ = client.Close() }, nil

	case "postgres":
		pgCfg := postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.ConnLifetime(),
			ApplicationName: cfg.Logging.Service,
		}
		if cfg.Logging.Debug {
			pgCfg.QueryLog = logger.Component("postgres")
		}
		pool, err := postgres.NewPool(ctx, pgCfg)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("postgres: %w", err)
		}
		if cfg.Postgres.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, noop, err
			}
		}
		return postgres.NewDocBackend(pool), postgres.NewProfileRepository(pool), pool.Close, nil

	default:
		return memory.New(), nil, noop, nil
	}
}
