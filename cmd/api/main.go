package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/auth"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/catalog"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/config"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/conversation"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/data"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/db"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/memstore"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/middleware"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/shortid"
)

// backend is everything the server needs from persistence. data.Store and
// memstore.Store both satisfy it.
type backend interface {
	conversation.Store
	catalog.Store
	userRegistry
}

var (
	_ backend = (*data.Store)(nil)
	_ backend = (*memstore.Store)(nil)
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "conversations"})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", "err", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", "err", err)
	}
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.Warn("unknown LOG_LEVEL, keeping info", "level", cfg.LogLevel)
	}

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", "err", err)
	}
	defer closeStore()

	jwtMgr, err := newJWTManager(cfg)
	if err != nil {
		logger.Fatal("jwt keys", "err", err)
	}

	limiter := middleware.NewPostingLimiter(cfg.RateLimitRPM, 3, time.Minute)
	defer limiter.Stop()

	var serverOpts []grpc.ServerOption
	if cfg.TLSEnabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Fatal("failed to load TLS certs", "err", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}
	// logging -> auth -> rate limiter: limits are keyed by the authenticated handle
	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(
			loggingUnaryInterceptor(logger),
			authUnaryInterceptor(jwtMgr),
			middleware.RateLimitUnaryInterceptor(limiter, postingMethods),
		),
		grpc.ChainStreamInterceptor(
			loggingStreamInterceptor(logger),
			authStreamInterceptor(jwtMgr),
		),
	)
	grpcServer := grpc.NewServer(serverOpts...)

	srv := buildServer(store, cfg, NewConnectionHub(), logger)
	registerService(grpcServer, srv)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	listenAddr := fmt.Sprintf(":%s", cfg.Port)
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		logger.Fatal("failed to listen", "addr", listenAddr, "err", err)
	}

	go func() {
		logger.Info("gRPC server listening", "addr", listenAddr, "store", cfg.Store, "tls", cfg.TLSEnabled())
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("gRPC server exit", "err", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down gRPC server")
	healthSrv.Shutdown()
	grpcServer.GracefulStop()
}

// buildServer wires the managers and the catalog over store.
func buildServer(store backend, cfg *config.Config, hub *ConnectionHub, logger *log.Logger) *Server {
	opts := []conversation.Option{
		conversation.WithMaxContentLength(cfg.MaxContentLength),
		conversation.WithStoreRetries(cfg.StoreRetries, 0),
	}
	ids := shortid.NewAllocator(store, shortid.WithMaxAttempts(cfg.ShortIDMaxAttempts))
	return newServer(
		store,
		conversation.NewDirectManager(store, opts...),
		conversation.NewAdManager(store, ids, opts...),
		catalog.New(store, ids),
		hub,
		logger,
	)
}

func openStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (backend, func(), error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store; data is lost on exit")
		return memstore.New(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	client, err := db.New(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to DB: %w", err)
	}
	if err := client.CreateIndexes(connectCtx); err != nil {
		_ = client.Close(ctx)
		return nil, nil, fmt.Errorf("create indexes: %w", err)
	}
	closeFn := func() {
		if err := client.Close(context.Background()); err != nil {
			logger.Warn("close DB", "err", err)
		}
	}
	return data.NewStore(client), closeFn, nil
}

func newJWTManager(cfg *config.Config) (*auth.JWTManager, error) {
	if cfg.JWTKeysRaw == "" {
		return auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL), nil
	}
	keys, err := cfg.JWTKeys()
	if err != nil {
		return nil, err
	}
	return auth.NewJWTManagerFromKeys(keys, cfg.JWTActiveKid, cfg.JWTTTL), nil
}
