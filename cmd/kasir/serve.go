package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/arisdnt/project-kas-sub006/internal/cache"
	"github.com/arisdnt/project-kas-sub006/internal/catalog"
	"github.com/arisdnt/project-kas-sub006/internal/config"
	kasirgrpc "github.com/arisdnt/project-kas-sub006/internal/grpc"
	kasirhttp "github.com/arisdnt/project-kas-sub006/internal/http"
	"github.com/arisdnt/project-kas-sub006/internal/publisher"
	"github.com/arisdnt/project-kas-sub006/internal/realtime"
	"github.com/arisdnt/project-kas-sub006/internal/repository"
	"github.com/arisdnt/project-kas-sub006/internal/service"
	"github.com/arisdnt/project-kas-sub006/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var demoStoreID string

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, websocket and gRPC servers",
		Long: `Run the kasir engine.

With STORAGE=memory everything lives in process and the demo catalog is
seeded for --demo-store. With STORAGE=persistent sessions go to MongoDB
(cached in Redis), catalog, stock and transactions to Postgres or SQLite,
and committed sales are relayed to Kafka when KAFKA_BROKERS is set.`,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&demoStoreID, "demo-store", "store-1", "store id seeded in memory mode")
	return cmd
}

// backends are the stores behind the engine. close releases them in
// reverse order of opening.
type backends struct {
	catalog      store.CatalogStore
	inventory    store.InventoryStore
	transactions store.TransactionStore
	sessions     store.SessionStore
	cache        cache.SessionCache
	outbox       repository.OutboxRepository
	closers      []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openMemory() *backends {
	mem := store.NewMemoryStore()
	for _, p := range demoCatalog(demoStoreID) {
		mem.AddProduct(p.product, p.quantity)
	}
	log.Printf("Initialized in-memory stock for %d products in store %s", len(demoCatalog(demoStoreID)), demoStoreID)

	return &backends{
		catalog:      mem,
		inventory:    mem,
		transactions: mem,
		sessions:     mem,
		closers: []func(){func() {
			if err := mem.Close(); err != nil {
				log.Printf("failed to stop memstore: %v", err)
			}
		}},
	}
}

func openPersistent(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}

	cred := cfg.Credentials()
	repo, err := repository.NewSQLRepository(cred)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, func() { repo.Close() })
	if err := repo.RunMigrations(cred); err != nil {
		b.close()
		return nil, err
	}
	log.Printf("Connected to %s database", cred.Driver)
	b.catalog, b.inventory, b.transactions, b.outbox = repo, repo, repo, repo

	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		b.close()
		return nil, err
	}
	b.closers = append(b.closers, func() { mongoDB.Client().Disconnect(context.Background()) })
	sessions := repository.NewMongoSessionRepository(mongoDB)
	if err := sessions.CreateIndexes(ctx); err != nil {
		b.close()
		return nil, fmt.Errorf("failed to create session indexes: %w", err)
	}
	b.sessions = sessions
	log.Printf("Connected to MongoDB at %s", cfg.MongoURI)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	b.closers = append(b.closers, func() { redisClient.Close() })
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// sessions still work from Mongo alone
		log.Printf("Redis ping failed, running without session cache: %v", err)
	} else {
		b.cache = cache.NewRedisCache(redisClient)
		log.Printf("Redis ping succeeded")
	}

	return b, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var b *backends
	if cfg.Storage == config.StorageMemory {
		b = openMemory()
	} else {
		startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		b, err = openPersistent(startCtx, cfg)
		cancel()
		if err != nil {
			return err
		}
	}
	defer b.close()

	hub := realtime.NewHub()
	defer hub.Close()

	sessionOpts := []service.SessionOption{
		service.WithLockTimeout(cfg.CartLockTimeout),
		service.WithBroadcaster(hub),
	}
	if b.cache != nil {
		sessionOpts = append(sessionOpts, service.WithSessionCache(b.cache))
	}
	sessions := service.NewSessionManager(b.sessions, sessionOpts...)
	cat := catalog.NewService(b.catalog)
	cart := service.NewCartService(sessions, cat)
	payments := service.NewPaymentService(cat, b.inventory, b.transactions, sessions, cart, service.PaymentConfig{
		LockTimeout:     cfg.CartLockTimeout,
		FinalizeTimeout: cfg.PaymentFinalizeTimeout,
	})

	if brokers := cfg.Brokers(); b.outbox != nil && len(brokers) > 0 {
		poller := publisher.NewOutboxPoller(b.outbox, brokers...)
		defer poller.Close()
		pollCtx, cancelPoll := context.WithCancel(ctx)
		defer cancelPoll()
		go poller.Run(pollCtx)
		log.Printf("Outbox relay publishing to %s on %v", publisher.Topic, brokers)
	}

	handler := kasirhttp.NewHandler(sessions, cat, cart, payments, cfg.RequestTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      kasirhttp.NewRouter(handler, hub.ServeWS),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	grpcServer := kasirgrpc.NewServer(kasirgrpc.NewKasirServiceServer(sessions, cat, payments))

	errCh := make(chan error, 2)
	go func() {
		log.Printf("Kasir HTTP listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Printf("Kasir gRPC listening on :%s", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		log.Printf("server error: %v", err)
	}

	log.Println("shutting down kasir...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
		log.Printf("server forced to shutdown: %v", errShutdown)
	}
	grpcServer.GracefulStop()
	log.Println("kasir stopped")
	return err
}
