package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"realtime-chat/internal/chat"
	"realtime-chat/internal/config"
	"realtime-chat/internal/database"
	"realtime-chat/internal/message"
	"realtime-chat/internal/room"
	"realtime-chat/internal/security"
	"realtime-chat/internal/session"
	"realtime-chat/internal/user"
	chatws "realtime-chat/internal/websocket"
)

const shutdownTimeout = 30 * time.Second

// storage bundles the repositories chosen by the storage driver.
type storage struct {
	users    user.Repository
	rooms    room.Repository
	messages message.Repository
	health   chat.HealthChecker
	close    func(context.Context) error
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("⚠️ Failed to load .env: %v", err)
	}

	flags := pflag.NewFlagSet("chat-server", pflag.ExitOnError)
	configPath := flags.String("config", os.Getenv("CHAT_CONFIG"), "path to a YAML/JSON/TOML config file")
	flags.String("port", "", "listen address, e.g. :3000")
	flags.String("storage", "", "storage driver: mongo or memory")
	_ = flags.Parse(os.Args[1:])

	configManager, err := config.NewManager(*configPath, flags)
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}
	cfg := configManager.GetConfig()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := config.NewServerMetrics(reg)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to open %s storage: %v", cfg.Storage.Driver, err)
	}

	validator := security.NewInputValidator(cfg.Security)
	sessions := session.NewManager(cfg.Session, metrics)
	registry := room.NewRegistry(store.rooms, validator)
	if err := registry.Load(ctx); err != nil {
		log.Fatalf("❌ Failed to load rooms: %v", err)
	}

	engine := message.NewFlushEngine(registry, store.messages, cfg.Buffer, metrics)
	history := message.NewHistoryService(store.messages, cfg.Buffer.FlushTimeout, metrics)
	hub := chatws.NewManager(metrics)
	broker := chatws.NewBroker(sessions, engine, hub, cfg, metrics)
	go broker.Run(ctx)

	configManager.RegisterCallback(func(updated *config.ServerConfig) {
		validator.SetConfig(updated.Security)
		broker.UpdateSecurity(updated.Security)
	})
	configManager.Watch()

	handler := chat.NewHandler(sessions, registry, store.users, history, broker.HandleInboundConnection, chat.Options{
		Gatherer:      reg,
		Health:        store.health,
		ConfigSummary: configManager.Summary,
		StaticDir:     cfg.StaticDir,
	})

	server := &http.Server{
		Addr:              cfg.Port,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("🚀 Starting chat server on %s", cfg.Port)
		log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws", cfg.Port)
		log.Printf("💾 Storage: %s, flush threshold %d", cfg.Storage.Driver, cfg.Buffer.Threshold)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ Server failed to start: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"chat-server": func(ctx context.Context) error {
				log.Println("🛑 Graceful shutdown initiated...")
				if err := server.Shutdown(ctx); err != nil {
					log.Printf("❌ Server shutdown error: %v", err)
				}
				stop()
				hub.Shutdown()
				if err := engine.Shutdown(ctx); err != nil {
					log.Printf("⚠️ Final flush incomplete: %v", err)
				}
				return store.close(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("👋 Server stopped with code %d", exitCode)
	os.Exit(exitCode)
}

// openStorage connects the repositories for cfg.Storage.Driver and writes the
// seed users.
func openStorage(ctx context.Context, cfg *config.ServerConfig) (*storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		users, err := user.NewSeededRepository(cfg.Storage.SeedUsers)
		if err != nil {
			return nil, err
		}
		log.Printf("🧪 Using in-memory storage with %d seed users", len(cfg.Storage.SeedUsers))
		return &storage{
			users:    users,
			rooms:    room.NewInMemoryRepository(room.Room{ID: "general", Name: "General"}),
			messages: message.NewInMemoryRepository(),
			health:   func(context.Context) error { return nil },
			close:    func(context.Context) error { return nil },
		}, nil
	}

	db, err := database.NewMongoDB(ctx, cfg.Mongo)
	if err != nil {
		return nil, err
	}
	if err := db.CreateIndexes(ctx); err != nil {
		log.Printf("⚠️ Failed to create indexes: %v", err)
	}

	users := user.NewMongoRepository(db)
	for name, password := range cfg.Storage.SeedUsers {
		hash, err := user.HashPassword(password)
		if err != nil {
			return nil, err
		}
		if err := users.Upsert(ctx, user.User{Username: name, Password: hash}); err != nil {
			return nil, err
		}
		log.Printf("👤 Seeded user %s", name)
	}

	return &storage{
		users:    users,
		rooms:    room.NewMongoRepository(db),
		messages: message.NewMongoRepository(db),
		health:   db.HealthCheck,
		close:    db.Close,
	}, nil
}
