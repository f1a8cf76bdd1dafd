package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/luis10barbo/chatapp/internal/api"
	"github.com/luis10barbo/chatapp/internal/auth"
	"github.com/luis10barbo/chatapp/internal/config"
	"github.com/luis10barbo/chatapp/internal/events"
	"github.com/luis10barbo/chatapp/internal/hub"
	"github.com/luis10barbo/chatapp/internal/logger"
	"github.com/luis10barbo/chatapp/internal/presence"
	"github.com/luis10barbo/chatapp/internal/store"
)

const presenceTTL = 24 * time.Hour

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	if cfg.App.JWTSecret == "" {
		log.Fatal("app.jwt_secret (APP_JWT_SECRET) is required")
	}

	zlog, err := logger.New(cfg.Development())
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	var (
		db          store.Store
		mongoClient *mongo.Client
	)
	if cfg.Mongo.URI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		mongoClient, err = mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err == nil {
			err = mongoClient.Ping(ctx, nil)
		}
		cancel()
		if err != nil {
			zlog.Fatalw("mongo connect", "err", err)
		}
		db = store.NewMongoStore(mongoClient.Database(cfg.Mongo.Database))
	} else {
		zlog.Warn("no mongo uri configured, falling back to the in-memory store")
		db = store.NewMemoryStore()
	}

	var (
		rdb  *redis.Client
		pres *presence.Store
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pres = presence.NewStore(rdb, cfg.Redis.Prefix, presenceTTL)
	}

	var producer *events.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicMessagePersisted, cfg.Kafka.TopicChatEvents)
	}

	hubCtx, stopHubs := context.WithCancel(context.Background())
	defer stopHubs()
	rooms := hub.NewRoomHub(db, producer, hub.ParsePolicy(cfg.Hub.DuplicateSessionPolicy), zlog)
	info := hub.NewNotifyHub(zlog)
	go rooms.Run(hubCtx)
	go info.Run(hubCtx)

	authn := auth.New(cfg.App.JWTSecret, "chatapp")
	app := api.New(cfg, db, rooms, info, authn, pres, producer, rdb, zlog)

	errs := make(chan error, 1)
	go func() {
		zlog.Infow("starting chat relay", "port", cfg.App.Port, "env", cfg.App.Env)
		errs <- app.Listen(":" + cfg.App.Port)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		zlog.Fatalw("server error", "err", err)
	case s := <-sig:
		zlog.Infow("signal received", "signal", s.String())
	}

	if err := app.Shutdown(); err != nil {
		zlog.Errorw("http shutdown", "err", err)
	}
	stopHubs()
	if err := producer.Close(); err != nil {
		zlog.Errorw("kafka close", "err", err)
	}
	if mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := mongoClient.Disconnect(ctx); err != nil {
			zlog.Errorw("mongo disconnect", "err", err)
		}
		cancel()
	}
	zlog.Info("shutdown complete")
}
