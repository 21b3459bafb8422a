package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/api"
	"github.com/fathima-sithara/messaging-service/internal/auth"
	"github.com/fathima-sithara/messaging-service/internal/config"
	"github.com/fathima-sithara/messaging-service/internal/kafka"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"github.com/fathima-sithara/messaging-service/internal/presence"
	"github.com/fathima-sithara/messaging-service/internal/repository"
	"github.com/fathima-sithara/messaging-service/internal/service"
	"github.com/fathima-sithara/messaging-service/internal/utils"
	"github.com/fathima-sithara/messaging-service/internal/ws"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to yaml config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zl, err := utils.NewLogger(cfg.App.IsDev(), cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	metrics.Init()

	var jv *auth.JWTValidator
	if cfg.JWT.Algorithm == "RS256" {
		jv, err = auth.NewJWTValidatorRS256(cfg.JWT.PublicKeyPath, cfg.JWT.IdentityClaim)
	} else {
		jv, err = auth.NewJWTValidatorHS256(cfg.JWT.HSSecret, cfg.JWT.IdentityClaim)
	}
	if err != nil {
		logger.Fatalw("jwt validator init", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	convs, msgs, mongoClient := openStores(ctx, cfg, logger)

	var (
		rdb     *redis.Client
		mirror  *presence.Mirror
		limiter *api.RateLimiter
	)
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Pass, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatalw("redis ping", "addr", cfg.Redis.Addr, "err", err)
		}
		mirror = presence.NewMirror(rdb, cfg.Redis.Prefix, cfg.PresenceTTL)
		if err := mirror.Reset(ctx); err != nil {
			logger.Warnw("presence mirror reset", "err", err)
		}
		limiter = api.NewRateLimiter(rdb, cfg.Redis.Prefix, cfg.HTTP.RateLimitPerMin, time.Minute, logger)
	}

	gwOpts := ws.Options{
		PersistTimeout: cfg.PersistTimeout,
		RatePerSecond:  cfg.WS.RatePerSecond,
		Burst:          cfg.WS.Burst,
	}
	if mirror != nil {
		gwOpts.Mirror = mirror
	}

	var (
		producer *kafka.Producer
		consumer *kafka.Consumer
	)
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicMessageSent, logger)
		gwOpts.Publisher = producer

		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicProfileUpdated, cfg.Kafka.GroupID, logger)
		profiles := service.NewProfileSync(msgs, 30*time.Second, logger)
		go func() {
			if err := consumer.Run(ctx, profiles.HandleRecord); err != nil {
				logger.Errorw("profile consumer stopped", "err", err)
			}
		}()
	}

	gw := ws.NewGateway(convs, msgs, gwOpts, logger)
	wsSrv := ws.NewServer(ctx, gw, jv, ws.ServerConfig{
		PingInterval:   cfg.PingInterval,
		WriteDeadline:  cfg.WriteDeadline,
		PongWait:       cfg.PongWait,
		MaxMessageSize: cfg.WS.MaxMessageSizeBytes,
		SendBuffer:     cfg.WS.SendBuffer,
		RequireToken:   cfg.JWT.RequireToken,
	}, logger)

	deps := api.Deps{
		Conversations: service.NewConversationService(convs, msgs),
		Gateway:       gw,
		WS:            wsSrv,
		Verifier:      jv,
		RequestLog:    cfg.App.IsDev(),
		Log:           logger,
	}
	if mirror != nil {
		deps.Presence = mirror
	}
	if limiter != nil {
		deps.RateLimiter = limiter
	}
	app := api.NewServer(deps)

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.App.PortString()
		logger.Infow("starting messaging service", "addr", addr, "storage", cfg.Storage.Driver,
			"redis", cfg.Redis.Enabled, "kafka", cfg.Kafka.Enabled)
		errs <- app.Listen(addr)
	}()

	select {
	case e := <-errs:
		logger.Errorw("server error", "err", e)
	case <-ctx.Done():
		logger.Infow("signal received, shutting down")
	}
	stop()

	gw.CloseAll()
	if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
		logger.Warnw("fiber shutdown", "err", err)
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Warnw("kafka producer close", "err", err)
		}
	}
	if consumer != nil {
		_ = consumer.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(cleanupCtx); err != nil {
			logger.Warnw("mongo disconnect", "err", err)
		}
	}
	logger.Infow("shutdown complete")
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (repository.ConversationStore, repository.MessageStore, *mongo.Client) {
	if cfg.Storage.Driver == "memory" {
		logger.Warnw("using in-memory storage; data is lost on restart")
		return repository.NewMemoryConversationStore(), repository.NewMemoryMessageStore(), nil
	}

	client, err := repository.NewMongoClient(ctx, cfg.Mongo.URI, cfg.ConnectTimeout, logger)
	if err != nil {
		logger.Fatalw("mongo connect", "err", err)
	}
	db := client.Database(cfg.Mongo.DB)
	convs := repository.NewMongoConversationStore(db.Collection(cfg.Mongo.Conversations))
	msgs := repository.NewMongoMessageStore(db.Collection(cfg.Mongo.Messages))

	ictx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := convs.EnsureIndexes(ictx); err != nil {
		logger.Fatalw("conversation indexes", "err", err)
	}
	if err := msgs.EnsureIndexes(ictx); err != nil {
		logger.Fatalw("message indexes", "err", err)
	}
	return convs, msgs, client
}
