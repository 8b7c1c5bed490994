package main

import (
	"flag"
	"log"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tokengate-io/tokengate/internal/api"
	"github.com/tokengate-io/tokengate/internal/authorizer"
	"github.com/tokengate-io/tokengate/internal/config"
	"github.com/tokengate-io/tokengate/internal/database"
	"github.com/tokengate-io/tokengate/internal/notify"
	"github.com/tokengate-io/tokengate/internal/token"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "app.yml", "Path to configuration file")
	flag.Parse()

	log.Printf("Starting tokengate API v%s with config: %s", version, *configPath)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	db, err := database.Open(cfg)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	ttls := token.TTLTable{
		token.KindPasswordReset:     cfg.PasswordResetTTL(),
		token.KindEmailVerification: cfg.EmailVerificationTTL(),
	}

	var store token.Store
	switch cfg.Tokens.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = token.NewRedisStore(client, "tokengate", ttls,
			cfg.Tokens.ByteLength, cfg.StoreTimeout(), cfg.ConsumedRetention())
	case "sql", "":
		store = token.NewSQLStore(db, cfg.Database.Type, ttls,
			cfg.Tokens.ByteLength, cfg.StoreTimeout())
	default:
		logger.Fatal("unsupported token store backend", zap.String("backend", cfg.Tokens.Backend))
	}
	defer store.Close()

	var notifier notify.Notifier
	if cfg.SMTPConfigured() {
		notifier = notify.NewSMTPNotifier(cfg.SMTP.Host, cfg.SMTP.Port,
			cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From, logger)
	} else {
		logger.Warn("SMTP not configured, action links will only be logged")
		notifier = notify.NewLogNotifier(logger)
	}

	users := authorizer.NewSQLUserDirectory(db, cfg.Database.Type)
	authz := authorizer.New(store, users, notifier, cfg.Service.BaseURL, logger)

	sweeper := token.NewSweeper(store, cfg.SweepInterval(), cfg.ConsumedRetention(), logger)
	sweeper.Start()
	defer sweeper.Stop()

	apiServer, err := api.NewApi(*cfg, authz, logger)
	if err != nil {
		logger.Fatal("failed to initialize API", zap.Error(err))
	}

	if err := apiServer.Serve(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
