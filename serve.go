package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/idgate/internal/auth"
	"github.com/example/idgate/internal/config"
	"github.com/example/idgate/internal/grpcclient"
	"github.com/example/idgate/internal/handlers"
	"github.com/example/idgate/internal/imageprocessor"
	"github.com/example/idgate/internal/logging"
	"github.com/example/idgate/internal/notify"
	"github.com/example/idgate/internal/onnxembed"
	"github.com/example/idgate/internal/otp"
	"github.com/example/idgate/internal/repository"
	"github.com/example/idgate/internal/usecase"
	"github.com/example/idgate/internal/verify"
)

const startupTimeout = 15 * time.Second

func runServe(parent context.Context, cfgFile string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(parent, startupTimeout)
	defer cancel()

	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Error("database unavailable", zap.Error(err))
		return err
	}
	repo := repository.NewVerificationRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Error("auto migrate failed", zap.Error(err))
		return err
	}

	redisClient, err := initRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Error("redis unavailable", zap.Error(err))
		return err
	}
	defer redisClient.Close()

	collab, closers, err := buildCollaborators(ctx, cfg.Inference, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("close inference resource", zap.Error(err))
			}
		}
	}()

	pipeline, err := verify.NewPipeline(collab, logger,
		verify.WithMaxConcurrency(cfg.Inference.MaxConcurrency),
		verify.WithThreshold(cfg.Inference.MatchThreshold),
		verify.WithAnnotation(cfg.Inference.Annotate),
	)
	if err != nil {
		return err
	}

	otpManager := otp.NewManager(buildOTPStore(cfg.OTP, cfg.Redis, redisClient), logger)
	notifier := buildNotifier(cfg.Mail, logger)
	cache := usecase.NewRedisCache(redisClient, cfg.Redis.Namespace)
	uc := usecase.NewVerificationUseCase(repo, cache, pipeline, otpManager, notifier, logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(r, uc, auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Audience))

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := signalContext(parent)
	defer stop()

	logger.Info("idgate listening", zap.String("addr", cfg.Server.Addr), zap.String("version", version))
	if err := serveHTTPServer(runCtx, server, nil, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		return err
	}
	return nil
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, logging.NewOperationError("main.init_database", "", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, logging.NewOperationError("main.init_database", "", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, logging.NewOperationError("main.ping_database", "", err)
	}
	return db, nil
}

func initRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, logging.NewOperationError("main.init_redis", "", err)
	}
	return client, nil
}

// buildCollaborators dials the inference service. When a local embedding
// model is configured it replaces the remote Embed call.
func buildCollaborators(ctx context.Context, cfg config.InferenceConfig, logger *zap.Logger) (imageprocessor.Collaborators, []io.Closer, error) {
	client, conn, err := grpcclient.Dial(ctx, cfg.Addr, cfg.DialTimeout, logger)
	if err != nil {
		return imageprocessor.Collaborators{}, nil, err
	}
	closers := []io.Closer{conn}

	collab := imageprocessor.Collaborators{
		Detector:   client,
		Faces:      client,
		Recognizer: client,
		Embedder:   client,
	}
	if cfg.EmbedderModel != "" {
		emb, err := onnxembed.New(onnxembed.Config{ModelPath: cfg.EmbedderModel, LibraryPath: cfg.ONNXLibrary}, logger)
		if err != nil {
			_ = conn.Close()
			logger.Error("failed to load local embedder", zap.Error(err))
			return imageprocessor.Collaborators{}, nil, err
		}
		collab.Embedder = emb
		closers = append(closers, emb)
	}
	return collab, closers, nil
}

func buildOTPStore(cfg config.OTPConfig, redisCfg config.RedisConfig, client redis.Cmdable) otp.Store {
	if cfg.Store == config.StoreRedis {
		return otp.NewRedisStore(client, redisCfg.Namespace)
	}
	return otp.NewMemoryStore()
}

func buildNotifier(cfg config.MailConfig, logger *zap.Logger) usecase.Notifier {
	if cfg.Host == "" {
		return notify.NewLogNotifier(logger)
	}
	return notify.NewMailNotifier(notify.MailConfig{
		Host:        cfg.Host,
		Port:        cfg.Port,
		Username:    cfg.Username,
		Password:    cfg.Password,
		From:        cfg.From,
		Domain:      cfg.Domain,
		Institution: cfg.Institution,
		Validity:    otp.Validity,
	}, nil, logger)
}
