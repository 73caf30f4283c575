package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmaxou/Moemail-for-University/internal/config"
	"github.com/mmaxou/Moemail-for-University/internal/health"
	"github.com/mmaxou/Moemail-for-University/internal/logger"
	"github.com/mmaxou/Moemail-for-University/internal/monitoring"
	"github.com/mmaxou/Moemail-for-University/internal/service"
	"github.com/mmaxou/Moemail-for-University/internal/smtp"
	"github.com/mmaxou/Moemail-for-University/internal/storage"
	"github.com/mmaxou/Moemail-for-University/internal/storage/memory"
	"github.com/mmaxou/Moemail-for-University/internal/storage/postgres"
	"github.com/mmaxou/Moemail-for-University/internal/storage/redis"
	httptransport "github.com/mmaxou/Moemail-for-University/internal/transport/http"
)

// main 启动同时包含 HTTP API、SMTP 接收与定时清理的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(logger.Options{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		MaxSizeMB:   100,
		MaxBackups:  3,
		MaxAgeDays:  28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting moemail server",
		zap.String("log_level", cfg.Log.Level),
		zap.Strings("domains", cfg.Mailbox.AllowedDomains),
	)

	// 存储层
	store, err := newStore(cfg)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("store close error", zap.Error(err))
		}
	}()

	// 可选的 Redis（配额缓存 + 清理任务分布式锁）
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.New(&cfg.Redis)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		log.Info("redis connected", zap.String("address", cfg.Redis.Address))
	}

	metrics := monitoring.NewMetrics()

	// 服务层
	mailboxService := service.NewMailboxService(store, cfg)
	quotaService := service.NewQuotaService(store, log)
	messageService := service.NewMessageService(store, quotaService)
	redemptionService := service.NewRedemptionService(store, mailboxService, log)
	ingestService := service.NewIngestService(mailboxService, messageService, log, metrics)
	reaperService := service.NewReaperService(store, cfg.Retention, log, metrics)

	quotaService.SetMetrics(metrics)
	redemptionService.SetMetrics(metrics)

	if redisClient != nil {
		quotaService.SetCache(redisClient)
		reaperService.SetLock(redisClient.NewLock("reaper:lock", cfg.Retention.LockTTL))
	}

	healthChecker := health.NewChecker(store, redisClient, log)

	// HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:            cfg,
		MailboxService:    mailboxService,
		MessageService:    messageService,
		QuotaService:      quotaService,
		RedemptionService: redemptionService,
		ReaperService:     reaperService,
		Metrics:           metrics,
		Health:            healthChecker.Handler(),
		Logger:            log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// SMTP 服务器（只收不发）
	smtpBackend := smtp.NewBackend(mailboxService, ingestService, log)
	smtpBackend.SetConnectionLimiter(smtp.NewConnectionLimiter(100, 20))
	smtpServer := gosmtp.NewServer(smtpBackend)
	smtpServer.Addr = cfg.SMTP.BindAddr
	smtpServer.Domain = cfg.SMTP.Domain
	smtpServer.ReadTimeout = 10 * time.Second
	smtpServer.WriteTimeout = 10 * time.Second
	smtpServer.MaxMessageBytes = 10 * 1024 * 1024
	smtpServer.MaxRecipients = 50

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
		)
		if err := smtpServer.ListenAndServe(); err != nil {
			select {
			case <-groupCtx.Done():
				return nil
			default:
			}
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 定时清理 goroutine。单轮失败只记日志，调度循环不退出。
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Retention.Interval)
		defer ticker.Stop()

		log.Info("starting retention reaper",
			zap.Duration("interval", cfg.Retention.Interval),
			zap.Duration("window", cfg.Retention.Window),
			zap.String("expired_policy", cfg.Retention.ExpiredPolicy),
		)

		for {
			select {
			case <-groupCtx.Done():
				log.Info("retention reaper stopped")
				return nil
			case <-ticker.C:
				if _, err := reaperService.RunOnce(groupCtx); err != nil {
					if errors.Is(err, service.ErrReaperBusy) {
						log.Debug("previous cleanup still running, tick skipped")
						continue
					}
					log.Error("cleanup run failed", zap.Error(err))
				}
			}
		}
	})

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP server close warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// newStore 按配置选择存储实现。
// database.type 为空时使用内存存储，适合开发与测试。
func newStore(cfg *config.Config) (storage.Store, error) {
	var (
		sqlStore *postgres.Store
		err      error
	)

	pool := postgres.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	switch cfg.Database.Type {
	case "":
		return memory.NewStore(cfg.Quota.DailyMax), nil
	case "postgres":
		sqlStore, err = postgres.NewStore(cfg.Database.DSN, cfg.Quota.DailyMax, pool)
	case "mysql":
		sqlStore, err = postgres.NewMySQLStore(cfg.Database.DSN, cfg.Quota.DailyMax, pool)
	default:
		return nil, fmt.Errorf("unsupported database.type: %q", cfg.Database.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := sqlStore.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return sqlStore, nil
}
