package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dexmail/backend/internal/auth"
	jwtpkg "dexmail/backend/internal/auth/jwt"
	"dexmail/backend/internal/bridge"
	"dexmail/backend/internal/cidmap"
	"dexmail/backend/internal/claim"
	"dexmail/backend/internal/config"
	"dexmail/backend/internal/content"
	"dexmail/backend/internal/health"
	"dexmail/backend/internal/ledger"
	"dexmail/backend/internal/logger"
	"dexmail/backend/internal/monitoring"
	"dexmail/backend/internal/pool"
	"dexmail/backend/internal/service"
	"dexmail/backend/internal/smtp"
	"dexmail/backend/internal/storage"
	"dexmail/backend/internal/storage/hybrid"
	"dexmail/backend/internal/storage/memory"
	"dexmail/backend/internal/storage/redis"
	sqlstore "dexmail/backend/internal/storage/sql"
	httptransport "dexmail/backend/internal/transport/http"
	"dexmail/backend/internal/websocket"
)

const (
	relayerTimeout = 15 * time.Second
	contentTimeout = 30 * time.Second

	// SMTP 入站连接上限与每秒新连接限速
	smtpMaxConns = 100
	smtpMaxRate  = 20

	// 状态推送工作池
	pushWorkers   = 4
	pushQueueSize = 256

	// 链上轮询与回收周期
	retentionSweepInterval = time.Hour
	challengePruneInterval = 10 * time.Minute

	shutdownTimeout = 10 * time.Second
)

// main 启动同时包含 HTTP API 与 SMTP 入站网关的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("启动 DexMail 服务",
		zap.String("mail_domain", cfg.Mail.Domain),
		zap.String("relayer_url", cfg.Ledger.RelayerURL))

	// ---------- 存储 ----------

	store, err := initializeStorage(cfg, log)
	if err != nil {
		log.Fatal("初始化存储失败", zap.Error(err))
	}
	defer store.Close() //nolint:errcheck

	// ---------- 基础组件 ----------

	metrics := monitoring.NewMetrics()

	relayer := ledger.NewRelayerClient(cfg.Ledger.RelayerURL, cfg.Ledger.APIKey, relayerTimeout, log)

	healthChecker := health.NewHealthChecker(store, relayer, log)

	contentClient := content.NewClient(
		cfg.Content.PinURL,
		cfg.Content.PinToken,
		cfg.Content.GatewayURL,
		contentTimeout,
		log,
	)

	cidMap, err := initializeCIDMap(cfg, store, log)
	if err != nil {
		log.Fatal("初始化内容标识映射失败", zap.Error(err))
	}

	claims := claim.NewService(store, cfg.Bridge.ClaimURL, log)

	// 桥接端点未配置时外部收件人直接失败，平台内投递不受影响
	var bridgeSender bridge.Sender
	if cfg.Bridge.Endpoint != "" {
		bridgeSender = bridge.NewAPIClient(
			cfg.Bridge.Endpoint,
			cfg.Bridge.APIKey,
			cfg.Mail.Domain,
			cfg.Bridge.RPS,
			contentTimeout,
			log,
		)
	} else {
		log.Warn("未配置外部桥接端点，外部域投递不可用")
	}

	// ---------- 业务服务 ----------

	deliveryService := service.NewDeliveryService(
		relayer, contentClient, cidMap, claims, bridgeSender, store, cfg.Mail.Domain, metrics, log)

	mailboxService := service.NewMailboxService(relayer, contentClient, cidMap, store, metrics, log)

	draftService := service.NewDraftService(store, log)

	pusher := pool.NewWorkerPool(pushWorkers, pushQueueSize, log)

	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, cfg.JWT.Secret, log)

	sessionManager := service.NewSessionManager(mailboxService, store, pusher, wsHub, metrics, log)

	jwtManager := jwtpkg.NewManager(
		cfg.JWT.Secret,
		cfg.JWT.Issuer,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)

	// 中继同时承担签名校验与链上查询
	authService := auth.NewService(relayer, relayer, jwtManager, log)

	// ---------- HTTP ----------

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:          cfg,
		AuthService:     authService,
		DeliveryService: deliveryService,
		DraftService:    draftService,
		SessionManager:  sessionManager,
		ClaimService:    claims,
		JWTManager:      jwtManager,
		WebSocketHub:    wsHub,
		Store:           store,
		HealthChecker:   healthChecker,
		Metrics:         metrics,
		Logger:          log,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// ---------- SMTP ----------

	smtpLimiter := smtp.NewConnectionLimiter(smtpMaxConns, smtpMaxRate)
	smtpBackend := smtp.NewBackend(deliveryService, relayer, cfg.Mail.Domain, smtpLimiter, log)
	smtpServer := smtp.NewServer(smtpBackend, cfg.SMTP.BindAddr, cfg.SMTP.Domain)

	// ---------- 启动与优雅退出 ----------

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pusher.Start(ctx)

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("HTTP 服务监听", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP 服务异常退出: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		log.Info("SMTP 服务监听", zap.String("addr", smtpServer.Addr))
		if err := smtpServer.ListenAndServe(); err != nil {
			// Close 触发的监听错误随关停一起出现，不作为故障上报
			select {
			case <-gctx.Done():
				return nil
			default:
				return fmt.Errorf("SMTP 服务异常退出: %w", err)
			}
		}
		return nil
	})

	group.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})

	group.Go(func() error {
		sessionManager.RunPoller(gctx)
		return nil
	})

	group.Go(func() error {
		sessionManager.RunRetentionSweeper(gctx, retentionSweepInterval)
		return nil
	})

	group.Go(func() error {
		ticker := time.NewTicker(challengePruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := authService.PruneExpired(); n > 0 {
					log.Debug("清理过期登录挑战", zap.Int("count", n))
				}
			}
		}
	})

	group.Go(func() error {
		<-gctx.Done()
		log.Info("收到退出信号，开始优雅关停")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP 服务关停异常", zap.Error(err))
		}
		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP 服务关停异常", zap.Error(err))
		}
		pusher.Stop()
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("服务异常退出", zap.Error(err))
		os.Exit(1)
	}

	log.Info("服务已退出")
}

// initializeStorage 根据配置选择存储后端。
//
// 配置了数据库时使用 SQL + Redis 混合存储（SQL 权威、Redis 旁路缓存，
// Redis 不可用时自动退化为纯 SQL）；否则使用内存存储，仅适合开发调试。
func initializeStorage(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Warn("未配置数据库，使用内存存储（重启后数据丢失）")
		return memory.NewStore(), nil
	}

	sqlStore, err := sqlstore.NewStore(
		cfg.Database.Type,
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	log.Info("数据库连接成功", zap.String("type", cfg.Database.Type))

	redisClient, err := redis.NewClient(
		cfg.Redis.Address,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
	)
	if err != nil {
		log.Warn("Redis 连接失败，降级为纯 SQL 存储", zap.Error(err))
		return sqlStore, nil
	}
	log.Info("Redis 连接成功", zap.String("addr", cfg.Redis.Address))

	return hybrid.NewStore(sqlStore, redis.NewCache(redisClient), log), nil
}

// initializeCIDMap 组装双写的内容标识映射。
//
// 权威层优先使用配置的远端映射服务；未配置时本进程自身即权威服务，
// 直接落库。本地文件层始终挂载，权威层不可用时兜底查询。
func initializeCIDMap(cfg *config.Config, store storage.Store, log *zap.Logger) (cidmap.Store, error) {
	local, err := cidmap.NewLocalStore(cfg.CIDMap.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("打开本地映射文件失败: %w", err)
	}

	var authoritative cidmap.Store
	if cfg.CIDMap.RemoteURL != "" {
		authoritative = cidmap.NewRemoteStore(cfg.CIDMap.RemoteURL, relayerTimeout)
	} else {
		authoritative = cidmap.NewRepoStore(store)
	}

	return cidmap.NewTiered(authoritative, local, log), nil
}
