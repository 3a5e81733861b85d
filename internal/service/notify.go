package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"wisefido-notify/internal/analyzer"
	"wisefido-notify/internal/cache"
	"wisefido-notify/internal/common/database"
	"wisefido-notify/internal/common/mqtt"
	commonredis "wisefido-notify/internal/common/redis"
	"wisefido-notify/internal/config"
	"wisefido-notify/internal/consumer"
	"wisefido-notify/internal/distributor"
	"wisefido-notify/internal/hierarchy"
	"wisefido-notify/internal/priority"
	"wisefido-notify/internal/repository"
	"wisefido-notify/internal/tracker"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// NotifyService 通知服务（整合各层）
type NotifyService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *goredis.Client
	mqttClient  *mqtt.Client
	logger      *zap.Logger

	// 各层组件
	closureRepo     *repository.OrgClosureRepository
	directoryRepo   *repository.DirectoryRepository
	resolver        *hierarchy.Resolver
	alertAnalyzer   *analyzer.Analyzer
	calculator      *priority.Calculator
	pool            *distributor.WorkerPool
	dist            *distributor.Distributor
	deliveryTracker *tracker.Tracker
	orchestrator    *AlertOrchestrator
	streamConsumer  *consumer.StreamConsumer
	kafkaConsumer   *consumer.KafkaConsumer
}

// NewNotifyService 创建通知服务
func NewNotifyService(cfg *config.Config, logger *zap.Logger) (*NotifyService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := commonredis.NewRedisClient(&cfg.Redis)
	if err := commonredis.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT（push 渠道）
	mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect mqtt: %w", err)
	}

	// 4. Repository 层
	closureRepo := repository.NewOrgClosureRepository(db, logger)
	directoryRepo := repository.NewDirectoryRepository(db, logger)

	// 5. 缓存抽象（层级缓存 / 分发跟踪 / 重复抑制共用）
	redisCache := cache.NewRedisCache(redisClient)

	// 6. 业务组件
	resolver := hierarchy.NewResolver(cfg, closureRepo, directoryRepo, redisCache, logger)
	alertAnalyzer := analyzer.NewAnalyzer(cfg, directoryRepo, logger)
	calculator := priority.NewCalculator(cfg, logger)

	registry := distributor.NewSenderRegistry(
		distributor.NewSMSSender(cfg, logger),
		distributor.NewEmailSender(cfg, logger),
		distributor.NewChatSender(cfg, logger),
		distributor.NewPushSender(cfg, mqttClient, logger),
	)

	pool := distributor.NewWorkerPool(cfg.Distribution.Workers, cfg.Distribution.QueueSize)
	dist := distributor.NewDistributor(cfg, registry, directoryRepo, pool, logger)
	deliveryTracker := tracker.NewTracker(cfg, redisCache, logger)
	dist.SetStatusRecorder(deliveryTracker)

	orchestrator := NewAlertOrchestrator(
		cfg,
		alertAnalyzer,
		resolver,
		calculator,
		dist,
		deliveryTracker,
		redisCache,
		logger,
	)

	// 7. 消费者
	svc := &NotifyService{
		config:          cfg,
		db:              db,
		redisClient:     redisClient,
		mqttClient:      mqttClient,
		logger:          logger,
		closureRepo:     closureRepo,
		directoryRepo:   directoryRepo,
		resolver:        resolver,
		alertAnalyzer:   alertAnalyzer,
		calculator:      calculator,
		pool:            pool,
		dist:            dist,
		deliveryTracker: deliveryTracker,
		orchestrator:    orchestrator,
	}

	if cfg.Intake.Stream.Enabled {
		svc.streamConsumer = consumer.NewStreamConsumer(cfg, redisClient, logger)
	}
	if cfg.Intake.Kafka.Enabled {
		svc.kafkaConsumer = consumer.NewKafkaConsumer(cfg, logger)
	}

	return svc, nil
}

// Orchestrator 暴露编排器（API 层或测试直接调用）
func (s *NotifyService) Orchestrator() *AlertOrchestrator {
	return s.orchestrator
}

// Start 启动服务（阻塞直到上下文取消）
func (s *NotifyService) Start(ctx context.Context) error {
	s.logger.Info("Starting notify service")

	if s.streamConsumer == nil && s.kafkaConsumer == nil {
		return fmt.Errorf("no intake consumer enabled")
	}

	errChan := make(chan error, 2)
	var wg sync.WaitGroup

	if s.streamConsumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.streamConsumer.Start(ctx, s.orchestrator); err != nil {
				errChan <- fmt.Errorf("stream consumer: %w", err)
			}
		}()
	}

	if s.kafkaConsumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.kafkaConsumer.Start(ctx, s.orchestrator); err != nil {
				errChan <- fmt.Errorf("kafka consumer: %w", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case err := <-errChan:
		return err
	case <-done:
		return nil
	}
}

// Stop 停止服务
func (s *NotifyService) Stop() error {
	s.logger.Info("Stopping notify service")

	// 先排空在途分发任务，再断开各连接
	s.pool.Stop()

	if s.kafkaConsumer != nil {
		if err := s.kafkaConsumer.Close(); err != nil {
			s.logger.Error("Failed to close kafka consumer",
				zap.Error(err),
			)
		}
	}

	s.mqttClient.Disconnect()

	if err := commonredis.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	return nil
}
