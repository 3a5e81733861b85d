package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-notify/internal/common/redis"
	"wisefido-notify/internal/config"
	"wisefido-notify/internal/models"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Orchestrator 报警处理入口接口（由编排器实现）
type Orchestrator interface {
	// ProcessAlert 处理单条报警，返回处理响应（失败也以响应形式返回）
	ProcessAlert(ctx context.Context, req *models.AlertProcessingRequest) *models.AlertProcessingResponse
}

// StreamConsumer 流消费者（Redis Streams 消费组）
// 上游服务把报警请求写入流，本服务按消费组读取，
// 处理成功与失败都 ACK（失败响应已含错误信息，不无限重投）
type StreamConsumer struct {
	config      *config.Config
	redisClient *goredis.Client
	logger      *zap.Logger
}

// NewStreamConsumer 创建流消费者
func NewStreamConsumer(cfg *config.Config, redisClient *goredis.Client, logger *zap.Logger) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Start 启动消费者（阻塞直到上下文取消）
func (c *StreamConsumer) Start(ctx context.Context, orchestrator Orchestrator) error {
	stream := c.config.Intake.Stream.Stream
	group := c.config.Intake.Stream.Group

	if err := redis.CreateConsumerGroup(ctx, c.redisClient, stream, group); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", stream),
		zap.String("group", group),
		zap.String("consumer", c.config.Intake.Stream.Consumer),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Stream consumer stopped")
			return nil
		default:
		}

		messages, err := redis.ReadFromStream(ctx, c.redisClient, stream, group, c.config.Intake.Stream.Consumer, 16)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Stream consumer stopped")
				return nil
			}
			c.logger.Error("Failed to read from stream",
				zap.String("stream", stream),
				zap.Error(err),
			)
			continue
		}

		for _, msg := range messages {
			c.handleMessage(ctx, orchestrator, stream, group, msg)
		}
	}
}

// handleMessage 处理单条流消息
// 解码失败或处理失败都不重投：记日志后 ACK，避免毒消息堵塞消费组
func (c *StreamConsumer) handleMessage(ctx context.Context, orchestrator Orchestrator, stream, group string, msg redis.StreamMessage) {
	defer func() {
		if err := redis.AckMessage(ctx, c.redisClient, stream, group, msg.ID); err != nil {
			c.logger.Warn("Failed to ack stream message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}()

	req, err := decodeRequest(msg.Values)
	if err != nil {
		c.logger.Error("Failed to decode alert request from stream",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return
	}

	resp := orchestrator.ProcessAlert(ctx, req)
	if !resp.Success {
		c.logger.Warn("Alert from stream failed to process",
			zap.String("message_id", msg.ID),
			zap.String("alert_id", resp.AlertID),
			zap.String("error", resp.ErrorMessage),
		)
	}
}

// decodeRequest 从流消息字段解码报警请求
// 约定 data 字段承载 JSON 编码的请求体
func decodeRequest(values map[string]interface{}) (*models.AlertProcessingRequest, error) {
	raw, ok := values["data"]
	if !ok {
		return nil, fmt.Errorf("message has no data field")
	}

	data, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("data field is not a string")
	}

	var req models.AlertProcessingRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert request: %w", err)
	}

	return &req, nil
}
