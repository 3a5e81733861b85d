package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-notify/internal/config"
	"wisefido-notify/internal/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConsumer Kafka 消费者
// 第三方平台的报警请求经 Kafka 接入：按消费组读取、
// 处理后提交位点；解码失败的消息记日志后跳过
type KafkaConsumer struct {
	config *config.Config
	reader *kafka.Reader
	logger *zap.Logger
}

// NewKafkaConsumer 创建 Kafka 消费者
func NewKafkaConsumer(cfg *config.Config, logger *zap.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Intake.Kafka.Brokers,
		Topic:   cfg.Intake.Kafka.Topic,
		GroupID: cfg.Intake.Kafka.GroupID,
	})

	return &KafkaConsumer{
		config: cfg,
		reader: reader,
		logger: logger,
	}
}

// Start 启动消费者（阻塞直到上下文取消）
func (c *KafkaConsumer) Start(ctx context.Context, orchestrator Orchestrator) error {
	c.logger.Info("Kafka consumer started",
		zap.Strings("brokers", c.config.Intake.Kafka.Brokers),
		zap.String("topic", c.config.Intake.Kafka.Topic),
		zap.String("group_id", c.config.Intake.Kafka.GroupID),
	)

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Kafka consumer stopped")
				return nil
			}
			return fmt.Errorf("failed to read kafka message: %w", err)
		}

		var req models.AlertProcessingRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			c.logger.Error("Failed to decode alert request from kafka",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			continue
		}

		resp := orchestrator.ProcessAlert(ctx, &req)
		if !resp.Success {
			c.logger.Warn("Alert from kafka failed to process",
				zap.Int64("offset", msg.Offset),
				zap.String("alert_id", resp.AlertID),
				zap.String("error", resp.ErrorMessage),
			)
		}
	}
}

// Close 关闭消费者
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
