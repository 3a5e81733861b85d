package distributor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"wisefido-notify/internal/config"
	"wisefido-notify/internal/models"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SMSSender 短信发送器（shoutrrr，URL 模板中 {phone} 替换为接收人手机号）
type SMSSender struct {
	urlTemplate string
	logger      *zap.Logger
}

// NewSMSSender 创建短信发送器
func NewSMSSender(cfg *config.Config, logger *zap.Logger) *SMSSender {
	return &SMSSender{
		urlTemplate: cfg.Channels.SMSURLTemplate,
		logger:      logger,
	}
}

// Channel 所属渠道
func (s *SMSSender) Channel() models.Channel {
	return models.ChannelSMS
}

// Send 发送短信
func (s *SMSSender) Send(ctx context.Context, recipient models.ManagerContact, msg Message) error {
	if s.urlTemplate == "" {
		return fmt.Errorf("sms channel is not configured")
	}
	if recipient.Phone == "" {
		return fmt.Errorf("recipient %s has no phone number", recipient.UserID)
	}

	url := strings.ReplaceAll(s.urlTemplate, "{phone}", recipient.Phone)
	return sendViaShoutrrr(url, msg)
}

// EmailSender 邮件发送器（shoutrrr，URL 模板中 {email} 替换为接收人邮箱）
type EmailSender struct {
	urlTemplate string
	logger      *zap.Logger
}

// NewEmailSender 创建邮件发送器
func NewEmailSender(cfg *config.Config, logger *zap.Logger) *EmailSender {
	return &EmailSender{
		urlTemplate: cfg.Channels.EmailURLTemplate,
		logger:      logger,
	}
}

// Channel 所属渠道
func (s *EmailSender) Channel() models.Channel {
	return models.ChannelEmail
}

// Send 发送邮件
func (s *EmailSender) Send(ctx context.Context, recipient models.ManagerContact, msg Message) error {
	if s.urlTemplate == "" {
		return fmt.Errorf("email channel is not configured")
	}
	if recipient.Email == "" {
		return fmt.Errorf("recipient %s has no email address", recipient.UserID)
	}

	url := strings.ReplaceAll(s.urlTemplate, "{email}", recipient.Email)
	return sendViaShoutrrr(url, msg)
}

// sendViaShoutrrr 通过 shoutrrr 路由发送
func sendViaShoutrrr(url string, msg Message) error {
	sender, err := shoutrrr.CreateSender(url)
	if err != nil {
		return fmt.Errorf("failed to create sender: %w", err)
	}

	params := stypes.Params{}
	if msg.Title != "" {
		params.SetTitle(msg.Title)
	}

	errs := sender.Send(msg.Body, &params)
	for _, e := range errs {
		if e != nil {
			return fmt.Errorf("failed to send notification: %w", e)
		}
	}
	return nil
}

// SlackAPI Slack 客户端能力（便于测试替换）
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// ChatSender 企业聊天发送器（Slack）
type ChatSender struct {
	api    SlackAPI
	logger *zap.Logger
}

// NewChatSender 创建企业聊天发送器
func NewChatSender(cfg *config.Config, logger *zap.Logger) *ChatSender {
	return &ChatSender{
		api:    slack.New(cfg.Channels.SlackToken),
		logger: logger,
	}
}

// NewChatSenderWithAPI 使用自定义客户端创建（测试用）
func NewChatSenderWithAPI(api SlackAPI, logger *zap.Logger) *ChatSender {
	return &ChatSender{
		api:    api,
		logger: logger,
	}
}

// Channel 所属渠道
func (s *ChatSender) Channel() models.Channel {
	return models.ChannelChat
}

// Send 发送聊天消息
func (s *ChatSender) Send(ctx context.Context, recipient models.ManagerContact, msg Message) error {
	if recipient.ChatID == "" {
		return fmt.Errorf("recipient %s has no chat id", recipient.UserID)
	}

	text := msg.Body
	if msg.Title != "" {
		text = "*" + msg.Title + "*\n" + msg.Body
	}

	_, _, err := s.api.PostMessageContext(ctx, recipient.ChatID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("failed to post chat message: %w", err)
	}
	return nil
}

// Publisher MQTT 发布能力（便于测试替换）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// PushSender 设备推送发送器（MQTT）
// 推送到接收人终端订阅的主题：<prefix><push_sn>
type PushSender struct {
	publisher   Publisher
	topicPrefix string
	qos         byte
	logger      *zap.Logger
}

// NewPushSender 创建推送发送器
func NewPushSender(cfg *config.Config, publisher Publisher, logger *zap.Logger) *PushSender {
	return &PushSender{
		publisher:   publisher,
		topicPrefix: cfg.MQTT.TopicPrefix,
		qos:         cfg.MQTT.QoS,
		logger:      logger,
	}
}

// Channel 所属渠道
func (s *PushSender) Channel() models.Channel {
	return models.ChannelPush
}

// Send 发送推送
func (s *PushSender) Send(ctx context.Context, recipient models.ManagerContact, msg Message) error {
	if recipient.PushSN == "" {
		return fmt.Errorf("recipient %s has no push terminal", recipient.UserID)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"alert_id": msg.AlertID,
		"title":    msg.Title,
		"body":     msg.Body,
		"priority": msg.Priority,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	topic := s.topicPrefix + recipient.PushSN
	if err := s.publisher.Publish(topic, s.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish push notification: %w", err)
	}
	return nil
}
