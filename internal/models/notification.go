package models

import (
	"time"
)

// Channel 通知渠道
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelChat  Channel = "chat" // 企业聊天（Slack）
	ChannelPush  Channel = "push" // 设备推送（MQTT）
)

// RecipientType 接收人类型
type RecipientType string

const (
	RecipientManager RecipientType = "MANAGER"
	RecipientMember  RecipientType = "MEMBER"
	RecipientAdmin   RecipientType = "ADMIN"
)

// TaskStatus 通知任务状态
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskDelivered  TaskStatus = "DELIVERED"
	TaskFailed     TaskStatus = "FAILED"
	TaskExpired    TaskStatus = "EXPIRED"
)

// NotificationTask 通知任务（升级步骤 × 接收人 × 渠道 展开后的单元）
// 生命周期受 DistributionRecord 的 TTL 约束，不作为主实体持久化
type NotificationTask struct {
	TaskID           string                 `json:"task_id"`
	AlertID          string                 `json:"alert_id"`
	RecipientID      string                 `json:"recipient_id"`
	RecipientType    RecipientType          `json:"recipient_type"`
	Priority         int                    `json:"priority"`
	Channel          Channel                `json:"channel"`
	DeliveryDeadline time.Time              `json:"delivery_deadline"`
	EscalationDelay  int                    `json:"escalation_delay"` // 分钟
	Status           TaskStatus             `json:"status"`
	RetryCount       int                    `json:"retry_count"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// TaskSummary 任务结果摘要（写入 DistributionRecord）
type TaskSummary struct {
	RecipientID string     `json:"recipient_id"`
	Channel     Channel    `json:"channel"`
	Status      TaskStatus `json:"status"`
	RetryCount  int        `json:"retry_count"`
}

// DistributionResult 分发调用的返回结果
type DistributionResult struct {
	DistributionID        string                    `json:"distribution_id"`
	TotalRecipients       int                       `json:"total_recipients"` // 去重后的接收人数
	EstimatedDeliveryTime time.Time                 `json:"estimated_delivery_time"`
	TrackingURL           string                    `json:"tracking_url"`
	Tasks                 []NotificationTask        `json:"-"` // 传递给 tracker，不序列化到响应
	Contacts              map[string]ManagerContact `json:"-"` // recipient_id -> 联系方式，展开时解析一次、派发阶段复用
}

// DistributionRecord 分发记录（7 天 TTL 的投递状态快照）
type DistributionRecord struct {
	DistributionID  string                 `json:"distribution_id"`
	AlertID         string                 `json:"alert_id"`
	TenantID        string                 `json:"tenant_id"`
	TotalRecipients int                    `json:"total_recipients"`
	CreatedAt       time.Time              `json:"created_at"`
	Status          string                 `json:"status"` // dispatched, partial_failure
	TaskSummaries   map[string]TaskSummary `json:"task_summaries"` // task_id -> 摘要
}
