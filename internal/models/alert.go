package models

import (
	"time"
)

// SeverityLevel 报警严重级别（有序枚举：LOW < MEDIUM < HIGH < CRITICAL）
type SeverityLevel string

const (
	SeverityLow      SeverityLevel = "LOW"
	SeverityMedium   SeverityLevel = "MEDIUM"
	SeverityHigh     SeverityLevel = "HIGH"
	SeverityCritical SeverityLevel = "CRITICAL"
)

// Rank 返回严重级别的序数（用于比较和优先级计算）
func (s SeverityLevel) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AlertType 报警类型
const (
	AlertTypeDeviceHealth   = "device_health"   // 设备健康异常
	AlertTypeGeofenceBreach = "geofence_breach" // 电子围栏越界
)

// AlertProcessingRequest 报警处理请求（由 REST 层 / 信号消费者传入）
type AlertProcessingRequest struct {
	AlertType string                 `json:"alert_type"`
	DeviceSN  string                 `json:"device_sn"`
	TenantID  string                 `json:"tenant_id"`
	OrgID     *string                `json:"org_id,omitempty"` // 可选：调用方已知组织时直接传入
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// AnalyzedAlert 分析后的报警记录（流水线内部使用，不落库）
type AnalyzedAlert struct {
	AlertID         string                 `json:"alert_id"`
	AlertType       string                 `json:"alert_type"`
	DeviceSN        string                 `json:"device_sn"`
	OrgID           *string                `json:"org_id,omitempty"` // 设备未绑定组织时为 nil
	TenantID        string                 `json:"tenant_id"`
	SeverityLevel   SeverityLevel          `json:"severity_level"`
	ConfidenceScore float64                `json:"confidence_score"` // 0.0 - 1.0
	Timestamp       time.Time              `json:"timestamp"`
	Payload         map[string]interface{} `json:"payload,omitempty"`
}

// AlertProcessingResponse 报警处理响应
type AlertProcessingResponse struct {
	AlertID               string    `json:"alert_id"`
	Success               bool      `json:"success"`
	ProcessingTimeMs      int64     `json:"processing_time_ms"`
	DistributionID        string    `json:"distribution_id,omitempty"`
	TotalRecipients       int       `json:"total_recipients,omitempty"`
	EstimatedDeliveryTime time.Time `json:"estimated_delivery_time,omitempty"`
	TrackingURL           string    `json:"tracking_url,omitempty"`
	ConfidenceScore       float64   `json:"confidence_score,omitempty"`
	Priority              int       `json:"priority,omitempty"`
	ProcessedAt           time.Time `json:"processed_at"`
	ErrorMessage          string    `json:"error_message,omitempty"`
}

// BatchProcessingResult 批量处理结果
type BatchProcessingResult struct {
	Responses    []AlertProcessingResponse `json:"responses"`
	SuccessCount int                       `json:"success_count"`
	FailureCount int                       `json:"failure_count"`
}
