package analyzer

import (
	"context"
	"fmt"
	"math"

	"wisefido-notify/internal/config"
	"wisefido-notify/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeviceResolver 设备→组织绑定解析（组织/用户目录协作方）
type DeviceResolver interface {
	// ResolveOrgForDevice 设备未绑定组织时返回 (nil, nil)
	ResolveOrgForDevice(ctx context.Context, tenantID, deviceSN string) (*string, error)
}

// Rule 报警类型的分析规则
// Evaluate 必须是确定性的：相同 payload + 相同配置 ⇒ 相同结果
type Rule interface {
	// ExpectedFields 规则期望的 payload 字段（用于数据完整度计算）
	ExpectedFields() []string
	// Evaluate 返回严重级别和规则匹配强度（0.0 - 1.0）
	Evaluate(payload map[string]interface{}) (models.SeverityLevel, float64)
}

// Analyzer 报警分析器
// 将原始报警信号归一化为带严重级别和置信度的报警记录
type Analyzer struct {
	config   *config.Config
	resolver DeviceResolver
	rules    map[string]Rule // alert_type -> 规则，启动时注册一次
	logger   *zap.Logger
}

// NewAnalyzer 创建报警分析器并注册内置规则
func NewAnalyzer(cfg *config.Config, resolver DeviceResolver, logger *zap.Logger) *Analyzer {
	a := &Analyzer{
		config:   cfg,
		resolver: resolver,
		rules:    make(map[string]Rule),
		logger:   logger,
	}

	// 静态注册表：启动时建好，避免散落的字符串匹配
	a.rules[models.AlertTypeDeviceHealth] = NewDeviceHealthRule(cfg)
	a.rules[models.AlertTypeGeofenceBreach] = NewGeofenceRule(cfg)

	return a
}

// RegisterRule 注册自定义规则（覆盖同类型的已注册规则）
func (a *Analyzer) RegisterRule(alertType string, rule Rule) {
	a.rules[alertType] = rule
}

// Analyze 分析原始报警信号
// 业务规则：
// - alert_type 必须已注册规则
// - device_sn 和 tenant_id 必填
// - 设备未绑定组织 ⇒ org_id = nil（不是错误）
// - severity/confidence 对相同输入是确定性的；alert_id 每次生成
func (a *Analyzer) Analyze(ctx context.Context, req *models.AlertProcessingRequest) (*models.AnalyzedAlert, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if req.DeviceSN == "" {
		return nil, fmt.Errorf("device_sn is required")
	}

	rule, ok := a.rules[req.AlertType]
	if !ok {
		return nil, fmt.Errorf("unknown alert type: %s", req.AlertType)
	}

	// 解析所属组织（调用方已知时跳过目录查询）
	orgID := req.OrgID
	if orgID == nil {
		resolved, err := a.resolver.ResolveOrgForDevice(ctx, req.TenantID, req.DeviceSN)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve org for device: %w", err)
		}
		orgID = resolved
	}

	severity, matchStrength := rule.Evaluate(req.Payload)
	confidence := a.confidenceScore(rule, req.Payload, matchStrength)

	alert := &models.AnalyzedAlert{
		AlertID:         uuid.New().String(),
		AlertType:       req.AlertType,
		DeviceSN:        req.DeviceSN,
		OrgID:           orgID,
		TenantID:        req.TenantID,
		SeverityLevel:   severity,
		ConfidenceScore: confidence,
		Timestamp:       req.Timestamp,
		Payload:         req.Payload,
	}

	a.logger.Info("Alert analyzed",
		zap.String("alert_id", alert.AlertID),
		zap.String("alert_type", alert.AlertType),
		zap.String("device_sn", alert.DeviceSN),
		zap.String("severity", string(alert.SeverityLevel)),
		zap.Float64("confidence", alert.ConfidenceScore),
	)

	return alert, nil
}

// confidenceScore 置信度 = 数据完整度与规则匹配强度的加权和（确定性计算）
func (a *Analyzer) confidenceScore(rule Rule, payload map[string]interface{}, matchStrength float64) float64 {
	expected := rule.ExpectedFields()
	if len(expected) == 0 {
		return round2(matchStrength)
	}

	present := 0
	for _, field := range expected {
		if _, ok := payload[field]; ok {
			present++
		}
	}
	completeness := float64(present) / float64(len(expected))

	score := 0.5*completeness + 0.5*matchStrength
	if score > 1.0 {
		score = 1.0
	}
	return round2(score)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
