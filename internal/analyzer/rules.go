package analyzer

import (
	"wisefido-notify/internal/config"
	"wisefido-notify/internal/models"
)

// DeviceHealthRule 设备健康异常规则
// 健康分越低越严重，阈值来自配置
type DeviceHealthRule struct {
	config *config.Config
}

// NewDeviceHealthRule 创建设备健康规则
func NewDeviceHealthRule(cfg *config.Config) *DeviceHealthRule {
	return &DeviceHealthRule{config: cfg}
}

// ExpectedFields 期望的 payload 字段
func (r *DeviceHealthRule) ExpectedFields() []string {
	return []string{"health_score", "battery_level", "last_seen_sec"}
}

// Evaluate 按健康分阈值划分级别
// 匹配强度 = 健康分偏离满分的程度（分数越低强度越高）
func (r *DeviceHealthRule) Evaluate(payload map[string]interface{}) (models.SeverityLevel, float64) {
	score, ok := numericField(payload, "health_score")
	if !ok {
		// 没有健康分：只能给最低级别，弱匹配
		return models.SeverityLow, 0.2
	}

	thresholds := r.config.Analyzer.DeviceHealth

	var severity models.SeverityLevel
	switch {
	case score < thresholds.CriticalScore:
		severity = models.SeverityCritical
	case score < thresholds.HighScore:
		severity = models.SeverityHigh
	case score < thresholds.MediumScore:
		severity = models.SeverityMedium
	default:
		severity = models.SeverityLow
	}

	strength := (100 - score) / 100
	if strength < 0 {
		strength = 0
	}
	if strength > 1 {
		strength = 1
	}

	return severity, strength
}

// GeofenceRule 电子围栏越界规则
// 越界距离越大越严重
type GeofenceRule struct {
	config *config.Config
}

// NewGeofenceRule 创建围栏越界规则
func NewGeofenceRule(cfg *config.Config) *GeofenceRule {
	return &GeofenceRule{config: cfg}
}

// ExpectedFields 期望的 payload 字段
func (r *GeofenceRule) ExpectedFields() []string {
	return []string{"distance_m", "geofence_id", "lat", "lng"}
}

// Evaluate 按越界距离划分级别
// 匹配强度 = 距离相对 CRITICAL 阈值的占比（封顶 1.0）
func (r *GeofenceRule) Evaluate(payload map[string]interface{}) (models.SeverityLevel, float64) {
	distance, ok := numericField(payload, "distance_m")
	if !ok {
		// 只知道越界、不知道距离：按 MEDIUM 处理
		return models.SeverityMedium, 0.4
	}

	thresholds := r.config.Analyzer.Geofence

	var severity models.SeverityLevel
	switch {
	case distance > thresholds.CriticalDistance:
		severity = models.SeverityCritical
	case distance > thresholds.HighDistance:
		severity = models.SeverityHigh
	default:
		severity = models.SeverityMedium
	}

	strength := distance / thresholds.CriticalDistance
	if strength > 1 {
		strength = 1
	}
	if strength < 0 {
		strength = 0
	}

	return severity, strength
}

// numericField 从 payload 读取数值字段（JSON 反序列化后为 float64，也兼容 int）
func numericField(payload map[string]interface{}, key string) (float64, bool) {
	if payload == nil {
		return 0, false
	}
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
