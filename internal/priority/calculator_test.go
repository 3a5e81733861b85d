package priority

import (
	"testing"
	"time"

	"wisefido-notify/internal/config"
	"wisefido-notify/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Priority.BaseDelayMinutes = 5
	cfg.Priority.DelayGrowth = 2.0
	cfg.Priority.FallbackOrgName = "System Default"
	cfg.Priority.FallbackUserID = "system-admin"
	return cfg
}

func newTestCalculator() *Calculator {
	c := NewCalculator(testConfig(), zap.NewNop())
	c.now = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}
	return c
}

func alertWith(severity models.SeverityLevel, confidence float64) *models.AnalyzedAlert {
	return &models.AnalyzedAlert{
		AlertID:         "alert-1",
		AlertType:       models.AlertTypeDeviceHealth,
		DeviceSN:        "SN-001",
		TenantID:        "tenant-1",
		SeverityLevel:   severity,
		ConfidenceScore: confidence,
	}
}

func chainWithManagers() []models.OrgHierarchyInfo {
	return []models.OrgHierarchyInfo{
		{OrgID: "org-unit", OrgName: "Care Unit 3", OrgLevel: 3, Depth: 0, ManagerIDs: []string{"mgr-unit"}},
		{OrgID: "org-building", OrgName: "Building B", OrgLevel: 2, Depth: 1, ManagerIDs: []string{"mgr-building"}},
		{OrgID: "org-facility", OrgName: "Facility West", OrgLevel: 1, Depth: 2, ManagerIDs: []string{"mgr-facility"}},
	}
}

func TestCalculatePriority_MonotonicInSeverity(t *testing.T) {
	c := newTestCalculator()

	severities := []models.SeverityLevel{
		models.SeverityLow,
		models.SeverityMedium,
		models.SeverityHigh,
		models.SeverityCritical,
	}

	prev := 0
	for _, s := range severities {
		info, err := c.CalculatePriority(alertWith(s, 0.5), chainWithManagers())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, info.Priority, prev, "severity %s", s)
		assert.GreaterOrEqual(t, info.Priority, MinPriority)
		assert.LessOrEqual(t, info.Priority, MaxPriority)
		prev = info.Priority
	}
}

func TestCalculatePriority_HighConfidenceBoost(t *testing.T) {
	c := newTestCalculator()

	low, err := c.CalculatePriority(alertWith(models.SeverityMedium, 0.5), chainWithManagers())
	require.NoError(t, err)
	high, err := c.CalculatePriority(alertWith(models.SeverityMedium, 0.9), chainWithManagers())
	require.NoError(t, err)

	assert.Equal(t, low.Priority+1, high.Priority)
}

func TestCalculatePriority_ClampedAtMax(t *testing.T) {
	c := newTestCalculator()

	// CRITICAL + 高置信度：基数 4 + 加成 1，不超过 5
	info, err := c.CalculatePriority(alertWith(models.SeverityCritical, 0.95), chainWithManagers())
	require.NoError(t, err)
	assert.Equal(t, MaxPriority, info.Priority)
}

func TestCalculatePriority_DeadlineShrinksWithPriority(t *testing.T) {
	c := newTestCalculator()

	low, err := c.CalculatePriority(alertWith(models.SeverityLow, 0.5), chainWithManagers())
	require.NoError(t, err)
	critical, err := c.CalculatePriority(alertWith(models.SeverityCritical, 0.95), chainWithManagers())
	require.NoError(t, err)

	assert.True(t, critical.ProcessingDeadline.Before(low.ProcessingDeadline))
}

func TestCalculatePriority_EscalationDelaysStrictlyIncrease(t *testing.T) {
	c := newTestCalculator()

	info, err := c.CalculatePriority(alertWith(models.SeverityHigh, 0.5), chainWithManagers())
	require.NoError(t, err)
	require.Len(t, info.EscalationChain, 3)

	// 0 → 5 → 10（base=5, growth=2）
	assert.Equal(t, 0, info.EscalationChain[0].DelayMinutes)
	assert.Equal(t, 5, info.EscalationChain[1].DelayMinutes)
	assert.Equal(t, 10, info.EscalationChain[2].DelayMinutes)

	for i := 1; i < len(info.EscalationChain); i++ {
		assert.Greater(t, info.EscalationChain[i].DelayMinutes, info.EscalationChain[i-1].DelayMinutes)
		assert.Equal(t, i, info.EscalationChain[i].Level)
	}
}

func TestCalculatePriority_SkipsManagerlessLevels(t *testing.T) {
	c := newTestCalculator()

	chain := []models.OrgHierarchyInfo{
		{OrgID: "org-unit", OrgName: "Care Unit 3", Depth: 0, ManagerIDs: []string{"mgr-unit"}},
		{OrgID: "org-building", OrgName: "Building B", Depth: 1}, // 无负责人
		{OrgID: "org-facility", OrgName: "Facility West", Depth: 2, ManagerIDs: []string{"mgr-facility"}},
	}

	info, err := c.CalculatePriority(alertWith(models.SeverityHigh, 0.5), chain)
	require.NoError(t, err)

	// 跳过无负责人的层级，层级序号保持连续
	require.Len(t, info.EscalationChain, 2)
	assert.Equal(t, "org-unit", info.EscalationChain[0].OrgID)
	assert.Equal(t, 0, info.EscalationChain[0].Level)
	assert.Equal(t, "org-facility", info.EscalationChain[1].OrgID)
	assert.Equal(t, 1, info.EscalationChain[1].Level)
}

func TestCalculatePriority_EmptyChain_FallbackStep(t *testing.T) {
	c := newTestCalculator()

	info, err := c.CalculatePriority(alertWith(models.SeverityCritical, 0.9), nil)
	require.NoError(t, err)

	// 孤儿组织：单个兜底步骤，升级链永不为空
	require.Len(t, info.EscalationChain, 1)
	step := info.EscalationChain[0]
	assert.Equal(t, 0, step.Level)
	assert.Empty(t, step.OrgID)
	assert.Equal(t, "System Default", step.OrgName)
	assert.Equal(t, []string{"system-admin"}, step.ManagerIDs)
	assert.Equal(t, 0, step.DelayMinutes)
}

func TestCalculatePriority_AllLevelsManagerless_FallbackStep(t *testing.T) {
	c := newTestCalculator()

	chain := []models.OrgHierarchyInfo{
		{OrgID: "org-unit", OrgName: "Care Unit 3", Depth: 0},
		{OrgID: "org-facility", OrgName: "Facility West", Depth: 1},
	}

	info, err := c.CalculatePriority(alertWith(models.SeverityLow, 0.3), chain)
	require.NoError(t, err)

	require.Len(t, info.EscalationChain, 1)
	assert.Equal(t, []string{"system-admin"}, info.EscalationChain[0].ManagerIDs)
}

func TestCalculatePriority_NilAlert(t *testing.T) {
	c := newTestCalculator()

	info, err := c.CalculatePriority(nil, chainWithManagers())

	assert.Error(t, err)
	assert.Nil(t, info)
}
