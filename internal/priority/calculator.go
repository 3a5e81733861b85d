package priority

import (
	"fmt"
	"math"
	"time"

	"wisefido-notify/internal/config"
	"wisefido-notify/internal/models"

	"go.uber.org/zap"
)

// 优先级范围
const (
	MinPriority = 1
	MaxPriority = 5
)

// Calculator 优先级计算器
// 由分析结果和组织链得出优先级、处理截止时间和升级链
type Calculator struct {
	config *config.Config
	logger *zap.Logger
	now    func() time.Time // 可注入时钟（测试用）
}

// NewCalculator 创建优先级计算器
func NewCalculator(cfg *config.Config, logger *zap.Logger) *Calculator {
	return &Calculator{
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// CalculatePriority 计算优先级与升级链
// 业务规则：
// - priority 对固定置信度随严重级别单调不减，夹在 [1,5]
// - 优先级越高处理窗口越短
// - 升级链沿组织链 depth 升序构建，无负责人的层级跳过但不中断
// - 组织链为空或全链无负责人时产生单个兜底步骤，绝不返回空链
func (c *Calculator) CalculatePriority(alert *models.AnalyzedAlert, orgChain []models.OrgHierarchyInfo) (*models.PriorityInfo, error) {
	if alert == nil {
		return nil, fmt.Errorf("alert is required")
	}

	p := c.priorityOf(alert.SeverityLevel, alert.ConfidenceScore)
	deadline := c.now().Add(c.deadlineWindow(p))
	chain := c.buildEscalationChain(orgChain)

	info := &models.PriorityInfo{
		Priority:           p,
		ProcessingDeadline: deadline,
		EscalationChain:    chain,
	}

	c.logger.Debug("Priority calculated",
		zap.String("alert_id", alert.AlertID),
		zap.Int("priority", p),
		zap.Int("escalation_steps", len(chain)),
	)

	return info, nil
}

// priorityOf 优先级 = 严重级别基数 + 高置信度加成，夹在 [1,5]
func (c *Calculator) priorityOf(severity models.SeverityLevel, confidence float64) int {
	p := severity.Rank()
	if p < MinPriority {
		p = MinPriority
	}
	if confidence >= 0.8 {
		p++
	}
	if p > MaxPriority {
		p = MaxPriority
	}
	return p
}

// deadlineWindow 处理窗口：优先级越高窗口越短
func (c *Calculator) deadlineWindow(priority int) time.Duration {
	switch priority {
	case 5:
		return 5 * time.Minute
	case 4:
		return 15 * time.Minute
	case 3:
		return 30 * time.Minute
	case 2:
		return 60 * time.Minute
	default:
		return 120 * time.Minute
	}
}

// buildEscalationChain 沿组织链构建升级链
// 延迟从 0 开始，之后按配置基数指数退避，保证严格递增
func (c *Calculator) buildEscalationChain(orgChain []models.OrgHierarchyInfo) []models.EscalationStep {
	var chain []models.EscalationStep

	level := 0
	for _, org := range orgChain {
		if len(org.ManagerIDs) == 0 {
			// 无负责人的层级跳过，继续向上走
			continue
		}

		chain = append(chain, models.EscalationStep{
			Level:        level,
			OrgID:        org.OrgID,
			OrgName:      org.OrgName,
			ManagerIDs:   org.ManagerIDs,
			DelayMinutes: c.delayForLevel(level),
		})
		level++
	}

	// 孤儿组织或全链无负责人：单个兜底步骤，升级链永不为空
	if len(chain) == 0 {
		chain = append(chain, models.EscalationStep{
			Level:        0,
			OrgID:        "",
			OrgName:      c.config.Priority.FallbackOrgName,
			ManagerIDs:   []string{c.config.Priority.FallbackUserID},
			DelayMinutes: 0,
		})
	}

	return chain
}

// delayForLevel 第 level 级的通知延迟（分钟）
// level 0 立即通知，之后 base * growth^(level-1)
func (c *Calculator) delayForLevel(level int) int {
	if level == 0 {
		return 0
	}
	base := float64(c.config.Priority.BaseDelayMinutes)
	growth := c.config.Priority.DelayGrowth
	if growth <= 1 {
		growth = 1
	}
	return int(math.Round(base * math.Pow(growth, float64(level-1))))
}
