package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-notify/internal/cache"
	"wisefido-notify/internal/config"
	"wisefido-notify/internal/models"

	"go.uber.org/zap"
)

// TrackingTTL 分发记录的固定保留期：7 天后自动过期，无需显式删除
const TrackingTTL = 7 * 24 * time.Hour

// ErrNotFound 分发记录不存在（从未记录或已过期）
var ErrNotFound = errors.New("tracker: distribution not found")

// Tracker 投递跟踪器
// 分发结果的唯一事后查询入口：按 distribution_id 存储
// 带 TTL 的投递状态快照，其他组件不持久化任务结果
type Tracker struct {
	config *config.Config
	cache  cache.Cache
	logger *zap.Logger
	now    func() time.Time
}

// NewTracker 创建投递跟踪器
func NewTracker(cfg *config.Config, c cache.Cache, logger *zap.Logger) *Tracker {
	return &Tracker{
		config: cfg,
		cache:  c,
		logger: logger,
		now:    time.Now,
	}
}

// RecordDistribution 记录一次分发的快照
func (t *Tracker) RecordDistribution(ctx context.Context, alert *models.AnalyzedAlert, result *models.DistributionResult) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	if result == nil {
		return fmt.Errorf("distribution result is required")
	}

	summaries := make(map[string]models.TaskSummary, len(result.Tasks))
	for _, task := range result.Tasks {
		summaries[task.TaskID] = models.TaskSummary{
			RecipientID: task.RecipientID,
			Channel:     task.Channel,
			Status:      task.Status,
			RetryCount:  task.RetryCount,
		}
	}

	record := &models.DistributionRecord{
		DistributionID:  result.DistributionID,
		AlertID:         alert.AlertID,
		TenantID:        alert.TenantID,
		TotalRecipients: result.TotalRecipients,
		CreatedAt:       t.now(),
		Status:          "dispatched",
		TaskSummaries:   summaries,
	}

	key := t.recordKey(result.DistributionID)
	if err := t.cache.Set(ctx, key, record, TrackingTTL); err != nil {
		return fmt.Errorf("failed to store distribution record: %w", err)
	}

	t.logger.Info("Distribution recorded",
		zap.String("distribution_id", result.DistributionID),
		zap.String("alert_id", alert.AlertID),
		zap.Int("task_count", len(summaries)),
	)

	return nil
}

// GetTrackingInfo 查询分发记录
// 记录不存在或已过期返回 ErrNotFound
func (t *Tracker) GetTrackingInfo(ctx context.Context, distributionID string) (*models.DistributionRecord, error) {
	if distributionID == "" {
		return nil, fmt.Errorf("distribution_id is required")
	}

	var record models.DistributionRecord
	key := t.recordKey(distributionID)
	if err := t.cache.Get(ctx, key, &record); err != nil {
		if err == cache.ErrCacheMiss {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load distribution record: %w", err)
	}

	return &record, nil
}

// UpdateTaskStatus 回写任务终态
// 保留期不变：写回时按创建时刻重算剩余 TTL，不因更新而顺延。
// 并发更新按"最后写入可见"处理（键值存储的原生单键原子性足够）
func (t *Tracker) UpdateTaskStatus(ctx context.Context, distributionID, taskID string, status models.TaskStatus, retryCount int) error {
	record, err := t.GetTrackingInfo(ctx, distributionID)
	if err != nil {
		if err == ErrNotFound {
			// 快照先于派发写入，走到这里只剩保留期已过的情况：忽略
			return nil
		}
		return err
	}

	summary, ok := record.TaskSummaries[taskID]
	if !ok {
		return fmt.Errorf("task not found in distribution %s: %s", distributionID, taskID)
	}
	summary.Status = status
	summary.RetryCount = retryCount
	record.TaskSummaries[taskID] = summary

	// 任一任务失败时整体状态降为部分失败
	if status == models.TaskFailed {
		record.Status = "partial_failure"
	}

	remaining := record.CreatedAt.Add(TrackingTTL).Sub(t.now())
	if remaining <= 0 {
		// 已过保留期：不再写回
		return nil
	}

	key := t.recordKey(distributionID)
	if err := t.cache.Set(ctx, key, record, remaining); err != nil {
		return fmt.Errorf("failed to update distribution record: %w", err)
	}

	return nil
}

func (t *Tracker) recordKey(distributionID string) string {
	return t.config.Cache.TrackKeyPrefix + distributionID
}
