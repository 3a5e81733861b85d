package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-notify/internal/cache"
	"wisefido-notify/internal/config"
	"wisefido-notify/internal/models"

	"go.uber.org/zap"
)

// Analyzer 报警分析能力
type Analyzer interface {
	Analyze(ctx context.Context, req *models.AlertProcessingRequest) (*models.AnalyzedAlert, error)
}

// HierarchyResolver 组织层级解析能力
type HierarchyResolver interface {
	GetNotificationHierarchy(ctx context.Context, tenantID, orgID string) ([]models.OrgHierarchyInfo, error)
}

// PriorityCalculator 优先级计算能力
type PriorityCalculator interface {
	CalculatePriority(alert *models.AnalyzedAlert, orgChain []models.OrgHierarchyInfo) (*models.PriorityInfo, error)
}

// Distributor 通知分发能力
// 展开与派发分离：展开结果先落跟踪快照，再进入异步派发
type Distributor interface {
	PrepareDistribution(ctx context.Context, alert *models.AnalyzedAlert, orgChain []models.OrgHierarchyInfo, priorityInfo *models.PriorityInfo) (*models.DistributionResult, error)
	DispatchAlert(alert *models.AnalyzedAlert, priorityInfo *models.PriorityInfo, result *models.DistributionResult)
}

// Tracker 投递跟踪能力
type Tracker interface {
	RecordDistribution(ctx context.Context, alert *models.AnalyzedAlert, result *models.DistributionResult) error
}

// AlertOrchestrator 报警编排器
// 串起 分析 → 层级解析 → 优先级 → 任务展开 → 跟踪快照 → 异步派发，
// 故障统一在这一层收口：任何阶段出错转为失败响应，
// 已产生的副作用（已派发的通知）不回滚
type AlertOrchestrator struct {
	config      *config.Config
	analyzer    Analyzer
	hierarchy   HierarchyResolver
	priority    PriorityCalculator
	distributor Distributor
	tracker     Tracker
	cache       cache.Cache // 重复报警抑制
	logger      *zap.Logger
}

// NewAlertOrchestrator 创建报警编排器
func NewAlertOrchestrator(
	cfg *config.Config,
	analyzer Analyzer,
	hierarchy HierarchyResolver,
	priority PriorityCalculator,
	distributor Distributor,
	tracker Tracker,
	c cache.Cache,
	logger *zap.Logger,
) *AlertOrchestrator {
	return &AlertOrchestrator{
		config:      cfg,
		analyzer:    analyzer,
		hierarchy:   hierarchy,
		priority:    priority,
		distributor: distributor,
		tracker:     tracker,
		cache:       c,
		logger:      logger,
	}
}

// ProcessAlert 处理单条报警
// 入口/出口测量耗时；阶段异常在此收口转为失败响应，不向上抛
func (o *AlertOrchestrator) ProcessAlert(ctx context.Context, req *models.AlertProcessingRequest) (resp *models.AlertProcessingResponse) {
	start := time.Now()

	// 未预期 panic 也在编排器边界收口
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Panic while processing alert",
				zap.Any("panic", r),
			)
			resp = o.failureResponse("", start, fmt.Sprintf("internal error: %v", r))
		}
	}()

	// 1. 分析
	alert, err := o.analyzer.Analyze(ctx, req)
	if err != nil {
		return o.failureResponse("", start, fmt.Sprintf("failed to analyze alert: %v", err))
	}

	// 2. 重复报警抑制（同设备同类型在窗口内只分发一次）
	if o.isSuppressed(ctx, alert) {
		o.logger.Info("Duplicate alert suppressed",
			zap.String("alert_id", alert.AlertID),
			zap.String("device_sn", alert.DeviceSN),
			zap.String("alert_type", alert.AlertType),
		)
		return &models.AlertProcessingResponse{
			AlertID:          alert.AlertID,
			Success:          true,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			ConfidenceScore:  alert.ConfidenceScore,
			ProcessedAt:      time.Now(),
		}
	}

	// 3. 层级解析（设备未绑定组织 ⇒ 空链，走兜底升级）
	var orgChain []models.OrgHierarchyInfo
	if alert.OrgID != nil {
		orgChain, err = o.hierarchy.GetNotificationHierarchy(ctx, alert.TenantID, *alert.OrgID)
		if err != nil {
			// 层级解析降级：记警告、按空链继续，不致命
			o.logger.Warn("Hierarchy resolution degraded, using fallback escalation",
				zap.String("alert_id", alert.AlertID),
				zap.String("org_id", *alert.OrgID),
				zap.Error(err),
			)
			orgChain = nil
		}
	}

	// 4. 优先级与升级链
	priorityInfo, err := o.priority.CalculatePriority(alert, orgChain)
	if err != nil {
		return o.failureResponse(alert.AlertID, start, fmt.Sprintf("failed to calculate priority: %v", err))
	}

	// 5. 展开分发任务
	result, err := o.distributor.PrepareDistribution(ctx, alert, orgChain, priorityInfo)
	if err != nil {
		return o.failureResponse(alert.AlertID, start, fmt.Sprintf("failed to distribute alert: %v", err))
	}

	// 6. 记录跟踪快照
	// 必须先于派发：worker 的终态回写要求快照已存在，否则状态会被丢弃
	if err := o.tracker.RecordDistribution(ctx, alert, result); err != nil {
		return o.failureResponse(alert.AlertID, start, fmt.Sprintf("failed to record distribution: %v", err))
	}

	// 7. 异步派发
	o.distributor.DispatchAlert(alert, priorityInfo, result)

	o.markSuppressed(ctx, alert)

	elapsed := time.Since(start)
	o.logger.Info("Alert processed",
		zap.String("alert_id", alert.AlertID),
		zap.String("distribution_id", result.DistributionID),
		zap.Int("total_recipients", result.TotalRecipients),
		zap.Int64("processing_time_ms", elapsed.Milliseconds()),
	)

	return &models.AlertProcessingResponse{
		AlertID:               alert.AlertID,
		Success:               true,
		ProcessingTimeMs:      elapsed.Milliseconds(),
		DistributionID:        result.DistributionID,
		TotalRecipients:       result.TotalRecipients,
		EstimatedDeliveryTime: result.EstimatedDeliveryTime,
		TrackingURL:           result.TrackingURL,
		ConfidenceScore:       alert.ConfidenceScore,
		Priority:              priorityInfo.Priority,
		ProcessedAt:           time.Now(),
	}
}

// ProcessBatchAlerts 批量处理报警
// 各报警的流水线相互独立并发执行，互不影响、无跨报警顺序保证；
// 全部完成后统计成功/失败数
func (o *AlertOrchestrator) ProcessBatchAlerts(ctx context.Context, requests []*models.AlertProcessingRequest) *models.BatchProcessingResult {
	responses := make([]models.AlertProcessingResponse, len(requests))

	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(idx int, r *models.AlertProcessingRequest) {
			defer wg.Done()
			responses[idx] = *o.ProcessAlert(ctx, r)
		}(i, req)
	}
	wg.Wait()

	result := &models.BatchProcessingResult{
		Responses: responses,
	}
	for i := range responses {
		if responses[i].Success {
			result.SuccessCount++
		} else {
			result.FailureCount++
		}
	}

	o.logger.Info("Batch alerts processed",
		zap.Int("total", len(requests)),
		zap.Int("success", result.SuccessCount),
		zap.Int("failure", result.FailureCount),
	)

	return result
}

// failureResponse 构建失败响应（带错误信息和耗时）
func (o *AlertOrchestrator) failureResponse(alertID string, start time.Time, errMsg string) *models.AlertProcessingResponse {
	return &models.AlertProcessingResponse{
		AlertID:          alertID,
		Success:          false,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		ProcessedAt:      time.Now(),
		ErrorMessage:     errMsg,
	}
}

// isSuppressed 检查同设备同类型报警是否在抑制窗口内
func (o *AlertOrchestrator) isSuppressed(ctx context.Context, alert *models.AnalyzedAlert) bool {
	if o.config.Distribution.SuppressWindowSec <= 0 || o.cache == nil {
		return false
	}

	exists, err := o.cache.Exists(ctx, o.suppressKey(alert))
	if err != nil {
		// 抑制缓存故障时宁可重复通知，不漏报
		o.logger.Warn("Failed to check alert suppression",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err),
		)
		return false
	}
	return exists
}

// markSuppressed 标记抑制窗口
func (o *AlertOrchestrator) markSuppressed(ctx context.Context, alert *models.AnalyzedAlert) {
	if o.config.Distribution.SuppressWindowSec <= 0 || o.cache == nil {
		return
	}

	ttl := time.Duration(o.config.Distribution.SuppressWindowSec) * time.Second
	if err := o.cache.Set(ctx, o.suppressKey(alert), alert.AlertID, ttl); err != nil {
		o.logger.Warn("Failed to mark alert suppression",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err),
		)
	}
}

func (o *AlertOrchestrator) suppressKey(alert *models.AnalyzedAlert) string {
	return o.config.Cache.SuppressKeyPrefix + alert.TenantID + ":" + alert.DeviceSN + ":" + alert.AlertType
}
