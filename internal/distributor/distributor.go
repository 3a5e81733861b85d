package distributor

import (
	"context"
	"fmt"
	"time"

	"wisefido-notify/internal/config"
	"wisefido-notify/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContactLookup 目录联系方式查询（兜底接收人不在组织链里时使用）
type ContactLookup interface {
	GetUserContact(ctx context.Context, tenantID, userID string) (*models.ManagerContact, error)
}

// StatusRecorder 任务终态回写（由投递跟踪器实现）
type StatusRecorder interface {
	UpdateTaskStatus(ctx context.Context, distributionID, taskID string, status models.TaskStatus, retryCount int) error
}

// Distributor 通知分发器
// 分两阶段工作：PrepareDistribution 把升级链展开为 接收人 × 渠道 的
// 通知任务，DispatchAlert 再异步派发。两阶段之间由调用方写入跟踪快照，
// 保证 worker 的状态回写不会先于快照到达。
// 单任务失败只标记该任务，不中断同一报警的其余任务
type Distributor struct {
	config   *config.Config
	registry *SenderRegistry
	contacts ContactLookup
	recorder StatusRecorder // 可为 nil（测试或未接跟踪器时）
	pool     *WorkerPool
	logger   *zap.Logger
	now      func() time.Time
}

// NewDistributor 创建通知分发器
func NewDistributor(
	cfg *config.Config,
	registry *SenderRegistry,
	contacts ContactLookup,
	pool *WorkerPool,
	logger *zap.Logger,
) *Distributor {
	return &Distributor{
		config:   cfg,
		registry: registry,
		contacts: contacts,
		pool:     pool,
		logger:   logger,
		now:      time.Now,
	}
}

// SetStatusRecorder 挂接任务终态回写
func (d *Distributor) SetStatusRecorder(r StatusRecorder) {
	d.recorder = r
}

// PrepareDistribution 将升级链展开为通知任务（只展开，不派发）
// 业务规则：
// - 每个升级步骤 × 负责人 × 适用渠道 生成一个任务
// - 同一接收人在更低层级已被覆盖时不再重复生成（可配置开关）
// - total_recipients 统计去重后的接收人数，不是任务数
// - 联系方式在展开时解析一次，随结果带给派发阶段
// 调用方先把结果写入跟踪快照、再调 DispatchAlert，
// 任务终态回写才不会落在快照之前被丢弃
func (d *Distributor) PrepareDistribution(
	ctx context.Context,
	alert *models.AnalyzedAlert,
	orgChain []models.OrgHierarchyInfo,
	priorityInfo *models.PriorityInfo,
) (*models.DistributionResult, error) {
	if alert == nil {
		return nil, fmt.Errorf("alert is required")
	}
	if priorityInfo == nil || len(priorityInfo.EscalationChain) == 0 {
		return nil, fmt.Errorf("escalation chain is required")
	}

	// 组织链中已有的联系方式（兜底接收人走目录查询）
	contactIndex := make(map[string]models.ManagerContact)
	for _, org := range orgChain {
		for _, m := range org.Managers {
			contactIndex[m.UserID] = m
		}
	}

	distributionID := uuid.New().String()
	seenRecipients := make(map[string]bool)
	recipientSet := make(map[string]bool)
	contacts := make(map[string]models.ManagerContact)
	var tasks []models.NotificationTask

	for _, step := range priorityInfo.EscalationChain {
		recipientType := models.RecipientManager
		if step.OrgID == "" {
			// 兜底步骤：系统默认接收人
			recipientType = models.RecipientAdmin
		}

		for _, managerID := range step.ManagerIDs {
			if d.config.Distribution.DedupeRecipients && seenRecipients[managerID] {
				// 同一人管理嵌套组织时，低层级已覆盖，不重复通知
				continue
			}
			seenRecipients[managerID] = true

			contact := d.resolveContact(ctx, alert.TenantID, managerID, contactIndex)
			contacts[managerID] = contact

			for _, channel := range d.applicableChannels(contact, priorityInfo.Priority) {
				task := models.NotificationTask{
					TaskID:           uuid.New().String(),
					AlertID:          alert.AlertID,
					RecipientID:      managerID,
					RecipientType:    recipientType,
					Priority:         priorityInfo.Priority,
					Channel:          channel,
					DeliveryDeadline: priorityInfo.ProcessingDeadline.Add(time.Duration(step.DelayMinutes) * time.Minute),
					EscalationDelay:  step.DelayMinutes,
					Status:           models.TaskPending,
					RetryCount:       0,
					Metadata: map[string]interface{}{
						"org_id":           step.OrgID,
						"org_name":         step.OrgName,
						"escalation_level": step.Level,
					},
				}
				tasks = append(tasks, task)
				recipientSet[managerID] = true
			}
		}
	}

	result := &models.DistributionResult{
		DistributionID:        distributionID,
		TotalRecipients:       len(recipientSet),
		EstimatedDeliveryTime: d.now().Add(30 * time.Second),
		TrackingURL:           d.config.Distribution.TrackingURLBase + distributionID,
		Tasks:                 tasks,
		Contacts:              contacts,
	}

	d.logger.Debug("Alert distribution prepared",
		zap.String("alert_id", alert.AlertID),
		zap.String("distribution_id", distributionID),
		zap.Int("task_count", len(tasks)),
		zap.Int("total_recipients", result.TotalRecipients),
	)

	return result, nil
}

// DispatchAlert 异步派发已展开的分发结果
// 入队即返回，不等待实际网络投递；worker 池有界、队满 caller-runs。
// 前置条件：结果已写入跟踪快照，worker 的状态回写才有落点
func (d *Distributor) DispatchAlert(alert *models.AnalyzedAlert, priorityInfo *models.PriorityInfo, result *models.DistributionResult) {
	msg := d.buildMessage(alert, priorityInfo)

	for _, task := range result.Tasks {
		t := task
		contact, ok := result.Contacts[t.RecipientID]
		if !ok {
			contact = models.ManagerContact{UserID: t.RecipientID}
		}
		d.pool.Submit(func() {
			d.dispatchTask(result.DistributionID, t, contact, msg)
		})
	}

	d.logger.Info("Alert distribution queued",
		zap.String("alert_id", alert.AlertID),
		zap.String("distribution_id", result.DistributionID),
		zap.Int("task_count", len(result.Tasks)),
		zap.Int("total_recipients", result.TotalRecipients),
	)
}

// dispatchTask 派发单个任务（worker 池内执行）
// 使用独立上下文：请求返回后投递继续进行（fire-and-forget）
func (d *Distributor) dispatchTask(distributionID string, task models.NotificationTask, contact models.ManagerContact, msg Message) {
	ctx := context.Background()

	d.recordStatus(ctx, distributionID, task.TaskID, models.TaskProcessing, task.RetryCount)

	sender, err := d.registry.Get(task.Channel)
	if err != nil {
		d.logger.Error("No sender for channel",
			zap.String("task_id", task.TaskID),
			zap.String("channel", string(task.Channel)),
			zap.Error(err),
		)
		d.recordStatus(ctx, distributionID, task.TaskID, models.TaskFailed, task.RetryCount)
		return
	}

	if err := sender.Send(ctx, contact, msg); err != nil {
		// 单任务失败隔离：只标记该任务，不影响同批其他任务
		d.logger.Error("Failed to dispatch notification task",
			zap.String("task_id", task.TaskID),
			zap.String("recipient_id", task.RecipientID),
			zap.String("channel", string(task.Channel)),
			zap.Error(err),
		)
		d.recordStatus(ctx, distributionID, task.TaskID, models.TaskFailed, task.RetryCount)
		return
	}

	d.recordStatus(ctx, distributionID, task.TaskID, models.TaskDelivered, task.RetryCount)
}

// recordStatus 回写任务状态（未接跟踪器时忽略）
func (d *Distributor) recordStatus(ctx context.Context, distributionID, taskID string, status models.TaskStatus, retryCount int) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.UpdateTaskStatus(ctx, distributionID, taskID, status, retryCount); err != nil {
		d.logger.Warn("Failed to record task status",
			zap.String("distribution_id", distributionID),
			zap.String("task_id", taskID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

// resolveContact 解析接收人联系方式
// 组织链里没有时查目录；目录也查不到时返回只有 user_id 的空联系方式，
// 任务照常生成，由渠道发送时报失败
func (d *Distributor) resolveContact(ctx context.Context, tenantID, userID string, index map[string]models.ManagerContact) models.ManagerContact {
	if c, ok := index[userID]; ok {
		return c
	}

	if d.contacts != nil {
		if c, err := d.contacts.GetUserContact(ctx, tenantID, userID); err == nil {
			index[userID] = *c
			return *c
		} else {
			d.logger.Warn("Failed to look up recipient contact",
				zap.String("tenant_id", tenantID),
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}

	return models.ManagerContact{UserID: userID}
}

// applicableChannels 接收人的适用渠道
// 按联系方式可达性选择；SMS 只在高优先级使用；
// 没有任何联系方式时仍生成邮件任务（发送时报失败，保留失败痕迹）
func (d *Distributor) applicableChannels(contact models.ManagerContact, priority int) []models.Channel {
	var channels []models.Channel
	if contact.PushSN != "" {
		channels = append(channels, models.ChannelPush)
	}
	if contact.ChatID != "" {
		channels = append(channels, models.ChannelChat)
	}
	if contact.Email != "" {
		channels = append(channels, models.ChannelEmail)
	}
	if priority >= 4 && contact.Phone != "" {
		channels = append(channels, models.ChannelSMS)
	}
	if len(channels) == 0 {
		channels = append(channels, models.ChannelEmail)
	}
	return channels
}

// buildMessage 构建渠道无关的通知内容
func (d *Distributor) buildMessage(alert *models.AnalyzedAlert, priorityInfo *models.PriorityInfo) Message {
	title := fmt.Sprintf("[%s] %s alert", alert.SeverityLevel, alert.AlertType)
	body := fmt.Sprintf(
		"Device %s reported a %s alert (severity %s, confidence %.2f). Please handle before %s.",
		alert.DeviceSN,
		alert.AlertType,
		alert.SeverityLevel,
		alert.ConfidenceScore,
		priorityInfo.ProcessingDeadline.Format(time.RFC3339),
	)
	return Message{
		Title:    title,
		Body:     body,
		AlertID:  alert.AlertID,
		Priority: priorityInfo.Priority,
	}
}
