package distributor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"wisefido-notify/internal/cache"
	"wisefido-notify/internal/config"
	"wisefido-notify/internal/models"
	"wisefido-notify/internal/tracker"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSender 记录发送调用的渠道替身
type fakeSender struct {
	channel models.Channel
	fail    bool

	mu    sync.Mutex
	sends []string // recipient user_id
}

func (f *fakeSender) Channel() models.Channel {
	return f.channel
}

func (f *fakeSender) Send(ctx context.Context, recipient models.ManagerContact, msg Message) error {
	f.mu.Lock()
	f.sends = append(f.sends, recipient.UserID)
	f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("channel %s unavailable", f.channel)
	}
	return nil
}

func (f *fakeSender) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

// fakeRecorder 记录状态回写的跟踪器替身
type fakeRecorder struct {
	mu       sync.Mutex
	statuses map[string][]models.TaskStatus // task_id -> 状态序列
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{statuses: make(map[string][]models.TaskStatus)}
}

func (f *fakeRecorder) UpdateTaskStatus(ctx context.Context, distributionID, taskID string, status models.TaskStatus, retryCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[taskID] = append(f.statuses[taskID], status)
	return nil
}

func (f *fakeRecorder) finalStatus(taskID string) models.TaskStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.statuses[taskID]
	if len(seq) == 0 {
		return ""
	}
	return seq[len(seq)-1]
}

// countingLookup 统计目录查询次数的替身
type countingLookup struct {
	mu      sync.Mutex
	calls   int
	contact models.ManagerContact
}

func (c *countingLookup) GetUserContact(ctx context.Context, tenantID, userID string) (*models.ManagerContact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	contact := c.contact
	contact.UserID = userID
	return &contact, nil
}

func (c *countingLookup) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testDistConfig(dedupe bool) *config.Config {
	cfg := &config.Config{}
	cfg.Distribution.Workers = 2
	cfg.Distribution.QueueSize = 16
	cfg.Distribution.DedupeRecipients = dedupe
	cfg.Distribution.TrackingURLBase = "https://app.example.com/track/"
	return cfg
}

func testAlert() *models.AnalyzedAlert {
	orgID := "org-unit"
	return &models.AnalyzedAlert{
		AlertID:         "alert-1",
		AlertType:       models.AlertTypeDeviceHealth,
		DeviceSN:        "SN-001",
		OrgID:           &orgID,
		TenantID:        "tenant-1",
		SeverityLevel:   models.SeverityHigh,
		ConfidenceScore: 0.9,
	}
}

func testPriorityInfo(priority int, chain []models.EscalationStep) *models.PriorityInfo {
	return &models.PriorityInfo{
		Priority:           priority,
		ProcessingDeadline: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
		EscalationChain:    chain,
	}
}

// setupDistributor 固定两级升级链 + email/push 双渠道
func setupDistributor(t *testing.T, dedupe bool, senders ...Sender) (*Distributor, *fakeRecorder, *WorkerPool) {
	t.Helper()

	pool := NewWorkerPool(2, 16)
	recorder := newFakeRecorder()

	d := NewDistributor(testDistConfig(dedupe), NewSenderRegistry(senders...), nil, pool, zap.NewNop())
	d.SetStatusRecorder(recorder)

	return d, recorder, pool
}

func orgChainTwoLevels() []models.OrgHierarchyInfo {
	return []models.OrgHierarchyInfo{
		{
			OrgID: "org-unit", OrgName: "Care Unit 3", Depth: 0,
			ManagerIDs: []string{"mgr-unit"},
			Managers:   []models.ManagerContact{{UserID: "mgr-unit", Email: "unit@example.com"}},
		},
		{
			OrgID: "org-facility", OrgName: "Facility West", Depth: 1,
			ManagerIDs: []string{"mgr-facility"},
			Managers:   []models.ManagerContact{{UserID: "mgr-facility", Email: "facility@example.com"}},
		},
	}
}

func escalationTwoSteps() []models.EscalationStep {
	return []models.EscalationStep{
		{Level: 0, OrgID: "org-unit", OrgName: "Care Unit 3", ManagerIDs: []string{"mgr-unit"}, DelayMinutes: 0},
		{Level: 1, OrgID: "org-facility", OrgName: "Facility West", ManagerIDs: []string{"mgr-facility"}, DelayMinutes: 5},
	}
}

// ============================================
// 展开阶段
// ============================================

func TestPrepareDistribution_DedupeSharedManager(t *testing.T) {
	email := &fakeSender{channel: models.ChannelEmail}
	d, _, pool := setupDistributor(t, true, email)
	defer pool.Stop()

	// 同一负责人同时管辖两级组织
	chain := []models.OrgHierarchyInfo{
		{
			OrgID: "org-unit", OrgName: "Care Unit 3", Depth: 0,
			ManagerIDs: []string{"mgr-both"},
			Managers:   []models.ManagerContact{{UserID: "mgr-both", Email: "both@example.com"}},
		},
		{
			OrgID: "org-facility", OrgName: "Facility West", Depth: 1,
			ManagerIDs: []string{"mgr-both"},
			Managers:   []models.ManagerContact{{UserID: "mgr-both", Email: "both@example.com"}},
		},
	}
	steps := []models.EscalationStep{
		{Level: 0, OrgID: "org-unit", OrgName: "Care Unit 3", ManagerIDs: []string{"mgr-both"}},
		{Level: 1, OrgID: "org-facility", OrgName: "Facility West", ManagerIDs: []string{"mgr-both"}, DelayMinutes: 5},
	}

	result, err := d.PrepareDistribution(context.Background(), testAlert(), chain, testPriorityInfo(3, steps))
	require.NoError(t, err)

	// 低层级已覆盖：只生成一个任务
	assert.Equal(t, 1, result.TotalRecipients)
	assert.Len(t, result.Tasks, 1)
	assert.Equal(t, "org-unit", result.Tasks[0].Metadata["org_id"])
}

func TestPrepareDistribution_DedupeDisabled(t *testing.T) {
	email := &fakeSender{channel: models.ChannelEmail}
	d, _, pool := setupDistributor(t, false, email)
	defer pool.Stop()

	chain := []models.OrgHierarchyInfo{
		{
			OrgID: "org-unit", OrgName: "Care Unit 3", Depth: 0,
			ManagerIDs: []string{"mgr-both"},
			Managers:   []models.ManagerContact{{UserID: "mgr-both", Email: "both@example.com"}},
		},
	}
	steps := []models.EscalationStep{
		{Level: 0, OrgID: "org-unit", OrgName: "Care Unit 3", ManagerIDs: []string{"mgr-both"}},
		{Level: 1, OrgID: "org-facility", OrgName: "Facility West", ManagerIDs: []string{"mgr-both"}, DelayMinutes: 5},
	}

	result, err := d.PrepareDistribution(context.Background(), testAlert(), chain, testPriorityInfo(3, steps))
	require.NoError(t, err)

	// 关闭去重：每个升级步骤都生成任务，但接收人数仍按去重统计
	assert.Len(t, result.Tasks, 2)
	assert.Equal(t, 1, result.TotalRecipients)
}

func TestPrepareDistribution_SMSOnlyForHighPriority(t *testing.T) {
	email := &fakeSender{channel: models.ChannelEmail}
	sms := &fakeSender{channel: models.ChannelSMS}
	d, _, pool := setupDistributor(t, true, email, sms)
	defer pool.Stop()

	chain := []models.OrgHierarchyInfo{
		{
			OrgID: "org-unit", OrgName: "Care Unit 3", Depth: 0,
			ManagerIDs: []string{"mgr-unit"},
			Managers:   []models.ManagerContact{{UserID: "mgr-unit", Email: "unit@example.com", Phone: "+8613800000001"}},
		},
	}
	steps := []models.EscalationStep{
		{Level: 0, OrgID: "org-unit", OrgName: "Care Unit 3", ManagerIDs: []string{"mgr-unit"}},
	}

	low, err := d.PrepareDistribution(context.Background(), testAlert(), chain, testPriorityInfo(3, steps))
	require.NoError(t, err)
	high, err := d.PrepareDistribution(context.Background(), testAlert(), chain, testPriorityInfo(4, steps))
	require.NoError(t, err)

	channelsOf := func(tasks []models.NotificationTask) []models.Channel {
		var out []models.Channel
		for _, task := range tasks {
			out = append(out, task.Channel)
		}
		return out
	}

	assert.NotContains(t, channelsOf(low.Tasks), models.ChannelSMS)
	assert.Contains(t, channelsOf(high.Tasks), models.ChannelSMS)
}

func TestPrepareDistribution_DeliveryDeadlineIncludesEscalationDelay(t *testing.T) {
	email := &fakeSender{channel: models.ChannelEmail}
	d, _, pool := setupDistributor(t, true, email)
	defer pool.Stop()

	info := testPriorityInfo(3, escalationTwoSteps())
	result, err := d.PrepareDistribution(context.Background(), testAlert(), orgChainTwoLevels(), info)
	require.NoError(t, err)

	byRecipient := make(map[string]models.NotificationTask)
	for _, task := range result.Tasks {
		byRecipient[task.RecipientID] = task
	}

	assert.Equal(t, info.ProcessingDeadline, byRecipient["mgr-unit"].DeliveryDeadline)
	assert.Equal(t, info.ProcessingDeadline.Add(5*time.Minute), byRecipient["mgr-facility"].DeliveryDeadline)
}

func TestPrepareDistribution_FallbackStepUsesAdminRecipientType(t *testing.T) {
	email := &fakeSender{channel: models.ChannelEmail}
	d, _, pool := setupDistributor(t, true, email)
	defer pool.Stop()

	steps := []models.EscalationStep{
		{Level: 0, OrgID: "", OrgName: "System Default", ManagerIDs: []string{"system-admin"}},
	}

	result, err := d.PrepareDistribution(context.Background(), testAlert(), nil, testPriorityInfo(5, steps))
	require.NoError(t, err)

	require.Len(t, result.Tasks, 1)
	assert.Equal(t, models.RecipientAdmin, result.Tasks[0].RecipientType)
}

func TestPrepareDistribution_MissingEscalationChain(t *testing.T) {
	email := &fakeSender{channel: models.ChannelEmail}
	d, _, pool := setupDistributor(t, true, email)
	defer pool.Stop()

	result, err := d.PrepareDistribution(context.Background(), testAlert(), nil, testPriorityInfo(3, nil))

	assert.Error(t, err)
	assert.Nil(t, result)
}

func TestPrepareDistribution_TrackingURL(t *testing.T) {
	email := &fakeSender{channel: models.ChannelEmail}
	d, _, pool := setupDistributor(t, true, email)
	defer pool.Stop()

	result, err := d.PrepareDistribution(context.Background(), testAlert(), orgChainTwoLevels(), testPriorityInfo(3, escalationTwoSteps()))
	require.NoError(t, err)

	assert.Equal(t, "https://app.example.com/track/"+result.DistributionID, result.TrackingURL)
	assert.NotEmpty(t, result.DistributionID)
}

func TestPrepareDistribution_ResolvesContactOnce(t *testing.T) {
	email := &fakeSender{channel: models.ChannelEmail}
	pool := NewWorkerPool(2, 16)
	lookup := &countingLookup{contact: models.ManagerContact{Email: "dir@example.com"}}

	d := NewDistributor(testDistConfig(true), NewSenderRegistry(email), lookup, pool, zap.NewNop())

	// 接收人不在组织链里：只有目录查询一条路径
	steps := []models.EscalationStep{
		{Level: 0, OrgID: "org-unit", OrgName: "Care Unit 3", ManagerIDs: []string{"mgr-external"}},
	}
	info := testPriorityInfo(3, steps)

	result, err := d.PrepareDistribution(context.Background(), testAlert(), nil, info)
	require.NoError(t, err)
	d.DispatchAlert(testAlert(), info, result)
	pool.Stop()

	// 展开时解析一次，派发复用展开结果，不再查目录
	assert.Equal(t, 1, lookup.callCount())
	assert.Equal(t, "dir@example.com", result.Contacts["mgr-external"].Email)
	assert.Equal(t, []string{"mgr-external"}, email.sentTo())
}

// ============================================
// 派发阶段
// ============================================

func TestDispatchAlert_TasksPerRecipientAndChannel(t *testing.T) {
	email := &fakeSender{channel: models.ChannelEmail}
	d, recorder, pool := setupDistributor(t, true, email)

	info := testPriorityInfo(3, escalationTwoSteps())
	result, err := d.PrepareDistribution(context.Background(), testAlert(), orgChainTwoLevels(), info)
	require.NoError(t, err)
	d.DispatchAlert(testAlert(), info, result)
	pool.Stop()

	assert.Equal(t, 2, result.TotalRecipients)
	require.Len(t, result.Tasks, 2)
	assert.ElementsMatch(t, []string{"mgr-unit", "mgr-facility"}, email.sentTo())

	for _, task := range result.Tasks {
		assert.Equal(t, models.TaskDelivered, recorder.finalStatus(task.TaskID))
	}
}

func TestDispatchAlert_FailingChannelIsolated(t *testing.T) {
	email := &fakeSender{channel: models.ChannelEmail}
	push := &fakeSender{channel: models.ChannelPush, fail: true}
	d, recorder, pool := setupDistributor(t, true, email, push)

	chain := []models.OrgHierarchyInfo{
		{
			OrgID: "org-unit", OrgName: "Care Unit 3", Depth: 0,
			ManagerIDs: []string{"mgr-unit"},
			Managers:   []models.ManagerContact{{UserID: "mgr-unit", Email: "unit@example.com", PushSN: "PUSH-001"}},
		},
	}
	steps := []models.EscalationStep{
		{Level: 0, OrgID: "org-unit", OrgName: "Care Unit 3", ManagerIDs: []string{"mgr-unit"}},
	}
	info := testPriorityInfo(3, steps)

	result, err := d.PrepareDistribution(context.Background(), testAlert(), chain, info)
	require.NoError(t, err)
	d.DispatchAlert(testAlert(), info, result)
	pool.Stop()

	// push 渠道失败只标记 push 任务，email 任务照常投递
	require.Len(t, result.Tasks, 2)
	byChannel := make(map[models.Channel]models.NotificationTask)
	for _, task := range result.Tasks {
		byChannel[task.Channel] = task
	}
	assert.Equal(t, models.TaskFailed, recorder.finalStatus(byChannel[models.ChannelPush].TaskID))
	assert.Equal(t, models.TaskDelivered, recorder.finalStatus(byChannel[models.ChannelEmail].TaskID))
}

func TestDispatchAlert_NoContactInfo_EmailFallbackTask(t *testing.T) {
	email := &fakeSender{channel: models.ChannelEmail, fail: true}
	d, recorder, pool := setupDistributor(t, true, email)

	chain := []models.OrgHierarchyInfo{
		{
			OrgID: "org-unit", OrgName: "Care Unit 3", Depth: 0,
			ManagerIDs: []string{"mgr-bare"},
			Managers:   []models.ManagerContact{{UserID: "mgr-bare"}},
		},
	}
	steps := []models.EscalationStep{
		{Level: 0, OrgID: "org-unit", OrgName: "Care Unit 3", ManagerIDs: []string{"mgr-bare"}},
	}
	info := testPriorityInfo(3, steps)

	result, err := d.PrepareDistribution(context.Background(), testAlert(), chain, info)
	require.NoError(t, err)
	d.DispatchAlert(testAlert(), info, result)
	pool.Stop()

	// 无任何联系方式仍生成邮件任务，投递失败留下痕迹
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, models.ChannelEmail, result.Tasks[0].Channel)
	assert.Equal(t, models.TaskFailed, recorder.finalStatus(result.Tasks[0].TaskID))
}

func TestDispatchAlert_FailureVisibleInTrackingRecord(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := testDistConfig(true)
	cfg.Cache.TrackKeyPrefix = "notify:track:"

	email := &fakeSender{channel: models.ChannelEmail, fail: true}
	pool := NewWorkerPool(2, 16)
	trk := tracker.NewTracker(cfg, cache.NewRedisCache(client), zap.NewNop())

	d := NewDistributor(cfg, NewSenderRegistry(email), nil, pool, zap.NewNop())
	d.SetStatusRecorder(trk)

	ctx := context.Background()
	info := testPriorityInfo(3, escalationTwoSteps())
	alert := testAlert()

	// 快照先落、再派发：worker 的终态回写必须能落进记录
	result, err := d.PrepareDistribution(ctx, alert, orgChainTwoLevels(), info)
	require.NoError(t, err)
	require.NoError(t, trk.RecordDistribution(ctx, alert, result))
	d.DispatchAlert(alert, info, result)
	pool.Stop()

	record, err := trk.GetTrackingInfo(ctx, result.DistributionID)
	require.NoError(t, err)
	assert.Equal(t, "partial_failure", record.Status)
	for taskID, summary := range record.TaskSummaries {
		assert.Equalf(t, models.TaskFailed, summary.Status, "task %s", taskID)
	}
}
