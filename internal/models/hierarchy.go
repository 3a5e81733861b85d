package models

import (
	"time"
)

// OrgNode 组织节点（主树使用父指针，闭包表是派生索引）
type OrgNode struct {
	OrgID    string  `json:"org_id"`
	TenantID string  `json:"tenant_id"`
	OrgName  string  `json:"org_name"`
	OrgLevel int     `json:"org_level"`
	ParentID *string `json:"parent_id,omitempty"` // nil 表示根组织
}

// ManagerContact 负责人联系方式（来自组织/用户目录）
type ManagerContact struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	ChatID   string `json:"chat_id,omitempty"`   // 企业聊天频道/用户ID
	PushSN   string `json:"push_sn,omitempty"`   // 推送终端序列号（MQTT topic 后缀）
}

// OrgHierarchyInfo 组织层级信息（闭包表一行祖先 + 目录联查结果）
// depth=0 为组织自身，depth 递增直到根组织
type OrgHierarchyInfo struct {
	OrgID      string           `json:"org_id"`
	OrgName    string           `json:"org_name"`
	OrgLevel   int              `json:"org_level"`
	Depth      int              `json:"depth"`
	ManagerIDs []string         `json:"manager_ids"`
	Managers   []ManagerContact `json:"managers,omitempty"`
}

// EscalationStep 升级链中的一级
type EscalationStep struct {
	Level        int      `json:"level"`   // 0 起始，沿链递增
	OrgID        string   `json:"org_id"`
	OrgName      string   `json:"org_name"`
	ManagerIDs   []string `json:"manager_ids"`
	DelayMinutes int      `json:"delay_minutes"` // 相对报警时刻的通知延迟
}

// PriorityInfo 优先级计算结果
type PriorityInfo struct {
	Priority           int              `json:"priority"` // 1（最低）- 5（最高）
	ProcessingDeadline time.Time        `json:"processing_deadline"`
	EscalationChain    []EscalationStep `json:"escalation_chain"`
}
