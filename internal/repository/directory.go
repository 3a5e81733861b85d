package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-notify/internal/models"

	"go.uber.org/zap"
)

// DirectoryRepository 组织/用户目录仓库
// 提供设备→用户→组织的绑定解析和组织负责人联系方式查询
type DirectoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDirectoryRepository 创建目录仓库
func NewDirectoryRepository(db *sql.DB, logger *zap.Logger) *DirectoryRepository {
	return &DirectoryRepository{
		db:     db,
		logger: logger,
	}
}

// ResolveOrgForDevice 根据设备SN解析所属组织
// 绑定链：设备 → 绑定用户 → 用户所属组织
// 设备未绑定任何组织时返回 (nil, nil)，不是错误
func (r *DirectoryRepository) ResolveOrgForDevice(ctx context.Context, tenantID, deviceSN string) (*string, error) {
	query := `
		SELECT u.org_id
		FROM devices d
		JOIN users u ON u.user_id = d.bound_user_id AND u.tenant_id = d.tenant_id
		WHERE d.tenant_id = $1
		  AND d.device_sn = $2
		  AND d.is_deleted = FALSE
		  AND u.is_deleted = FALSE
		  AND u.org_id IS NOT NULL
		LIMIT 1
	`

	var orgID string
	err := r.db.QueryRowContext(ctx, query, tenantID, deviceSN).Scan(&orgID)
	if err != nil {
		if err == sql.ErrNoRows {
			// 未绑定组织：正常情况，走兜底升级链
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve org for device: %w", err)
	}

	return &orgID, nil
}

// GetOrgManagers 获取组织的负责人及联系方式
func (r *DirectoryRepository) GetOrgManagers(ctx context.Context, tenantID, orgID string) ([]models.ManagerContact, error) {
	query := `
		SELECT u.user_id, u.user_name,
		       COALESCE(u.phone, ''), COALESCE(u.email, ''),
		       COALESCE(u.chat_id, ''), COALESCE(u.push_sn, '')
		FROM users u
		WHERE u.tenant_id = $1
		  AND u.org_id = $2
		  AND u.role = 'manager'
		  AND u.is_deleted = FALSE
		ORDER BY u.user_id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query org managers: %w", err)
	}
	defer rows.Close()

	var managers []models.ManagerContact
	for rows.Next() {
		var m models.ManagerContact
		if err := rows.Scan(&m.UserID, &m.UserName, &m.Phone, &m.Email, &m.ChatID, &m.PushSN); err != nil {
			return nil, fmt.Errorf("failed to scan manager contact: %w", err)
		}
		managers = append(managers, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate managers: %w", err)
	}

	return managers, nil
}

// GetUserContact 获取单个用户的联系方式（兜底接收人使用）
func (r *DirectoryRepository) GetUserContact(ctx context.Context, tenantID, userID string) (*models.ManagerContact, error) {
	query := `
		SELECT u.user_id, u.user_name,
		       COALESCE(u.phone, ''), COALESCE(u.email, ''),
		       COALESCE(u.chat_id, ''), COALESCE(u.push_sn, '')
		FROM users u
		WHERE u.tenant_id = $1 AND u.user_id = $2 AND u.is_deleted = FALSE
	`

	var m models.ManagerContact
	err := r.db.QueryRowContext(ctx, query, tenantID, userID).Scan(
		&m.UserID, &m.UserName, &m.Phone, &m.Email, &m.ChatID, &m.PushSN,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user not found: %s", userID)
		}
		return nil, fmt.Errorf("failed to query user contact: %w", err)
	}

	return &m, nil
}
