package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-notify/internal/models"

	"go.uber.org/zap"
)

// OrgClosureRepository 组织闭包表仓库
// 闭包表是父指针树的派生索引：每个组织有自边 (X,X,0)；
// P 是 X 的父组织时，P 的每个祖先 A（含 P 自身）都有边 (A,X,d+1)。
// 树变更（创建/移动/删除）必须在一个事务内整体重写受影响的边，
// 读取方不允许看到半重写状态
type OrgClosureRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOrgClosureRepository 创建组织闭包表仓库
func NewOrgClosureRepository(db *sql.DB, logger *zap.Logger) *OrgClosureRepository {
	return &OrgClosureRepository{
		db:     db,
		logger: logger,
	}
}

// AncestorRow 祖先链一行（depth=0 为组织自身，沿链递增到根）
type AncestorRow struct {
	OrgID    string
	OrgName  string
	OrgLevel int
	Depth    int
}

// GetAncestors 获取组织的祖先链（含自身），按 depth 升序
// 组织不存在时返回空列表（调用方按"无层级"处理，不是错误）
func (r *OrgClosureRepository) GetAncestors(ctx context.Context, tenantID, orgID string) ([]AncestorRow, error) {
	query := `
		SELECT o.org_id, o.org_name, o.org_level, c.depth
		FROM org_closure c
		JOIN organizations o ON o.org_id = c.ancestor_id AND o.tenant_id = c.tenant_id
		WHERE c.tenant_id = $1
		  AND c.descendant_id = $2
		  AND c.is_deleted = FALSE
		  AND o.is_deleted = FALSE
		ORDER BY c.depth ASC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ancestors: %w", err)
	}
	defer rows.Close()

	var ancestors []AncestorRow
	for rows.Next() {
		var row AncestorRow
		if err := rows.Scan(&row.OrgID, &row.OrgName, &row.OrgLevel, &row.Depth); err != nil {
			return nil, fmt.Errorf("failed to scan ancestor row: %w", err)
		}
		ancestors = append(ancestors, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ancestors: %w", err)
	}

	return ancestors, nil
}

// GetAncestorIDs 获取组织的祖先ID列表（含自身），按 depth 升序
func (r *OrgClosureRepository) GetAncestorIDs(ctx context.Context, tenantID, orgID string) ([]string, error) {
	query := `
		SELECT ancestor_id
		FROM org_closure
		WHERE tenant_id = $1 AND descendant_id = $2 AND is_deleted = FALSE
		ORDER BY depth ASC
	`
	return r.queryIDs(ctx, query, tenantID, orgID)
}

// GetDescendantIDs 获取组织的后代ID列表（含自身），按 depth 升序
func (r *OrgClosureRepository) GetDescendantIDs(ctx context.Context, tenantID, orgID string) ([]string, error) {
	query := `
		SELECT descendant_id
		FROM org_closure
		WHERE tenant_id = $1 AND ancestor_id = $2 AND is_deleted = FALSE
		ORDER BY depth ASC
	`
	return r.queryIDs(ctx, query, tenantID, orgID)
}

// GetDirectChildIDs 获取组织的直接子组织ID列表（depth=1）
func (r *OrgClosureRepository) GetDirectChildIDs(ctx context.Context, tenantID, orgID string) ([]string, error) {
	query := `
		SELECT descendant_id
		FROM org_closure
		WHERE tenant_id = $1 AND ancestor_id = $2 AND depth = 1 AND is_deleted = FALSE
		ORDER BY descendant_id
	`
	return r.queryIDs(ctx, query, tenantID, orgID)
}

// queryIDs 执行返回单列ID的查询
func (r *OrgClosureRepository) queryIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query closure ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan closure id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate closure ids: %w", err)
	}

	return ids, nil
}

// CreateOrg 在父组织下创建组织并补齐闭包边
// 插入自边 (new,new,0)，再为父组织闭包中的每条 (A,P,d) 插入 (A,new,d+1)
func (r *OrgClosureRepository) CreateOrg(ctx context.Context, tenantID string, org *models.OrgNode) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertOrg := `
		INSERT INTO organizations (org_id, tenant_id, org_name, org_level, parent_id, is_deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, NOW(), NOW())
	`
	if _, err := tx.ExecContext(ctx, insertOrg, org.OrgID, tenantID, org.OrgName, org.OrgLevel, org.ParentID); err != nil {
		return fmt.Errorf("failed to insert organization: %w", err)
	}

	// 自边
	insertSelf := `
		INSERT INTO org_closure (tenant_id, ancestor_id, descendant_id, depth, is_deleted)
		VALUES ($1, $2, $2, 0, FALSE)
	`
	if _, err := tx.ExecContext(ctx, insertSelf, tenantID, org.OrgID); err != nil {
		return fmt.Errorf("failed to insert self edge: %w", err)
	}

	// 祖先边：父组织的每个祖先（含父自身）到新组织
	if org.ParentID != nil {
		insertAncestors := `
			INSERT INTO org_closure (tenant_id, ancestor_id, descendant_id, depth, is_deleted)
			SELECT tenant_id, ancestor_id, $3, depth + 1, FALSE
			FROM org_closure
			WHERE tenant_id = $1 AND descendant_id = $2 AND is_deleted = FALSE
		`
		if _, err := tx.ExecContext(ctx, insertAncestors, tenantID, *org.ParentID, org.OrgID); err != nil {
			return fmt.Errorf("failed to insert ancestor edges: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("Organization created",
		zap.String("tenant_id", tenantID),
		zap.String("org_id", org.OrgID),
	)

	return nil
}

// MoveOrg 将组织子树移动到新父组织下
// 先对子树行加写锁（子树粒度，不是全局锁），在同一事务内：
// 1. 删除子树到原树外祖先的所有边
// 2. 新祖先集 × 子树集 交叉插入新边
// 读取方要么看到移动前的完整闭包，要么看到移动后的完整闭包
func (r *OrgClosureRepository) MoveOrg(ctx context.Context, tenantID, orgID string, newParentID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 子树粒度写锁
	lockSubtree := `
		SELECT o.org_id
		FROM organizations o
		JOIN org_closure c ON c.descendant_id = o.org_id AND c.tenant_id = o.tenant_id
		WHERE c.tenant_id = $1 AND c.ancestor_id = $2 AND c.is_deleted = FALSE
		FOR UPDATE
	`
	if _, err := tx.ExecContext(ctx, lockSubtree, tenantID, orgID); err != nil {
		return fmt.Errorf("failed to lock subtree: %w", err)
	}

	// 不允许移动到自己的后代下（会形成环）
	cycleCheck := `
		SELECT COUNT(*)
		FROM org_closure
		WHERE tenant_id = $1 AND ancestor_id = $2 AND descendant_id = $3 AND is_deleted = FALSE
	`
	var cycleCount int
	if err := tx.QueryRowContext(ctx, cycleCheck, tenantID, orgID, newParentID).Scan(&cycleCount); err != nil {
		return fmt.Errorf("failed to check cycle: %w", err)
	}
	if cycleCount > 0 {
		return fmt.Errorf("cannot move org %s under its own descendant %s", orgID, newParentID)
	}

	// 删除子树到旧祖先的边（保留子树内部的边）
	deleteOld := `
		DELETE FROM org_closure
		WHERE tenant_id = $1
		  AND descendant_id IN (
			SELECT descendant_id FROM org_closure
			WHERE tenant_id = $1 AND ancestor_id = $2 AND is_deleted = FALSE
		  )
		  AND ancestor_id NOT IN (
			SELECT descendant_id FROM org_closure
			WHERE tenant_id = $1 AND ancestor_id = $2 AND is_deleted = FALSE
		  )
	`
	if _, err := tx.ExecContext(ctx, deleteOld, tenantID, orgID); err != nil {
		return fmt.Errorf("failed to delete old edges: %w", err)
	}

	// 新祖先集 × 子树集
	insertNew := `
		INSERT INTO org_closure (tenant_id, ancestor_id, descendant_id, depth, is_deleted)
		SELECT super.tenant_id, super.ancestor_id, sub.descendant_id, super.depth + sub.depth + 1, FALSE
		FROM org_closure super
		JOIN org_closure sub
		  ON sub.tenant_id = super.tenant_id AND sub.ancestor_id = $3
		WHERE super.tenant_id = $1
		  AND super.descendant_id = $2
		  AND super.is_deleted = FALSE
		  AND sub.is_deleted = FALSE
	`
	if _, err := tx.ExecContext(ctx, insertNew, tenantID, newParentID, orgID); err != nil {
		return fmt.Errorf("failed to insert new edges: %w", err)
	}

	// 更新父指针
	updateParent := `
		UPDATE organizations SET parent_id = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND org_id = $2
	`
	if _, err := tx.ExecContext(ctx, updateParent, tenantID, orgID, newParentID); err != nil {
		return fmt.Errorf("failed to update parent pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("Organization moved",
		zap.String("tenant_id", tenantID),
		zap.String("org_id", orgID),
		zap.String("new_parent_id", newParentID),
	)

	return nil
}

// DeleteOrg 删除组织子树（软删除）
// 子树内所有组织及涉及子树的全部闭包边在一个事务内标记删除
func (r *OrgClosureRepository) DeleteOrg(ctx context.Context, tenantID, orgID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 子树粒度写锁
	lockSubtree := `
		SELECT o.org_id
		FROM organizations o
		JOIN org_closure c ON c.descendant_id = o.org_id AND c.tenant_id = o.tenant_id
		WHERE c.tenant_id = $1 AND c.ancestor_id = $2 AND c.is_deleted = FALSE
		FOR UPDATE
	`
	if _, err := tx.ExecContext(ctx, lockSubtree, tenantID, orgID); err != nil {
		return fmt.Errorf("failed to lock subtree: %w", err)
	}

	// 标记子树组织删除
	deleteOrgs := `
		UPDATE organizations SET is_deleted = TRUE, updated_at = NOW()
		WHERE tenant_id = $1
		  AND org_id IN (
			SELECT descendant_id FROM org_closure
			WHERE tenant_id = $1 AND ancestor_id = $2 AND is_deleted = FALSE
		  )
	`
	if _, err := tx.ExecContext(ctx, deleteOrgs, tenantID, orgID); err != nil {
		return fmt.Errorf("failed to delete organizations: %w", err)
	}

	// 标记涉及子树的闭包边删除（子树作为祖先或后代的全部边）
	deleteEdges := `
		UPDATE org_closure SET is_deleted = TRUE
		WHERE tenant_id = $1
		  AND (
			descendant_id IN (
				SELECT descendant_id FROM org_closure
				WHERE tenant_id = $1 AND ancestor_id = $2 AND is_deleted = FALSE
			)
			OR ancestor_id IN (
				SELECT descendant_id FROM org_closure
				WHERE tenant_id = $1 AND ancestor_id = $2 AND is_deleted = FALSE
			)
		  )
	`
	if _, err := tx.ExecContext(ctx, deleteEdges, tenantID, orgID); err != nil {
		return fmt.Errorf("failed to delete closure edges: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("Organization subtree deleted",
		zap.String("tenant_id", tenantID),
		zap.String("org_id", orgID),
	)

	return nil
}
