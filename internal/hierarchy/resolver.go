package hierarchy

import (
	"context"
	"fmt"
	"time"

	"wisefido-notify/internal/cache"
	"wisefido-notify/internal/config"
	"wisefido-notify/internal/models"
	"wisefido-notify/internal/repository"

	"go.uber.org/zap"
)

// Resolver 组织层级解析器
// 基于闭包表回答"组织 X 的责任链上有哪些负责人、在哪一级"，
// 结果经 TTL 缓存读穿透（单一缓存抽象，进程内或网络后端均可替换）
type Resolver struct {
	config      *config.Config
	closureRepo *repository.OrgClosureRepository
	directory   *repository.DirectoryRepository
	cache       cache.Cache
	logger      *zap.Logger
}

// NewResolver 创建层级解析器
func NewResolver(
	cfg *config.Config,
	closureRepo *repository.OrgClosureRepository,
	directory *repository.DirectoryRepository,
	c cache.Cache,
	logger *zap.Logger,
) *Resolver {
	return &Resolver{
		config:      cfg,
		closureRepo: closureRepo,
		directory:   directory,
		cache:       c,
		logger:      logger,
	}
}

// GetNotificationHierarchy 获取组织的通知层级链
// 返回从组织自身到根的祖先链（depth 升序），每级带负责人联系方式。
// 组织不存在时返回空链（调用方按"无层级"处理）
func (r *Resolver) GetNotificationHierarchy(ctx context.Context, tenantID, orgID string) ([]models.OrgHierarchyInfo, error) {
	cacheKey := r.config.Cache.HierarchyKeyPrefix + tenantID + ":" + orgID

	// 缓存读穿透
	var cached []models.OrgHierarchyInfo
	if err := r.cache.Get(ctx, cacheKey, &cached); err == nil {
		return cached, nil
	} else if err != cache.ErrCacheMiss {
		// 缓存故障降级为直查，不中断流水线
		r.logger.Warn("Hierarchy cache read failed",
			zap.String("org_id", orgID),
			zap.Error(err),
		)
	}

	ancestors, err := r.closureRepo.GetAncestors(ctx, tenantID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get ancestors: %w", err)
	}

	chain := make([]models.OrgHierarchyInfo, 0, len(ancestors))
	for _, a := range ancestors {
		managers, err := r.directory.GetOrgManagers(ctx, tenantID, a.OrgID)
		if err != nil {
			// 单级目录查询失败降级为该级无负责人，升级链构建会跳过
			r.logger.Warn("Failed to load managers for org",
				zap.String("tenant_id", tenantID),
				zap.String("org_id", a.OrgID),
				zap.Error(err),
			)
			managers = nil
		}

		managerIDs := make([]string, 0, len(managers))
		for _, m := range managers {
			managerIDs = append(managerIDs, m.UserID)
		}

		chain = append(chain, models.OrgHierarchyInfo{
			OrgID:      a.OrgID,
			OrgName:    a.OrgName,
			OrgLevel:   a.OrgLevel,
			Depth:      a.Depth,
			ManagerIDs: managerIDs,
			Managers:   managers,
		})
	}

	if len(chain) > 0 {
		ttl := time.Duration(r.config.Cache.HierarchyTTL) * time.Second
		if err := r.cache.Set(ctx, cacheKey, chain, ttl); err != nil {
			r.logger.Warn("Failed to cache hierarchy",
				zap.String("org_id", orgID),
				zap.Error(err),
			)
		}
	}

	return chain, nil
}

// Invalidate 失效组织的层级缓存（树变更后调用）
func (r *Resolver) Invalidate(ctx context.Context, tenantID, orgID string) error {
	cacheKey := r.config.Cache.HierarchyKeyPrefix + tenantID + ":" + orgID
	return r.cache.Delete(ctx, cacheKey)
}

// CreateOrg 创建组织
// 树变更统一走解析器，缓存失效不遗漏。
// 新组织尚无缓存链、已有组织的祖先链不受创建影响，无需失效
func (r *Resolver) CreateOrg(ctx context.Context, tenantID string, org *models.OrgNode) error {
	return r.closureRepo.CreateOrg(ctx, tenantID, org)
}

// MoveOrg 移动组织子树并失效受影响的层级缓存
// 子树内每个组织的祖先链都会变化：移动前先取后代集合，提交后逐个失效。
// 失效失败只记警告（TTL 兜底过期），已提交的树变更不回滚
func (r *Resolver) MoveOrg(ctx context.Context, tenantID, orgID, newParentID string) error {
	subtree, err := r.closureRepo.GetDescendantIDs(ctx, tenantID, orgID)
	if err != nil {
		return fmt.Errorf("failed to collect subtree before move: %w", err)
	}

	if err := r.closureRepo.MoveOrg(ctx, tenantID, orgID, newParentID); err != nil {
		return err
	}

	r.invalidateAll(ctx, tenantID, subtree)
	return nil
}

// DeleteOrg 删除组织子树并失效受影响的层级缓存
func (r *Resolver) DeleteOrg(ctx context.Context, tenantID, orgID string) error {
	subtree, err := r.closureRepo.GetDescendantIDs(ctx, tenantID, orgID)
	if err != nil {
		return fmt.Errorf("failed to collect subtree before delete: %w", err)
	}

	if err := r.closureRepo.DeleteOrg(ctx, tenantID, orgID); err != nil {
		return err
	}

	r.invalidateAll(ctx, tenantID, subtree)
	return nil
}

// invalidateAll 逐个失效组织的缓存链
func (r *Resolver) invalidateAll(ctx context.Context, tenantID string, orgIDs []string) {
	for _, orgID := range orgIDs {
		if err := r.Invalidate(ctx, tenantID, orgID); err != nil {
			r.logger.Warn("Failed to invalidate hierarchy cache",
				zap.String("tenant_id", tenantID),
				zap.String("org_id", orgID),
				zap.Error(err),
			)
		}
	}
}

// GetAncestorIDs 纯闭包读：祖先ID列表（含自身）
func (r *Resolver) GetAncestorIDs(ctx context.Context, tenantID, orgID string) ([]string, error) {
	return r.closureRepo.GetAncestorIDs(ctx, tenantID, orgID)
}

// GetDescendantIDs 纯闭包读：后代ID列表（含自身）
func (r *Resolver) GetDescendantIDs(ctx context.Context, tenantID, orgID string) ([]string, error) {
	return r.closureRepo.GetDescendantIDs(ctx, tenantID, orgID)
}

// GetDirectChildIDs 纯闭包读：直接子组织ID列表
func (r *Resolver) GetDirectChildIDs(ctx context.Context, tenantID, orgID string) ([]string, error) {
	return r.closureRepo.GetDirectChildIDs(ctx, tenantID, orgID)
}
