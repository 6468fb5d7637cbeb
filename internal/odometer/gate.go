package odometer

import (
	"context"

	"go.uber.org/zap"

	"github.com/langchou/milegazer/internal/repository"
)

// 支持自动同步的账户层级
const (
	TierFree    = "free"
	TierPremium = "premium"
	TierPro     = "pro"
)

// Gate 自动同步闸门
// 行程结束后的自动同步必须同时满足账户能力和用户偏好，且在同步时刻重新判定
type Gate interface {
	AutoSyncAllowed(ctx context.Context) bool
}

// TierGate 基于账户层级和用户偏好的闸门
type TierGate struct {
	logger      *zap.Logger
	accountTier string
	prefs       *repository.PreferenceRepository
}

// NewTierGate 创建闸门
func NewTierGate(logger *zap.Logger, accountTier string, prefs *repository.PreferenceRepository) *TierGate {
	return &TierGate{
		logger:      logger,
		accountTier: accountTier,
		prefs:       prefs,
	}
}

// AutoSyncAllowed 判定当前是否允许自动同步
func (g *TierGate) AutoSyncAllowed(ctx context.Context) bool {
	if g.accountTier != TierPremium && g.accountTier != TierPro {
		g.logger.Debug("Auto-sync blocked by account tier", zap.String("tier", g.accountTier))
		return false
	}

	prefs, err := g.prefs.GetSyncPreferences(ctx)
	if err != nil {
		g.logger.Warn("Failed to read sync preferences, blocking auto-sync", zap.Error(err))
		return false
	}
	if !prefs.AutoSyncEnabled {
		g.logger.Debug("Auto-sync disabled by user preference")
		return false
	}
	return true
}
