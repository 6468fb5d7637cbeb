package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/langchou/milegazer/internal/store"
)

const keySyncPreferences = "sync:preferences"

// SyncPreferences 用户同步偏好
type SyncPreferences struct {
	AutoSyncEnabled bool `json:"auto_sync_enabled"`
}

// PreferenceRepository 用户偏好仓库
type PreferenceRepository struct {
	store store.Store
}

// NewPreferenceRepository 创建偏好仓库
func NewPreferenceRepository(s store.Store) *PreferenceRepository {
	return &PreferenceRepository{store: s}
}

// GetSyncPreferences 读取同步偏好，不存在时默认开启自动同步
func (r *PreferenceRepository) GetSyncPreferences(ctx context.Context) (*SyncPreferences, error) {
	value, ok, err := r.store.Get(ctx, keySyncPreferences)
	if err != nil {
		return nil, fmt.Errorf("get sync preferences: %w", err)
	}
	if !ok {
		return &SyncPreferences{AutoSyncEnabled: true}, nil
	}
	prefs := &SyncPreferences{}
	if err := json.Unmarshal([]byte(value), prefs); err != nil {
		return nil, fmt.Errorf("unmarshal sync preferences: %w", err)
	}
	return prefs, nil
}

// SaveSyncPreferences 保存同步偏好
func (r *PreferenceRepository) SaveSyncPreferences(ctx context.Context, prefs *SyncPreferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("marshal sync preferences: %w", err)
	}
	if err := r.store.Set(ctx, keySyncPreferences, string(data)); err != nil {
		return fmt.Errorf("save sync preferences: %w", err)
	}
	return nil
}
