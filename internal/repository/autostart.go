package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/langchou/milegazer/internal/models"
	"github.com/langchou/milegazer/internal/store"
)

// 存储键
const (
	keyAutoStartState    = "autostart:state"
	keyAutoStartSettings = "autostart:settings"
	keyBtMappingPref     = "autostart:mapping:"
)

// AutoStartRepository 自动启动状态、设置和蓝牙映射仓库
type AutoStartRepository struct {
	store store.Store
}

// NewAutoStartRepository 创建自动启动仓库
func NewAutoStartRepository(s store.Store) *AutoStartRepository {
	return &AutoStartRepository{store: s}
}

// SaveState 持久化状态机状态
func (r *AutoStartRepository) SaveState(ctx context.Context, state *models.AutoStartState) error {
	state.UpdatedAt = time.Now()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal autostart state: %w", err)
	}
	if err := r.store.Set(ctx, keyAutoStartState, string(data)); err != nil {
		return fmt.Errorf("save autostart state: %w", err)
	}
	return nil
}

// GetState 读取状态机状态，不存在时返回 idle 初始状态
func (r *AutoStartRepository) GetState(ctx context.Context) (*models.AutoStartState, error) {
	value, ok, err := r.store.Get(ctx, keyAutoStartState)
	if err != nil {
		return nil, fmt.Errorf("get autostart state: %w", err)
	}
	if !ok {
		return &models.AutoStartState{Phase: models.PhaseIdle}, nil
	}
	state := &models.AutoStartState{}
	if err := json.Unmarshal([]byte(value), state); err != nil {
		return nil, fmt.Errorf("unmarshal autostart state: %w", err)
	}
	return state, nil
}

// SaveSettings 保存设置
func (r *AutoStartRepository) SaveSettings(ctx context.Context, settings *models.AutoStartSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal autostart settings: %w", err)
	}
	if err := r.store.Set(ctx, keyAutoStartSettings, string(data)); err != nil {
		return fmt.Errorf("save autostart settings: %w", err)
	}
	return nil
}

// GetSettings 读取设置，不存在时返回默认值
func (r *AutoStartRepository) GetSettings(ctx context.Context) (*models.AutoStartSettings, error) {
	value, ok, err := r.store.Get(ctx, keyAutoStartSettings)
	if err != nil {
		return nil, fmt.Errorf("get autostart settings: %w", err)
	}
	if !ok {
		return models.DefaultAutoStartSettings(), nil
	}
	settings := &models.AutoStartSettings{}
	if err := json.Unmarshal([]byte(value), settings); err != nil {
		return nil, fmt.Errorf("unmarshal autostart settings: %w", err)
	}
	return settings, nil
}

// SaveMapping 保存蓝牙设备映射
func (r *AutoStartRepository) SaveMapping(ctx context.Context, mapping *models.BluetoothDeviceMapping) error {
	data, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	if err := r.store.Set(ctx, keyBtMappingPref+mapping.DeviceID, string(data)); err != nil {
		return fmt.Errorf("save mapping %s: %w", mapping.DeviceID, err)
	}
	return nil
}

// GetMapping 获取设备映射，不存在时返回 nil
func (r *AutoStartRepository) GetMapping(ctx context.Context, deviceID string) (*models.BluetoothDeviceMapping, error) {
	value, ok, err := r.store.Get(ctx, keyBtMappingPref+deviceID)
	if err != nil {
		return nil, fmt.Errorf("get mapping %s: %w", deviceID, err)
	}
	if !ok {
		return nil, nil
	}
	mapping := &models.BluetoothDeviceMapping{}
	if err := json.Unmarshal([]byte(value), mapping); err != nil {
		return nil, fmt.Errorf("unmarshal mapping %s: %w", deviceID, err)
	}
	return mapping, nil
}

// ListMappings 获取全部设备映射
func (r *AutoStartRepository) ListMappings(ctx context.Context) ([]*models.BluetoothDeviceMapping, error) {
	keys, err := r.store.Keys(ctx, keyBtMappingPref)
	if err != nil {
		return nil, fmt.Errorf("list mapping keys: %w", err)
	}

	mappings := make([]*models.BluetoothDeviceMapping, 0, len(keys))
	for _, key := range keys {
		value, ok, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get mapping key %s: %w", key, err)
		}
		if !ok {
			continue
		}
		mapping := &models.BluetoothDeviceMapping{}
		if err := json.Unmarshal([]byte(value), mapping); err != nil {
			return nil, fmt.Errorf("unmarshal mapping key %s: %w", key, err)
		}
		mappings = append(mappings, mapping)
	}

	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].AddedAt.Before(mappings[j].AddedAt)
	})
	return mappings, nil
}

// RemoveMapping 删除设备映射
func (r *AutoStartRepository) RemoveMapping(ctx context.Context, deviceID string) error {
	if err := r.store.Remove(ctx, keyBtMappingPref+deviceID); err != nil {
		return fmt.Errorf("remove mapping %s: %w", deviceID, err)
	}
	return nil
}
