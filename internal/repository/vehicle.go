package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/langchou/milegazer/internal/models"
	"github.com/langchou/milegazer/internal/store"
)

const keyVehiclePref = "vehicle:"

// VehicleRepository 车辆数据仓库
type VehicleRepository struct {
	store store.Store
}

// NewVehicleRepository 创建车辆仓库
func NewVehicleRepository(s store.Store) *VehicleRepository {
	return &VehicleRepository{store: s}
}

// Save 保存车辆
func (r *VehicleRepository) Save(ctx context.Context, vehicle *models.Vehicle) error {
	data, err := json.Marshal(vehicle)
	if err != nil {
		return fmt.Errorf("marshal vehicle: %w", err)
	}
	if err := r.store.Set(ctx, keyVehiclePref+vehicle.ID, string(data)); err != nil {
		return fmt.Errorf("save vehicle %s: %w", vehicle.ID, err)
	}
	return nil
}

// GetByID 获取车辆，不存在时返回 nil
func (r *VehicleRepository) GetByID(ctx context.Context, id string) (*models.Vehicle, error) {
	value, ok, err := r.store.Get(ctx, keyVehiclePref+id)
	if err != nil {
		return nil, fmt.Errorf("get vehicle %s: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	vehicle := &models.Vehicle{}
	if err := json.Unmarshal([]byte(value), vehicle); err != nil {
		return nil, fmt.Errorf("unmarshal vehicle %s: %w", id, err)
	}
	return vehicle, nil
}

// List 获取全部车辆
func (r *VehicleRepository) List(ctx context.Context) ([]*models.Vehicle, error) {
	keys, err := r.store.Keys(ctx, keyVehiclePref)
	if err != nil {
		return nil, fmt.Errorf("list vehicle keys: %w", err)
	}

	vehicles := make([]*models.Vehicle, 0, len(keys))
	for _, key := range keys {
		value, ok, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get vehicle key %s: %w", key, err)
		}
		if !ok {
			continue
		}
		vehicle := &models.Vehicle{}
		if err := json.Unmarshal([]byte(value), vehicle); err != nil {
			return nil, fmt.Errorf("unmarshal vehicle key %s: %w", key, err)
		}
		vehicles = append(vehicles, vehicle)
	}

	sort.Slice(vehicles, func(i, j int) bool {
		return vehicles[i].CreatedAt.Before(vehicles[j].CreatedAt)
	})
	return vehicles, nil
}
