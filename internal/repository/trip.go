package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/langchou/milegazer/internal/models"
	"github.com/langchou/milegazer/internal/store"
)

// 存储键
const (
	keyActiveTrip     = "trip:active"
	keyTripRecordPref = "trip:record:"
)

// TripRepository 行程数据仓库
type TripRepository struct {
	store store.Store
}

// NewTripRepository 创建行程仓库
func NewTripRepository(s store.Store) *TripRepository {
	return &TripRepository{store: s}
}

// Save 保存行程记录（覆盖写）
func (r *TripRepository) Save(ctx context.Context, trip *models.Trip) error {
	data, err := json.Marshal(trip)
	if err != nil {
		return fmt.Errorf("marshal trip: %w", err)
	}
	if err := r.store.Set(ctx, keyTripRecordPref+trip.ID, string(data)); err != nil {
		return fmt.Errorf("save trip %s: %w", trip.ID, err)
	}
	return nil
}

// GetByID 获取行程
func (r *TripRepository) GetByID(ctx context.Context, id string) (*models.Trip, error) {
	value, ok, err := r.store.Get(ctx, keyTripRecordPref+id)
	if err != nil {
		return nil, fmt.Errorf("get trip %s: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	trip := &models.Trip{}
	if err := json.Unmarshal([]byte(value), trip); err != nil {
		return nil, fmt.Errorf("unmarshal trip %s: %w", id, err)
	}
	return trip, nil
}

// List 获取全部行程，按开始时间倒序
func (r *TripRepository) List(ctx context.Context) ([]*models.Trip, error) {
	keys, err := r.store.Keys(ctx, keyTripRecordPref)
	if err != nil {
		return nil, fmt.Errorf("list trip keys: %w", err)
	}

	trips := make([]*models.Trip, 0, len(keys))
	for _, key := range keys {
		value, ok, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get trip key %s: %w", key, err)
		}
		if !ok {
			continue
		}
		trip := &models.Trip{}
		if err := json.Unmarshal([]byte(value), trip); err != nil {
			return nil, fmt.Errorf("unmarshal trip key %s: %w", key, err)
		}
		trips = append(trips, trip)
	}

	sort.Slice(trips, func(i, j int) bool {
		return trips[i].StartTime.After(trips[j].StartTime)
	})
	return trips, nil
}

// ListSyncable 获取待同步行程 (completed/edited)
func (r *TripRepository) ListSyncable(ctx context.Context) ([]*models.Trip, error) {
	trips, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	syncable := make([]*models.Trip, 0, len(trips))
	for _, trip := range trips {
		if trip.Syncable() {
			syncable = append(syncable, trip)
		}
	}
	return syncable, nil
}

// SetActive 写入进行中行程槽位（覆盖写，同时保存行程记录）
func (r *TripRepository) SetActive(ctx context.Context, trip *models.Trip) error {
	if err := r.Save(ctx, trip); err != nil {
		return err
	}
	if err := r.store.Set(ctx, keyActiveTrip, trip.ID); err != nil {
		return fmt.Errorf("set active trip: %w", err)
	}
	return nil
}

// GetActive 读取进行中行程，无进行中行程时返回 nil
func (r *TripRepository) GetActive(ctx context.Context) (*models.Trip, error) {
	id, ok, err := r.store.Get(ctx, keyActiveTrip)
	if err != nil {
		return nil, fmt.Errorf("get active trip slot: %w", err)
	}
	if !ok {
		return nil, nil
	}
	trip, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if trip == nil || !trip.IsActive() {
		// 槽位指向的行程已不存在或已完成，槽位视为空
		return nil, nil
	}
	return trip, nil
}

// ClearActive 清空进行中行程槽位
func (r *TripRepository) ClearActive(ctx context.Context) error {
	if err := r.store.Remove(ctx, keyActiveTrip); err != nil {
		return fmt.Errorf("clear active trip slot: %w", err)
	}
	return nil
}
