// Package location 定义定位数据来源的抽象
// 真实实现由移动端平台提供，服务端通过 MQTT 或模拟接口接收采样
package location

import (
	"context"
	"sync"

	"github.com/langchou/milegazer/internal/models"
)

// Subscription 采样订阅句柄
type Subscription interface {
	// Cancel 取消订阅，取消后回调不再被触发
	Cancel()
}

// Provider 定位数据提供方
type Provider interface {
	// RequestPermission 申请定位权限，拒绝时返回 false
	RequestPermission(ctx context.Context) (bool, error)
	// Current 获取最近一次采样，没有时返回 nil
	Current(ctx context.Context) (*models.LocationSample, error)
	// Subscribe 订阅采样流，回调按时间戳单调递增顺序触发
	Subscribe(callback func(sample *models.LocationSample)) Subscription
}

// SimulatedProvider 内存定位源：采样由 Push 注入
// HTTP 模拟接口、MQTT 接入和测试共用这一实现
type SimulatedProvider struct {
	mu          sync.Mutex
	granted     bool
	last        *models.LocationSample
	subscribers map[int64]func(sample *models.LocationSample)
	nextSubID   int64
}

// NewSimulatedProvider 创建模拟定位源
func NewSimulatedProvider(permissionGranted bool) *SimulatedProvider {
	return &SimulatedProvider{
		granted:     permissionGranted,
		subscribers: make(map[int64]func(sample *models.LocationSample)),
	}
}

// SetPermission 设置权限状态
func (p *SimulatedProvider) SetPermission(granted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted = granted
}

// RequestPermission 返回预设权限状态
func (p *SimulatedProvider) RequestPermission(_ context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted, nil
}

// Current 返回最近一次注入的采样
func (p *SimulatedProvider) Current(_ context.Context) (*models.LocationSample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil, nil
	}
	sample := *p.last
	return &sample, nil
}

// Subscribe 订阅采样流
func (p *SimulatedProvider) Subscribe(callback func(sample *models.LocationSample)) Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = callback
	return &simulatedSubscription{provider: p, id: id}
}

// Push 注入一条采样并分发给全部订阅者
func (p *SimulatedProvider) Push(sample *models.LocationSample) {
	p.mu.Lock()
	p.last = sample
	callbacks := make([]func(sample *models.LocationSample), 0, len(p.subscribers))
	for _, cb := range p.subscribers {
		callbacks = append(callbacks, cb)
	}
	p.mu.Unlock()

	for _, cb := range callbacks {
		cb(sample)
	}
}

type simulatedSubscription struct {
	provider *SimulatedProvider
	id       int64
	once     sync.Once
}

// Cancel 取消订阅
func (s *simulatedSubscription) Cancel() {
	s.once.Do(func() {
		s.provider.mu.Lock()
		defer s.provider.mu.Unlock()
		delete(s.provider.subscribers, s.id)
	})
}
