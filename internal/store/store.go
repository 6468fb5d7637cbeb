// Package store 提供持久化键值存储抽象
// 上层按单键粒度读写 JSON 文档，不依赖事务
package store

import "context"

// Store 持久化键值存储接口
type Store interface {
	// Get 读取键值，键不存在时 ok 为 false
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set 写入键值（覆盖）
	Set(ctx context.Context, key, value string) error
	// Remove 删除键，键不存在不视为错误
	Remove(ctx context.Context, key string) error
	// Keys 按前缀枚举键
	Keys(ctx context.Context, prefix string) ([]string, error)
}
