package cache

import "context"

type Cache interface {
	Put(ctx context.Context, key string, value interface{}, ttlSeconds int) error
	Get(ctx context.Context, key string, out interface{}) error
	Delete(ctx context.Context, key string) error
	GetDefaultTTL() int
	ShutDown(context.Context)
}
