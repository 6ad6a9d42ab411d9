package redis

import (
	"testing"

	"github.com/aisgo/ais-tenancy/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newTestClient 基于 miniredis，键前缀固定为 "tenancy"
func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb, logger.NewNop(), "tenancy"), srv
}
