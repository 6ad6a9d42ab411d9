// Package ulid 生成实体主键：26 字符、按时间有序，同一毫秒内单调递增。
package ulid

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Monotonic 熵源不是并发安全的
var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// GenerateString 生成主键
func GenerateString() string {
	return at(time.Now()).String()
}

func at(t time.Time) ulid.ULID {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy)
}

// IsValid 严格校验，拒绝 Crockford 字母表以外的字符
func IsValid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
