package tenant

import (
	"context"
	"sync"
)

// Holder 可变的租户槽位，提供 set/get 及带恢复的嵌套作用域。
// 用于命令行等没有请求 context 贯穿的场景；服务端代码应直接传递 context。
type Holder struct {
	mu      sync.RWMutex
	current *Context
}

// Set 设置当前值，nil 表示清空
func (h *Holder) Set(tc *Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if tc == nil {
		h.current = nil
		return
	}
	cp := *tc
	h.current = &cp
}

// Get 读取当前值
func (h *Holder) Get() (Context, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.current == nil {
		return Context{}, false
	}
	return *h.current, true
}

// Within 在 fn 执行期间替换当前值，返回或 panic 后都恢复之前的值
func (h *Holder) Within(tc Context, fn func() error) error {
	h.mu.Lock()
	prev := h.current
	cp := tc
	h.current = &cp
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.current = prev
		h.mu.Unlock()
	}()
	return fn()
}

// Bind 将当前值转换为 context.Context，未设置时返回清空的 context
func (h *Holder) Bind(parent context.Context) context.Context {
	if tc, ok := h.Get(); ok {
		return With(parent, tc)
	}
	return Clear(parent)
}
