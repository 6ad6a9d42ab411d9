package shutdown

import "time"

// Config 优雅关停配置
type Config struct {
	// Timeout 整个关停流程的上限，超时后跳过剩余钩子
	Timeout time.Duration `mapstructure:"timeout"`
	// HookTimeout 单个钩子的上限，0 表示只受 Timeout 约束
	HookTimeout time.Duration `mapstructure:"hook_timeout"`
	// DrainDelay 就绪探针转为 503 后等待负载均衡摘流的时间
	DrainDelay time.Duration `mapstructure:"drain_delay"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Timeout:     30 * time.Second,
		HookTimeout: 15 * time.Second,
		DrainDelay:  5 * time.Second,
	}
}
