// Package snowflake 为领域事件生成 64 位趋势递增 ID。
// 节点号取自 SNOWFLAKE_NODE_ID（0-1023），多实例部署必须各不相同。
package snowflake

import (
	"fmt"
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
)

const (
	MaxNodeID = 1023
	EnvNodeID = "SNOWFLAKE_NODE_ID"
)

// Generator 事件 ID 生成器
type Generator struct {
	node *snowflake.Node
}

// NewGenerator 创建指定节点的生成器
func NewGenerator(nodeID int64) (*Generator, error) {
	if nodeID < 0 || nodeID > MaxNodeID {
		return nil, fmt.Errorf("snowflake node id %d out of range [0, %d]", nodeID, MaxNodeID)
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &Generator{node: node}, nil
}

// NewGeneratorFromEnv 未设置时使用节点 0
func NewGeneratorFromEnv() (*Generator, error) {
	raw := os.Getenv(EnvNodeID)
	if raw == "" {
		return NewGenerator(0)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s=%q: not an integer", EnvNodeID, raw)
	}
	return NewGenerator(id)
}

// GenerateString 十进制字符串形式的 ID
func (g *Generator) GenerateString() string {
	return g.node.Generate().String()
}
