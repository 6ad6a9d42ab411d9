package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

/* ========================================================================
 * JSONB Type - 跨方言 JSON 列
 * ========================================================================
 * 职责: 事件日志等场景的结构化载荷；postgres 使用 jsonb，mysql 使用 json，
 *       sqlite 退化为 text
 * ======================================================================== */

// JSONB JSON 对象列
type JSONB map[string]any

// Value 实现 driver.Valuer 接口
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner 接口
func (j *JSONB) Scan(value any) error {
	if value == nil {
		*j = make(JSONB)
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for JSONB scan")
	}
	if len(data) == 0 {
		*j = make(JSONB)
		return nil
	}
	return json.Unmarshal(data, j)
}

// GormDataType 通用类型名
func (JSONB) GormDataType() string {
	return "json"
}

// GormDBDataType 按方言返回列类型
func (JSONB) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "JSONB"
	case "mysql":
		return "JSON"
	default:
		return "TEXT"
	}
}

// String 读取字符串字段，不存在或类型不符时返回空串
func (j JSONB) String(key string) string {
	if v, ok := j[key].(string); ok {
		return v
	}
	return ""
}
