package validator

import (
	"sort"
	"strings"
)

// FieldErrors 按字段（json 名，嵌套用点号连接）分组的校验错误
type FieldErrors struct {
	Errors map[string][]string
}

// Error 按字段名排序输出，便于日志与响应稳定
func (e *FieldErrors) Error() string {
	fields := make([]string, 0, len(e.Errors))
	for f := range e.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(e.Errors[f], ", "))
	}
	return strings.Join(parts, "; ")
}

// Add 追加字段错误
func (e *FieldErrors) Add(field, message string) {
	if e.Errors == nil {
		e.Errors = make(map[string][]string)
	}
	e.Errors[field] = append(e.Errors[field], message)
}

// Get 字段错误
func (e *FieldErrors) Get(field string) []string {
	return e.Errors[field]
}
