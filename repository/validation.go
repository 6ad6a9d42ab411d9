package repository

import (
	"fmt"
	"regexp"
	"strings"
)

/* ========================================================================
 * SQL 片段校验
 * ========================================================================
 * 职责: 校验来自请求参数的排序与选择字段，防止注入
 * 设计: 白名单模式（列名正则 + 排序方向）+ 危险关键字兜底
 * ======================================================================== */

var (
	// column 或 table.column，可带 AS alias
	columnPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?(\s+(?i:AS)\s+[a-zA-Z_][a-zA-Z0-9_]*)?$`)

	// 聚合函数，参数只能是 * 或列名
	aggregatePattern = regexp.MustCompile(`^(?i:COUNT|SUM|AVG|MAX|MIN)\(\s*(\*|[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?)\s*\)(\s+(?i:AS)\s+[a-zA-Z_][a-zA-Z0-9_]*)?$`)

	dangerousKeywords = []string{
		"DROP", "DELETE", "UPDATE", "INSERT", "TRUNCATE", "ALTER", "CREATE",
		"GRANT", "REVOKE", "EXEC", "EXECUTE", "UNION", "INTO", "OUTFILE",
		"SLEEP", "BENCHMARK", "--", "/*", "*/", ";",
	}
)

// ValidationError SQL 片段校验错误
type ValidationError struct {
	Field  string // OrderBy / Select
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ValidateOrderBy 校验排序："col"、"col DESC"、"t.col ASC, col2 DESC"
func ValidateOrderBy(orderBy string) error {
	if strings.TrimSpace(orderBy) == "" {
		return nil
	}
	if kw, bad := dangerousKeyword(orderBy); bad {
		return &ValidationError{Field: "OrderBy", Value: orderBy, Reason: "contains " + kw}
	}
	for _, part := range strings.Split(orderBy, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 || len(fields) > 2 {
			return &ValidationError{Field: "OrderBy", Value: part, Reason: "expected 'column [ASC|DESC]'"}
		}
		if !columnPattern.MatchString(fields[0]) {
			return &ValidationError{Field: "OrderBy", Value: part, Reason: "invalid column"}
		}
		if len(fields) == 2 {
			switch strings.ToUpper(fields[1]) {
			case "ASC", "DESC":
			default:
				return &ValidationError{Field: "OrderBy", Value: part, Reason: "direction must be ASC or DESC"}
			}
		}
	}
	return nil
}

// ValidateSelect 校验选择字段，允许列名与简单聚合
func ValidateSelect(selects []string) error {
	for _, sel := range selects {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		if kw, bad := dangerousKeyword(sel); bad {
			return &ValidationError{Field: "Select", Value: sel, Reason: "contains " + kw}
		}
		if !columnPattern.MatchString(sel) && !aggregatePattern.MatchString(sel) {
			return &ValidationError{Field: "Select", Value: sel, Reason: "invalid column"}
		}
	}
	return nil
}

// dangerousKeyword 按单词边界匹配，created_at 之类的列名不会误判
func dangerousKeyword(value string) (string, bool) {
	upper := strings.ToUpper(value)
	for _, kw := range dangerousKeywords {
		if !isWordChar(kw[0]) {
			if strings.Contains(upper, kw) {
				return kw, true
			}
			continue
		}
		for from := 0; ; {
			idx := strings.Index(upper[from:], kw)
			if idx < 0 {
				break
			}
			idx += from
			end := idx + len(kw)
			if (idx == 0 || !isWordChar(upper[idx-1])) && (end == len(upper) || !isWordChar(upper[end])) {
				return kw, true
			}
			from = idx + 1
		}
	}
	return "", false
}

func isWordChar(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_'
}
