package repository

import (
	"context"
	"regexp"
	"strings"

	"github.com/aisgo/ais-tenancy/errors"
)

/* ========================================================================
 * Aggregate - 聚合查询
 * ========================================================================
 * 安全: 列名白名单校验，防止 SQL 注入；分组查询同样经过租户过滤
 * ======================================================================== */

// identifierPattern 列名（只允许字母、数字、下划线）
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validateColumn(column string) error {
	if column == "" {
		return errors.New(errors.ErrCodeInvalidArgument, "column cannot be empty")
	}
	if strings.Contains(column, ".") || !identifierPattern.MatchString(column) {
		return errors.New(errors.ErrCodeInvalidArgument, "invalid column name: "+column)
	}
	return nil
}

// CountByGroup 按列分组计数
func (r *Scoped[T]) CountByGroup(ctx context.Context, groupColumn string, query string, args ...any) (map[string]int64, error) {
	if err := validateColumn(groupColumn); err != nil {
		return nil, err
	}
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	type row struct {
		Grp   string `gorm:"column:grp"`
		Total int64  `gorm:"column:total"`
	}
	var rows []row

	db = db.Model(new(T))
	if query != "" {
		db = db.Where(query, args...)
	}
	if err := db.Select(groupColumn + " AS grp, COUNT(*) AS total").Group(groupColumn).Scan(&rows).Error; err != nil {
		return nil, translate(err, "group "+r.entity.Name)
	}

	out := make(map[string]int64, len(rows))
	for _, rw := range rows {
		out[rw.Grp] = rw.Total
	}
	return out, nil
}
