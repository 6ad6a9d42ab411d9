package guard

import (
	"reflect"
	"strings"

	"github.com/aisgo/ais-tenancy/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

const softDeleteMarker = "soft_delete_enabled"

// callerGroup 把调用方的 WHERE 整体包进括号，OR 条件无法越过租户过滤
type callerGroup struct {
	exprs []clause.Expression
}

func (g callerGroup) Build(builder clause.Builder) {
	builder.WriteByte('(')
	clause.Where{Exprs: g.exprs}.Build(builder)
	builder.WriteByte(')')
}

func tenantEq(tenantID string) clause.Expression {
	return clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: columnTenantID}, Value: tenantID}
}

func notDeleted() clause.Expression {
	return clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: columnDeletedAt}, Value: nil}
}

// scopeWhere 用 (调用方条件) AND tenant_id = ? [AND deleted_at IS NULL] 替换 WHERE
func scopeWhere(db *gorm.DB, plan Plan) {
	stmt := db.Statement
	exprs := make([]clause.Expression, 0, 3)

	c, ok := stmt.Clauses["WHERE"]
	if ok {
		if w, isWhere := c.Expression.(clause.Where); isWhere && len(w.Exprs) > 0 {
			exprs = append(exprs, callerGroup{exprs: w.Exprs})
		}
	} else {
		c = clause.Clause{Name: "WHERE"}
	}

	exprs = append(exprs, tenantEq(plan.TenantID))
	if plan.FilterNotDeleted && !stmt.Unscoped {
		exprs = append(exprs, notDeleted())
		// 阻止 gorm 自带的软删除子句重复追加 deleted_at IS NULL
		stmt.Clauses[softDeleteMarker] = clause.Clause{}
	}

	c.Expression = clause.Where{Exprs: exprs}
	stmt.Clauses["WHERE"] = c
}

func hasCallerWhere(stmt *gorm.Statement) bool {
	if c, ok := stmt.Clauses["WHERE"]; ok {
		if w, isWhere := c.Expression.(clause.Where); isWhere && len(w.Exprs) > 0 {
			return true
		}
	}
	return false
}

// primaryKeyConds 从 Dest / Model 中提取主键条件
func primaryKeyConds(stmt *gorm.Statement) []clause.Expression {
	if stmt.Schema == nil || len(stmt.Schema.PrimaryFields) == 0 {
		return nil
	}
	var conds []clause.Expression
	collect := func(rv reflect.Value) {
		_, queryValues := schema.GetIdentityFieldValuesMap(stmt.Context, rv, stmt.Schema.PrimaryFields)
		column, values := schema.ToQueryValues(stmt.Table, stmt.Schema.PrimaryFieldDBNames, queryValues)
		if len(values) > 0 {
			conds = append(conds, clause.IN{Column: column, Values: values})
		}
	}
	if stmt.ReflectValue.IsValid() {
		collect(stmt.ReflectValue)
	}
	if distinctModel(stmt) {
		collect(reflect.ValueOf(stmt.Model))
	}
	return conds
}

// distinctModel Model 与 Dest 是否为不同对象；只比较指针，避免对 map 做接口比较
func distinctModel(stmt *gorm.Statement) bool {
	mv := reflect.ValueOf(stmt.Model)
	if mv.Kind() != reflect.Ptr || mv.IsNil() {
		return false
	}
	dv := reflect.ValueOf(stmt.Dest)
	return dv.Kind() != reflect.Ptr || dv.Pointer() != mv.Pointer()
}

func (p *Plugin) beforeCreate(db *gorm.DB) {
	if db.Error != nil || db.Statement.SQL.Len() > 0 {
		return
	}
	kind := KindCreate
	if db.Statement.ReflectValue.Kind() == reflect.Slice || db.Statement.ReflectValue.Kind() == reflect.Array {
		kind = KindCreateMany
	}
	onConflict, upsert := upsertClause(db.Statement)
	if upsert {
		kind = KindUpsert
	}

	entity, plan, ok := p.plan(db, kind)
	if !ok {
		return
	}
	stmt := db.Statement

	setCreateColumn(db, columnTenantID, plan.TenantID)
	if plan.InjectCreatedBy {
		setCreateColumn(db, columnCreatedBy, plan.ActorID)
	}

	if upsert {
		if db.Dialector.Name() == "mysql" {
			p.reject(db, "unsafe_upsert", errors.Wrapf(errors.ErrCodeUnsafeOperation, nil,
				"upsert on %s cannot be tenant constrained on mysql", entity.Name))
			return
		}
		if plan.InjectUpdatedBy {
			setCreateColumn(db, columnUpdatedBy, plan.ActorID)
			if !onConflict.UpdateAll && !hasAssignment(onConflict.DoUpdates, columnUpdatedBy) {
				onConflict.DoUpdates = append(onConflict.DoUpdates,
					clause.Assignment{Column: clause.Column{Name: columnUpdatedBy}, Value: plan.ActorID})
			}
		}
		// 冲突行属于其他租户时 DO UPDATE 不生效
		onConflict.Where.Exprs = append(onConflict.Where.Exprs,
			clause.Eq{Column: clause.Column{Table: stmt.Table, Name: columnTenantID}, Value: plan.TenantID})
		c := stmt.Clauses["ON CONFLICT"]
		c.Expression = onConflict
		stmt.Clauses["ON CONFLICT"] = c
	}
}

func upsertClause(stmt *gorm.Statement) (clause.OnConflict, bool) {
	c, ok := stmt.Clauses["ON CONFLICT"]
	if !ok {
		return clause.OnConflict{}, false
	}
	oc, ok := c.Expression.(clause.OnConflict)
	if !ok || oc.DoNothing {
		return oc, false
	}
	return oc, oc.UpdateAll || len(oc.DoUpdates) > 0
}

func hasAssignment(set clause.Set, column string) bool {
	for _, a := range set {
		if a.Column.Name == column {
			return true
		}
	}
	return false
}

// setCreateColumn 覆盖写入载荷中的列值，支持结构体、切片与 map
func setCreateColumn(db *gorm.DB, column string, value any) {
	stmt := db.Statement
	switch stmt.Dest.(type) {
	case map[string]any, *map[string]any, []map[string]any, *[]map[string]any:
		setMapColumn(stmt.Dest, column, value)
		return
	}
	if stmt.Schema == nil {
		return
	}
	field := stmt.Schema.LookUpField(column)
	if field == nil {
		return
	}

	set := func(rv reflect.Value) {
		rv = reflect.Indirect(rv)
		if rv.Kind() != reflect.Struct || !rv.CanAddr() {
			return
		}
		_ = db.AddError(field.Set(stmt.Context, rv, value))
	}
	switch stmt.ReflectValue.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < stmt.ReflectValue.Len(); i++ {
			set(stmt.ReflectValue.Index(i))
		}
	case reflect.Struct:
		if !stmt.ReflectValue.CanAddr() {
			_ = db.AddError(gorm.ErrInvalidValue)
			return
		}
		set(stmt.ReflectValue)
	}
}

func setMapColumn(dest any, column string, value any) {
	switch d := dest.(type) {
	case map[string]any:
		d[column] = value
	case *map[string]any:
		(*d)[column] = value
	case []map[string]any:
		for _, m := range d {
			m[column] = value
		}
	case *[]map[string]any:
		for _, m := range *d {
			m[column] = value
		}
	}
}

func (p *Plugin) beforeQuery(db *gorm.DB) {
	if db.Error != nil || db.Statement.SQL.Len() > 0 {
		return
	}
	_, plan, ok := p.plan(db, queryKind(db.Statement))
	if !ok {
		return
	}
	scopeWhere(db, plan)
}

func queryKind(stmt *gorm.Statement) Kind {
	if _, ok := stmt.Clauses["GROUP BY"]; ok {
		return KindGroupBy
	}
	if c, ok := stmt.Clauses["SELECT"]; ok {
		if sel, isSelect := c.Expression.(clause.Select); isSelect {
			if expr, isExpr := sel.Expression.(clause.Expr); isExpr {
				sql := strings.ToLower(expr.SQL)
				if strings.HasPrefix(sql, "count(") {
					return KindCount
				}
				if strings.Contains(sql, "sum(") || strings.Contains(sql, "avg(") ||
					strings.Contains(sql, "max(") || strings.Contains(sql, "min(") {
					return KindAggregate
				}
			}
		}
	}
	return KindRead
}

func (p *Plugin) beforeUpdate(db *gorm.DB) {
	if db.Error != nil || db.Statement.SQL.Len() > 0 {
		return
	}
	stmt := db.Statement
	kind := KindUpdate
	pkConds := primaryKeyConds(stmt)
	if len(pkConds) == 0 {
		kind = KindUpdateMany
	}

	entity, plan, ok := p.plan(db, kind)
	if !ok {
		return
	}
	if !hasCallerWhere(stmt) && len(pkConds) == 0 && !db.AllowGlobalUpdate {
		p.reject(db, "missing_where", errors.Wrapf(errors.ErrCodeUnsafeOperation, gorm.ErrMissingWhereClause,
			"update on %s without conditions", entity.Name))
		return
	}

	scopeWhere(db, plan)
	db.InstanceSet(scopedKey, entity.Name)

	pinTenantInPayload(db, plan.TenantID)
	if plan.InjectUpdatedBy {
		setUpdateColumn(db, columnUpdatedBy, plan.ActorID)
	}
}

// pinTenantInPayload 载荷中出现的 tenant_id 被改回当前租户
func pinTenantInPayload(db *gorm.DB, tenantID string) {
	stmt := db.Statement
	if m, ok := stmt.Dest.(map[string]any); ok {
		for _, k := range []string{columnTenantID, "TenantID"} {
			if _, exists := m[k]; exists {
				m[k] = tenantID
			}
		}
		return
	}
	if stmt.Schema == nil {
		return
	}
	field := stmt.Schema.LookUpField(columnTenantID)
	if field == nil {
		return
	}
	dest := reflect.Indirect(reflect.ValueOf(stmt.Dest))
	if dest.Kind() != reflect.Struct || dest.Type() != stmt.Schema.ModelType {
		return
	}
	if v, zero := field.ValueOf(stmt.Context, dest); !zero && v != tenantID {
		stmt.SetColumn(columnTenantID, tenantID)
	}
}

func setUpdateColumn(db *gorm.DB, column string, value any) {
	stmt := db.Statement
	if _, ok := stmt.Dest.(map[string]any); !ok {
		if stmt.Schema == nil || stmt.Schema.LookUpField(column) == nil {
			return
		}
	}
	stmt.SetColumn(column, value)

	if len(stmt.Selects) > 0 {
		for _, s := range stmt.Selects {
			if s == "*" || s == column {
				return
			}
		}
		stmt.Selects = append(stmt.Selects, column)
	}
}

func (p *Plugin) beforeDelete(db *gorm.DB) {
	if db.Error != nil || db.Statement.SQL.Len() > 0 {
		return
	}
	stmt := db.Statement
	kind := KindDelete
	pkConds := primaryKeyConds(stmt)
	if len(pkConds) == 0 {
		kind = KindDeleteMany
	}

	entity, plan, ok := p.plan(db, kind)
	if !ok {
		return
	}
	if !hasCallerWhere(stmt) && len(pkConds) == 0 && !db.AllowGlobalUpdate {
		p.reject(db, "missing_where", errors.Wrapf(errors.ErrCodeUnsafeOperation, gorm.ErrMissingWhereClause,
			"delete on %s without conditions", entity.Name))
		return
	}
	db.InstanceSet(scopedKey, entity.Name)

	if !plan.SoftDelete || stmt.Unscoped || stmt.Schema == nil {
		scopeWhere(db, plan)
		return
	}

	// 软删除：预先构建 UPDATE 语句，gorm 的 delete 构建与软删除子句都会因 SQL 非空而跳过
	now := stmt.DB.NowFunc()
	set := clause.Set{{Column: clause.Column{Name: columnDeletedAt}, Value: now}}
	if plan.InjectUpdatedBy && stmt.Schema.LookUpField(columnUpdatedBy) != nil {
		set = append(set, clause.Assignment{Column: clause.Column{Name: columnUpdatedBy}, Value: plan.ActorID})
	}
	stmt.AddClause(set)

	switch stmt.ReflectValue.Kind() {
	case reflect.Struct:
		if stmt.ReflectValue.CanAddr() {
			stmt.SetColumn(columnDeletedAt, now, true)
		}
	case reflect.Slice, reflect.Array:
		stmt.SetColumn(columnDeletedAt, now, true)
	}

	if len(pkConds) > 0 {
		stmt.AddClause(clause.Where{Exprs: pkConds})
	}
	scopeWhere(db, plan)
	stmt.AddClauseIfNotExists(clause.Update{})
	stmt.Build(stmt.DB.Callback().Update().Clauses...)
}
