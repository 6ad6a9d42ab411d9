package repository

import (
	"context"

	"github.com/aisgo/ais-tenancy/errors"

	"gorm.io/gorm"
)

// Transaction 在事务中执行 fn，fn 收到的 ctx 携带事务。
// ctx 中已有事务时直接复用，由最外层负责提交或回滚。
func Transaction(ctx context.Context, db *gorm.DB, fn func(ctx context.Context) error) error {
	if _, ok := TxFrom(ctx); ok {
		return fn(ctx)
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(WithTx(ctx, tx))
	})
	if err == nil {
		return nil
	}
	if _, ok := errors.AsBizError(err); ok {
		return err
	}
	return errors.Wrap(errors.ErrCodeInternal, "transaction failed", err)
}

// InTransaction 判断 DB 句柄是否处于事务中
func InTransaction(db *gorm.DB) bool {
	if db == nil || db.Statement == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(gorm.TxCommitter)
	return ok
}
