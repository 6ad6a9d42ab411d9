package repository

import (
	"context"

	"gorm.io/gorm"
)

/* ========================================================================
 * Transaction Context Helper
 * ========================================================================
 * 职责: 通过 context 传递事务，仓储与服务共享同一事务
 * ======================================================================== */

type ctxTxKey struct{}

// WithTx 把事务放入 context
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, ctxTxKey{}, tx)
}

// TxFrom 读取 context 中的事务
func TxFrom(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(ctxTxKey{}).(*gorm.DB)
	return tx, ok && tx != nil
}

// Conn 返回绑定 ctx 的 DB：context 中有事务时使用事务
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := TxFrom(ctx); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
