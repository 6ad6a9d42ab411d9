package repository

import (
	stderrors "errors"

	"github.com/aisgo/ais-tenancy/errors"

	"gorm.io/gorm"
)

// translate 把 GORM 错误映射为业务错误；业务错误（如守卫拒绝）原样返回
func translate(err error, action string) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsBizError(err); ok {
		return err
	}
	switch {
	case stderrors.Is(err, gorm.ErrRecordNotFound):
		return errors.Wrap(errors.ErrCodeNotFound, "record not found", err)
	case stderrors.Is(err, gorm.ErrDuplicatedKey):
		return errors.Wrap(errors.ErrCodeAlreadyExists, "record already exists", err)
	}
	return errors.Wrap(errors.ErrCodeInternal, "failed to "+action, err)
}
