package validator

import (
	"regexp"
	"strings"
	"sync"

	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/model"
	"github.com/aisgo/ais-tenancy/utils/id-generator/ulid"

	"github.com/go-playground/validator/v10"
)

/* ========================================================================
 * Tenancy Rules - 领域校验规则
 * ========================================================================
 * slug:        小写字母、数字、连字符，不能以连字符开头或结尾
 * member_role: Owner / Admin / Member / Viewer（忽略大小写）
 * ulid:        26 位 ULID
 * ======================================================================== */

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

func registerRules(v *validator.Validate) {
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("member_role", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		for _, r := range model.SystemRoles() {
			if strings.EqualFold(string(r), s) {
				return true
			}
		}
		return false
	})
	_ = v.RegisterValidation("ulid", func(fl validator.FieldLevel) bool {
		return ulid.IsValid(fl.Field().String())
	})
}

var (
	defaultOnce sync.Once
	defaultV    *Validator
)

// Default 进程内共享的验证器
func Default() *Validator {
	defaultOnce.Do(func() { defaultV = New() })
	return defaultV
}

// Check 用共享验证器校验，失败时返回 ErrCodeInvalidArgument 业务错误，消息包含各字段原因
func Check(s any) error {
	err := Default().Validate(s)
	if err == nil {
		return nil
	}
	var fe *FieldErrors
	if errors.As(err, &fe) {
		return errors.Wrapf(errors.ErrCodeInvalidArgument, err, "validation failed: %s", fe.Error())
	}
	return errors.Wrap(errors.ErrCodeInvalidArgument, "validation failed", err)
}
