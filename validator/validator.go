package validator

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

/* ========================================================================
 * Validator - 输入校验
 * ========================================================================
 * 职责: 校验公司、成员、客户等输入；字段名使用 json 标签，
 *       error_msg 标签可按规则覆盖消息："required:name is required|max:name is too long"
 * 规则: 除内置规则外注册 slug / member_role / ulid（见 rules.go）
 * ======================================================================== */

const (
	tagMessages = "error_msg"
	ruleSep     = "|"
	messageSep  = ":"
)

// Validator 校验器，并发安全
type Validator struct {
	validate *validator.Validate
	messages sync.Map // reflect.Type -> map[string]map[string]string（字段 -> 规则 -> 消息）
}

// New 创建校验器
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)
	registerRules(v)
	return &Validator{validate: v}
}

// jsonName 错误中的字段名取 json 标签；json:"-" 的字段用 Go 字段名
func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}

// Validate 校验结构体或结构体指针；失败时返回 *FieldErrors
func (v *Validator) Validate(s any) error {
	if s == nil {
		return nil
	}
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return err
	}

	msgs := v.messagesFor(reflect.TypeOf(s))
	out := &FieldErrors{}
	for _, fe := range verrs {
		field := trimRoot(fe.Namespace())
		msg := msgs[trimRoot(fe.StructNamespace())][fe.Tag()]
		if msg == "" {
			msg = defaultMessage(fe)
		}
		out.Add(field, msg)
	}
	return out
}

// trimRoot 去掉命名空间首段的结构体名
func trimRoot(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func defaultMessage(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	}
	return "failed " + fe.Tag()
}

// messagesFor 解析并缓存类型上所有 error_msg 标签，key 为 Go 字段路径
func (v *Validator) messagesFor(t reflect.Type) map[string]map[string]string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := v.messages.Load(t); ok {
		return cached.(map[string]map[string]string)
	}
	out := map[string]map[string]string{}
	collectMessages(t, "", out, map[reflect.Type]bool{})
	v.messages.Store(t, out)
	return out
}

func collectMessages(t reflect.Type, prefix string, out map[string]map[string]string, seen map[reflect.Type]bool) {
	if t.Kind() != reflect.Struct || seen[t] {
		return
	}
	seen[t] = true
	defer delete(seen, t)

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}
		if tag := f.Tag.Get(tagMessages); tag != "" {
			out[path] = parseMessages(tag)
		}
		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		collectMessages(ft, path, out, seen)
	}
}

func parseMessages(tag string) map[string]string {
	m := make(map[string]string)
	for _, part := range strings.Split(tag, ruleSep) {
		rule, msg, ok := strings.Cut(part, messageSep)
		if ok {
			m[strings.TrimSpace(rule)] = strings.TrimSpace(msg)
		}
	}
	return m
}
