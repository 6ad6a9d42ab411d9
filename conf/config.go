package conf

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

/* ========================================================================
 * Config Loader - 配置加载器
 * ========================================================================
 * 职责: 统一配置加载，支持 YAML / JSON / 环境变量
 * 约束: 文件中的 ${VAR} / ${VAR:-default} 在解析前展开；
 *       默认值登记为 viper key，因此没有配置文件时 APP_HTTP_PORT 之类的环境变量同样生效
 * 技术: Viper + mapstructure 解码钩子
 * ======================================================================== */

// Loader 定义配置加载接口
type Loader interface {
	Load(config any) error
}

// Option 加载器选项
type Option func(*viperLoader)

// WithEnvPrefix 环境变量前缀，默认 APP
func WithEnvPrefix(prefix string) Option {
	return func(l *viperLoader) { l.envPrefix = prefix }
}

// WithDefaults 以结构体的当前值作为默认配置
func WithDefaults(defaults any) Option {
	return func(l *viperLoader) { l.defaults = defaults }
}

type viperLoader struct {
	configPath string
	configName string
	configType string
	envPrefix  string
	defaults   any
}

var envPlaceholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

func expandEnvPlaceholders(raw string) string {
	return envPlaceholderPattern.ReplaceAllStringFunc(raw, func(match string) string {
		sub := envPlaceholderPattern.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		// 与 bash 的 ${VAR:-default} 一致：未设置或为空时使用 default
		if val, ok := os.LookupEnv(sub[1]); ok && val != "" {
			return val
		}
		if len(sub) >= 3 {
			return sub[2]
		}
		return ""
	})
}

// NewLoader 创建配置加载器
// configPath: 配置文件目录
// configName: 配置文件名 (不含扩展名)
// configType: 配置文件类型 (yaml, json 等)
func NewLoader(configPath, configName, configType string, opts ...Option) Loader {
	l := &viperLoader{
		configPath: configPath,
		configName: configName,
		configType: configType,
		envPrefix:  "APP",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DecodeHook 字符串到 time.Duration / 切片 / encoding.TextUnmarshaler（如 guard.Mode）
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

func (l *viperLoader) newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func (l *viperLoader) Load(config any) error {
	// 先让 viper 定位配置文件（AddConfigPath + SetConfigName 的搜索逻辑）
	finder := l.newViper()
	finder.AddConfigPath(l.configPath)
	finder.SetConfigName(l.configName)
	finder.SetConfigType(l.configType)
	if err := finder.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	configFile := finder.ConfigFileUsed()

	v := l.newViper()
	if l.defaults != nil {
		if err := registerDefaults(v, l.defaults); err != nil {
			return err
		}
	}
	if configFile != "" {
		raw, err := os.ReadFile(configFile)
		if err != nil {
			return err
		}
		v.SetConfigType(l.configType)
		if err := v.ReadConfig(bytes.NewBufferString(expandEnvPlaceholders(string(raw)))); err != nil {
			return fmt.Errorf("parse config %s: %w", configFile, err)
		}
	}
	return v.Unmarshal(config, viper.DecodeHook(DecodeHook()))
}

// registerDefaults 把结构体展开为点分 key 并登记为默认值
func registerDefaults(v *viper.Viper, defaults any) error {
	tree := map[string]any{}
	if err := mapstructure.Decode(defaults, &tree); err != nil {
		return fmt.Errorf("encode config defaults: %w", err)
	}
	setDefaults(v, "", tree)
	return nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, key, sub)
			continue
		}
		if isNilRef(val) {
			continue
		}
		v.SetDefault(key, val)
	}
}

func isNilRef(val any) bool {
	if val == nil {
		return true
	}
	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface, reflect.Func:
		return rv.IsNil()
	}
	return false
}
