// =============================================================================
// 📦 toolport 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML / JSON 文件 + 环境变量覆盖 + 内联服务器覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config/toolport.json").
//	    WithServers(config.ServerSpec{Name: "figma", Command: "bunx cursor-talk-to-figma-mcp@latest"}).
//	    Load()
//
// 配置优先级: 默认值 → 配置文件 → 环境变量 → 内联服务器
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/toolport/types"
)

// Config 是 toolport 的完整配置结构
type Config struct {
	// Servers 列表形式的服务器声明
	Servers []ServerSpec `yaml:"servers" env:"-"`

	// MCPServers 常见 MCP 客户端使用的 name → spec 映射
	MCPServers map[string]ServerSpec `yaml:"mcpServers" env:"-"`

	// Runtime 运行时配置
	Runtime RuntimeConfig `yaml:"runtime" env:"RUNTIME"`

	// Cache 工具描述缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Journal 调用日志配置
	Journal JournalConfig `yaml:"journal" env:"JOURNAL"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// overrides 内联服务器，按名称覆盖文件中的声明
	overrides []ServerSpec
}

// RuntimeConfig 运行时配置
type RuntimeConfig struct {
	// 单次调用超时（0 表示只受调用方 ctx 控制）
	CallTimeout time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
	// 建立连接（启动子进程 + initialize 握手）超时
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	// 子进程优雅退出等待时间
	ShutdownGrace time.Duration `yaml:"shutdown_grace" env:"SHUTDOWN_GRACE"`
	// WebSocket 桥接的 ping 间隔（0 表示关闭）
	Heartbeat time.Duration `yaml:"heartbeat" env:"HEARTBEAT"`
	// 建立 Runtime 时立即连接所有服务器
	EagerConnect bool `yaml:"eager_connect" env:"EAGER_CONNECT"`
	// InvokeAll 默认并发上限
	BatchConcurrency int `yaml:"batch_concurrency" env:"BATCH_CONCURRENCY"`
}

// CacheConfig 工具描述缓存配置
type CacheConfig struct {
	// 驱动: memory, redis
	Driver string `yaml:"driver" env:"DRIVER"`
	// 缓存过期时间（0 表示直到显式刷新）
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// Redis 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// JournalConfig 调用日志配置
type JournalConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: sqlite, postgres, mysql
	Driver string `yaml:"driver" env:"DRIVER"`
	// 连接串（sqlite 为文件路径）
	DSN string `yaml:"dsn" env:"DSN"`
	// 是否记录调用参数
	RecordArguments bool `yaml:"record_arguments" env:"RECORD_ARGUMENTS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// CLI 退出前写入的 textfile（node_exporter textfile collector 格式），空表示不写
	Textfile string `yaml:"textfile" env:"TEXTFILE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// ServerSpecs returns the validated, merged server list: file "servers"
// entries, then "mcpServers" entries in name order, then inline overrides
// replacing by name.
func (c *Config) ServerSpecs() ([]ServerSpec, error) {
	base := make([]ServerSpec, 0, len(c.Servers)+len(c.MCPServers))
	base = append(base, c.Servers...)

	names := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := c.MCPServers[name]
		if s.Name != "" && s.Name != name {
			return nil, types.NewConfigError("mcpServers key %q conflicts with name %q", name, s.Name).WithServer(name)
		}
		s.Name = name
		base = append(base, s)
	}

	return MergeServers(base, c.overrides)
}

// AddOverrides appends inline server specs that win name collisions.
func (c *Config) AddOverrides(specs ...ServerSpec) {
	c.overrides = append(c.overrides, specs...)
}

// WithOverrides returns a shallow copy of c with specs appended to its
// inline overrides. c itself is not modified.
func (c *Config) WithOverrides(specs ...ServerSpec) *Config {
	cp := *c
	cp.overrides = make([]ServerSpec, 0, len(c.overrides)+len(specs))
	cp.overrides = append(cp.overrides, c.overrides...)
	cp.overrides = append(cp.overrides, specs...)
	return &cp
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if _, err := c.ServerSpecs(); err != nil {
		return err
	}
	if c.Runtime.CallTimeout < 0 || c.Runtime.ConnectTimeout < 0 || c.Runtime.Heartbeat < 0 {
		errs = append(errs, "timeouts must not be negative")
	}
	switch c.Cache.Driver {
	case "", "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown cache driver %q", c.Cache.Driver))
	}
	if c.Journal.Enabled {
		switch c.Journal.Driver {
		case "sqlite", "postgres", "mysql":
		default:
			errs = append(errs, fmt.Sprintf("unknown journal driver %q", c.Journal.Driver))
		}
	}

	if len(errs) > 0 {
		return types.NewConfigError("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	servers    []ServerSpec
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器，环境变量前缀默认 TOOLPORT
func NewLoader() *Loader {
	return &Loader{envPrefix: "TOOLPORT", lookupEnv: os.LookupEnv}
}

// WithConfigPath 设置配置文件路径；文件不存在时按默认值处理
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnv 替换环境变量来源，nil 表示忽略环境变量
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	l.lookupEnv = lookup
	return l
}

// WithServers 添加内联服务器声明，按名称覆盖文件中的同名服务器
func (l *Loader) WithServers(specs ...ServerSpec) *Loader {
	l.servers = append(l.servers, specs...)
	return l
}

// WithValidator 添加配置验证器，在内置校验之后运行
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → 配置文件 → 环境变量 → 内联服务器
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.readFile(cfg); err != nil {
			return nil, err
		}
	}
	if err := l.applyEnv(cfg); err != nil {
		return nil, types.NewConfigError("failed to load config from env").WithCause(err)
	}
	cfg.AddOverrides(l.servers...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, types.NewConfigError("config validation failed").WithCause(err)
		}
	}
	return cfg, nil
}

// readFile 解析 YAML；JSON 是 YAML 的子集，mcpServers 形式的 JSON 文件直接可用
func (l *Loader) readFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return types.NewConfigError("failed to read config file %s", l.configPath).WithCause(err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return types.NewConfigError("failed to parse config file %s", l.configPath).WithCause(err)
	}
	return nil
}

// envField 一个可由环境变量覆盖的叶子字段
type envField struct {
	key   string
	value reflect.Value
}

// envFields 按 env tag 展开结构体，嵌套结构体的 key 以下划线拼接
func envFields(v reflect.Value, prefix string) []envField {
	var out []envField
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" || !v.Field(i).CanSet() {
			continue
		}
		key := prefix + "_" + tag
		if f := v.Field(i); f.Kind() == reflect.Struct && f.Type() != durationType {
			out = append(out, envFields(f, key)...)
			continue
		}
		out = append(out, envField{key: key, value: v.Field(i)})
	}
	return out
}

func (l *Loader) applyEnv(cfg *Config) error {
	for _, f := range envFields(reflect.ValueOf(cfg).Elem(), l.envPrefix) {
		raw, ok := l.lookupEnv(f.key)
		if !ok || raw == "" {
			continue
		}
		parsed, err := parseEnv(f.value.Type(), raw)
		if err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
		f.value.Set(parsed)
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// parseEnv 把字符串解析为 typ；字符串切片按逗号分隔
func parseEnv(typ reflect.Type, raw string) (reflect.Value, error) {
	out := reflect.New(typ).Elem()
	switch {
	case typ == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return out, err
		}
		out.SetInt(int64(d))
	case typ.Kind() == reflect.String:
		out.SetString(raw)
	case typ.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return out, err
		}
		out.SetBool(b)
	case out.CanInt():
		n, err := strconv.ParseInt(raw, 10, typ.Bits())
		if err != nil {
			return out, err
		}
		out.SetInt(n)
	case out.CanFloat():
		f, err := strconv.ParseFloat(raw, typ.Bits())
		if err != nil {
			return out, err
		}
		out.SetFloat(f)
	case typ.Kind() == reflect.Slice && typ.Elem().Kind() == reflect.String:
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		out.Set(reflect.ValueOf(parts))
	default:
		return out, fmt.Errorf("unsupported type %s", typ)
	}
	return out, nil
}
