package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 支持的缓存存储驱动。
const (
	StorageDriverDisk   = "disk"
	StorageDriverSQLite = "sqlite"
	StorageDriverRedis  = "redis"
)

// TraceExporterStdout 将 span 以 JSON 形式输出到标准输出。
const TraceExporterStdout = "stdout"

// GlobalConfig 描述全局运行时行为，所有 Site 共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StorageDriver   string   `mapstructure:"StorageDriver"`
	MaxMemoryCache  int64    `mapstructure:"MaxMemoryCacheSize"`
	RedisAddr       string   `mapstructure:"RedisAddr"`
	RedisPassword   string   `mapstructure:"RedisPassword"`
	RedisDB         int      `mapstructure:"RedisDB"`
	MaxRetries      int      `mapstructure:"MaxRetries"`
	InitialBackoff  Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	RefreshRate     float64  `mapstructure:"RefreshRate"`
	RefreshBurst    int      `mapstructure:"RefreshBurst"`
	TraceExporter   string   `mapstructure:"TraceExporter"`
}

// SiteConfig 描述一个被离线缓存策略接管的 Web 应用。
type SiteConfig struct {
	Name         string `mapstructure:"Name"`
	Domain       string `mapstructure:"Domain"`
	Upstream     string `mapstructure:"Upstream"`
	PublicOrigin string `mapstructure:"PublicOrigin"`
	Proxy        string `mapstructure:"Proxy"`
	Username     string `mapstructure:"Username"`
	Password     string `mapstructure:"Password"`

	// CacheName 是当前版本的缓存命名空间，CachePrefix 用于识别属于本站点的旧版本。
	CacheName   string   `mapstructure:"CacheName"`
	CachePrefix string   `mapstructure:"CachePrefix"`
	CoreAssets  []string `mapstructure:"CoreAssets"`

	RootDocument             string `mapstructure:"RootDocument"`
	StrictNavigation         bool   `mapstructure:"StrictNavigation"`
	DisableBackgroundRefresh bool   `mapstructure:"DisableBackgroundRefresh"`
	HoldActivation           bool   `mapstructure:"HoldActivation"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Sites  []SiteConfig `mapstructure:"Site"`
}

// HasCredentials 表示当前 Site 是否配置了完整的上游凭证。
func (s SiteConfig) HasCredentials() bool {
	return s.Username != "" && s.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (s SiteConfig) AuthMode() string {
	if s.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// CacheNames 返回所有 Site 的缓存命名空间摘要，例如 app:app-v2。
func CacheNames(sites []SiteConfig) []string {
	if len(sites) == 0 {
		return nil
	}
	result := make([]string, len(sites))
	for i, site := range sites {
		result[i] = fmt.Sprintf("%s:%s", site.Name, site.CacheName)
	}
	return result
}
