package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

var supportedStorageDrivers = map[string]struct{}{
	StorageDriverDisk:   {},
	StorageDriverSQLite: {},
	StorageDriverRedis:  {},
}

const supportedStorageDriverList = "disk|sqlite|redis"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, ok := supportedStorageDrivers[g.StorageDriver]; !ok {
		return newFieldError("Global.StorageDriver", "仅支持 "+supportedStorageDriverList)
	}
	if g.StorageDriver == StorageDriverRedis && strings.TrimSpace(g.RedisAddr) == "" {
		return newFieldError("Global.RedisAddr", "redis 驱动需要 RedisAddr")
	}
	if g.MaxMemoryCache < 0 {
		return newFieldError("Global.MaxMemoryCacheSize", "不能为负数")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.RefreshRate < 0 {
		return newFieldError("Global.RefreshRate", "不能为负数")
	}
	if g.TraceExporter != "" && g.TraceExporter != TraceExporterStdout {
		return newFieldError("Global.TraceExporter", "仅支持留空或 stdout")
	}

	if len(c.Sites) == 0 {
		return errors.New("至少需要配置一个 Site")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]struct{}{}
	prefixes := make([]string, 0, len(c.Sites))
	for i := range c.Sites {
		site := &c.Sites[i]
		if site.Name == "" {
			return newFieldError("Site[].Name", "不能为空")
		}
		if _, exists := seenNames[site.Name]; exists {
			return newFieldError(siteField(site.Name, "Name"), "重复")
		}
		seenNames[site.Name] = struct{}{}

		if err := validateDomain(site.Domain); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Domain"), err)
		}
		domainKey := strings.ToLower(site.Domain)
		if _, exists := seenDomains[domainKey]; exists {
			return newFieldError(siteField(site.Name, "Domain"), "重复")
		}
		seenDomains[domainKey] = struct{}{}

		if err := validateUpstream(site.Upstream); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Upstream"), err)
		}
		if site.PublicOrigin != "" {
			if err := validateUpstream(site.PublicOrigin); err != nil {
				return fmt.Errorf("%s: %w", siteField(site.Name, "PublicOrigin"), err)
			}
		}
		if site.Proxy != "" {
			if err := validateUpstream(site.Proxy); err != nil {
				return fmt.Errorf("%s: %w", siteField(site.Name, "Proxy"), err)
			}
		}
		if (site.Username == "") != (site.Password == "") {
			return newFieldError(siteField(site.Name, "Username/Password"), "必须同时提供或同时留空")
		}

		if site.CacheName == "" {
			return newFieldError(siteField(site.Name, "CacheName"), "不能为空")
		}
		if site.CachePrefix == "" {
			return newFieldError(siteField(site.Name, "CachePrefix"), "不能为空")
		}
		if !strings.HasPrefix(site.CacheName, site.CachePrefix) {
			return newFieldError(siteField(site.Name, "CacheName"), "必须以 CachePrefix 开头")
		}
		if strings.ContainsAny(site.CacheName, `/\`) {
			return newFieldError(siteField(site.Name, "CacheName"), "不允许包含路径分隔符")
		}
		prefixes = append(prefixes, site.CachePrefix)

		if !strings.HasPrefix(site.RootDocument, "/") {
			return newFieldError(siteField(site.Name, "RootDocument"), "必须以 / 开头")
		}
		for _, asset := range site.CoreAssets {
			if !strings.HasPrefix(asset, "/") {
				return newFieldError(siteField(site.Name, "CoreAssets"), fmt.Sprintf("资源路径必须以 / 开头: %q", asset))
			}
		}
	}

	if a, b, ok := overlappingPrefix(prefixes); ok {
		return newFieldError("Site[].CachePrefix", fmt.Sprintf("前缀 %q 与 %q 重叠，激活时会误删其它站点缓存", a, b))
	}

	return nil
}

// overlappingPrefix 检查是否存在某个前缀是另一个前缀的前缀。
func overlappingPrefix(prefixes []string) (string, string, bool) {
	sorted := append([]string(nil), prefixes...)
	sort.Strings(sorted)
	for i := 1; i < len(sorted); i++ {
		if strings.HasPrefix(sorted[i], sorted[i-1]) {
			return sorted[i-1], sorted[i], true
		}
	}
	return "", "", false
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
