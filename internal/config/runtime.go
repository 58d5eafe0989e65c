package config

import (
	"net"
	"strconv"
	"strings"
)

// DefaultPublicOrigin 根据 Domain 与监听端口推导浏览器看到的站点 origin。
func DefaultPublicOrigin(domain string, listenPort int) string {
	host := strings.TrimSpace(domain)
	if listenPort <= 0 || listenPort == 80 {
		return "http://" + host
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(listenPort))
}

// SiteRuntime 是单个站点在运行期需要的派生属性，避免各层重复推导。
type SiteRuntime struct {
	Config       SiteConfig
	CacheName    string
	CachePrefix  string
	RootDocument string
	CoreAssets   []string
}

// BuildSiteRuntime 合并 Site 配置中的默认值，输出运行期描述。
func BuildSiteRuntime(cfg SiteConfig) SiteRuntime {
	assets := make([]string, 0, len(cfg.CoreAssets))
	seen := make(map[string]struct{}, len(cfg.CoreAssets))
	for _, asset := range cfg.CoreAssets {
		if _, dup := seen[asset]; dup {
			continue
		}
		seen[asset] = struct{}{}
		assets = append(assets, asset)
	}
	root := cfg.RootDocument
	if root == "" {
		root = "/index.html"
	}
	return SiteRuntime{
		Config:       cfg,
		CacheName:    cfg.CacheName,
		CachePrefix:  cfg.CachePrefix,
		RootDocument: root,
		CoreAssets:   assets,
	}
}
