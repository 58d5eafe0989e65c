package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// SiteFields 描述站点维度：名称、域名与当前缓存命名空间。
func SiteFields(site, domain, cacheName string) logrus.Fields {
	return logrus.Fields{
		"site":       site,
		"domain":     domain,
		"cache_name": cacheName,
	}
}

// RequestFields 记录一次代理请求的分类与响应来源。
func RequestFields(site, requestID, kind, source string, started time.Time) logrus.Fields {
	return logrus.Fields{
		"site":       site,
		"request_id": requestID,
		"kind":       kind,
		"source":     source,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
}
