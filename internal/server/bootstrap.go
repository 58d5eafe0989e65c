package server

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/logging"
)

// StartWorkers 并发执行各站点的安装/激活流程，返回等待全部完成的函数。
// 安装期间请求照常直通上游，因此调用方无需等待即可开始监听。
func StartWorkers(ctx context.Context, registry *SiteRegistry, logger *logrus.Logger) func() {
	var wg sync.WaitGroup
	for _, route := range registry.List() {
		if route.Worker == nil {
			continue
		}
		wg.Add(1)
		go func(route *SiteRoute) {
			defer wg.Done()
			started := time.Now()
			fields := logging.SiteFields(route.Config.Name, route.Config.Domain, route.Runtime.CacheName)
			fields["action"] = "worker_start"

			if err := route.Worker.Start(ctx); err != nil {
				fields["error"] = err.Error()
				logger.WithFields(fields).Error("站点离线缓存安装失败，请求将直通上游")
				return
			}
			fields["state"] = string(route.Worker.State())
			fields["elapsed_ms"] = time.Since(started).Milliseconds()
			logger.WithFields(fields).Info("站点离线缓存就绪")
		}(route)
	}
	return wg.Wait
}

// DrainWorkers 等待所有站点的后台刷新结束，用于优雅退出。
func DrainWorkers(registry *SiteRegistry) {
	for _, route := range registry.List() {
		if route.Worker != nil {
			route.Worker.Wait()
		}
	}
}
