package proxy

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/metrics"
	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/worker"
)

// WorkerDeps 汇总构建站点控制器所需的共享依赖。
type WorkerDeps struct {
	Global         config.GlobalConfig
	Client         *http.Client
	Store          cache.Store
	Logger         *logrus.Logger
	Metrics        *metrics.Recorder
	TracerProvider trace.TracerProvider
}

// AttachWorkers 为每个站点创建 Controller 与 Host，并挂到 SiteRoute 上。
func AttachWorkers(registry *server.SiteRegistry, deps WorkerDeps) error {
	for _, route := range registry.List() {
		host, err := newSiteWorker(route, deps)
		if err != nil {
			return fmt.Errorf("site %s: %w", route.Config.Name, err)
		}
		route.Worker = host
	}
	return nil
}

func newSiteWorker(route *server.SiteRoute, deps WorkerDeps) (*worker.Host, error) {
	var logger logrus.FieldLogger
	if deps.Logger != nil {
		logger = deps.Logger.WithFields(logging.SiteFields(route.Config.Name, route.Config.Domain, route.Runtime.CacheName))
	}

	// 每个站点独立限流，避免热门站点占满其他站点的刷新额度。
	var limiter *rate.Limiter
	if deps.Global.RefreshRate > 0 {
		burst := deps.Global.RefreshBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(deps.Global.RefreshRate), burst)
	}

	ctrl, err := worker.NewController(worker.Options{
		Name:              route.Config.Name,
		CacheName:         route.Runtime.CacheName,
		CachePrefix:       route.Runtime.CachePrefix,
		Origin:            route.OriginURL,
		CoreAssets:        route.Runtime.CoreAssets,
		RootDocument:      route.Runtime.RootDocument,
		StrictNavigation:  route.Config.StrictNavigation,
		BackgroundRefresh: !route.Config.DisableBackgroundRefresh,
		HoldActivation:    route.Config.HoldActivation,
		Store:             deps.Store,
		Network:           NewUpstreamNetwork(deps.Client, route),
		Logger:            logger,
		Metrics:           deps.Metrics,
		TracerProvider:    deps.TracerProvider,
		RefreshLimiter:    limiter,
		RefreshTimeout:    deps.Global.UpstreamTimeout.DurationValue(),
	})
	if err != nil {
		return nil, err
	}

	return worker.NewHost(ctrl, worker.HostOptions{
		Name:           route.Config.Name,
		MaxRetries:     deps.Global.MaxRetries,
		InitialBackoff: deps.Global.InitialBackoff.DurationValue(),
		Logger:         logger,
		Metrics:        deps.Metrics,
	}), nil
}
