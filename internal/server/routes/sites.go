package routes

import (
	"context"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/metrics"
	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/worker"
)

// DiagnosticsOptions 汇总诊断接口需要读取的运行期对象。
type DiagnosticsOptions struct {
	Registry *server.SiteRegistry
	Store    cache.Store
	Metrics  *metrics.Recorder
}

// RegisterDiagnosticsRoutes 暴露 /-/sites 与 /-/metrics，供运维查询站点生命周期与缓存内容。
func RegisterDiagnosticsRoutes(app *fiber.App, opts DiagnosticsOptions) {
	if app == nil || opts.Registry == nil {
		return
	}

	app.Get("/-/sites", func(c fiber.Ctx) error {
		routes := opts.Registry.List()
		sort.Slice(routes, func(i, j int) bool {
			return routes[i].Config.Name < routes[j].Config.Name
		})
		result := make([]sitePayload, 0, len(routes))
		for _, route := range routes {
			result = append(result, encodeSite(route))
		}
		return c.JSON(fiber.Map{"sites": result})
	})

	app.Get("/-/sites/:name", func(c fiber.Ctx) error {
		route, ok := opts.Registry.Get(strings.TrimSpace(c.Params("name")))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "site_not_found"})
		}
		detail := siteDetailPayload{sitePayload: encodeSite(route)}
		if opts.Store != nil {
			ctx := requestContext(c)
			namespaces, keys, err := inspectStore(ctx, opts.Store, route)
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store_unavailable"})
			}
			detail.Namespaces = namespaces
			detail.CachedKeys = keys
		}
		return c.JSON(detail)
	})

	app.Post("/-/sites/:name/message", func(c fiber.Ctx) error {
		route, ok := opts.Registry.Get(strings.TrimSpace(c.Params("name")))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "site_not_found"})
		}
		if route.Worker == nil {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "worker_unavailable"})
		}
		var msg worker.Message
		if err := c.Bind().Body(&msg); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_message"})
		}
		status := route.Worker.PostMessage(requestContext(c), msg)
		return c.Status(fiber.StatusAccepted).JSON(status)
	})

	if opts.Metrics != nil {
		handler := promhttp.HandlerFor(opts.Metrics.Registry(), promhttp.HandlerOpts{})
		app.Get("/-/metrics", adaptor.HTTPHandler(handler))
	}
}

type sitePayload struct {
	Name         string         `json:"name"`
	Domain       string         `json:"domain"`
	Origin       string         `json:"origin"`
	Upstream     string         `json:"upstream"`
	CacheName    string         `json:"cache_name"`
	CachePrefix  string         `json:"cache_prefix"`
	RootDocument string         `json:"root_document"`
	CoreAssets   []string       `json:"core_assets"`
	AuthMode     string         `json:"auth_mode"`
	Worker       *worker.Status `json:"worker,omitempty"`
}

type siteDetailPayload struct {
	sitePayload
	Namespaces []string `json:"namespaces"`
	CachedKeys []string `json:"cached_keys"`
}

func encodeSite(route *server.SiteRoute) sitePayload {
	payload := sitePayload{
		Name:         route.Config.Name,
		Domain:       route.Config.Domain,
		Upstream:     route.Config.Upstream,
		CacheName:    route.Runtime.CacheName,
		CachePrefix:  route.Runtime.CachePrefix,
		RootDocument: route.Runtime.RootDocument,
		CoreAssets:   append([]string(nil), route.Runtime.CoreAssets...),
		AuthMode:     route.Config.AuthMode(),
	}
	if route.OriginURL != nil {
		payload.Origin = route.OriginURL.String()
	}
	if route.Worker != nil {
		status := route.Worker.Status()
		payload.Worker = &status
	}
	return payload
}

// inspectStore 列出属于站点前缀的命名空间，以及当前命名空间内的全部 key。
func inspectStore(ctx context.Context, store cache.Store, route *server.SiteRoute) ([]string, []string, error) {
	all, err := store.Namespaces(ctx)
	if err != nil {
		return nil, nil, err
	}
	namespaces := make([]string, 0, len(all))
	current := false
	for _, name := range all {
		if route.Runtime.CachePrefix != "" && !strings.HasPrefix(name, route.Runtime.CachePrefix) {
			continue
		}
		namespaces = append(namespaces, name)
		if name == route.Runtime.CacheName {
			current = true
		}
	}
	if !current {
		return namespaces, []string{}, nil
	}
	ns, err := store.Open(ctx, route.Runtime.CacheName)
	if err != nil {
		return nil, nil, err
	}
	keys, err := ns.Keys(ctx)
	if err != nil {
		return nil, nil, err
	}
	return namespaces, keys, nil
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
