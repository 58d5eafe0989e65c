package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/metrics"
	"github.com/any-hub/offline-hub/internal/tracing"
)

const (
	defaultRootDocument   = "/index.html"
	defaultRefreshTimeout = 30 * time.Second
)

var (
	errMissingHost = errors.New("origin must include scheme and host")

	// ErrCoreAssetStatus 表示核心资源返回了非 200 状态，安装整体失败。
	ErrCoreAssetStatus = errors.New("core asset returned non-OK status")
)

// Options 描述单个站点控制器的全部依赖。
type Options struct {
	Name             string
	CacheName        string
	CachePrefix      string
	Origin           *url.URL
	CoreAssets       []string
	RootDocument     string
	StrictNavigation bool
	// BackgroundRefresh 为 true 时，缓存命中后异步回源刷新。
	BackgroundRefresh bool
	// HoldActivation 为 true 时安装完成后不主动 SkipWaiting，等待页面指令。
	HoldActivation bool

	Store          cache.Store
	Network        Network
	Logger         logrus.FieldLogger
	Metrics        *metrics.Recorder
	TracerProvider trace.TracerProvider
	RefreshLimiter *rate.Limiter
	RefreshTimeout time.Duration
}

// Controller 实现 Policy：网络优先处理导航，缓存优先处理静态资源。
type Controller struct {
	opts   Options
	writer cache.PolicyWriter
	tracer trace.Tracer
	logger logrus.FieldLogger

	refreshes sync.WaitGroup
}

var _ Policy = (*Controller)(nil)

// NewController 校验依赖并补全默认值。
func NewController(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Network == nil {
		return nil, errors.New("network is required")
	}
	if opts.Origin == nil || opts.Origin.Scheme == "" || opts.Origin.Host == "" {
		return nil, errMissingHost
	}
	if opts.CacheName == "" {
		return nil, errors.New("cache name is required")
	}
	if opts.CachePrefix != "" && !strings.HasPrefix(opts.CacheName, opts.CachePrefix) {
		return nil, fmt.Errorf("cache name %q does not start with prefix %q", opts.CacheName, opts.CachePrefix)
	}
	if opts.RootDocument == "" {
		opts.RootDocument = defaultRootDocument
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	logger := opts.Logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &Controller{
		opts:   opts,
		writer: cache.NewPolicyWriter(opts.Store),
		tracer: tracing.Tracer(opts.TracerProvider),
		logger: logger.WithField("cache_name", opts.CacheName),
	}, nil
}

// Name 返回站点名称。
func (c *Controller) Name() string {
	return c.opts.Name
}

// CacheName 返回当前命名空间。
func (c *Controller) CacheName() string {
	return c.opts.CacheName
}

// OnInstall 抓取全部核心资源，全部成功后一次性写入当前命名空间。
func (c *Controller) OnInstall(ctx context.Context, lc Lifecycle) (err error) {
	ctx, span := c.tracer.Start(ctx, "worker.install", trace.WithAttributes(
		attribute.String("site", c.opts.Name),
		attribute.String("cache_name", c.opts.CacheName),
		attribute.Int("core_assets", len(c.opts.CoreAssets)),
	))
	defer func() {
		endSpan(span, err)
	}()

	entries := make([]*cache.Entry, 0, len(c.opts.CoreAssets))
	for _, asset := range c.opts.CoreAssets {
		req, err := c.assetRequest(asset)
		if err != nil {
			return fmt.Errorf("core asset %s: %w", asset, err)
		}
		resp, err := c.opts.Network.Fetch(ctx, req, FetchOptions{Cache: CacheReload})
		if err != nil {
			return fmt.Errorf("fetch core asset %s: %w", asset, err)
		}
		if resp.Status != http.StatusOK {
			return fmt.Errorf("%w: %s -> %d", ErrCoreAssetStatus, asset, resp.Status)
		}
		entries = append(entries, &cache.Entry{
			Key:    req.Key(),
			Status: resp.Status,
			Header: resp.Header,
			Body:   resp.Body,
		})
	}

	if err := c.writer.PutAll(ctx, c.opts.CacheName, entries); err != nil {
		return fmt.Errorf("store core assets: %w", err)
	}
	c.logger.WithFields(logrus.Fields{
		"action": "worker_install",
		"assets": len(entries),
	}).Info("core assets cached")

	if !c.opts.HoldActivation {
		lc.SkipWaiting()
	}
	return nil
}

// OnActivate 删除同前缀的旧命名空间，然后接管客户端。
// 删除失败不会阻止 Claim，错误会一并返回给宿主记录。
func (c *Controller) OnActivate(ctx context.Context, lc Lifecycle) (evicted []string, err error) {
	ctx, span := c.tracer.Start(ctx, "worker.activate", trace.WithAttributes(
		attribute.String("site", c.opts.Name),
		attribute.String("cache_name", c.opts.CacheName),
	))
	defer func() {
		span.SetAttributes(attribute.Int("evicted", len(evicted)))
		endSpan(span, err)
	}()

	names, err := c.opts.Store.Namespaces(ctx)
	if err != nil {
		lc.Claim()
		return nil, fmt.Errorf("list namespaces: %w", err)
	}

	var errs []error
	for _, name := range names {
		if !c.ownsNamespace(name) || name == c.opts.CacheName {
			continue
		}
		if _, delErr := c.opts.Store.Delete(ctx, name); delErr != nil {
			errs = append(errs, fmt.Errorf("delete namespace %s: %w", name, delErr))
			continue
		}
		evicted = append(evicted, name)
	}
	c.opts.Metrics.ObserveEviction(c.opts.Name, len(evicted))
	if len(evicted) > 0 {
		c.logger.WithFields(logrus.Fields{
			"action":  "worker_activate",
			"evicted": evicted,
		}).Info("stale caches evicted")
	}

	lc.Claim()
	return evicted, errors.Join(errs...)
}

// OnMessage 只识别 SKIP_WAITING，其余指令静默忽略。
func (c *Controller) OnMessage(_ context.Context, lc Lifecycle, msg Message) {
	if msg.Type != MessageSkipWaiting {
		return
	}
	lc.SkipWaiting()
}

// OnFetch 拦截同源 GET 请求；返回 false 表示交给默认网络处理。
func (c *Controller) OnFetch(ctx context.Context, req *Request) (*Response, bool) {
	if req == nil || req.Method != http.MethodGet || !sameOrigin(c.opts.Origin, req.URL) {
		return nil, false
	}

	kind := Classify(req, c.opts.StrictNavigation)
	ctx, span := c.tracer.Start(ctx, "worker.fetch", trace.WithAttributes(
		attribute.String("site", c.opts.Name),
		attribute.String("kind", string(kind)),
		attribute.String("key", req.Key()),
	))
	defer span.End()

	var resp *Response
	if kind == KindNavigation {
		resp = c.navigate(ctx, req)
	} else {
		resp = c.serveAsset(ctx, req)
	}

	span.SetAttributes(
		attribute.String("source", string(resp.Source)),
		attribute.Int("status", resp.Status),
	)
	c.opts.Metrics.ObserveFetch(c.opts.Name, string(kind), string(resp.Source))
	return resp, true
}

// Wait 阻塞直到所有后台刷新结束。
func (c *Controller) Wait() {
	c.refreshes.Wait()
}

func (c *Controller) ownsNamespace(name string) bool {
	if c.opts.CachePrefix == "" {
		return true
	}
	return strings.HasPrefix(name, c.opts.CachePrefix)
}

func (c *Controller) assetRequest(path string) (*Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	target := c.opts.Origin.ResolveReference(ref)
	if !sameOrigin(c.opts.Origin, target) {
		return nil, fmt.Errorf("core asset %s is not same-origin", path)
	}
	return &Request{
		Method: http.MethodGet,
		URL:    target,
		Header: http.Header{},
	}, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
