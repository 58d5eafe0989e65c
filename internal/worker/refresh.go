package worker

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/any-hub/offline-hub/internal/metrics"
)

// scheduleRefresh 启动一次不阻塞响应的后台回源；限流拒绝时直接跳过，不排队。
func (c *Controller) scheduleRefresh(parent context.Context, req *Request) {
	if c.opts.RefreshLimiter != nil && !c.opts.RefreshLimiter.Allow() {
		c.opts.Metrics.ObserveRefresh(c.opts.Name, metrics.RefreshDenied)
		return
	}

	req = req.Clone()
	link := trace.LinkFromContext(parent)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.opts.RefreshTimeout)

	c.refreshes.Add(1)
	go func() {
		defer c.refreshes.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				c.opts.Metrics.ObserveRefresh(c.opts.Name, metrics.RefreshFailed)
				c.logger.WithFields(logrus.Fields{
					"action": "worker_refresh",
					"key":    req.Key(),
					"panic":  fmt.Sprint(r),
				}).Error("background refresh panicked")
			}
		}()
		c.refresh(ctx, req, link)
	}()
}

func (c *Controller) refresh(ctx context.Context, req *Request, link trace.Link) {
	key := req.Key()
	ctx, span := c.tracer.Start(ctx, "worker.refresh",
		trace.WithLinks(link),
		trace.WithAttributes(
			attribute.String("site", c.opts.Name),
			attribute.String("key", key),
		),
	)
	defer span.End()

	resp, err := c.opts.Network.Fetch(ctx, req, FetchOptions{Cache: CacheDefault})
	if err != nil {
		span.SetAttributes(attribute.String("result", metrics.RefreshFailed))
		c.opts.Metrics.ObserveRefresh(c.opts.Name, metrics.RefreshFailed)
		c.logger.WithFields(logrus.Fields{
			"action": "worker_refresh",
			"key":    key,
			"error":  err.Error(),
		}).Debug("background refresh failed")
		return
	}

	result := metrics.RefreshSkipped
	if c.store(ctx, key, resp) {
		result = metrics.RefreshUpdated
	}
	span.SetAttributes(attribute.String("result", result))
	c.opts.Metrics.ObserveRefresh(c.opts.Name, result)
}
