package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
)

const offlineBody = "Offline"

// navigate 网络优先：成功时把 200 响应写到根文档 key，失败时回退缓存的根文档。
func (c *Controller) navigate(ctx context.Context, req *Request) *Response {
	resp, err := c.opts.Network.Fetch(ctx, req, FetchOptions{Cache: CacheNoStore})
	if err == nil {
		c.store(ctx, c.opts.RootDocument, resp)
		resp.Source = SourceNetwork
		return resp
	}

	c.logger.WithFields(logrus.Fields{
		"action": "worker_navigate_fallback",
		"key":    req.Key(),
		"error":  err.Error(),
	}).Warn("network unavailable, falling back to cache")

	if entry, ok := c.match(ctx, c.opts.RootDocument); ok {
		return responseFromEntry(entry)
	}
	return offlineResponse()
}

// serveAsset 缓存优先：命中时立即返回并按需后台刷新，未命中时同步回源。
func (c *Controller) serveAsset(ctx context.Context, req *Request) *Response {
	key := req.Key()
	if entry, ok := c.match(ctx, key); ok {
		if c.opts.BackgroundRefresh {
			c.scheduleRefresh(ctx, req)
		}
		return responseFromEntry(entry)
	}

	resp, err := c.opts.Network.Fetch(ctx, req, FetchOptions{Cache: CacheDefault})
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "worker_asset_offline",
			"key":    key,
			"error":  err.Error(),
		}).Warn("asset unavailable offline")
		return offlineResponse()
	}
	c.store(ctx, key, resp)
	resp.Source = SourceNetwork
	return resp
}

// match 读取当前命名空间；存储错误按未命中处理。
func (c *Controller) match(ctx context.Context, key string) (*cache.Entry, bool) {
	ns, err := c.opts.Store.Open(ctx, c.opts.CacheName)
	if err != nil {
		c.logStoreError("open", key, err)
		return nil, false
	}
	entry, err := ns.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			c.logStoreError("match", key, err)
		}
		return nil, false
	}
	return entry, true
}

// store 只写入可缓存响应，写入失败仅记录日志。
func (c *Controller) store(ctx context.Context, key string, resp *Response) bool {
	if resp == nil || !cache.Cacheable(resp.Status, resp.Header) {
		return false
	}
	err := c.writer.Put(ctx, c.opts.CacheName, key, &cache.Entry{
		Status: resp.Status,
		Header: resp.Header.Clone(),
		Body:   append([]byte(nil), resp.Body...),
	})
	if err != nil {
		c.logStoreError("put", key, err)
		return false
	}
	return true
}

func (c *Controller) logStoreError(op, key string, err error) {
	c.logger.WithFields(logrus.Fields{
		"action": "worker_store_error",
		"op":     op,
		"key":    key,
		"error":  err.Error(),
	}).Error("cache store failure")
}

func responseFromEntry(entry *cache.Entry) *Response {
	header := entry.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		Status: entry.Status,
		Header: header,
		Body:   entry.Body,
		Source: SourceCache,
	}
}

func offlineResponse() *Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	return &Response{
		Status: http.StatusServiceUnavailable,
		Header: header,
		Body:   []byte(offlineBody),
		Source: SourceOffline,
	}
}
