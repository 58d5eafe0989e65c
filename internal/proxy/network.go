package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/worker"
)

// DefaultMaxBodyBytes 限制策略层读取的单个响应体大小，超出视为网络失败。
const DefaultMaxBodyBytes int64 = 64 << 20

// ErrBodyTooLarge 表示上游响应体超过 MaxBodyBytes。
var ErrBodyTooLarge = errors.New("upstream body exceeds limit")

// UpstreamNetwork 是站点级的 worker.Network 实现，复用共享 http.Client，
// 并按站点配置附加代理与 Basic 凭证。
type UpstreamNetwork struct {
	client       *http.Client
	route        *server.SiteRoute
	maxBodyBytes int64
}

var _ worker.Network = (*UpstreamNetwork)(nil)

// NewUpstreamNetwork 为 route 构造 Network。
func NewUpstreamNetwork(client *http.Client, route *server.SiteRoute) *UpstreamNetwork {
	return &UpstreamNetwork{
		client:       client,
		route:        route,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

// Fetch 将同站请求发往 Upstream。只有传输层失败才返回 error，
// 任何 HTTP 状态码都会作为正常响应返回。
func (n *UpstreamNetwork) Fetch(ctx context.Context, req *worker.Request, opts worker.FetchOptions) (*worker.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("request url required")
	}
	target := resolveTarget(n.route, req.URL)
	upstreamReq, err := buildUpstreamRequest(ctx, n.route, upstreamRequest{
		method:        req.Method,
		target:        target,
		header:        req.Header,
		body:          req.Body,
		forwardedHost: req.URL.Host,
		forwardedPort: n.route.ListenPort,
		noCache:       opts.Cache == worker.CacheNoStore || opts.Cache == worker.CacheReload,
		stripCond:     true,
	})
	if err != nil {
		return nil, err
	}

	resp, err := doRequest(n.client, n.route, upstreamReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, n.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(body)) > n.maxBodyBytes {
		return nil, ErrBodyTooLarge
	}

	return &worker.Response{
		Status: resp.StatusCode,
		Header: responseHeaders(resp),
		Body:   body,
		Source: worker.SourceNetwork,
	}, nil
}
