package proxy

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/tracing"
)

// conditionalHeaders 会让上游返回 304，离线缓存需要完整响应体，统一剔除。
var conditionalHeaders = []string{
	"If-None-Match",
	"If-Modified-Since",
	"If-Match",
	"If-Unmodified-Since",
	"If-Range",
	"Range",
}

// upstreamRequest 描述一次回源所需的全部输入。
type upstreamRequest struct {
	method        string
	target        *url.URL
	header        http.Header
	body          []byte
	forwardedHost string
	forwardedFor  string
	forwardedPort int
	noCache       bool
	stripCond     bool
}

// resolveTarget 将同站请求映射到 Upstream，其余请求保持原始 URL。
func resolveTarget(route *server.SiteRoute, requested *url.URL) *url.URL {
	if route == nil || route.UpstreamURL == nil || requested == nil {
		return requested
	}
	if !belongsToSite(route, requested) {
		return requested
	}
	path := requested.Path
	if path == "" {
		path = "/"
	}
	target := *route.UpstreamURL
	target.Path = strings.TrimSuffix(target.Path, "/") + path
	target.RawPath = ""
	target.RawQuery = requested.RawQuery
	target.Fragment = ""
	return &target
}

// belongsToSite 判断请求主机是否为站点的 Domain 或公开 origin。
func belongsToSite(route *server.SiteRoute, requested *url.URL) bool {
	host := strings.ToLower(requested.Hostname())
	if host == strings.ToLower(strings.TrimSpace(route.Config.Domain)) {
		return true
	}
	return route.OriginURL != nil && host == strings.ToLower(route.OriginURL.Hostname())
}

func buildUpstreamRequest(ctx context.Context, route *server.SiteRoute, in upstreamRequest) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var body io.Reader = http.NoBody
	if len(in.body) > 0 {
		body = bytes.NewReader(in.body)
	}

	req, err := http.NewRequestWithContext(ctx, in.method, in.target.String(), body)
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, in.header)
	req.Header.Del("Host")
	req.Header.Del("Accept-Encoding")
	if in.stripCond {
		for _, key := range conditionalHeaders {
			req.Header.Del(key)
		}
	}
	if in.noCache {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}
	req.Host = in.target.Host

	if in.forwardedHost != "" {
		req.Header.Set("X-Forwarded-Host", in.forwardedHost)
	}
	if in.forwardedFor != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+in.forwardedFor)
		} else {
			req.Header.Set("X-Forwarded-For", in.forwardedFor)
		}
	}
	if in.forwardedPort > 0 {
		req.Header.Set("X-Forwarded-Port", strconv.Itoa(in.forwardedPort))
	}

	if route != nil && route.UpstreamURL != nil && strings.EqualFold(in.target.Host, route.UpstreamURL.Host) {
		if authHeader := buildCredentialHeader(route.Config.Username, route.Config.Password); authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
	}

	tracing.Inject(ctx, req.Header)
	return req, nil
}

func doRequest(client *http.Client, route *server.SiteRoute, req *http.Request) (*http.Response, error) {
	if route == nil || route.ProxyURL == nil {
		return client.Do(req)
	}
	var transport *http.Transport
	if base, ok := client.Transport.(*http.Transport); ok && base != nil {
		transport = base.Clone()
	} else {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	transport.Proxy = http.ProxyURL(route.ProxyURL)
	proxied := *client
	proxied.Transport = transport
	return proxied.Do(req)
}

// responseHeaders 复制允许透传的响应头；透明解压后去掉编码与长度。
func responseHeaders(resp *http.Response) http.Header {
	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	header.Del("Content-Length")
	if resp.Uncompressed {
		header.Del("Content-Encoding")
	}
	return header
}

func buildCredentialHeader(username, password string) string {
	if username == "" || password == "" {
		return ""
	}
	token := username + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}
