package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/worker"
)

// SourceHeader 标记响应来自网络、缓存还是离线兜底。
const SourceHeader = "X-Offline-Hub-Source"

// Handler 先把请求交给站点的离线缓存策略，策略拒绝时按普通反向代理直通上游。
type Handler struct {
	client *http.Client
	logger *logrus.Logger
}

// NewHandler constructs a proxy handler with shared HTTP client/logger.
func NewHandler(client *http.Client, logger *logrus.Logger) *Handler {
	return &Handler{
		client: client,
		logger: logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.SiteRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)

	req, err := buildWorkerRequest(c)
	if err != nil {
		h.logResult(route, requestID, "", "", 0, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if route.Worker != nil {
		if resp, handled := route.Worker.Fetch(ctx, req); handled {
			kind := worker.Classify(req, route.Config.StrictNavigation)
			return h.writeWorkerResponse(c, route, resp, requestID, string(kind), started)
		}
	}
	return h.passThrough(c, route, req, requestID, started)
}

func (h *Handler) writeWorkerResponse(
	c fiber.Ctx,
	route *server.SiteRoute,
	resp *worker.Response,
	requestID string,
	kind string,
	started time.Time,
) error {
	copyResponseHeaders(c, resp.Header)
	c.Set(SourceHeader, string(resp.Source))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)
	h.logResult(route, requestID, kind, string(resp.Source), resp.Status, started, nil)
	return c.Send(resp.Body)
}

// passThrough 处理策略未拦截的请求：同站请求转发到 Upstream，其余请求转发到原始地址。
func (h *Handler) passThrough(c fiber.Ctx, route *server.SiteRoute, req *worker.Request, requestID string, started time.Time) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	target := resolveTarget(route, req.URL)
	upstreamReq, err := buildUpstreamRequest(ctx, route, upstreamRequest{
		method:        req.Method,
		target:        target,
		header:        req.Header,
		body:          req.Body,
		forwardedHost: req.URL.Host,
		forwardedFor:  c.IP(),
		forwardedPort: route.ListenPort,
	})
	if err != nil {
		h.logResult(route, requestID, "passthrough", "", 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	resp, err := doRequest(h.client, route, upstreamReq)
	if err != nil {
		h.logResult(route, requestID, "passthrough", "", 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, responseHeaders(resp))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if req.Method == http.MethodHead {
		h.logResult(route, requestID, "passthrough", "", resp.StatusCode, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, requestID, "passthrough", "", resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.SiteRoute,
	requestID string,
	kind string,
	source string,
	status int,
	started time.Time,
	err error,
) {
	if h.logger == nil {
		return
	}
	fields := logging.RequestFields(route.Config.Name, requestID, kind, source, started)
	fields["action"] = "proxy"
	fields["domain"] = route.Config.Domain
	fields["auth_mode"] = route.Config.AuthMode()
	fields["status"] = status
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// buildWorkerRequest 将 Fiber 请求转换为策略层的只读快照。
// fasthttp 会复用底层缓冲区，这里的字符串与字节切片全部拷贝。
func buildWorkerRequest(c fiber.Ctx) (*worker.Request, error) {
	target, err := requestURL(c)
	if err != nil {
		return nil, err
	}
	header := fiberHeadersAsHTTP(c)
	return &worker.Request{
		Method: strings.ToUpper(string(c.Request().Header.Method())),
		URL:    target,
		Header: header,
		Mode:   header.Get("Sec-Fetch-Mode"),
		Body:   append([]byte(nil), c.Body()...),
	}, nil
}

// requestURL 还原浏览器视角的绝对 URL；absolute-form 请求行优先。
func requestURL(c fiber.Ctx) (*url.URL, error) {
	// RequestURI() 会把已解析的 URI 改写为仅路径形式，Host 必须先读出。
	host := c.Host()
	if host == "" {
		host = string(c.Request().URI().Host())
	}
	raw := string(c.Request().RequestURI())
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return url.Parse(raw)
	}

	scheme := strings.ToLower(strings.TrimSpace(string(c.Request().Header.Peek("X-Forwarded-Proto"))))
	if idx := strings.Index(scheme, ","); idx >= 0 {
		scheme = strings.TrimSpace(scheme[:idx])
	}
	if scheme != "http" && scheme != "https" {
		scheme = c.Scheme()
	}
	if raw == "" {
		raw = "/"
	}
	return url.Parse(scheme + "://" + host + raw)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}
