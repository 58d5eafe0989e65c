package proxy

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/server"
)

// Forwarder 包装 ProxyHandler，保证任何 panic 都会转换为 503 响应，
// 页面始终拿到一个有效的响应对象。
type Forwarder struct {
	handler server.ProxyHandler
	logger  *logrus.Logger
}

// NewForwarder 创建 Forwarder。
func NewForwarder(handler server.ProxyHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		handler: handler,
		logger:  logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.SiteRoute) error {
	requestID := server.RequestID(c)
	if f.handler == nil {
		f.logHandlerError(route, "handler_missing", nil, requestID)
		return respondOffline(c, requestID, "handler_missing")
	}
	return f.invokeHandler(c, route, requestID)
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, route *server.SiteRoute, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			f.logHandlerError(route, "handler_panic", fmt.Errorf("panic: %v", r), requestID)
			err = respondOffline(c, requestID, "handler_panic")
		}
	}()
	return f.handler.Handle(c, route)
}

func respondOffline(c fiber.Ctx, requestID, code string) error {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Set(SourceHeader, "offline")
	return c.Status(fiber.StatusServiceUnavailable).
		JSON(fiber.Map{"error": code, "message": "Offline"})
}

func (f *Forwarder) logHandlerError(route *server.SiteRoute, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := logrus.Fields{"request_id": requestID}
	if route != nil {
		fields = logging.SiteFields(route.Config.Name, route.Config.Domain, route.Runtime.CacheName)
		fields["request_id"] = requestID
	}
	fields["action"] = "proxy"
	fields["error"] = code
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("proxy handler unavailable")
}
