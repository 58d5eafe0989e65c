package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/metrics"
	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/worker"
)

type staticNetwork struct{}

func (staticNetwork) Fetch(_ context.Context, req *worker.Request, _ worker.FetchOptions) (*worker.Response, error) {
	return &worker.Response{Status: http.StatusOK, Header: http.Header{}, Body: []byte("body of " + req.Key())}, nil
}

type diagnosticsFixture struct {
	app      *fiber.App
	registry *server.SiteRegistry
	store    cache.Store
	recorder *metrics.Recorder
}

func newDiagnosticsFixture(t *testing.T, hold bool) *diagnosticsFixture {
	t.Helper()
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Sites: []config.SiteConfig{
			{
				Name:           "app",
				Domain:         "app.local",
				Upstream:       "http://upstream.local",
				CacheName:      "app-v2",
				CachePrefix:    "app-",
				CoreAssets:     []string{"/", "/index.html"},
				HoldActivation: hold,
			},
		},
	}
	registry, err := server.NewSiteRegistry(cfg)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	recorder := metrics.NewRecorder()

	route, _ := registry.Get("app")
	ctrl, err := worker.NewController(worker.Options{
		Name:           "app",
		CacheName:      route.Runtime.CacheName,
		CachePrefix:    route.Runtime.CachePrefix,
		Origin:         route.OriginURL,
		CoreAssets:     route.Runtime.CoreAssets,
		RootDocument:   route.Runtime.RootDocument,
		HoldActivation: hold,
		Store:          store,
		Network:        staticNetwork{},
		Metrics:        recorder,
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	route.Worker = worker.NewHost(ctrl, worker.HostOptions{Name: "app", Metrics: recorder})
	if err := route.Worker.Start(context.Background()); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}

	app := fiber.New()
	RegisterDiagnosticsRoutes(app, DiagnosticsOptions{Registry: registry, Store: store, Metrics: recorder})
	return &diagnosticsFixture{app: app, registry: registry, store: store, recorder: recorder}
}

func TestSitesListIncludesWorkerState(t *testing.T) {
	fx := newDiagnosticsFixture(t, false)

	resp, err := fx.app.Test(httptest.NewRequest("GET", "/-/sites", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Sites []sitePayload `json:"sites"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(payload.Sites) != 1 || payload.Sites[0].Name != "app" {
		t.Fatalf("unexpected sites: %+v", payload.Sites)
	}
	if payload.Sites[0].Worker == nil || payload.Sites[0].Worker.State != worker.StateActivated {
		t.Fatalf("expected activated worker, got %+v", payload.Sites[0].Worker)
	}
	if payload.Sites[0].Origin != "http://app.local:5000" {
		t.Fatalf("unexpected origin %s", payload.Sites[0].Origin)
	}
}

func TestSiteDetailListsCachedKeys(t *testing.T) {
	fx := newDiagnosticsFixture(t, false)

	resp, err := fx.app.Test(httptest.NewRequest("GET", "/-/sites/app", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var detail siteDetailPayload
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(detail.Namespaces) != 1 || detail.Namespaces[0] != "app-v2" {
		t.Fatalf("unexpected namespaces: %v", detail.Namespaces)
	}
	if len(detail.CachedKeys) != 2 || detail.CachedKeys[0] != "/" || detail.CachedKeys[1] != "/index.html" {
		t.Fatalf("unexpected keys: %v", detail.CachedKeys)
	}

	resp, err = fx.app.Test(httptest.NewRequest("GET", "/-/sites/unknown", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown site, got %d", resp.StatusCode)
	}
}

func TestSiteMessageActivatesHeldWorker(t *testing.T) {
	fx := newDiagnosticsFixture(t, true)
	route, _ := fx.registry.Get("app")
	if route.Worker.State() != worker.StateInstalled {
		t.Fatalf("held worker should wait, got %s", route.Worker.State())
	}

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/-/sites/app/message", bytes.NewBufferString(`{"type":"SKIP_WAITING"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := fx.app.Test(req)
		if err != nil {
			t.Fatalf("app.Test failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusAccepted {
			t.Fatalf("expected 202, got %d", resp.StatusCode)
		}
		var status worker.Status
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if status.State != worker.StateActivated {
			t.Fatalf("expected activated after message, got %s", status.State)
		}
	}

	bad := httptest.NewRequest("POST", "/-/sites/app/message", bytes.NewBufferString(`not json`))
	resp, err := fx.app.Test(bad)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for invalid body, got %d", resp.StatusCode)
	}

	malformed := httptest.NewRequest("POST", "/-/sites/app/message", bytes.NewBufferString(`{"type":`))
	malformed.Header.Set("Content-Type", "application/json")
	resp, err = fx.app.Test(malformed)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpointExportsCounters(t *testing.T) {
	fx := newDiagnosticsFixture(t, false)

	resp, err := fx.app.Test(httptest.NewRequest("GET", "/-/metrics", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `offline_hub_install_total{result="succeeded",site="app"} 1`) {
		t.Fatalf("expected install counter in metrics output, got %s", string(body))
	}
}
