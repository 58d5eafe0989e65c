package server

import (
	"testing"

	"github.com/any-hub/offline-hub/internal/config"
)

func testSitesConfig() *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Sites: []config.SiteConfig{
			{
				Name:         "boss",
				Domain:       "Boss.Local",
				Upstream:     "https://pages.example.com/muscle-boss/",
				PublicOrigin: "https://boss.example.com",
				Proxy:        "http://corp-proxy:3128",
				CacheName:    "muscle-boss-v6",
				CachePrefix:  "muscle-boss-",
				CoreAssets:   []string{"/", "/index.html", "/"},
			},
			{
				Name:        "docs",
				Domain:      "docs.local",
				Upstream:    "http://127.0.0.1:8081",
				CacheName:   "docs-v1",
				CachePrefix: "docs-",
			},
		},
	}
}

func TestSiteRegistryLookupByHost(t *testing.T) {
	registry, err := NewSiteRegistry(testSitesConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	route, ok := registry.Lookup("boss.local:5000")
	if !ok {
		t.Fatalf("expected boss route")
	}
	if route.Config.Name != "boss" {
		t.Fatalf("wrong site returned: %s", route.Config.Name)
	}
	if route.OriginURL.String() != "https://boss.example.com" {
		t.Fatalf("unexpected origin %s", route.OriginURL)
	}
	if route.ProxyURL == nil || route.ProxyURL.Host != "corp-proxy:3128" {
		t.Fatalf("proxy url not parsed: %v", route.ProxyURL)
	}
	if len(route.Runtime.CoreAssets) != 2 {
		t.Fatalf("core assets should be deduplicated, got %v", route.Runtime.CoreAssets)
	}
	if route.Runtime.RootDocument != "/index.html" {
		t.Fatalf("unexpected root document %s", route.Runtime.RootDocument)
	}

	docs, ok := registry.Lookup("DOCS.local.")
	if !ok {
		t.Fatalf("expected docs route")
	}
	if docs.OriginURL.String() != "http://docs.local:5000" {
		t.Fatalf("default origin should follow listen port, got %s", docs.OriginURL)
	}

	if _, ok := registry.Lookup("unknown.local"); ok {
		t.Fatalf("unexpected route for unknown host")
	}
}

func TestSiteRegistryGetAndList(t *testing.T) {
	registry, err := NewSiteRegistry(testSitesConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	routes := registry.List()
	if len(routes) != 2 || routes[0].Config.Name != "boss" || routes[1].Config.Name != "docs" {
		t.Fatalf("list should keep config order")
	}
	if _, ok := registry.Get("docs"); !ok {
		t.Fatalf("expected docs by name")
	}
	if _, ok := registry.Get("missing"); ok {
		t.Fatalf("unexpected site by name")
	}
}

func TestSiteRegistryRejectsDuplicateDomain(t *testing.T) {
	cfg := testSitesConfig()
	cfg.Sites[1].Domain = "boss.local"
	if _, err := NewSiteRegistry(cfg); err == nil {
		t.Fatalf("expected duplicate domain error")
	}
}

func TestSiteRegistryRejectsInvalidOrigin(t *testing.T) {
	cfg := testSitesConfig()
	cfg.Sites[0].PublicOrigin = "boss.example.com"
	if _, err := NewSiteRegistry(cfg); err == nil {
		t.Fatalf("expected invalid origin error")
	}
}

func TestNormalizeHost(t *testing.T) {
	testCases := []struct {
		raw  string
		host string
		port int
	}{
		{"app.local", "app.local", 0},
		{"APP.local:8080", "app.local", 8080},
		{"app.local.", "app.local", 0},
		{"[::1]:5000", "::1", 5000},
		{"", "", 0},
	}
	for _, tc := range testCases {
		host, port := normalizeHost(tc.raw)
		if host != tc.host || port != tc.port {
			t.Fatalf("normalizeHost(%q) = %q,%d want %q,%d", tc.raw, host, port, tc.host, tc.port)
		}
	}
}
