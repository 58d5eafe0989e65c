package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.StoragePath == "" {
		t.Fatalf("StoragePath 应该被保留")
	}
	if cfg.Global.ListenPort != 5000 {
		t.Fatalf("ListenPort 应当被解析，得到 %d", cfg.Global.ListenPort)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 20*time.Second {
		t.Fatalf("纯数字应按秒解析，得到 %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Global.InitialBackoff.DurationValue() != 500*time.Millisecond {
		t.Fatalf("InitialBackoff 解析错误: %s", cfg.Global.InitialBackoff.DurationValue())
	}

	site := cfg.Sites[0]
	if site.RootDocument != "/index.html" {
		t.Fatalf("RootDocument 应默认 /index.html，得到 %s", site.RootDocument)
	}
	if len(site.CoreAssets) != 4 {
		t.Fatalf("CoreAssets 解析错误: %v", site.CoreAssets)
	}
	if site.PublicOrigin != "http://muscle-boss.local:5000" {
		t.Fatalf("PublicOrigin 推导错误: %s", site.PublicOrigin)
	}
}

func TestValidateRejectsBadSite(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestStorageDriverValidation(t *testing.T) {
	testCases := []struct {
		name      string
		driver    string
		redisAddr string
		shouldErr bool
	}{
		{"disk ok", StorageDriverDisk, "", false},
		{"sqlite ok", StorageDriverSQLite, "", false},
		{"redis ok", StorageDriverRedis, "127.0.0.1:6379", false},
		{"redis without addr", StorageDriverRedis, "", true},
		{"unsupported driver", "bolt", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.StorageDriver = tc.driver
			cfg.Global.RedisAddr = tc.redisAddr
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for driver %q", tc.driver)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for driver %q: %v", tc.driver, err)
			}
		})
	}
}

func TestValidateRequiresCacheNameWithPrefix(t *testing.T) {
	cfg := validConfig()
	cfg.Sites[0].CacheName = "other-v1"
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("期望 FieldError，得到 %v", err)
	}
	if fieldErr.Field != "Site[app].CacheName" {
		t.Fatalf("字段路径错误: %s", fieldErr.Field)
	}
}

func TestValidateRejectsOverlappingPrefixes(t *testing.T) {
	cfg := validConfig()
	cfg.Sites = append(cfg.Sites, SiteConfig{
		Name:         "app-admin",
		Domain:       "admin.local",
		Upstream:     "https://admin.example.com",
		CacheName:    "app-admin-v1",
		CachePrefix:  "app-admin-",
		RootDocument: "/index.html",
		CoreAssets:   []string{"/"},
	})
	if err := cfg.Validate(); err == nil {
		t.Fatalf("前缀 app- 与 app-admin- 重叠应报错")
	}
}

func TestValidateRejectsRelativeCoreAssets(t *testing.T) {
	cfg := validConfig()
	cfg.Sites[0].CoreAssets = []string{"./index.html"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("相对路径的核心资源应报错")
	}
}

func TestValidateRequiresCredentialPairs(t *testing.T) {
	cfg := validConfig()
	cfg.Sites[0].Username = "foo"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("仅提供 Username 时应报错")
	}
}

func TestBuildSiteRuntimeDedupesAssets(t *testing.T) {
	cfg := validConfig()
	cfg.Sites[0].CoreAssets = []string{"/", "/index.html", "/"}
	runtime := BuildSiteRuntime(cfg.Sites[0])
	if len(runtime.CoreAssets) != 2 {
		t.Fatalf("重复的核心资源应被去重: %v", runtime.CoreAssets)
	}
	if runtime.CacheName != "app-v1" {
		t.Fatalf("CacheName 错误: %s", runtime.CacheName)
	}
}

func TestDefaultPublicOrigin(t *testing.T) {
	if got := DefaultPublicOrigin("app.local", 80); got != "http://app.local" {
		t.Fatalf("80 端口不应出现在 origin 中: %s", got)
	}
	if got := DefaultPublicOrigin("app.local", 5000); got != "http://app.local:5000" {
		t.Fatalf("origin 错误: %s", got)
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			LogLevel:        "info",
			StoragePath:     "./data",
			StorageDriver:   StorageDriverDisk,
			MaxMemoryCache:  1,
			MaxRetries:      1,
			InitialBackoff:  Duration(time.Second),
			UpstreamTimeout: Duration(time.Second),
		},
		Sites: []SiteConfig{
			{
				Name:         "app",
				Domain:       "app.local",
				Upstream:     "https://app.example.com",
				CacheName:    "app-v1",
				CachePrefix:  "app-",
				RootDocument: "/index.html",
				CoreAssets:   []string{"/", "/index.html"},
			},
		},
	}
}
