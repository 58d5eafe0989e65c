package worker

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/any-hub/offline-hub/internal/cache"
)

var errOffline = errors.New("dial tcp: connection refused")

const testOrigin = "http://app.local"

type fetchCall struct {
	key  string
	mode CacheMode
}

// fakeNetwork 按 key 返回预设响应，offline 时模拟传输失败。
type fakeNetwork struct {
	mu        sync.Mutex
	responses map[string]*Response
	offline   bool
	calls     []fetchCall
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{responses: make(map[string]*Response)}
}

func (n *fakeNetwork) set(key string, status int, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	header := http.Header{}
	header.Set("Content-Type", "text/plain")
	n.responses[key] = &Response{Status: status, Header: header, Body: []byte(body)}
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mu.Lock()
	n.offline = offline
	n.mu.Unlock()
}

func (n *fakeNetwork) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func (n *fakeNetwork) lastCall() fetchCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.calls) == 0 {
		return fetchCall{}
	}
	return n.calls[len(n.calls)-1]
}

func (n *fakeNetwork) Fetch(ctx context.Context, req *Request, opts FetchOptions) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, fetchCall{key: req.Key(), mode: opts.Cache})
	if n.offline {
		return nil, errOffline
	}
	resp, ok := n.responses[req.Key()]
	if !ok {
		return &Response{Status: http.StatusNotFound, Header: http.Header{}, Body: []byte("not found")}, nil
	}
	return &Response{
		Status: resp.Status,
		Header: resp.Header.Clone(),
		Body:   append([]byte(nil), resp.Body...),
	}, nil
}

// fakeLifecycle 统计回调次数。
type fakeLifecycle struct {
	skipWaiting atomic.Int32
	claims      atomic.Int32
}

func (l *fakeLifecycle) SkipWaiting() { l.skipWaiting.Add(1) }
func (l *fakeLifecycle) Claim()       { l.claims.Add(1) }

// countingStore 记录对底层 Store 的所有访问。
type countingStore struct {
	cache.Store
	ops atomic.Int32
}

func (s *countingStore) Open(ctx context.Context, ns string) (cache.Namespace, error) {
	s.ops.Add(1)
	return s.Store.Open(ctx, ns)
}

func (s *countingStore) Namespaces(ctx context.Context) ([]string, error) {
	s.ops.Add(1)
	return s.Store.Namespaces(ctx)
}

func (s *countingStore) Delete(ctx context.Context, ns string) (bool, error) {
	s.ops.Add(1)
	return s.Store.Delete(ctx, ns)
}

func newTestStore(t *testing.T) cache.Store {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func newTestController(t *testing.T, store cache.Store, network Network, mutate func(*Options)) *Controller {
	t.Helper()
	origin, err := ParseOrigin(testOrigin)
	if err != nil {
		t.Fatalf("parse origin: %v", err)
	}
	opts := Options{
		Name:              "app",
		CacheName:         "app-v2",
		CachePrefix:       "app-",
		Origin:            origin,
		CoreAssets:        []string{"/", "/index.html", "/manifest.json"},
		RootDocument:      "/index.html",
		BackgroundRefresh: true,
		Store:             store,
		Network:           network,
	}
	if mutate != nil {
		mutate(&opts)
	}
	ctrl, err := NewController(opts)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(ctrl.Wait)
	return ctrl
}

func newRequest(t *testing.T, method, rawURL string, header http.Header) *Request {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if header == nil {
		header = http.Header{}
	}
	return &Request{Method: method, URL: u, Header: header}
}

func navigationRequest(t *testing.T, rawURL string) *Request {
	req := newRequest(t, http.MethodGet, rawURL, http.Header{"Accept": []string{"text/html,application/xhtml+xml"}})
	req.Mode = ModeNavigate
	return req
}

func seedEntry(t *testing.T, store cache.Store, namespace, key, body string) {
	t.Helper()
	ns, err := store.Open(context.Background(), namespace)
	if err != nil {
		t.Fatalf("open namespace: %v", err)
	}
	if err := ns.Put(context.Background(), key, &cache.Entry{Status: http.StatusOK, Header: http.Header{}, Body: []byte(body)}); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
}

func cachedBody(t *testing.T, store cache.Store, namespace, key string) (string, bool) {
	t.Helper()
	ns, err := store.Open(context.Background(), namespace)
	if err != nil {
		t.Fatalf("open namespace: %v", err)
	}
	entry, err := ns.Match(context.Background(), key)
	if errors.Is(err, cache.ErrNotFound) {
		return "", false
	}
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	return string(entry.Body), true
}
