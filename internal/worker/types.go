package worker

import (
	"context"
	"net/http"
	"net/url"
)

// ModeNavigate 对应浏览器 Sec-Fetch-Mode: navigate。
const ModeNavigate = "navigate"

// MessageSkipWaiting 是唯一识别的页面指令。
const MessageSkipWaiting = "SKIP_WAITING"

// Source 标记响应来自网络、缓存还是离线兜底。
type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
	SourceOffline Source = "offline"
)

// Kind 是请求分类结果。
type Kind string

const (
	KindNavigation Kind = "navigation"
	KindAsset      Kind = "asset"
)

// CacheMode 描述上游请求是否允许中间缓存参与。
type CacheMode string

const (
	CacheDefault CacheMode = "default"
	CacheNoStore CacheMode = "no-store"
	CacheReload  CacheMode = "reload"
)

// Request 是被拦截请求的只读快照。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Mode   string
	Body   []byte
}

// Clone 深拷贝请求，供后台刷新在原请求结束后继续使用。
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	if r.URL != nil {
		u := *r.URL
		clone.URL = &u
	}
	clone.Header = r.Header.Clone()
	if r.Body != nil {
		clone.Body = append([]byte(nil), r.Body...)
	}
	return &clone
}

// Key 返回缓存条目使用的 key：路径加查询串。
func (r *Request) Key() string {
	if r == nil || r.URL == nil {
		return ""
	}
	return r.URL.RequestURI()
}

// Response 是策略返回给调用方的完整响应。
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Source Source
}

// FetchOptions 对应 fetch(request, options) 的选项。
type FetchOptions struct {
	Cache CacheMode
}

// Message 是页面发送给控制器的指令。
type Message struct {
	Type string `json:"type"`
}

// Network 抽象上游访问；实现只在传输失败时返回 error，非 2xx 状态码照常返回。
type Network interface {
	Fetch(ctx context.Context, req *Request, opts FetchOptions) (*Response, error)
}

// Lifecycle 是宿主暴露给策略的两个信号。
type Lifecycle interface {
	SkipWaiting()
	Claim()
}

// Policy 是宿主驱动的四个生命周期事件。
type Policy interface {
	OnInstall(ctx context.Context, lc Lifecycle) error
	OnActivate(ctx context.Context, lc Lifecycle) ([]string, error)
	OnMessage(ctx context.Context, lc Lifecycle, msg Message)
	OnFetch(ctx context.Context, req *Request) (*Response, bool)
}
