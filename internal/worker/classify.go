package worker

import (
	"mime"
	"net/url"
	"strings"
)

// sameOrigin 比较 scheme、host 与端口（补全默认端口）。
func sameOrigin(origin, target *url.URL) bool {
	if origin == nil || target == nil {
		return false
	}
	if !strings.EqualFold(origin.Scheme, target.Scheme) {
		return false
	}
	if !strings.EqualFold(origin.Hostname(), target.Hostname()) {
		return false
	}
	return effectivePort(origin) == effectivePort(target)
}

func effectivePort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

// Classify 判断请求是页面导航还是静态资源。
func Classify(req *Request, strict bool) Kind {
	if req.Mode == ModeNavigate {
		return KindNavigation
	}
	if acceptsHTML(req.Header.Values("Accept")) {
		return KindNavigation
	}
	if strict && req.URL != nil {
		path := req.URL.Path
		if path == "" || path == "/" || strings.HasSuffix(strings.ToLower(path), ".html") {
			return KindNavigation
		}
	}
	return KindAsset
}

func acceptsHTML(values []string) bool {
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
			if err != nil {
				if strings.Contains(strings.ToLower(part), "text/html") {
					return true
				}
				continue
			}
			if mediaType == "text/html" {
				return true
			}
		}
	}
	return false
}

// ParseOrigin 解析站点公开地址，只保留 scheme 与 host，默认端口会被省略。
func ParseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, &url.Error{Op: "parse", URL: raw, Err: errMissingHost}
	}
	origin := &url.URL{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Host)}
	if port := u.Port(); port != "" && port == effectivePort(&url.URL{Scheme: origin.Scheme}) {
		host := strings.ToLower(u.Hostname())
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		origin.Host = host
	}
	return origin, nil
}
