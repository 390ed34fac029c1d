package origindefense

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// 文档注释：来源防护（管理接口 IP/CIDR 白名单 + 请求头/来源站点校验）
// 背景：识别接口对浏览器开放，按令牌限定来源站点并拒绝带受限请求头的请求；
// 历史与统计接口仅对白名单 IP 开放。
// 约束：
// 1) 不依赖项目内部代码，可在其他项目直接复用；
// 2) 支持 IPv4/IPv6 CIDR；
// 3) 真实来源 IP 以 RemoteAddr 为准；如需识别上游真实 IP，请通过 ORIGIN_REAL_IP_HEADER 指定。
type Middleware struct {
	l                *slog.Logger
	enabled          bool
	allowIPs         map[string]struct{}
	allowCIDRs       []*net.IPNet
	realIPHeader     string
	forbiddenHeaders []string
}

// NewFromEnv：按环境变量构建
// 环境变量：
// ADMIN_DEFENSE_ENABLE=true               是否对管理接口启用白名单
// ADMIN_ALLOW_IPS=1.2.3.4,5.6.7.8        允许的单 IP 列表（逗号分隔）
// ADMIN_ALLOW_CIDRS=10.0.0.0/8,...       允许的 CIDR 列表（逗号分隔，支持 v4/v6）
// ADMIN_ALLOW_LOCAL=true                  允许 127.0.0.1/::1（本地开发）
// ORIGIN_REAL_IP_HEADER=X-Forwarded-For   指定上游真实 IP 头（首个有效 IP 生效）
// FORBIDDEN_HEADERS=X-Debug,X-Scraper     识别请求中出现即拒绝的请求头
func NewFromEnv(l *slog.Logger) *Middleware {
	m := New(l, splitList(os.Getenv("ADMIN_ALLOW_IPS")), splitList(os.Getenv("ADMIN_ALLOW_CIDRS")), splitList(os.Getenv("FORBIDDEN_HEADERS")))
	m.enabled = os.Getenv("ADMIN_DEFENSE_ENABLE") == "true"
	m.realIPHeader = strings.TrimSpace(os.Getenv("ORIGIN_REAL_IP_HEADER"))
	if os.Getenv("ADMIN_ALLOW_LOCAL") == "true" {
		m.allowIPs["127.0.0.1"] = struct{}{}
		m.allowIPs["::1"] = struct{}{}
	}
	return m
}

// New：白名单启用；无法解析的 IP/CIDR 被忽略
func New(l *slog.Logger, ips, cidrs, forbiddenHeaders []string) *Middleware {
	if l == nil {
		l = slog.Default()
	}
	m := &Middleware{l: l, enabled: true, allowIPs: map[string]struct{}{}}
	for _, p := range ips {
		if ip := net.ParseIP(p); ip != nil {
			m.allowIPs[ip.String()] = struct{}{}
		}
	}
	for _, c := range cidrs {
		if _, n, err := net.ParseCIDR(c); err == nil {
			m.allowCIDRs = append(m.allowCIDRs, n)
		}
	}
	for _, h := range forbiddenHeaders {
		m.forbiddenHeaders = append(m.forbiddenHeaders, http.CanonicalHeaderKey(h))
	}
	return m
}

// Wrap：管理接口白名单中间件，未启用时原样返回 next
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if !m.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := m.extractIP(r)
		if ip != nil && m.allowed(ip) {
			next.ServeHTTP(w, r)
			return
		}
		m.l.Debug("origin_defense_block", "ip", r.RemoteAddr, "path", r.URL.Path)
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"forbidden"}}`))
	})
}

// ForbiddenHeader：返回请求中出现的第一个受限请求头
func (m *Middleware) ForbiddenHeader(h http.Header) (string, bool) {
	for _, name := range m.forbiddenHeaders {
		if _, ok := h[name]; ok {
			return name, true
		}
	}
	return "", false
}

// OriginAllowed：allowed 为空表示不限制；支持 "*.example.com" 匹配子域
// 约束：Origin 缺失时放行（非浏览器调用）；比较忽略大小写与端口。
func OriginAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	host := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	host = strings.ToLower(host)
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "*" || a == host {
			return true
		}
		if strings.HasPrefix(a, "*.") && strings.HasSuffix(host, a[1:]) {
			return true
		}
	}
	return false
}

func (m *Middleware) allowed(ip net.IP) bool {
	if _, ok := m.allowIPs[ip.String()]; ok {
		return true
	}
	for _, n := range m.allowCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// extractIP：解析请求来源 IP；优先指定头的首个有效 IP
func (m *Middleware) extractIP(r *http.Request) net.IP {
	if m.realIPHeader != "" {
		if raw := r.Header.Get(m.realIPHeader); raw != "" {
			first, _, _ := strings.Cut(raw, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip
			}
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return net.ParseIP(host)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
