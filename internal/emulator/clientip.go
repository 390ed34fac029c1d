package emulator

import (
	"net"
	"net/http"
	"strings"
)

// 文档注释：获取客户端 IP（用于位置解析与事件记录）
// 背景：多层代理环境下，优先常见反向代理头，最后回退远端地址；头部值不是合法 IP 时跳过。
// 约束：trustProxy 为 false 时只使用 RemoteAddr；部署于不可信代理链路时应关闭。
func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		h := r.Header
		if x := h.Get("x-forwarded-for"); x != "" {
			first, _, _ := strings.Cut(x, ",")
			if ip := parseIP(first); ip != nil {
				return ip
			}
		}
		for _, k := range []string{"cf-connecting-ip", "x-real-ip", "x-client-ip"} {
			if ip := parseIP(h.Get(k)); ip != nil {
				return ip
			}
		}
		if x := h.Get("forwarded"); x != "" {
			if i := strings.Index(strings.ToLower(x), "for="); i >= 0 {
				y := x[i+4:]
				if p := strings.IndexAny(y, ";,"); p >= 0 {
					y = y[:p]
				}
				y = strings.Trim(y, "\" []")
				if ip := parseIP(y); ip != nil {
					return ip
				}
			}
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if ip := parseIP(host); ip != nil {
		return ip
	}
	return net.IPv4zero
}

func parseIP(s string) net.IP {
	return net.ParseIP(strings.TrimSpace(s))
}
