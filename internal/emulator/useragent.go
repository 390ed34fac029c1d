package emulator

import (
	"strings"

	"github.com/mssola/useragent"
)

// UserAgentInfo：从 User-Agent 解析出的浏览器/系统信息
type UserAgentInfo struct {
	BrowserName    string
	BrowserVersion string
	OS             string
	OSVersion      string
	Device         string
	Crawler        bool
}

// 自动化客户端：不自称爬虫但不代表真实浏览器，按产品名前缀匹配
var automationProducts = []string{
	"curl/", "wget/", "python-requests/", "python-urllib/", "scrapy/",
}

// 浏览器标记中的无头内核
var headlessMarks = []string{"HeadlessChrome/", "PhantomJS/"}

// ParseUserAgent：浏览器/系统/机型由 useragent 解析，无法识别的字段为 "Other"
func ParseUserAgent(ua string) UserAgentInfo {
	p := useragent.New(ua)
	info := UserAgentInfo{BrowserName: "Other", OS: "Other", Device: "Other"}
	info.Crawler = p.Bot() || automated(ua)
	if info.Crawler {
		return info
	}

	if name, v := p.Browser(); name != "" && p.Mozilla() != "" {
		info.BrowserName, info.BrowserVersion = name, v
		if p.Mobile() {
			switch name {
			case "Chrome":
				info.BrowserName = "Chrome Mobile"
			case "Safari":
				info.BrowserName = "Mobile Safari"
			}
		}
	}

	osi := p.OSInfo()
	switch p.Platform() {
	case "iPhone", "iPad", "iPod":
		info.OS, info.OSVersion = "iOS", osi.Version
	default:
		if osi.Name != "" {
			info.OS, info.OSVersion = osi.Name, osi.Version
		}
	}
	if m := p.Model(); m != "" {
		info.Device = m
	}
	return info
}

func automated(ua string) bool {
	lower := strings.ToLower(ua)
	for _, m := range automationProducts {
		if strings.HasPrefix(lower, m) {
			return true
		}
	}
	for _, m := range headlessMarks {
		if strings.Contains(ua, m) {
			return true
		}
	}
	return false
}
