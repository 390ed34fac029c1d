package fingerprint

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Region：识别服务所在区域
type Region string

const (
	RegionUS Region = "us" // N. Virginia, USA
	RegionEU Region = "eu" // Frankfurt, Germany
)

// IPResolution：IP 解析粒度
// city 为城市级；full 额外查询组织/ISP 信息，耗时更长。
type IPResolution string

const (
	IPResolutionCity IPResolution = "city"
	IPResolutionFull IPResolution = "full"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultStorageKey = "_vid"
)

var regionEndpoints = map[Region]string{
	RegionUS: "https://api.fpjs.io",
	RegionEU: "https://eu.api.fpjs.io",
}

// RegionEndpoint：区域默认接口地址；未知区域回退到 us
func RegionEndpoint(r Region) string {
	if ep, ok := regionEndpoints[r]; ok {
		return ep
	}
	return regionEndpoints[RegionUS]
}

// LoadOptions：加载 Agent 的参数
// 约束：Token 必填；Endpoint 为空时按 Region 选择；TLSEndpoint 为空时使用 {Endpoint}/tls。
type LoadOptions struct {
	Token       string
	Region      Region
	Endpoint    string
	TLSEndpoint string
	DisableTLS  bool
	StorageKey  string

	// Debug 为调试事件输出通道，可用 MakeMulticastDebugger 组合多个
	Debug DebugOutput

	DelayFallback time.Duration

	HTTPClient *http.Client
	Storage    Storage
	Logger     *slog.Logger

	// 浏览器端采集的信号，由调用方提供
	Components map[string]any
	UserAgent  string
	Origin     string
}

func (o LoadOptions) withDefaults() LoadOptions {
	if o.Region == "" {
		o.Region = RegionUS
	}
	if o.Endpoint == "" {
		o.Endpoint = RegionEndpoint(o.Region)
	}
	o.Endpoint = strings.TrimRight(o.Endpoint, "/")
	if o.TLSEndpoint == "" {
		o.TLSEndpoint = o.Endpoint + "/tls"
	}
	if o.StorageKey == "" {
		o.StorageKey = DefaultStorageKey
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Storage == nil {
		o.Storage = NewMemoryStorage()
	}
	return o
}

// GetOptions：单次获取访客标识的参数
type GetOptions struct {
	// Timeout 控制整次识别（客户端+服务端）的总耗时，默认 10s
	Timeout time.Duration
	// Tag 原样透传到 webhook
	Tag      any
	LinkedID string
	// Deprecated: 使用 LoadOptions.DisableTLS
	DisableTLS     bool
	ExtendedResult bool
	// 仅在 ExtendedResult 为 true 时生效，默认 city
	IPResolution IPResolution
}

// Shape：按参数推导结果形态
func (o GetOptions) Shape() ResultShape {
	return DeriveShape(o.ExtendedResult, o.IPResolution)
}

func (o GetOptions) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}
