package fingerprint

// Confidence：访客标识可信度，Score 取值 0..1
type Confidence struct {
	Score   float64 `json:"score"`
	Comment string  `json:"comment,omitempty"`
}

type City struct {
	Name string `json:"name"`
}

type Subdivision struct {
	IsoCode string `json:"isoCode"`
	Name    string `json:"name"`
}

type Country struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type Continent struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// IPLocation：IP 地理位置
// 约束：所有字段均可缺失（Tor/匿名代理）；AccuracyRadius <50 多为住宅/企业，>=500 多为云/代理。
type IPLocation struct {
	AccuracyRadius *int          `json:"accuracyRadius,omitempty"`
	Latitude       *float64      `json:"latitude,omitempty"`
	Longitude      *float64      `json:"longitude,omitempty"`
	Timezone       string        `json:"timezone,omitempty"`
	PostalCode     string        `json:"postalCode,omitempty"`
	City           *City         `json:"city,omitempty"`
	Subdivisions   []Subdivision `json:"subdivisions,omitempty"`
	Country        *Country      `json:"country,omitempty"`
	Continent      *Continent    `json:"continent,omitempty"`
}

type Organization struct {
	Name      string `json:"name"`
	Domain    string `json:"domain"`
	ISP       string `json:"isp"`
	LegalName string `json:"legalName"`
}

// FullIPLocation：ipResolution=full 时的位置，附带组织信息
type FullIPLocation struct {
	IPLocation
	Organization *Organization `json:"organization,omitempty"`
}

// Deprecated: 服务端不再检测机器人
type BotInformation struct {
	Probability float64 `json:"probability"`
	Safe        *bool   `json:"safe,omitempty"`
}

// VisitorID：基础识别结果
type VisitorID struct {
	VisitorID    string      `json:"visitorId"`
	VisitorFound bool        `json:"visitorFound"`
	Confidence   *Confidence `json:"confidence,omitempty"`
}

// ResultExtraFields：每次调用附带的请求信息，Confidence 必填
type ResultExtraFields struct {
	RequestID  string     `json:"requestId"`
	Confidence Confidence `json:"confidence"`
}

// GetResult：extendedResult=false 时的结果
// visitorId 可为空串（浏览器被篡改的机器人等无法识别的情况）。
type GetResult struct {
	RequestID    string     `json:"requestId"`
	VisitorID    string     `json:"visitorId"`
	VisitorFound bool       `json:"visitorFound"`
	Confidence   Confidence `json:"confidence"`
}

// ExtendedGetResult：extendedResult=true 且 ipResolution=city
type ExtendedGetResult struct {
	GetResult
	Incognito      bool            `json:"incognito"`
	BrowserName    string          `json:"browserName"`
	BrowserVersion string          `json:"browserVersion"`
	Device         string          `json:"device"`
	IP             string          `json:"ip"`
	IPLocation     IPLocation      `json:"ipLocation"`
	OS             string          `json:"os"`
	OSVersion      string          `json:"osVersion"`
	Bot            *BotInformation `json:"bot,omitempty"`
}

// FullIPExtendedGetResult：extendedResult=true 且 ipResolution=full
type FullIPExtendedGetResult struct {
	GetResult
	Incognito      bool            `json:"incognito"`
	BrowserName    string          `json:"browserName"`
	BrowserVersion string          `json:"browserVersion"`
	Device         string          `json:"device"`
	IP             string          `json:"ip"`
	IPLocation     FullIPLocation  `json:"ipLocation"`
	OS             string          `json:"os"`
	OSVersion      string          `json:"osVersion"`
	Bot            *BotInformation `json:"bot,omitempty"`
}

// Extended：去掉组织信息，降级为 city 形态
func (r FullIPExtendedGetResult) Extended() ExtendedGetResult {
	return ExtendedGetResult{
		GetResult:      r.GetResult,
		Incognito:      r.Incognito,
		BrowserName:    r.BrowserName,
		BrowserVersion: r.BrowserVersion,
		Device:         r.Device,
		IP:             r.IP,
		IPLocation:     r.IPLocation.IPLocation,
		OS:             r.OS,
		OSVersion:      r.OSVersion,
		Bot:            r.Bot,
	}
}

// Result：按形态区分的结果，Shape 决定哪一个指针非空
type Result struct {
	Shape    ResultShape
	Base     *GetResult
	Extended *ExtendedGetResult
	FullIP   *FullIPExtendedGetResult
}

// Common：三种形态共有的部分
func (r *Result) Common() GetResult {
	switch r.Shape {
	case ShapeExtended:
		return r.Extended.GetResult
	case ShapeFullIPExtended:
		return r.FullIP.GetResult
	default:
		return *r.Base
	}
}

func (r *Result) RequestID() string { return r.Common().RequestID }
func (r *Result) VisitorID() string { return r.Common().VisitorID }

// Payload：返回形态对应的具体结果，便于序列化
func (r *Result) Payload() any {
	switch r.Shape {
	case ShapeExtended:
		return r.Extended
	case ShapeFullIPExtended:
		return r.FullIP
	default:
		return r.Base
	}
}
