package fingerprint

// IdentifyRequest：识别请求体（POST {endpoint}/）
type IdentifyRequest struct {
	Token           string         `json:"token"`
	Tag             any            `json:"tag,omitempty"`
	LinkedID        string         `json:"linkedId,omitempty"`
	ExtendedResult  bool           `json:"extendedResult"`
	IPResolution    IPResolution   `json:"ipResolution,omitempty"`
	StorageKey      string         `json:"storageKey,omitempty"`
	StoredVisitorID string         `json:"storedVisitorId,omitempty"`
	TLS             string         `json:"tls,omitempty"`
	Components      map[string]any `json:"components,omitempty"`
	UserAgent       string         `json:"userAgent,omitempty"`
}

// ErrorBody：后端错误，Message 为固定错误文本之一
type ErrorBody struct {
	Message string `json:"message"`
}

// ErrorResponse：后端失败时的响应体
type ErrorResponse struct {
	RequestID string    `json:"requestId,omitempty"`
	Error     ErrorBody `json:"error"`
}

// TLSResponse：GET {tlsEndpoint} 的响应体
type TLSResponse struct {
	TLS string `json:"tls"`
}
