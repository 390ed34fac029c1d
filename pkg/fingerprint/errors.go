package fingerprint

import (
	"errors"
	"fmt"
)

// 对外错误文本：与既有集成保持逐字一致，不可修改
const (
	ErrorClientTimeout         = "Client timeout"
	ErrorNetworkConnection     = "Network connection error"
	ErrorNetworkAbort          = "Network request aborted"
	ErrorBadResponseFormat     = "Response cannot be parsed"
	ErrorWrongRegion           = "Wrong region"
	ErrorSubscriptionNotActive = "Subscription is not active"
	ErrorTokenMissing          = "Token required"
	ErrorTokenInvalid          = "Token not found"
	ErrorTokenExpired          = "Token expired"
	ErrorBadRequestFormat      = "Request cannot be parsed"
	ErrorGeneralServerFailure  = "Request failed"
	ErrorServerTimeout         = "Request failed to process"
	ErrorRateLimit             = "Too many requests, rate limit exceeded"
	ErrorForbiddenOrigin       = "Not available for this origin"
	ErrorForbiddenHeader       = "Not available with restricted header"
	ErrorCrawlBot              = "Not available for crawl bots"
	ErrorMissingUserAgent      = "Not available when User-Agent is unspecified"
)

// Kind：错误类别，一条文本对应一个类别
type Kind int

const (
	KindUnknown Kind = iota
	KindClientTimeout
	KindNetworkConnection
	KindNetworkAbort
	KindMalformedResponse
	KindMalformedRequest
	KindWrongRegion
	KindSubscriptionInactive
	KindTokenMissing
	KindTokenInvalid
	KindTokenExpired
	KindForbiddenOrigin
	KindForbiddenHeader
	KindRateLimitExceeded
	KindServerFailure
	KindServerTimeout
	KindCrawlBot
	KindMissingUserAgent
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindClientTimeout:        "client_timeout",
	KindNetworkConnection:    "network_connection",
	KindNetworkAbort:         "network_abort",
	KindMalformedResponse:    "malformed_response",
	KindMalformedRequest:     "malformed_request",
	KindWrongRegion:          "wrong_region",
	KindSubscriptionInactive: "subscription_inactive",
	KindTokenMissing:         "token_missing",
	KindTokenInvalid:         "token_invalid",
	KindTokenExpired:         "token_expired",
	KindForbiddenOrigin:      "forbidden_origin",
	KindForbiddenHeader:      "forbidden_header",
	KindRateLimitExceeded:    "rate_limit_exceeded",
	KindServerFailure:        "server_failure",
	KindServerTimeout:        "server_timeout",
	KindCrawlBot:             "crawl_bot",
	KindMissingUserAgent:     "missing_user_agent",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var kindMessages = map[Kind]string{
	KindClientTimeout:        ErrorClientTimeout,
	KindNetworkConnection:    ErrorNetworkConnection,
	KindNetworkAbort:         ErrorNetworkAbort,
	KindMalformedResponse:    ErrorBadResponseFormat,
	KindMalformedRequest:     ErrorBadRequestFormat,
	KindWrongRegion:          ErrorWrongRegion,
	KindSubscriptionInactive: ErrorSubscriptionNotActive,
	KindTokenMissing:         ErrorTokenMissing,
	KindTokenInvalid:         ErrorTokenInvalid,
	KindTokenExpired:         ErrorTokenExpired,
	KindForbiddenOrigin:      ErrorForbiddenOrigin,
	KindForbiddenHeader:      ErrorForbiddenHeader,
	KindRateLimitExceeded:    ErrorRateLimit,
	KindServerFailure:        ErrorGeneralServerFailure,
	KindServerTimeout:        ErrorServerTimeout,
	KindCrawlBot:             ErrorCrawlBot,
	KindMissingUserAgent:     ErrorMissingUserAgent,
}

var messageKinds = func() map[string]Kind {
	m := make(map[string]Kind, len(kindMessages))
	for k, s := range kindMessages {
		m[s] = k
	}
	return m
}()

// Message：返回类别对应的固定文本；未知类别返回空串
func (k Kind) Message() string { return kindMessages[k] }

// KindFromMessage：后端返回的错误文本映射为类别；无法识别时为 KindUnknown
func KindFromMessage(msg string) Kind {
	if k, ok := messageKinds[msg]; ok {
		return k
	}
	return KindUnknown
}

// Messages 返回符号名到错误文本的映射副本，调用方修改不影响包内状态。
func Messages() map[string]string {
	return map[string]string{
		"ERROR_CLIENT_TIMEOUT":          ErrorClientTimeout,
		"ERROR_NETWORK_CONNECTION":      ErrorNetworkConnection,
		"ERROR_NETWORK_ABORT":           ErrorNetworkAbort,
		"ERROR_BAD_RESPONSE_FORMAT":     ErrorBadResponseFormat,
		"ERROR_WRONG_REGION":            ErrorWrongRegion,
		"ERROR_SUBSCRIPTION_NOT_ACTIVE": ErrorSubscriptionNotActive,
		"ERROR_TOKEN_MISSING":           ErrorTokenMissing,
		"ERROR_TOKEN_INVALID":           ErrorTokenInvalid,
		"ERROR_TOKEN_EXPIRED":           ErrorTokenExpired,
		"ERROR_BAD_REQUEST_FORMAT":      ErrorBadRequestFormat,
		"ERROR_GENERAL_SERVER_FAILURE":  ErrorGeneralServerFailure,
		"ERROR_SERVER_TIMEOUT":          ErrorServerTimeout,
		"ERROR_RATE_LIMIT":              ErrorRateLimit,
		"ERROR_FORBIDDEN_ORIGIN":        ErrorForbiddenOrigin,
		"ERROR_FORBIDDEN_HEADER":        ErrorForbiddenHeader,
	}
}

// Error：识别调用失败的结构化错误
// 约束：Message 保留后端或客户端给出的原始文本；后端错误携带 RequestID。
type Error struct {
	Kind      Kind
	Message   string
	RequestID string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Message()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is：按类别比较，便于 errors.Is(err, ErrRateLimit)
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newError(k Kind, err error) *Error {
	return &Error{Kind: k, Message: k.Message(), Err: err}
}

// 哨兵错误：仅用于 errors.Is 比较
var (
	ErrClientTimeout        = &Error{Kind: KindClientTimeout, Message: ErrorClientTimeout}
	ErrNetworkConnection    = &Error{Kind: KindNetworkConnection, Message: ErrorNetworkConnection}
	ErrNetworkAbort         = &Error{Kind: KindNetworkAbort, Message: ErrorNetworkAbort}
	ErrMalformedResponse    = &Error{Kind: KindMalformedResponse, Message: ErrorBadResponseFormat}
	ErrMalformedRequest     = &Error{Kind: KindMalformedRequest, Message: ErrorBadRequestFormat}
	ErrWrongRegion          = &Error{Kind: KindWrongRegion, Message: ErrorWrongRegion}
	ErrSubscriptionInactive = &Error{Kind: KindSubscriptionInactive, Message: ErrorSubscriptionNotActive}
	ErrTokenMissing         = &Error{Kind: KindTokenMissing, Message: ErrorTokenMissing}
	ErrTokenInvalid         = &Error{Kind: KindTokenInvalid, Message: ErrorTokenInvalid}
	ErrTokenExpired         = &Error{Kind: KindTokenExpired, Message: ErrorTokenExpired}
	ErrForbiddenOrigin      = &Error{Kind: KindForbiddenOrigin, Message: ErrorForbiddenOrigin}
	ErrForbiddenHeader      = &Error{Kind: KindForbiddenHeader, Message: ErrorForbiddenHeader}
	ErrRateLimit            = &Error{Kind: KindRateLimitExceeded, Message: ErrorRateLimit}
	ErrServerFailure        = &Error{Kind: KindServerFailure, Message: ErrorGeneralServerFailure}
	ErrServerTimeout        = &Error{Kind: KindServerTimeout, Message: ErrorServerTimeout}
	ErrCrawlBot             = &Error{Kind: KindCrawlBot, Message: ErrorCrawlBot}
	ErrMissingUserAgent     = &Error{Kind: KindMissingUserAgent, Message: ErrorMissingUserAgent}
)

// KindOf：提取错误类别；非本包错误返回 KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
