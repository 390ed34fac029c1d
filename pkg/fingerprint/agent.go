package fingerprint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"fpagent/internal/logger"
)

const maxResponseBytes = 1 << 20

// Agent：获取访客标识的客户端
// 约束：并发安全；同一 Agent 的多次 Get 共享一次 TLS 预取结果。
type Agent struct {
	opts LoadOptions
	l    *slog.Logger
	tls  *tlsPrefetch
}

// tlsPrefetch：abandoned 置位后不再发出 TLS 调试事件；置位与发出事件在 mu 下互斥
type tlsPrefetch struct {
	done      chan struct{}
	sign      string
	err       error
	mu        sync.Mutex
	abandoned bool
}

func (p *tlsPrefetch) abandon() {
	p.mu.Lock()
	p.abandoned = true
	p.mu.Unlock()
}

// Load：构建 Agent 并完成初始化等待
// 约束：Token 为空返回 KindTokenMissing；ctx 在等待期间取消时返回 KindNetworkAbort。
func Load(ctx context.Context, opts LoadOptions) (*Agent, error) {
	opts = opts.withDefaults()
	a := &Agent{opts: opts, l: opts.Logger}
	if a.l == nil {
		a.l = logger.L()
	}
	a.emit(EventLoadStart)
	if opts.Token == "" {
		a.emit(EventLoadFail)
		return nil, newError(KindTokenMissing, nil)
	}
	if opts.DelayFallback > 0 {
		t := time.NewTimer(opts.DelayFallback)
		select {
		case <-ctx.Done():
			t.Stop()
			a.emit(EventLoadFail)
			return nil, a.transportError(ctx, ctx.Err())
		case <-t.C:
		}
	}
	if !opts.DisableTLS {
		a.tls = a.prefetchTLS()
	}
	a.l.Debug("fp_agent_loaded", "endpoint", opts.Endpoint, "region", string(opts.Region), "tls", !opts.DisableTLS)
	a.emit(EventLoadDone)
	return a, nil
}

// Get：获取访客标识，结果形态由 opts 推导
func (a *Agent) Get(ctx context.Context, opts GetOptions) (*Result, error) {
	shape := opts.Shape()
	a.emit(EventGetStart)
	t0 := time.Now()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()
	res, err := a.get(ctx, opts, shape)
	ms := time.Since(t0).Milliseconds()
	if err != nil {
		a.emit(EventGetFail)
		a.l.Debug("fp_get_fail", "shape", shape.String(), "kind", KindOf(err).String(), "err", err, "duration_ms", ms)
		return nil, err
	}
	a.emit(EventGetDone)
	a.l.Debug("fp_get_done", "shape", shape.String(), "request_id", res.RequestID(), "duration_ms", ms)
	return res, nil
}

func (a *Agent) get(ctx context.Context, opts GetOptions, shape ResultShape) (*Result, error) {
	req := IdentifyRequest{
		Token:          a.opts.Token,
		Tag:            opts.Tag,
		LinkedID:       opts.LinkedID,
		ExtendedResult: opts.ExtendedResult,
		StorageKey:     a.opts.StorageKey,
		Components:     a.opts.Components,
		UserAgent:      a.opts.UserAgent,
	}
	if opts.ExtendedResult {
		req.IPResolution = opts.IPResolution
		if req.IPResolution == "" {
			req.IPResolution = IPResolutionCity
		}
	}
	if v, ok := a.opts.Storage.Get(a.opts.StorageKey); ok {
		req.StoredVisitorID = v
	}
	if a.tls != nil && !opts.DisableTLS {
		select {
		case <-ctx.Done():
			a.tls.abandon()
			return nil, a.transportError(ctx, ctx.Err())
		case <-a.tls.done:
		}
		if a.tls.err == nil {
			req.TLS = a.tls.sign
		}
	}
	body, status, err := a.post(ctx, req)
	if err != nil {
		return nil, err
	}
	if e := backendError(body, status); e != nil {
		return nil, e
	}
	res, err := DecodeResult(shape, body)
	if err != nil {
		return nil, err
	}
	if id := res.VisitorID(); id != "" {
		a.opts.Storage.Set(a.opts.StorageKey, id)
	}
	return res, nil
}

func (a *Agent) post(ctx context.Context, payload IdentifyRequest) ([]byte, int, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, newError(KindMalformedRequest, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.opts.Endpoint+"/", bytes.NewReader(b))
	if err != nil {
		return nil, 0, newError(KindMalformedRequest, err)
	}
	req.Header.Set("content-type", "application/json")
	if a.opts.UserAgent != "" {
		req.Header.Set("user-agent", a.opts.UserAgent)
	}
	if a.opts.Origin != "" {
		req.Header.Set("origin", a.opts.Origin)
	}
	a.emit(EventRequestSent)
	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, a.transportError(ctx, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, a.transportError(ctx, err)
	}
	a.emit(EventResponseReceived)
	return data, resp.StatusCode, nil
}

// backendError：识别后端错误响应；成功响应返回 nil
func backendError(body []byte, status int) *Error {
	var m struct {
		RequestID string     `json:"requestId"`
		Error     *ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &m); err == nil && m.Error != nil {
		k := KindFromMessage(m.Error.Message)
		if k == KindUnknown {
			k = KindServerFailure
		}
		return &Error{Kind: k, Message: m.Error.Message, RequestID: m.RequestID}
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return newError(KindRateLimitExceeded, nil)
	case status >= 500:
		return newError(KindServerFailure, fmt.Errorf("status %d", status))
	default:
		return newError(KindMalformedResponse, fmt.Errorf("status %d", status))
	}
}

// transportError：区分客户端超时、调用方取消与网络错误
func (a *Agent) transportError(ctx context.Context, err error) *Error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return newError(KindClientTimeout, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return newError(KindNetworkAbort, err)
	default:
		return newError(KindNetworkConnection, err)
	}
}

func (a *Agent) prefetchTLS() *tlsPrefetch {
	p := &tlsPrefetch{done: make(chan struct{})}
	a.emit(EventTLSStart)
	go func() {
		defer close(p.done)
		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		defer cancel()
		p.sign, p.err = a.fetchTLS(ctx)
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.err != nil {
			a.l.Debug("fp_tls_fail", "endpoint", a.opts.TLSEndpoint, "err", p.err, "abandoned", p.abandoned)
		}
		if p.abandoned {
			return
		}
		if p.err != nil {
			a.emit(EventTLSFail)
			return
		}
		a.emit(EventTLSDone)
	}()
	return p
}

func (a *Agent) fetchTLS(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.opts.TLSEndpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tls status %d", resp.StatusCode)
	}
	var r TLSResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&r); err != nil {
		return "", err
	}
	return r.TLS, nil
}

// emit：调试输出失败只记录日志，不影响识别流程
func (a *Agent) emit(e int) {
	if a.opts.Debug == nil {
		return
	}
	if err := a.opts.Debug(DebugEvent{E: e}); err != nil {
		a.l.Debug("fp_debug_output_error", "e", e, "err", err)
	}
}
