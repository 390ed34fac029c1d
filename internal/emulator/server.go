package emulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"fpagent/internal/geo"
	"fpagent/internal/logger"
	"fpagent/internal/metrics"
	"fpagent/internal/middleware"
	"fpagent/internal/store"
	"fpagent/internal/visitordb"
	"fpagent/pkg/fingerprint"
	"fpagent/pkg/origindefense"
)

const maxRequestBytes = 1 << 20

// EventStore：识别事件与统计的持久化，*store.Store 即为实现
type EventStore interface {
	RecordEvent(ctx context.Context, e store.Event) error
	VisitorEvents(ctx context.Context, visitorID string, limit int) ([]store.Event, error)
	IncrStats(ctx context.Context, newVisitor bool) error
	GetTotals(ctx context.Context) (*store.Totals, error)
}

// Deps：外部依赖；Index 为空时使用内存索引，其余为空表示关闭对应功能
// Limiter 按订阅令牌限流识别接口；AdminLimiter 按来源 IP 限流管理接口。
type Deps struct {
	Index        visitordb.Index
	Geo          *geo.Resolver
	Store        EventStore
	Guard        *origindefense.Middleware
	Limiter      *middleware.Limiter
	AdminLimiter *middleware.Limiter
	Logger       *slog.Logger
}

// Server：模拟识别服务
type Server struct {
	cfg   Config
	d     Deps
	l     *slog.Logger
	stats memStats
	now   func() time.Time
}

func New(cfg Config, d Deps) *Server {
	if d.Index == nil {
		d.Index = visitordb.NewMem()
	}
	d.Index = visitordb.Instrumented(d.Index)
	if d.Logger == nil {
		d.Logger = logger.L()
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = defaultProcessTimeout
	}
	if cfg.Region == "" {
		cfg.Region = fingerprint.RegionUS
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	return &Server{cfg: cfg, d: d, l: d.Logger, now: time.Now}
}

// Routes：识别接口 POST /、TLS 签名 GET /tls，管理接口受来源白名单保护
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", s.handleIdentify)
	mux.HandleFunc("OPTIONS /{$}", s.handlePreflight)
	mux.HandleFunc("GET /tls", s.handleTLS)
	admin := http.NewServeMux()
	admin.HandleFunc("GET /visitors/{id}", s.handleVisitor)
	admin.HandleFunc("GET /stats", s.handleStats)
	var guarded http.Handler = admin
	if s.d.Guard != nil {
		guarded = s.d.Guard.Wrap(admin)
	}
	if s.d.AdminLimiter != nil {
		guarded = s.d.AdminLimiter.Wrap(func(r *http.Request) string {
			return clientIP(r, s.cfg.TrustProxy).String()
		}, guarded)
	}
	mux.Handle("GET /visitors/{id}", guarded)
	mux.Handle("GET /stats", guarded)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// apiError：带 HTTP 状态的固定错误文本
type apiError struct {
	status int
	kind   fingerprint.Kind
}

func fail(status int, k fingerprint.Kind) *apiError { return &apiError{status: status, kind: k} }

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	t0 := s.now()
	rid := NewRequestID(t0)
	if o := r.Header.Get("Origin"); o != "" {
		w.Header().Set("Access-Control-Allow-Origin", o)
		w.Header().Set("Vary", "Origin")
	}
	payload, ev, aerr := s.identify(r, rid)
	metrics.IdentifyDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	if aerr != nil {
		metrics.IdentifyRequestsTotal.WithLabelValues(aerr.kind.String()).Inc()
		s.l.Debug("fp_identify_fail", "request_id", rid, "kind", aerr.kind.String(), "status", aerr.status)
		writeJSON(w, aerr.status, fingerprint.ErrorResponse{
			RequestID: rid,
			Error:     fingerprint.ErrorBody{Message: aerr.kind.Message()},
		})
		return
	}
	metrics.IdentifyRequestsTotal.WithLabelValues("ok").Inc()
	metrics.IdentificationsTotal.WithLabelValues(ev.Shape).Inc()
	if !ev.Found {
		metrics.NewVisitorsTotal.Inc()
	}
	s.record(ev)
	s.l.Debug("fp_identify_done", "request_id", rid, "visitor_id", ev.VisitorID, "shape", ev.Shape, "found", ev.Found, "confidence", ev.Confidence)
	writeJSON(w, http.StatusOK, payload)
}

// identify：校验顺序为 请求体、令牌、区域、请求头、来源站点、限流、UA，之后才做访客匹配
func (s *Server) identify(r *http.Request, rid string) (any, store.Event, *apiError) {
	var ev store.Event
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return nil, ev, fail(http.StatusBadRequest, fingerprint.KindMalformedRequest)
	}
	var req fingerprint.IdentifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, ev, fail(http.StatusBadRequest, fingerprint.KindMalformedRequest)
	}
	if req.Token == "" {
		return nil, ev, fail(http.StatusUnauthorized, fingerprint.KindTokenMissing)
	}
	ti, ok := s.cfg.Tokens[req.Token]
	if !ok {
		return nil, ev, fail(http.StatusForbidden, fingerprint.KindTokenInvalid)
	}
	switch ti.Status {
	case TokenExpired:
		return nil, ev, fail(http.StatusForbidden, fingerprint.KindTokenExpired)
	case TokenInactive:
		return nil, ev, fail(http.StatusForbidden, fingerprint.KindSubscriptionInactive)
	}
	if ti.Region != s.cfg.Region {
		return nil, ev, fail(http.StatusBadRequest, fingerprint.KindWrongRegion)
	}
	if s.d.Guard != nil {
		if name, bad := s.d.Guard.ForbiddenHeader(r.Header); bad {
			s.l.Debug("fp_forbidden_header", "request_id", rid, "header", name)
			return nil, ev, fail(http.StatusForbidden, fingerprint.KindForbiddenHeader)
		}
	}
	if !origindefense.OriginAllowed(r.Header.Get("Origin"), ti.Origins) {
		return nil, ev, fail(http.StatusForbidden, fingerprint.KindForbiddenOrigin)
	}
	if !s.d.Limiter.Allow(req.Token) {
		return nil, ev, fail(http.StatusTooManyRequests, fingerprint.KindRateLimitExceeded)
	}
	ua := req.UserAgent
	if ua == "" {
		ua = r.UserAgent()
	}
	if strings.TrimSpace(ua) == "" {
		return nil, ev, fail(http.StatusBadRequest, fingerprint.KindMissingUserAgent)
	}
	uai := ParseUserAgent(ua)
	if uai.Crawler {
		return nil, ev, fail(http.StatusForbidden, fingerprint.KindCrawlBot)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ProcessTimeout)
	defer cancel()
	shape := fingerprint.DeriveShape(req.ExtendedResult, req.IPResolution)
	ip := clientIP(r, s.cfg.TrustProxy)
	hash := componentsHash(req.Components, ua)
	lk, err := s.lookup(ctx, hash, req.StoredVisitorID, ip, shape)
	if err == nil {
		vm := matchVisitor(req.StoredVisitorID, lk)
		if err = s.d.Index.Remember(ctx, hash, vm.id); err == nil {
			incognito, _ := req.Components["incognito"].(bool)
			ev = store.Event{
				RequestID:   rid,
				VisitorID:   vm.id,
				Token:       req.Token,
				Shape:       shape.String(),
				IP:          ip.String(),
				LinkedID:    req.LinkedID,
				Confidence:  vm.score,
				Found:       vm.found,
				Incognito:   incognito,
				BrowserName: uai.BrowserName,
				OS:          uai.OS,
				CreatedAt:   s.now(),
			}
			if req.Tag != nil {
				ev.Tag, _ = json.Marshal(req.Tag)
			}
			return buildPayload(shape, ev, uai, lk), ev, nil
		}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, ev, fail(http.StatusInternalServerError, fingerprint.KindServerTimeout)
	}
	s.l.Error("fp_identify_error", "request_id", rid, "err", err)
	return nil, ev, fail(http.StatusInternalServerError, fingerprint.KindServerFailure)
}

func buildPayload(shape fingerprint.ResultShape, ev store.Event, uai UserAgentInfo, lk *lookups) any {
	base := fingerprint.GetResult{
		RequestID:    ev.RequestID,
		VisitorID:    ev.VisitorID,
		VisitorFound: ev.Found,
		Confidence:   fingerprint.Confidence{Score: ev.Confidence},
	}
	switch shape {
	case fingerprint.ShapeExtended:
		return fingerprint.ExtendedGetResult{
			GetResult:      base,
			Incognito:      ev.Incognito,
			BrowserName:    uai.BrowserName,
			BrowserVersion: uai.BrowserVersion,
			Device:         uai.Device,
			IP:             ev.IP,
			IPLocation:     lk.loc,
			OS:             uai.OS,
			OSVersion:      uai.OSVersion,
		}
	case fingerprint.ShapeFullIPExtended:
		return fingerprint.FullIPExtendedGetResult{
			GetResult:      base,
			Incognito:      ev.Incognito,
			BrowserName:    uai.BrowserName,
			BrowserVersion: uai.BrowserVersion,
			Device:         uai.Device,
			IP:             ev.IP,
			IPLocation:     fingerprint.FullIPLocation{IPLocation: lk.loc, Organization: lk.org},
			OS:             uai.OS,
			OSVersion:      uai.OSVersion,
		}
	default:
		return base
	}
}

// record：统计与事件持久化失败只记录日志
func (s *Server) record(ev store.Event) {
	s.stats.add(ev.CreatedAt, !ev.Found)
	if s.d.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.d.Store.RecordEvent(ctx, ev); err != nil {
		s.l.Error("fp_event_record_error", "request_id", ev.RequestID, "err", err)
	}
	if err := s.d.Store.IncrStats(ctx, !ev.Found); err != nil {
		s.l.Error("fp_stats_incr_error", "err", err)
	}
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	if o := r.Header.Get("Origin"); o != "" {
		w.Header().Set("Access-Control-Allow-Origin", o)
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "content-type")
	w.WriteHeader(http.StatusNoContent)
}

// handleTLS：返回连接特征摘要；明文连接时以 UA 与来源地址代替
func (s *Server) handleTLS(w http.ResponseWriter, r *http.Request) {
	var seed string
	if r.TLS != nil {
		seed = fmt.Sprintf("tls|%x|%x|%s|%s", r.TLS.Version, r.TLS.CipherSuite, r.TLS.ServerName, r.TLS.NegotiatedProtocol)
	} else {
		seed = "plain|" + r.UserAgent() + "|" + clientIP(r, s.cfg.TrustProxy).String()
	}
	writeJSON(w, http.StatusOK, fingerprint.TLSResponse{TLS: fmt.Sprintf("%016x", xxh3.HashString(seed))})
}

type visitorHistory struct {
	VisitorID string        `json:"visitorId"`
	Visits    []store.Event `json:"visits"`
}

func (s *Server) handleVisitor(w http.ResponseWriter, r *http.Request) {
	if s.d.Store == nil {
		writeJSON(w, http.StatusNotImplemented, fingerprint.ErrorResponse{Error: fingerprint.ErrorBody{Message: "history disabled"}})
		return
	}
	limit := s.cfg.HistoryLimit
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}
	id := r.PathValue("id")
	evs, err := s.d.Store.VisitorEvents(r.Context(), id, limit)
	if err != nil {
		s.l.Error("fp_history_error", "visitor_id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, fingerprint.ErrorResponse{Error: fingerprint.ErrorBody{Message: fingerprint.ErrorGeneralServerFailure}})
		return
	}
	if evs == nil {
		evs = []store.Event{}
	}
	writeJSON(w, http.StatusOK, visitorHistory{VisitorID: id, Visits: evs})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.d.Store != nil {
		t, err := s.d.Store.GetTotals(r.Context())
		if err == nil {
			writeJSON(w, http.StatusOK, t)
			return
		}
		s.l.Error("fp_stats_error", "err", err)
	}
	writeJSON(w, http.StatusOK, s.stats.totals(s.now()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// memStats：未配置数据库时的进程内统计
type memStats struct {
	mu            sync.Mutex
	total         int64
	visitors      int64
	day           string
	today         int64
	visitorsToday int64
}

func (m *memStats) add(at time.Time, newVisitor bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d := at.Format(time.DateOnly); d != m.day {
		m.day, m.today, m.visitorsToday = d, 0, 0
	}
	m.total++
	m.today++
	if newVisitor {
		m.visitors++
		m.visitorsToday++
	}
}

func (m *memStats) totals(now time.Time) *store.Totals {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &store.Totals{Total: m.total, Visitors: m.visitors}
	if m.day == now.Format(time.DateOnly) {
		t.Today, t.VisitorsToday = m.today, m.visitorsToday
	}
	return t
}
