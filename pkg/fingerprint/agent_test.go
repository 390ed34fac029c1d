package fingerprint

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu       sync.Mutex
	requests []IdentifyRequest
	headers  []http.Header
	tlsHits  atomic.Int32
	tlsCode  int
	respond  func(w http.ResponseWriter, r *http.Request, req IdentifyRequest)
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{tlsCode: http.StatusOK}
	fb.respond = func(w http.ResponseWriter, r *http.Request, req IdentifyRequest) {
		switch {
		case !req.ExtendedResult:
			_, _ = w.Write([]byte(baseBody))
		case req.IPResolution == IPResolutionFull:
			_, _ = w.Write([]byte(fullBody))
		default:
			_, _ = w.Write([]byte(extendedBody))
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/tls", func(w http.ResponseWriter, r *http.Request) {
		fb.tlsHits.Add(1)
		w.WriteHeader(fb.tlsCode)
		_ = json.NewEncoder(w).Encode(TLSResponse{TLS: "tls-sig"})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var req IdentifyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		fb.mu.Lock()
		fb.requests = append(fb.requests, req)
		fb.headers = append(fb.headers, r.Header.Clone())
		fb.mu.Unlock()
		fb.respond(w, r, req)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fb, srv
}

func (fb *fakeBackend) last() (IdentifyRequest, http.Header) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.requests[len(fb.requests)-1], fb.headers[len(fb.headers)-1]
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) output(e DebugEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, EventName(e.E))
	return nil
}

func (l *eventLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func TestLoadTokenMissing(t *testing.T) {
	var log eventLog
	a, err := Load(context.Background(), LoadOptions{Debug: log.output})
	require.Error(t, err)
	assert.Nil(t, a)
	assert.ErrorIs(t, err, ErrTokenMissing)
	assert.Equal(t, ErrorTokenMissing, err.Error())
	assert.Equal(t, []string{"load_start", "load_fail"}, log.names())
}

func TestLoadDelayCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx, LoadOptions{Token: "t", DelayFallback: time.Second, DisableTLS: true})
	assert.ErrorIs(t, err, ErrNetworkAbort)
}

func TestGetShapes(t *testing.T) {
	fb, srv := newFakeBackend(t)
	a, err := Load(context.Background(), LoadOptions{Token: "tok", Endpoint: srv.URL, DisableTLS: true})
	require.NoError(t, err)

	tests := []struct {
		name   string
		opts   GetOptions
		shape  ResultShape
		sentIP IPResolution
	}{
		{"base", GetOptions{}, ShapeBase, ""},
		{"base drops resolution", GetOptions{IPResolution: IPResolutionFull}, ShapeBase, ""},
		{"extended", GetOptions{ExtendedResult: true}, ShapeExtended, IPResolutionCity},
		{"full", GetOptions{ExtendedResult: true, IPResolution: IPResolutionFull}, ShapeFullIPExtended, IPResolutionFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := a.Get(context.Background(), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.shape, res.Shape)
			assert.NotNil(t, res.Payload())
			req, _ := fb.last()
			assert.Equal(t, "tok", req.Token)
			assert.Equal(t, tt.opts.ExtendedResult, req.ExtendedResult)
			assert.Equal(t, tt.sentIP, req.IPResolution)
		})
	}
}

func TestGetForwardsRequestFields(t *testing.T) {
	fb, srv := newFakeBackend(t)
	a, err := Load(context.Background(), LoadOptions{
		Token:      "tok",
		Endpoint:   srv.URL + "/",
		DisableTLS: true,
		UserAgent:  "Mozilla/5.0 test",
		Origin:     "https://shop.example",
		Components: map[string]any{"screen": "1920x1080"},
	})
	require.NoError(t, err)
	_, err = a.Get(context.Background(), GetOptions{Tag: map[string]any{"order": 7}, LinkedID: "user-1"})
	require.NoError(t, err)

	req, h := fb.last()
	assert.Equal(t, "user-1", req.LinkedID)
	assert.Equal(t, map[string]any{"order": float64(7)}, req.Tag)
	assert.Equal(t, "1920x1080", req.Components["screen"])
	assert.Equal(t, DefaultStorageKey, req.StorageKey)
	assert.Equal(t, "Mozilla/5.0 test", h.Get("User-Agent"))
	assert.Equal(t, "https://shop.example", h.Get("Origin"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
}

func TestGetStoresVisitorID(t *testing.T) {
	fb, srv := newFakeBackend(t)
	st := NewMemoryStorage()
	a, err := Load(context.Background(), LoadOptions{Token: "tok", Endpoint: srv.URL, DisableTLS: true, Storage: st, StorageKey: "vk"})
	require.NoError(t, err)

	_, err = a.Get(context.Background(), GetOptions{})
	require.NoError(t, err)
	req, _ := fb.last()
	assert.Empty(t, req.StoredVisitorID)
	v, ok := st.Get("vk")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	_, err = a.Get(context.Background(), GetOptions{})
	require.NoError(t, err)
	req, _ = fb.last()
	assert.Equal(t, "v1", req.StoredVisitorID)
	assert.Equal(t, "vk", req.StorageKey)
}

func TestGetDebugEvents(t *testing.T) {
	_, srv := newFakeBackend(t)
	var log eventLog
	a, err := Load(context.Background(), LoadOptions{Token: "tok", Endpoint: srv.URL, DisableTLS: true, Debug: log.output})
	require.NoError(t, err)
	_, err = a.Get(context.Background(), GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"load_start", "load_done", "get_start", "request_sent", "response_received", "get_done"}, log.names())
}

func TestGetDebugOutputFailureIgnored(t *testing.T) {
	_, srv := newFakeBackend(t)
	var log eventLog
	broken := func(DebugEvent) error { panic("broken sink") }
	a, err := Load(context.Background(), LoadOptions{
		Token: "tok", Endpoint: srv.URL, DisableTLS: true,
		Debug: MakeMulticastDebugger(broken, log.output),
	})
	require.NoError(t, err)
	_, err = a.Get(context.Background(), GetOptions{})
	require.NoError(t, err)
	assert.Contains(t, log.names(), "get_done")
}

func TestGetTLSPrefetch(t *testing.T) {
	fb, srv := newFakeBackend(t)
	var log eventLog
	a, err := Load(context.Background(), LoadOptions{Token: "tok", Endpoint: srv.URL, Debug: log.output})
	require.NoError(t, err)

	_, err = a.Get(context.Background(), GetOptions{})
	require.NoError(t, err)
	req, _ := fb.last()
	assert.Equal(t, "tls-sig", req.TLS)

	_, err = a.Get(context.Background(), GetOptions{DisableTLS: true})
	require.NoError(t, err)
	req, _ = fb.last()
	assert.Empty(t, req.TLS)
	assert.Equal(t, int32(1), fb.tlsHits.Load())
	assert.Contains(t, log.names(), "tls_done")
}

func TestGetTLSFailureDoesNotFailGet(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.tlsCode = http.StatusInternalServerError
	var log eventLog
	a, err := Load(context.Background(), LoadOptions{Token: "tok", Endpoint: srv.URL, Debug: log.output})
	require.NoError(t, err)
	_, err = a.Get(context.Background(), GetOptions{})
	require.NoError(t, err)
	req, _ := fb.last()
	assert.Empty(t, req.TLS)
	assert.Contains(t, log.names(), "tls_fail")
}

func TestGetTimeoutDuringTLSLeavesNoOrphanReport(t *testing.T) {
	_, srv := newFakeBackend(t)
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_ = json.NewEncoder(w).Encode(TLSResponse{TLS: "late"})
	}))
	t.Cleanup(slow.Close)

	var log eventLog
	var mu sync.Mutex
	var reports []DebugReport
	b := NewDebugReportBuilder(func(r DebugReport) error {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, r)
		return nil
	}, 0)
	a, err := Load(context.Background(), LoadOptions{
		Token: "tok", Endpoint: srv.URL, TLSEndpoint: slow.URL,
		Debug: MakeMulticastDebugger(log.output, b.Output()),
	})
	require.NoError(t, err)

	_, err = a.Get(context.Background(), GetOptions{Timeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, ErrClientTimeout)
	close(release)
	<-a.tls.done

	names := log.names()
	assert.Equal(t, "get_fail", names[len(names)-1])
	assert.NotContains(t, names, "tls_done")
	assert.NotContains(t, names, "tls_fail")
	require.NoError(t, b.Flush())
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, reports, 1)
}

func TestLoadDisableTLSSkipsPrefetch(t *testing.T) {
	fb, srv := newFakeBackend(t)
	a, err := Load(context.Background(), LoadOptions{Token: "tok", Endpoint: srv.URL, DisableTLS: true})
	require.NoError(t, err)
	_, err = a.Get(context.Background(), GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(0), fb.tlsHits.Load())
}

func TestGetBackendErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		want      *Error
		message   string
		requestID string
	}{
		{"token invalid", 403, `{"requestId":"r9","error":{"message":"Token not found"}}`, ErrTokenInvalid, ErrorTokenInvalid, "r9"},
		{"wrong region", 400, `{"requestId":"r1","error":{"message":"Wrong region"}}`, ErrWrongRegion, ErrorWrongRegion, "r1"},
		{"subscription", 403, `{"error":{"message":"Subscription is not active"}}`, ErrSubscriptionInactive, ErrorSubscriptionNotActive, ""},
		{"rate limit body", 429, `{"requestId":"r2","error":{"message":"Too many requests, rate limit exceeded"}}`, ErrRateLimit, ErrorRateLimit, "r2"},
		{"forbidden origin", 403, `{"error":{"message":"Not available for this origin"}}`, ErrForbiddenOrigin, ErrorForbiddenOrigin, ""},
		{"server timeout", 500, `{"error":{"message":"Request failed to process"}}`, ErrServerTimeout, ErrorServerTimeout, ""},
		{"unknown message kept", 500, `{"requestId":"r3","error":{"message":"Quota exhausted"}}`, ErrServerFailure, "Quota exhausted", "r3"},
		{"error on 200", 200, `{"error":{"message":"Token expired"}}`, ErrTokenExpired, ErrorTokenExpired, ""},
		{"bare 429", 429, ``, ErrRateLimit, ErrorRateLimit, ""},
		{"bad gateway html", 502, `<html>bad gateway</html>`, ErrServerFailure, ErrorGeneralServerFailure, ""},
		{"unexpected 404", 404, `not found`, ErrMalformedResponse, ErrorBadResponseFormat, ""},
		{"unparsable success", 200, `{"visitorId":`, ErrMalformedResponse, ErrorBadResponseFormat, ""},
		{"incomplete success", 200, `{"requestId":"r","visitorId":"v"}`, ErrMalformedResponse, ErrorBadResponseFormat, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb, srv := newFakeBackend(t)
			fb.respond = func(w http.ResponseWriter, r *http.Request, req IdentifyRequest) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}
			var log eventLog
			a, err := Load(context.Background(), LoadOptions{Token: "tok", Endpoint: srv.URL, DisableTLS: true, Debug: log.output})
			require.NoError(t, err)
			res, err := a.Get(context.Background(), GetOptions{})
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)
			var fe *Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.message, fe.Message)
			assert.Equal(t, tt.requestID, fe.RequestID)
			assert.Equal(t, "get_fail", log.names()[len(log.names())-1])
		})
	}
}

func TestGetClientTimeout(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.respond = func(w http.ResponseWriter, r *http.Request, req IdentifyRequest) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}
	a, err := Load(context.Background(), LoadOptions{Token: "tok", Endpoint: srv.URL, DisableTLS: true})
	require.NoError(t, err)
	_, err = a.Get(context.Background(), GetOptions{Timeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, ErrClientTimeout)
	assert.Equal(t, KindClientTimeout, KindOf(err))
}

func TestGetAbort(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.respond = func(w http.ResponseWriter, r *http.Request, req IdentifyRequest) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}
	a, err := Load(context.Background(), LoadOptions{Token: "tok", Endpoint: srv.URL, DisableTLS: true})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err = a.Get(ctx, GetOptions{})
	assert.ErrorIs(t, err, ErrNetworkAbort)
}

func TestGetConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	a, err := Load(context.Background(), LoadOptions{Token: "tok", Endpoint: url, DisableTLS: true})
	require.NoError(t, err)
	_, err = a.Get(context.Background(), GetOptions{Timeout: 2 * time.Second})
	assert.ErrorIs(t, err, ErrNetworkConnection)
}

func TestRegionEndpoint(t *testing.T) {
	assert.Equal(t, "https://api.fpjs.io", RegionEndpoint(RegionUS))
	assert.Equal(t, "https://eu.api.fpjs.io", RegionEndpoint(RegionEU))
	assert.Equal(t, "https://api.fpjs.io", RegionEndpoint("ap"))

	o := LoadOptions{Region: RegionEU}.withDefaults()
	assert.Equal(t, "https://eu.api.fpjs.io", o.Endpoint)
	assert.Equal(t, "https://eu.api.fpjs.io/tls", o.TLSEndpoint)
	assert.Equal(t, DefaultStorageKey, o.StorageKey)
}
