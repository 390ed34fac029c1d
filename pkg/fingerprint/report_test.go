package fingerprint

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportBuilderGroupsUntilTerminal(t *testing.T) {
	var reports []DebugReport
	b := NewDebugReportBuilder(func(r DebugReport) error {
		reports = append(reports, r)
		return nil
	}, 0)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	b.now = func() time.Time { n++; return base.Add(time.Duration(n) * time.Millisecond) }

	out := b.Output()
	for _, e := range []int{EventGetStart, EventRequestSent, EventResponseReceived} {
		require.NoError(t, out(DebugEvent{E: e}))
	}
	assert.Empty(t, reports)
	require.NoError(t, out(DebugEvent{E: EventGetDone}))
	require.Len(t, reports, 1)
	r := reports[0]
	require.Len(t, r.Events, 4)
	assert.Equal(t, base.Add(time.Millisecond), r.StartedAt)
	assert.Equal(t, "get_done", r.Events[3].Name)

	require.NoError(t, out(DebugEvent{E: EventLoadStart}))
	require.NoError(t, out(DebugEvent{E: EventLoadFail}))
	require.Len(t, reports, 2)
	assert.Len(t, reports[1].Events, 2)
}

func TestReportBuilderMaxEvents(t *testing.T) {
	var sizes []int
	b := NewDebugReportBuilder(func(r DebugReport) error {
		sizes = append(sizes, len(r.Events))
		return nil
	}, 3)
	out := b.Output()
	for i := 0; i < 7; i++ {
		require.NoError(t, out(DebugEvent{E: EventTLSStart}))
	}
	assert.Equal(t, []int{3, 3}, sizes)
	require.NoError(t, b.Flush())
	assert.Equal(t, []int{3, 3, 1}, sizes)
	require.NoError(t, b.Flush())
	assert.Equal(t, []int{3, 3, 1}, sizes)
}

func TestReportBuilderHandleError(t *testing.T) {
	boom := errors.New("upload failed")
	out := MakeDebugReportBuilder(func(DebugReport) error { return boom })
	assert.NoError(t, out(DebugEvent{E: EventGetStart}))
	assert.ErrorIs(t, out(DebugEvent{E: EventGetFail}), boom)
}

func TestReportBuilderConcurrent(t *testing.T) {
	var mu sync.Mutex
	total := 0
	b := NewDebugReportBuilder(func(r DebugReport) error {
		mu.Lock()
		total += len(r.Events)
		mu.Unlock()
		return nil
	}, 10)
	out := b.Output()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_ = out(DebugEvent{E: EventRequestSent})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, b.Flush())
	assert.Equal(t, 200, total)
}

func TestRemoteDebuggerMissingToken(t *testing.T) {
	out, err := MakeRemoteDebugger(RemoteOptions{})
	assert.Error(t, err)
	assert.Nil(t, out)
}

func TestRemoteDebuggerUploadsReport(t *testing.T) {
	var (
		mu    sync.Mutex
		items []rollbarItem
		token string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var it rollbarItem
		if err := json.Unmarshal(b, &it); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		items = append(items, it)
		token = r.Header.Get("X-Rollbar-Access-Token")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out, err := MakeRemoteDebugger(RemoteOptions{ClientID: "client-1", Token: "rb-token", Endpoint: srv.URL})
	require.NoError(t, err)
	require.NoError(t, out(DebugEvent{E: EventGetStart}))
	require.NoError(t, out(DebugEvent{E: EventGetDone}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, items, 1)
	assert.Equal(t, "rb-token", token)
	assert.Equal(t, "client-1", items[0].Data.Person.ID)
	assert.Equal(t, "debug", items[0].Data.Level)
	assert.Len(t, items[0].Data.Body.Message.Report.Events, 2)
}

func TestRemoteDebuggerStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	out, err := MakeRemoteDebugger(RemoteOptions{Token: "t", Endpoint: srv.URL})
	require.NoError(t, err)
	err = out(DebugEvent{E: EventLoadFail})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}
