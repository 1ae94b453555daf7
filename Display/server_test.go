package Display

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"daq"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource 固定数据的采集源
type fakeSource struct {
	mu     sync.Mutex
	update daq.DisplayUpdate
	schema *daq.SessionSchema
	state  daq.State
	cfg    *daq.Config
	status chan daq.StatusEvent
}

func newFakeSource(update daq.DisplayUpdate) *fakeSource {
	cfg := daq.DefaultConfig()
	cfg.Display.RefreshInterval = 10 * time.Millisecond
	cfg.Display.Width, cfg.Display.Height = 200, 120
	schema := daq.SessionSchema{FieldCount: len(update.Signals), TimeMode: update.TimeMode}
	if update.TimeMode {
		schema.FieldCount++
	}
	return &fakeSource{
		update: update,
		schema: &schema,
		state:  daq.StateRunning,
		cfg:    cfg,
		status: make(chan daq.StatusEvent, 4),
	}
}

func (f *fakeSource) Snapshot() daq.DisplayUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.update
}

func (f *fakeSource) Samples(signal int) ([]daq.Sample, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if signal < 0 || signal >= len(f.update.Signals) {
		return nil, false
	}
	sig := f.update.Signals[signal]
	out := make([]daq.Sample, len(sig.X))
	for i := range sig.X {
		out[i] = daq.Sample{Signal: signal, Seq: uint64(i), X: sig.X[i], Value: sig.Y[i]}
	}
	return out, true
}

func (f *fakeSource) Schema() (daq.SessionSchema, bool) {
	if f.schema == nil {
		return daq.SessionSchema{}, false
	}
	return *f.schema, true
}

func (f *fakeSource) State() daq.State    { return f.state }
func (f *fakeSource) Stats() daq.Stats    { return daq.Stats{Accepted: f.update.Lines} }
func (f *fakeSource) Config() *daq.Config { return f.cfg.Clone() }

func (f *fakeSource) SubscribeStatus(int) (<-chan daq.StatusEvent, func()) {
	return f.status, func() {}
}

func (f *fakeSource) setUpdate(u daq.DisplayUpdate) {
	f.mu.Lock()
	f.update = u
	f.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, src Source, gatherer prometheus.Gatherer) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(src, gatherer, testLogger())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
	})
	return s, ts
}

func sineUpdate(n int, timeMode bool) daq.DisplayUpdate {
	sig := daq.SignalSnapshot{Label: "Signal 1", X: make([]float64, n), Y: make([]float64, n)}
	for i := 0; i < n; i++ {
		sig.X[i] = float64(i)
		if timeMode {
			sig.X[i] = float64(i) * 10 // 毫秒
		}
		sig.Y[i] = math.Sin(2 * math.Pi * 0.1 * float64(i))
	}
	return daq.DisplayUpdate{SessionID: "abc", Lines: uint64(n), TimeMode: timeMode, Signals: []daq.SignalSnapshot{sig}}
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestServer_SnapshotAndStatus(t *testing.T) {
	src := newFakeSource(sineUpdate(20, false))
	_, ts := newTestServer(t, src, nil)

	var snap daq.DisplayUpdate
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/snapshot", &snap))
	assert.Equal(t, "abc", snap.SessionID)
	require.Len(t, snap.Signals, 1)
	assert.Len(t, snap.Signals[0].Y, 20)

	var rep struct {
		State  string             `json:"state"`
		Schema *daq.SessionSchema `json:"schema"`
		Stats  daq.Stats          `json:"stats"`
		Window int                `json:"window_width"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/status", &rep))
	assert.Equal(t, "running", rep.State)
	require.NotNil(t, rep.Schema)
	assert.Equal(t, 1, rep.Schema.FieldCount)
	assert.Equal(t, uint64(20), rep.Stats.Accepted)
	assert.Equal(t, daq.DefaultWindowWidth, rep.Window)

	resp, err := http.Post(ts.URL+"/snapshot", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_Plot(t *testing.T) {
	src := newFakeSource(sineUpdate(20, false))
	_, ts := newTestServer(t, src, nil)

	resp, err := http.Get(ts.URL + "/plot.png")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(string(body), "\x89PNG"))

	src.setUpdate(daq.DisplayUpdate{})
	resp, err = http.Get(ts.URL + "/plot.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_Spectrum(t *testing.T) {
	src := newFakeSource(sineUpdate(100, true))
	src.cfg.Display.XScale = 0.001
	_, ts := newTestServer(t, src, nil)

	var spec daq.Spectrum
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/spectrum?signal=0", &spec))
	// 10ms 间隔 => 100Hz 采样率，每 10 个采样一个周期 => 10Hz
	assert.InDelta(t, 100.0, spec.SampleRate, 1e-6)
	assert.InDelta(t, 10.0, spec.PeakFreq, 1.0)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/spectrum?signal=3", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/spectrum?signal=x", nil))
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "daq_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	_, ts := newTestServer(t, newFakeSource(sineUpdate(4, false)), reg)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "daq_test_total 1")

	// 没有 gatherer 时不提供
	_, bare := newTestServer(t, newFakeSource(sineUpdate(4, false)), nil)
	resp, err = http.Get(bare.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	var env struct {
		Type      string          `json:"type"`
		Timestamp int64           `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&env))
	assert.NotZero(t, env.Timestamp)
	return env.Type, env.Payload
}

func TestServer_WebSocket(t *testing.T) {
	src := newFakeSource(sineUpdate(10, false))
	s, ts := newTestServer(t, src, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	typ, _ := readEnvelope(t, conn)
	assert.Equal(t, "status", typ)

	typ, payload := readEnvelope(t, conn)
	require.Equal(t, "update", typ)
	var update daq.DisplayUpdate
	require.NoError(t, json.Unmarshal(payload, &update))
	assert.Equal(t, uint64(10), update.Lines)

	// 状态变化立即推送
	src.status <- daq.StatusEvent{State: daq.StateDisconnected, Reason: "unplugged", Time: time.Now()}
	typ, payload = readEnvelope(t, conn)
	require.Equal(t, "status", typ)
	assert.Contains(t, string(payload), `"state":"disconnected"`)
	assert.Contains(t, string(payload), "unplugged")

	// 有新行才会再次推送
	src.setUpdate(sineUpdate(12, false))
	typ, payload = readEnvelope(t, conn)
	require.Equal(t, "update", typ)
	require.NoError(t, json.Unmarshal(payload, &update))
	assert.Equal(t, uint64(12), update.Lines)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Shutdown(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not close websocket handlers")
	}
}
