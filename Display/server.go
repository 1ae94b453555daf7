package Display

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"daq"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Source 显示端需要的采集接口，*daq.Acquisition 实现了它
// 显示端只读，从不修改窗口
type Source interface {
	Snapshot() daq.DisplayUpdate
	Samples(signal int) ([]daq.Sample, bool)
	Schema() (daq.SessionSchema, bool)
	State() daq.State
	Stats() daq.Stats
	Config() *daq.Config
	SubscribeStatus(buffer int) (<-chan daq.StatusEvent, func())
}

// Envelope websocket 消息外层，按 Type 区分 update/status
type Envelope struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // Unix 毫秒
	Payload   any    `json:"payload"`
}

// StatusReport /status 的返回内容
type StatusReport struct {
	State     daq.State          `json:"state"`
	SessionID string             `json:"session_id,omitempty"`
	Schema    *daq.SessionSchema `json:"schema,omitempty"`
	Stats     daq.Stats          `json:"stats"`
	Window    int                `json:"window_width"`
}

// Server 通过 HTTP/websocket 提供实时显示
// 按固定周期取快照推送，和采集节奏解耦
type Server struct {
	src      Source
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	refresh  time.Duration
	analyzer *daq.SpectrumAnalyzer
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mu     sync.Mutex
	server *http.Server
	wg     sync.WaitGroup
	quit   chan struct{}
}

// NewServer gatherer 为 nil 时不提供 /metrics
func NewServer(src Source, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	refresh := src.Config().Display.RefreshInterval
	if refresh <= 0 {
		refresh = 100 * time.Millisecond
	}

	s := &Server{
		src:      src,
		gatherer: gatherer,
		logger:   logger.With("component", "display"),
		refresh:  refresh,
		analyzer: daq.NewSpectrumAnalyzer(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 本地显示工具，允许任意来源
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux:  http.NewServeMux(),
		quit: make(chan struct{}),
	}

	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /plot.png", s.handlePlot)
	s.mux.HandleFunc("GET /spectrum", s.handleSpectrum)
	if gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe 阻塞直到 Shutdown
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("display server listening", "addr", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown 关闭 HTTP 服务和所有 websocket 连接
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.src.Snapshot())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.report())
}

func (s *Server) report() StatusReport {
	rep := StatusReport{
		State:  s.src.State(),
		Stats:  s.src.Stats(),
		Window: s.src.Config().Session.WindowWidth,
	}
	snap := s.src.Snapshot()
	rep.SessionID = snap.SessionID
	if schema, ok := s.src.Schema(); ok {
		rep.Schema = &schema
	}
	return rep
}

func (s *Server) handlePlot(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := RenderPNG(&buf, s.src.Snapshot(), StyleFromConfig(s.src.Config())); err != nil {
		if errors.Is(err, ErrNotEnoughData) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		s.logger.Error("render plot", "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// handleSpectrum 单个信号窗口的幅度谱
// 时间模式下由 x 值估算采样率，否则以"每行"为单位
func (s *Server) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	signal := 0
	if v := r.URL.Query().Get("signal"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "signal must be an integer", http.StatusBadRequest)
			return
		}
		signal = n
	}
	samples, ok := s.src.Samples(signal)
	if !ok {
		http.Error(w, "no such signal", http.StatusNotFound)
		return
	}

	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, smp := range samples {
		xs[i] = smp.X
		ys[i] = smp.Value
	}
	rate := 1.0
	if schema, ok := s.src.Schema(); ok && schema.TimeMode {
		rate = daq.EstimateSampleRate(xs, s.src.Config().Display.XScale)
	}
	writeJSON(w, http.StatusOK, s.analyzer.Analyze(signal, ys, rate))
}

// handleWebSocket 每个连接一个写循环: 定时推送最新快照，状态变化立即推送
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "error", err)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer conn.Close()

	status, cancel := s.src.SubscribeStatus(16)
	defer cancel()

	// 读循环只用来发现客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	send := func(typ string, payload any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(Envelope{Type: typ, Timestamp: time.Now().UnixMilli(), Payload: payload})
	}

	if err := send("status", s.report()); err != nil {
		return
	}

	var lastSession string
	lastLines := ^uint64(0)
	for {
		select {
		case <-s.quit:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(time.Second))
			return
		case <-closed:
			return
		case ev, ok := <-status:
			if !ok {
				return
			}
			if err := send("status", ev); err != nil {
				return
			}
		case <-ticker.C:
			snap := s.src.Snapshot()
			// 没有新数据就不推送
			if snap.SessionID == lastSession && snap.Lines == lastLines {
				continue
			}
			lastSession, lastLines = snap.SessionID, snap.Lines
			if err := send("update", snap); err != nil {
				s.logger.Debug("websocket write", "error", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
