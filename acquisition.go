package daq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State 采集状态机: Idle → Connected → Running → Stopped/Disconnected → Idle
type State int

const (
	StateIdle State = iota
	StateConnected
	StateRunning
	StateStopped
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// StatusEvent 连接状态变化，Disconnected 时 Err 一定非空
type StatusEvent struct {
	State     State     `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	Port      string    `json:"port,omitempty"`
	Err       error     `json:"-"`
	Reason    string    `json:"reason,omitempty"`
	Time      time.Time `json:"time"`
}

// DisplayUpdate 每接受一行发出一次，携带所有信号窗口的副本
type DisplayUpdate struct {
	SessionID string           `json:"session_id"`
	Lines     uint64           `json:"lines"`
	TimeMode  bool             `json:"time_mode"`
	Signals   []SignalSnapshot `json:"signals"`
}

// Stats 当前会话的行统计
type Stats struct {
	Accepted   uint64 `json:"accepted"`
	ParseError uint64 `json:"parse_errors"`
	Mismatch   uint64 `json:"schema_mismatches"`
	Overflow   uint64 `json:"overflows"`
	Recorded   uint64 `json:"recorded"`
}

// session 一次 Connect 到 Stop/Disconnect 之间的全部状态
type session struct {
	id      string
	started time.Time
	cfg     *Config
	port    SerialPort
	device  string // 用于检测拔出，回放时为空

	schema *SignalSchema
	demux  *Demultiplexer // 只在采集 goroutine 中访问
	store  *SampleStore
	seq    uint64 // 只在采集 goroutine 中访问

	accepted, parseErrs, mismatches, overflows, recorded atomic.Uint64

	ctx     context.Context
	cancel  context.CancelFunc
	release func() error
	done    chan struct{}
	err     error
}

// Acquisition 采集循环，串口数据的唯一生产者
type Acquisition struct {
	mu    sync.Mutex
	cfg   *Config
	state State
	sess  *session

	opener  Opener
	logger  *slog.Logger
	metrics *Metrics

	recMu     sync.Mutex
	rec       Recorder
	recPath   string
	recPolicy RecordPolicy

	updates *broker[DisplayUpdate]
	status  *broker[StatusEvent]
}

// Option 配置 Acquisition
type Option func(*Acquisition)

// WithOpener 替换数据源，测试时注入 Mock 串口
func WithOpener(opener Opener) Option {
	return func(a *Acquisition) { a.opener = opener }
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Acquisition) { a.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(a *Acquisition) { a.metrics = m }
}

// NewAcquisition 创建采集实例，cfg 会被拷贝
func NewAcquisition(cfg *Config, opts ...Option) (*Acquisition, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Acquisition{
		cfg:    cfg.Clone(),
		opener: DefaultOpener,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		m, err := NewMetrics(nil)
		if err != nil {
			return nil, err
		}
		a.metrics = m
	}
	a.logger = a.logger.With("component", "acquisition")
	a.updates = newBroker[DisplayUpdate](func() { a.metrics.DroppedUpdates.Inc() })
	a.status = newBroker[StatusEvent](func() {
		a.logger.Warn("status subscriber too slow, event dropped")
	})
	a.metrics.WindowWidth.Set(float64(a.cfg.Session.WindowWidth))
	return a, nil
}

// Connect 打开串口并建立新会话，之前会话的 schema 和窗口全部丢弃
// ctx 取消时正在进行的采集也会停止
func (a *Acquisition) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateConnected || a.state == StateRunning {
		return ErrBusy
	}

	cfg := a.cfg.Clone()
	store, err := NewSampleStore(cfg.Session.WindowWidth)
	if err != nil {
		return err
	}

	port, err := a.opener(cfg)
	if err != nil {
		a.logger.Error("connect failed", "port", cfg.Serial.Port, "error", err)
		if errors.Is(err, ErrInvalidConfiguration) || errors.Is(err, ErrDeviceIO) {
			return err
		}
		return &DeviceIOError{Port: cfg.Serial.Port, Op: "open", Err: err}
	}

	runCtx, cancel := context.WithCancel(ctx)
	sess := &session{
		id:      uuid.NewString(),
		started: time.Now(),
		cfg:     cfg,
		port:    port,
		schema:  NewSignalSchema(cfg.Session.TimeMode),
		store:   store,
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if cfg.Serial.ReplayFile == "" {
		sess.device = cfg.Serial.Port
	}
	var once sync.Once
	sess.release = func() error {
		var err error
		once.Do(func() {
			err = port.Close()
			a.logger.Debug("port released", "port", cfg.Serial.Port, "session", sess.id)
		})
		return err
	}
	// ctx 取消时关闭端口，让阻塞中的 Read 立即返回
	context.AfterFunc(runCtx, func() { _ = sess.release() })

	a.sess = sess
	a.metrics.Sessions.Inc()
	a.metrics.Signals.Set(0)
	a.logger.Info("connected", "port", cfg.Serial.Port, "baud", cfg.Serial.BaudRate,
		"session", sess.id, "time_mode", cfg.Session.TimeMode)
	a.setStateLocked(StateConnected, nil)
	return nil
}

// Start 开始读取数据
func (a *Acquisition) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case StateRunning:
		return ErrAlreadyRunning
	case StateConnected:
	default:
		return ErrNotConnected
	}

	sess := a.sess
	a.setStateLocked(StateRunning, nil)
	go a.run(sess)
	return nil
}

// Stop 停止采集并释放串口，等待时间不超过一次读超时
// 没有进行中的会话时直接返回
func (a *Acquisition) Stop() error {
	a.mu.Lock()
	sess := a.sess
	state := a.state

	switch state {
	case StateConnected:
		// 还没有采集 goroutine，直接在这里收尾
		sess.cancel()
		err := sess.release()
		a.closeRecording()
		close(sess.done)
		a.setStateLocked(StateStopped, nil)
		a.setStateLocked(StateIdle, nil)
		a.mu.Unlock()
		return err

	case StateRunning:
		a.mu.Unlock()
		sess.cancel()
		// 关闭端口让阻塞中的 Read 尽快返回
		err := sess.release()
		<-sess.done
		return err

	default:
		a.mu.Unlock()
		return nil
	}
}

// run 采集 goroutine: 读字节 → 拼行 → 解码 → 校验 → 分发 → 写窗口
func (a *Acquisition) run(sess *session) {
	defer close(sess.done)

	cfg := sess.cfg
	asm := NewLineAssembler(cfg.Serial.MaxLineLength, cfg.Serial.DiscardFirstLine)
	buf := make([]byte, 4096)
	started := time.Now()
	gotData := false
	warnedBaud := false

	var runErr error
	for sess.ctx.Err() == nil {
		n, err := sess.port.Read(buf)
		if n > 0 {
			gotData = true
			a.metrics.BytesRead.Add(float64(n))

			before := asm.Overflows
			asm.Feed(buf[:n], func(line string) {
				a.processLine(sess, line)
			})
			if dropped := asm.Overflows - before; dropped > 0 {
				sess.overflows.Add(uint64(dropped))
				a.metrics.Lines.WithLabelValues(resultOverflow).Add(float64(dropped))
				if !warnedBaud {
					warnedBaud = true
					a.logger.Warn("line exceeds max length without terminator, perhaps the wrong baud rate was set?",
						"max_line_length", cfg.Serial.MaxLineLength, "baud", cfg.Serial.BaudRate)
				}
			}
		}
		if err == nil {
			continue
		}
		if sess.ctx.Err() != nil {
			break
		}

		timeout, cause := classifyReadError(err)
		if !timeout {
			runErr = &DeviceIOError{Port: cfg.Serial.Port, Op: "read", Err: cause}
			break
		}
		// 读超时: 检查设备是否还在，以及是否一直没有数据
		if !devicePresent(sess.device) {
			runErr = &DeviceIOError{Port: cfg.Serial.Port, Op: "read", Err: ErrDeviceRemoved}
			break
		}
		if !gotData && cfg.Serial.DataTimeout > 0 && time.Since(started) > cfg.Serial.DataTimeout {
			runErr = &DeviceIOError{Port: cfg.Serial.Port, Op: "wait", Err: ErrNoData}
			break
		}
		if n == 0 {
			select {
			case <-sess.ctx.Done():
			case <-time.After(idleBackoff(cfg.Serial.ReadTimeout)):
			}
		}
	}

	if asm.Pending() > 0 {
		a.logger.Debug("discarding partial line", "bytes", asm.Pending())
	}
	a.finish(sess, runErr)
}

// idleBackoff 有些平台超时读会立即返回，避免空转
func idleBackoff(readTimeout time.Duration) time.Duration {
	const maxWait = 10 * time.Millisecond
	if readTimeout < maxWait {
		return readTimeout
	}
	return maxWait
}

// finish 运行结束: 释放串口，关闭记录，报告 Stopped 或 Disconnected
func (a *Acquisition) finish(sess *session, runErr error) {
	sess.cancel()
	if err := sess.release(); err != nil {
		a.logger.Debug("port close", "error", err)
	}
	a.closeRecording()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess != sess {
		return
	}
	if runErr != nil {
		sess.err = runErr
		var dev *DeviceIOError
		op := "read"
		if errors.As(runErr, &dev) {
			op = dev.Op
		}
		a.metrics.Disconnects.WithLabelValues(op).Inc()
		a.logger.Error("disconnected", "port", sess.cfg.Serial.Port, "session", sess.id, "error", runErr)
		a.setStateLocked(StateDisconnected, runErr)
	} else {
		a.logger.Info("stopped", "session", sess.id, "lines", sess.accepted.Load())
		a.setStateLocked(StateStopped, nil)
	}
	a.setStateLocked(StateIdle, nil)
}

// processLine 处理一行，解析失败和 schema 不符只计数，不影响采集
func (a *Acquisition) processLine(sess *session, line string) {
	fields, err := DecodeLine(line)
	if err != nil {
		sess.parseErrs.Add(1)
		a.metrics.Lines.WithLabelValues(resultParse).Inc()
		a.logger.Debug("line dropped", "error", err)
		a.record(sess, line, false)
		return
	}

	established, err := sess.schema.Observe(fields)
	if err != nil {
		sess.mismatches.Add(1)
		a.metrics.Lines.WithLabelValues(resultMismatch).Inc()
		a.logger.Debug("line dropped", "error", err)
		a.record(sess, line, false)
		return
	}
	if established {
		schema, _ := sess.schema.Schema()
		sess.demux = NewDemultiplexer(schema)
		sess.store.Init(schema.SignalCount())
		a.metrics.Signals.Set(float64(schema.SignalCount()))
		a.logger.Info("schema established", "session", sess.id,
			"fields", schema.FieldCount, "signals", schema.SignalCount(), "time_mode", schema.TimeMode)
	}

	batch, err := sess.demux.Route(fields, sess.seq)
	if err != nil {
		// Observe 已经校验过字段数，这里不应该发生
		sess.mismatches.Add(1)
		a.logger.Warn("route failed", "error", err)
		return
	}
	sess.seq++
	sess.store.Apply(batch)
	sess.accepted.Add(1)
	a.metrics.Lines.WithLabelValues(resultAccepted).Inc()

	a.record(sess, line, true)

	if a.updates.active() {
		lines, signals := sess.store.View()
		a.updates.publish(DisplayUpdate{
			SessionID: sess.id,
			Lines:     lines,
			TimeMode:  sess.cfg.Session.TimeMode,
			Signals:   signals,
		})
	}
}

func (a *Acquisition) record(sess *session, line string, accepted bool) {
	a.recMu.Lock()
	defer a.recMu.Unlock()
	if a.rec == nil {
		return
	}
	if !accepted && a.recPolicy != RecordAll {
		return
	}
	a.rec.Append(line)
	sess.recorded.Add(1)
	a.metrics.RecordedLines.Inc()
}

// StartRecording 开始记录当前会话，文件名由会话开始时间决定
// dir 为空时使用配置中的目录；已经在记录时返回当前路径
func (a *Acquisition) StartRecording(dir string) (string, error) {
	a.mu.Lock()
	sess := a.sess
	state := a.state
	cfg := a.cfg.Clone()
	a.mu.Unlock()

	if state != StateConnected && state != StateRunning {
		return "", ErrNotConnected
	}
	if dir == "" {
		dir = cfg.Recording.Directory
	}

	a.recMu.Lock()
	defer a.recMu.Unlock()
	if a.rec != nil {
		return a.recPath, nil
	}

	path := RecordPath(dir, sess.started)
	rec, err := NewFileRecorder(path, cfg.Recording.QueueSize, a.logger)
	if err != nil {
		return "", err
	}
	a.rec = rec
	a.recPath = path
	a.recPolicy = cfg.Recording.Policy
	a.logger.Info("recording started", "path", path, "policy", a.recPolicy)
	return path, nil
}

// StopRecording 刷新并关闭记录文件
func (a *Acquisition) StopRecording() error {
	return a.closeRecording()
}

func (a *Acquisition) closeRecording() error {
	a.recMu.Lock()
	rec := a.rec
	a.rec = nil
	a.recPath = ""
	a.recMu.Unlock()

	if rec == nil {
		return nil
	}
	return rec.Close()
}

// Recording 返回当前记录文件路径
func (a *Acquisition) Recording() (path string, ok bool) {
	a.recMu.Lock()
	defer a.recMu.Unlock()
	return a.recPath, a.rec != nil
}

// SetWindowWidth 运行中修改窗口宽度，同时作为之后会话的默认值
func (a *Acquisition) SetWindowWidth(width int) error {
	if width <= 0 {
		return invalidConfig("session.window_width", width, "must be a positive integer")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sess != nil && (a.state == StateConnected || a.state == StateRunning) {
		if err := a.sess.store.Resize(width); err != nil {
			return err
		}
	}
	a.cfg.Session.WindowWidth = width
	a.metrics.WindowWidth.Set(float64(width))
	return nil
}

// SetTimeMode 下次 Connect 时生效，不修改已建立的 schema
func (a *Acquisition) SetTimeMode(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Session.TimeMode = enabled
}

// Configure 修改配置，校验失败时保留原配置
// 串口参数和时间模式在下次 Connect 时生效，窗口宽度立即生效
func (a *Acquisition) Configure(update func(cfg *Config)) error {
	a.mu.Lock()
	next := a.cfg.Clone()
	update(next)
	if err := next.Validate(); err != nil {
		a.mu.Unlock()
		return err
	}
	width := next.Session.WindowWidth
	changed := width != a.cfg.Session.WindowWidth
	next.Session.WindowWidth = a.cfg.Session.WindowWidth
	a.cfg = next
	a.mu.Unlock()

	if changed {
		return a.SetWindowWidth(width)
	}
	return nil
}

// Config 返回当前配置的副本
func (a *Acquisition) Config() *Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Clone()
}

func (a *Acquisition) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SessionID 当前 (或最近一次) 会话的 ID
func (a *Acquisition) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess == nil {
		return ""
	}
	return a.sess.id
}

// Schema 当前会话的 schema，尚未收到有效行时 ok=false
func (a *Acquisition) Schema() (SessionSchema, bool) {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil {
		return SessionSchema{}, false
	}
	return sess.schema.Schema()
}

// Snapshot 当前所有窗口的副本；会话结束后仍可读取，直到下次 Connect
func (a *Acquisition) Snapshot() DisplayUpdate {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil {
		return DisplayUpdate{}
	}
	lines, signals := sess.store.View()
	return DisplayUpdate{
		SessionID: sess.id,
		Lines:     lines,
		TimeMode:  sess.cfg.Session.TimeMode,
		Signals:   signals,
	}
}

// Samples 单个信号窗口的采样副本
func (a *Acquisition) Samples(signal int) ([]Sample, bool) {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil {
		return nil, false
	}
	return sess.store.Samples(signal)
}

func (a *Acquisition) Stats() Stats {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil {
		return Stats{}
	}
	return Stats{
		Accepted:   sess.accepted.Load(),
		ParseError: sess.parseErrs.Load(),
		Mismatch:   sess.mismatches.Load(),
		Overflow:   sess.overflows.Load(),
		Recorded:   sess.recorded.Load(),
	}
}

// Done 当前会话结束时关闭
func (a *Acquisition) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sess.done
}

// Err 最近一次会话因设备错误结束时返回该错误
func (a *Acquisition) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess == nil {
		return nil
	}
	return a.sess.err
}

// SubscribeUpdates 订阅显示更新；订阅者处理太慢时更新会被丢弃
func (a *Acquisition) SubscribeUpdates(buffer int) (<-chan DisplayUpdate, func()) {
	return a.updates.subscribe(buffer)
}

// SubscribeStatus 订阅连接状态变化
func (a *Acquisition) SubscribeStatus(buffer int) (<-chan StatusEvent, func()) {
	return a.status.subscribe(buffer)
}

func (a *Acquisition) setStateLocked(state State, err error) {
	a.state = state
	a.metrics.State.Set(float64(state))

	ev := StatusEvent{State: state, Err: err, Time: time.Now()}
	if a.sess != nil {
		ev.SessionID = a.sess.id
		ev.Port = a.sess.cfg.Serial.Port
	}
	if err != nil {
		ev.Reason = err.Error()
	}
	a.status.publish(ev)
}
