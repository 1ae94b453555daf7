package daq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// DAQSystem 管理采集、记录和控制台命令的生命周期
type DAQSystem struct {
	acq      *Acquisition
	registry *prometheus.Registry
	logger   *slog.Logger
	out      io.Writer
	outMu    sync.Mutex

	mu           sync.Mutex
	ctx          context.Context
	statusCancel func()
	watchDone    chan struct{}
}

// NewDAQSystem 创建系统实例，指标注册到系统自己的 registry
func NewDAQSystem(cfg *Config, logger *slog.Logger, opts ...Option) (*DAQSystem, error) {
	if logger == nil {
		logger = slog.Default()
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := NewMetrics(registry)
	if err != nil {
		return nil, err
	}

	opts = append([]Option{WithLogger(logger), WithMetrics(metrics)}, opts...)
	acq, err := NewAcquisition(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &DAQSystem{
		acq:      acq,
		registry: registry,
		logger:   logger.With("component", "system"),
		out:      os.Stdout,
	}, nil
}

// SetOutput 控制台输出目标
func (s *DAQSystem) SetOutput(w io.Writer) {
	s.outMu.Lock()
	s.out = w
	s.outMu.Unlock()
}

// printf 状态 goroutine 和命令处理都会输出，串行化写入
func (s *DAQSystem) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *DAQSystem) Acquisition() *Acquisition { return s.acq }

func (s *DAQSystem) Registry() *prometheus.Registry { return s.registry }

// Start 连接数据源并开始采集，状态变化打印到控制台
func (s *DAQSystem) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	if s.statusCancel == nil {
		ch, cancel := s.acq.SubscribeStatus(32)
		s.statusCancel = cancel
		s.watchDone = make(chan struct{})
		go s.watchStatus(ch)
	}
	s.mu.Unlock()

	if err := s.acq.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := s.acq.Start(); err != nil {
		_ = s.acq.Stop()
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

// Stop 停止采集并释放所有资源
func (s *DAQSystem) Stop() {
	if err := s.acq.Stop(); err != nil {
		s.logger.Warn("stop", "error", err)
	}

	s.mu.Lock()
	cancel := s.statusCancel
	done := s.watchDone
	s.statusCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *DAQSystem) watchStatus(ch <-chan StatusEvent) {
	defer close(s.watchDone)
	for ev := range ch {
		switch ev.State {
		case StateDisconnected:
			s.printf("\n[%s] %s\n", strings.ToUpper(ev.State.String()), ev.Reason)
			if errors.Is(ev.Err, ErrNoData) {
				s.printf("No serial data received. Check the port and baud rate.\n")
			}
		case StateIdle:
		default:
			s.printf("[%s] %s\n", strings.ToUpper(ev.State.String()), ev.Port)
		}
	}
}

// HandleInput 处理控制台命令
func (s *DAQSystem) HandleInput(text string) error {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	// 命令和开关不区分大小写，路径保持原样
	fields[0] = strings.ToLower(fields[0])

	err := s.handleCommand(fields)
	if err != nil {
		s.printf("Error: %v\n", err)
	}
	return err
}

func (s *DAQSystem) handleCommand(fields []string) error {
	switch fields[0] {
	case "start":
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		return s.Start(ctx)

	case "stop":
		return s.acq.Stop()

	case "rec":
		if len(fields) > 1 && strings.EqualFold(fields[1], "stop") {
			if err := s.acq.StopRecording(); err != nil {
				return err
			}
			s.printf("Recording saved.\n")
			return nil
		}
		dir := ""
		if len(fields) > 1 {
			dir = fields[1]
		}
		path, err := s.acq.StartRecording(dir)
		if err != nil {
			return err
		}
		s.printf("Recording to %s\n", path)
		return nil

	case "width":
		if len(fields) < 2 {
			return invalidConfig("session.window_width", "", "usage: width N")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return invalidConfig("session.window_width", fields[1], "not an integer")
		}
		return s.acq.SetWindowWidth(n)

	case "time":
		mode := ""
		if len(fields) > 1 {
			mode = strings.ToLower(fields[1])
		}
		if mode != "on" && mode != "off" {
			return invalidConfig("session.time_mode", mode, "usage: time on|off")
		}
		s.acq.SetTimeMode(mode == "on")
		s.printf("Time mode takes effect on next start.\n")
		return nil

	case "status":
		s.printStatus()
		return nil

	case "help":
		s.printf("Commands: start, stop, rec [dir], rec stop, width N, time on|off, status, exit\n")
		return nil
	}
	return fmt.Errorf("unknown command %q", fields[0])
}

func (s *DAQSystem) printStatus() {
	st := s.acq.Stats()
	cfg := s.acq.Config()
	s.printf("State: %s  Session: %s\n", s.acq.State(), s.acq.SessionID())
	if schema, ok := s.acq.Schema(); ok {
		s.printf("Fields: %d  Signals: %d  Time mode: %v\n",
			schema.FieldCount, schema.SignalCount(), schema.TimeMode)
	}
	s.printf("Window: %d  Lines: %d accepted, %d parse errors, %d mismatches, %d overflows\n",
		cfg.Session.WindowWidth, st.Accepted, st.ParseError, st.Mismatch, st.Overflow)
	if path, ok := s.acq.Recording(); ok {
		s.printf("Recording: %s (%d lines)\n", path, st.Recorded)
	}
}
