package daq

import (
	"fmt"
	"sync"
)

// Signal 一个逻辑通道，按字段位置识别
type Signal struct {
	Index  int
	Label  string
	Window *SampleWindow
}

// SignalSnapshot 某一时刻一个信号窗口的只读副本
type SignalSnapshot struct {
	Index int       `json:"index"`
	Label string    `json:"label"`
	X     []float64 `json:"x"`
	Y     []float64 `json:"y"`
}

// SampleStore 持有一次会话的全部信号窗口
// Apply 持写锁把一行的所有采样一次写完，Snapshot 持读锁，
// 因此读者不会看到只更新了一半信号的行
type SampleStore struct {
	mu      sync.RWMutex
	width   int
	signals []*Signal
	lines   uint64
}

func NewSampleStore(width int) (*SampleStore, error) {
	if width <= 0 {
		return nil, invalidConfig("window_width", width, "must be a positive integer")
	}
	return &SampleStore{width: width}, nil
}

// Init 按 schema 创建信号，只在 schema 建立时调用一次
func (s *SampleStore) Init(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.signals = make([]*Signal, count)
	for i := range s.signals {
		// width 已校验过
		w, _ := NewSampleWindow(s.width)
		s.signals[i] = &Signal{
			Index:  i,
			Label:  fmt.Sprintf("Signal %d", i+1),
			Window: w,
		}
	}
}

// Apply 写入一行的采样批次
func (s *SampleStore) Apply(batch []Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, smp := range batch {
		if smp.Signal < 0 || smp.Signal >= len(s.signals) {
			continue
		}
		s.signals[smp.Signal].Window.Push(smp)
	}
	s.lines++
}

// Snapshot 返回所有信号窗口的副本
func (s *SampleStore) Snapshot() []SignalSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// View 同时返回已写入行数和窗口副本，两者属于同一时刻
func (s *SampleStore) View() (lines uint64, signals []SignalSnapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lines, s.snapshotLocked()
}

func (s *SampleStore) snapshotLocked() []SignalSnapshot {
	out := make([]SignalSnapshot, len(s.signals))
	for i, sig := range s.signals {
		samples := sig.Window.Snapshot()
		snap := SignalSnapshot{
			Index: sig.Index,
			Label: sig.Label,
			X:     make([]float64, len(samples)),
			Y:     make([]float64, len(samples)),
		}
		for j, smp := range samples {
			snap.X[j] = smp.X
			snap.Y[j] = smp.Value
		}
		out[i] = snap
	}
	return out
}

// Samples 返回单个信号的采样副本
func (s *SampleStore) Samples(signal int) ([]Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if signal < 0 || signal >= len(s.signals) {
		return nil, false
	}
	return s.signals[signal].Window.Snapshot(), true
}

// Resize 运行中修改窗口宽度，对所有信号生效
func (s *SampleStore) Resize(width int) error {
	if width <= 0 {
		return invalidConfig("window_width", width, "must be a positive integer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sig := range s.signals {
		if err := sig.Window.Resize(width); err != nil {
			return err
		}
	}
	s.width = width
	return nil
}

func (s *SampleStore) Width() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width
}

func (s *SampleStore) SignalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.signals)
}

// Lines 已写入的行数
func (s *SampleStore) Lines() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lines
}
