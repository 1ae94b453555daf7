package daq

import "sync"

// Sample 某个信号在某一行上的一个取值
type Sample struct {
	Signal int     `json:"signal"`
	Seq    uint64  `json:"seq"`   // 会话内已接受行的序号
	X      float64 `json:"x"`     // 时间模式下为该行共享的 x 值，否则等于 Seq
	Value  float64 `json:"value"`
}

// SampleWindow 定长环形缓冲区，保存最近 capacity 个采样，溢出时丢弃最旧的
type SampleWindow struct {
	mu    sync.RWMutex
	items []Sample
	head  int // 最旧采样的位置
	size  int
}

// NewSampleWindow capacity 必须为正
func NewSampleWindow(capacity int) (*SampleWindow, error) {
	if capacity <= 0 {
		return nil, invalidConfig("window_width", capacity, "must be a positive integer")
	}
	return &SampleWindow{items: make([]Sample, capacity)}, nil
}

// Push 追加一个采样，满时覆盖最旧的
func (w *SampleWindow) Push(s Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.push(s)
}

func (w *SampleWindow) push(s Sample) {
	capacity := len(w.items)
	if w.size < capacity {
		w.items[(w.head+w.size)%capacity] = s
		w.size++
		return
	}
	w.items[w.head] = s
	w.head = (w.head + 1) % capacity
}

// Snapshot 返回当前内容的有序副本，调用方可随意持有
func (w *SampleWindow) Snapshot() []Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ordered()
}

func (w *SampleWindow) ordered() []Sample {
	out := make([]Sample, w.size)
	capacity := len(w.items)
	for i := 0; i < w.size; i++ {
		out[i] = w.items[(w.head+i)%capacity]
	}
	return out
}

// Resize 修改容量；缩小时立即从头部丢弃，放大不会找回已丢弃的采样
func (w *SampleWindow) Resize(capacity int) error {
	if capacity <= 0 {
		return invalidConfig("window_width", capacity, "must be a positive integer")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if capacity == len(w.items) {
		return nil
	}

	current := w.ordered()
	if len(current) > capacity {
		current = current[len(current)-capacity:]
	}
	items := make([]Sample, capacity)
	copy(items, current)

	w.items = items
	w.head = 0
	w.size = len(current)
	return nil
}

func (w *SampleWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.size
}

func (w *SampleWindow) Cap() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.items)
}
