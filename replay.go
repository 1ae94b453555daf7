package daq

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"
)

// ReplayPort 把记录文件当作串口回放，按固定间隔逐行吐出数据
// 文件读完后 Read 返回 ErrEndOfReplay，采集循环据此结束本次运行
type ReplayPort struct {
	file     *os.File
	reader   *bufio.Reader
	interval time.Duration
	next     time.Time

	pending []byte
	mu      sync.Mutex
	closed  bool
	done    chan struct{}
}

// OpenReplay 打开回放文件
func OpenReplay(filename string, interval time.Duration) (*ReplayPort, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, &DeviceIOError{Port: filename, Op: "open", Err: err}
	}
	return &ReplayPort{
		file:     f,
		reader:   bufio.NewReader(f),
		interval: interval,
		done:     make(chan struct{}),
	}, nil
}

// Read 每次最多返回一行
func (r *ReplayPort) Read(p []byte) (int, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return 0, os.ErrClosed
	}

	if len(r.pending) == 0 {
		// 按间隔节流，模拟真实串口速率
		if wait := time.Until(r.next); wait > 0 {
			select {
			case <-time.After(wait):
			case <-r.done:
				return 0, os.ErrClosed
			}
		}
		line, err := r.reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return 0, fmt.Errorf("%s: %w", r.file.Name(), ErrEndOfReplay)
		}
		if line[len(line)-1] != '\n' {
			line = append(line, '\n')
		}
		r.pending = line
		r.next = time.Now().Add(r.interval)
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// Write 回放源不接受写入，直接丢弃
func (r *ReplayPort) Write(p []byte) (int, error) {
	return len(p), nil
}

func (r *ReplayPort) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.done)
	return r.file.Close()
}
