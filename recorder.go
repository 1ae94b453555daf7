package daq

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// RecordFileLayout 记录文件名格式，由会话开始时间决定
const RecordFileLayout = "2006-01-02_15_04_05"

// RecordFileExt 记录文件扩展名 (制表符/空白分隔文本)
const RecordFileExt = ".tab"

// Recorder 定义记录器接口
// 采集循环只依赖这个接口，不关心具体的文件操作
type Recorder interface {
	Append(line string)
	Close() error
}

// RecordPath 根据会话开始时间生成记录文件路径
func RecordPath(dir string, sessionStart time.Time) string {
	return filepath.Join(dir, sessionStart.Format(RecordFileLayout)+RecordFileExt)
}

// FileRecorder 是 Recorder 的文件实现
// Append 只把行放进队列，由后台 goroutine 写盘，队列满时丢行，不阻塞采集
type FileRecorder struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	lines  chan string
	done   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool

	written atomic.Uint64
	dropped atomic.Uint64
	werr    error // 写入错误，只在后台 goroutine 中设置，Close 之后读取
}

// NewFileRecorder 以追加方式打开记录文件
func NewFileRecorder(path string, queueSize int, logger *slog.Logger) (*FileRecorder, error) {
	if queueSize <= 0 {
		return nil, invalidConfig("recording.queue_size", queueSize, "must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}

	r := &FileRecorder{
		path:   path,
		file:   f,
		writer: bufio.NewWriter(f),
		lines:  make(chan string, queueSize),
		done:   make(chan struct{}),
		logger: logger.With("component", "recorder", "path", path),
	}
	go r.run()
	return r, nil
}

// Append 记录一行原始文本，保持原有的字段分隔
func (r *FileRecorder) Append(line string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.lines <- line:
	default:
		// 队列已满，丢弃以避免阻塞采集
		r.dropped.Add(1)
	}
}

func (r *FileRecorder) run() {
	defer close(r.done)
	for line := range r.lines {
		if r.werr != nil {
			r.dropped.Add(1)
			continue
		}
		if _, err := r.writer.WriteString(line + "\n"); err != nil {
			r.werr = err
			r.logger.Error("recording write failed", "error", err)
			continue
		}
		r.written.Add(1)
		// 队列空闲时刷盘，异常退出也不会丢太多
		if len(r.lines) == 0 {
			if err := r.writer.Flush(); err != nil {
				r.werr = err
				r.logger.Error("recording flush failed", "error", err)
			}
		}
	}
}

// Close 写完队列中的数据，刷新缓冲区并关闭文件，可重复调用
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.lines)
	r.mu.Unlock()

	<-r.done

	err := r.werr
	if ferr := r.writer.Flush(); err == nil {
		err = ferr
	}
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	r.logger.Info("recording closed", "lines", r.written.Load(), "dropped", r.dropped.Load())
	return err
}

func (r *FileRecorder) Path() string { return r.path }

// Written 已写入的行数
func (r *FileRecorder) Written() uint64 { return r.written.Load() }

// Dropped 因队列满或写入失败被丢弃的行数
func (r *FileRecorder) Dropped() uint64 { return r.dropped.Load() }

// NoOpRecorder 空实现，未开启记录时使用
type NoOpRecorder struct{}

func (NoOpRecorder) Append(string) {}
func (NoOpRecorder) Close() error  { return nil }
