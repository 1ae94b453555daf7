package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"daq"
)

// ============================================================================
// 1. 行流生成器 (Stream Synthesizer)
// ============================================================================

type StreamConfig struct {
	Signals   int     // 每行的信号数
	Lines     int     // 总行数
	TimeMode  bool    // 每行前面加毫秒时间戳
	GarbleP   float64 // 行被破坏成非数字的概率 (模拟波特率抖动)
	MismatchP float64 // 行少一个字段的概率 (模拟丢字节)
}

// Expected 生成时记下的正确结果，用来给采集结果打分
type Expected struct {
	Accepted   uint64
	ParseError uint64
	Mismatch   uint64
}

type StreamGenerator struct {
	Config StreamConfig
	rng    *rand.Rand
}

func NewStreamGenerator(cfg StreamConfig, seed int64) *StreamGenerator {
	return &StreamGenerator{Config: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Generate 生成完整的字节流，第一行总是正常的，用来建立 schema
func (g *StreamGenerator) Generate() ([]byte, Expected) {
	var sb strings.Builder
	var exp Expected
	fields := g.Config.Signals
	if g.Config.TimeMode {
		fields++
	}

	for i := 0; i < g.Config.Lines; i++ {
		row := make([]string, 0, fields)
		if g.Config.TimeMode {
			row = append(row, strconv.Itoa(i*10))
		}
		for s := 0; s < g.Config.Signals; s++ {
			v := 512 + 400*math.Sin(2*math.Pi*float64(i)/float64(50+s*13))
			row = append(row, strconv.FormatFloat(v, 'f', 2, 64))
		}

		switch r := g.rng.Float64(); {
		case i > 0 && r < g.Config.GarbleP:
			row[len(row)-1] = "\x7f#"
			exp.ParseError++
		case i > 0 && r < g.Config.GarbleP+g.Config.MismatchP:
			row = row[:len(row)-1]
			if len(row) == 0 {
				// 只剩空行也算解析失败
				exp.ParseError++
			} else {
				exp.Mismatch++
			}
		default:
			exp.Accepted++
		}
		sb.WriteString(strings.Join(row, " "))
		sb.WriteString("\r\n")
	}
	return []byte(sb.String()), exp
}

// ============================================================================
// 2. 模拟串口 (Chunked Port)
// ============================================================================

// chunkPort 每次返回随机长度的数据块，数据读完后报告回放结束
type chunkPort struct {
	data     []byte
	maxChunk int
	rng      *rand.Rand
}

func (p *chunkPort) Read(b []byte) (int, error) {
	if len(p.data) == 0 {
		return 0, daq.ErrEndOfReplay
	}
	n := 1 + p.rng.Intn(p.maxChunk)
	if n > len(b) {
		n = len(b)
	}
	if n > len(p.data) {
		n = len(p.data)
	}
	copy(b, p.data[:n])
	p.data = p.data[n:]
	return n, nil
}

func (p *chunkPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *chunkPort) Close() error                { return nil }

// ============================================================================
// 3. 测试运行器 (Test Runner)
// ============================================================================

type TestCase struct {
	Name     string
	Stream   StreamConfig
	MaxChunk int
	Width    int
}

type Result struct {
	Stats   daq.Stats
	Elapsed time.Duration
	Err     error
}

func runCase(tc TestCase, data []byte, seed int64) Result {
	cfg := daq.DefaultConfig()
	cfg.Serial.DiscardFirstLine = false
	cfg.Serial.DataTimeout = 0
	cfg.Session.WindowWidth = tc.Width
	cfg.Session.TimeMode = tc.Stream.TimeMode

	port := &chunkPort{data: data, maxChunk: tc.MaxChunk, rng: rand.New(rand.NewSource(seed))}
	acq, err := daq.NewAcquisition(cfg,
		daq.WithOpener(func(*daq.Config) (daq.SerialPort, error) { return port, nil }),
		daq.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return Result{Err: err}
	}

	start := time.Now()
	if err := acq.Connect(context.Background()); err != nil {
		return Result{Err: err}
	}
	if err := acq.Start(); err != nil {
		return Result{Err: err}
	}
	<-acq.Done()
	elapsed := time.Since(start)

	res := Result{Stats: acq.Stats(), Elapsed: elapsed}
	if err := acq.Err(); err != nil && !isEndOfStream(err) {
		res.Err = err
	}
	return res
}

func isEndOfStream(err error) bool {
	return errors.Is(err, daq.ErrEndOfReplay)
}

func RunBenchmark(testCases []TestCase) bool {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CASE\tSIGNALS\tLINES\tCHUNK\tGARBLE\tMISMATCH\tACCEPTED\tTIME(ms)\tLINES/s\tSTATUS")
	fmt.Fprintln(w, "----\t-------\t-----\t-----\t------\t--------\t--------\t--------\t-------\t------")

	allPass := true
	for i, tc := range testCases {
		seed := int64(i + 1)
		data, exp := NewStreamGenerator(tc.Stream, seed).Generate()
		res := runCase(tc, data, seed)

		status := "PASS"
		switch {
		case res.Err != nil:
			status = "ERROR: " + res.Err.Error()
		case res.Stats.Accepted != exp.Accepted ||
			res.Stats.ParseError != exp.ParseError ||
			res.Stats.Mismatch != exp.Mismatch:
			status = fmt.Sprintf("FAIL (want %d/%d/%d got %d/%d/%d)",
				exp.Accepted, exp.ParseError, exp.Mismatch,
				res.Stats.Accepted, res.Stats.ParseError, res.Stats.Mismatch)
		}
		if status != "PASS" {
			allPass = false
		}

		rate := float64(tc.Stream.Lines) / res.Elapsed.Seconds()
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.0f%%\t%.0f%%\t%d\t%d\t%.0f\t%s\n",
			tc.Name, tc.Stream.Signals, tc.Stream.Lines, tc.MaxChunk,
			tc.Stream.GarbleP*100, tc.Stream.MismatchP*100,
			res.Stats.Accepted, res.Elapsed.Milliseconds(), rate, status)
	}
	w.Flush()
	return allPass
}

// ============================================================================
// Main Entry
// ============================================================================

func main() {
	fmt.Println("Starting DAQ Pipeline Benchmark Suite...")
	fmt.Println("========================================")

	testCases := []TestCase{
		{Name: "Level 1 (Clean)", Stream: StreamConfig{Signals: 2, Lines: 20000}, MaxChunk: 64, Width: 500},
		{Name: "Level 1 (Time)", Stream: StreamConfig{Signals: 2, Lines: 20000, TimeMode: true}, MaxChunk: 64, Width: 500},
		{Name: "Level 2 (Garbled)", Stream: StreamConfig{Signals: 4, Lines: 20000, GarbleP: 0.05}, MaxChunk: 16, Width: 1000},
		{Name: "Level 2 (Dropped)", Stream: StreamConfig{Signals: 4, Lines: 20000, MismatchP: 0.05}, MaxChunk: 16, Width: 1000},
		{Name: "Level 3 (Noisy)", Stream: StreamConfig{Signals: 8, Lines: 50000, GarbleP: 0.1, MismatchP: 0.1}, MaxChunk: 3, Width: 5000},
	}

	ok := RunBenchmark(testCases)
	fmt.Println("\nBenchmark Complete.")
	if !ok {
		os.Exit(1)
	}
}
