package daq

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer 状态 goroutine 和测试同时访问输出
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestSystem(t *testing.T, ports ...SerialPort) (*DAQSystem, *syncBuffer) {
	t.Helper()
	var mu sync.Mutex
	opener := func(*Config) (SerialPort, error) {
		mu.Lock()
		defer mu.Unlock()
		require.NotEmpty(t, ports, "unexpected connect")
		p := ports[0]
		ports = ports[1:]
		return p, nil
	}
	cfg := testConfig()
	cfg.Recording.Directory = t.TempDir()
	sys, err := NewDAQSystem(cfg, testLogger(), WithOpener(opener))
	require.NoError(t, err)
	out := &syncBuffer{}
	sys.SetOutput(out)
	t.Cleanup(sys.Stop)
	return sys, out
}

func TestDAQSystem_Commands(t *testing.T) {
	port := newChanPort()
	sys, out := newTestSystem(t, port)
	require.NoError(t, sys.Start(context.Background()))
	acq := sys.Acquisition()

	port.send("1 2\n3 4\n")
	waitStats(t, acq, func(s Stats) bool { return s.Accepted == 2 })

	require.NoError(t, sys.HandleInput("WIDTH 1"))
	assert.Equal(t, 1, acq.Config().Session.WindowWidth)
	assert.Equal(t, []float64{3}, acq.Snapshot().Signals[0].Y)

	assert.ErrorIs(t, sys.HandleInput("width 0"), ErrInvalidConfiguration)
	assert.ErrorIs(t, sys.HandleInput("width abc"), ErrInvalidConfiguration)

	require.NoError(t, sys.HandleInput("rec"))
	path, ok := acq.Recording()
	require.True(t, ok)
	assert.Contains(t, out.String(), "Recording to "+path)

	port.send("5 6\n")
	waitStats(t, acq, func(s Stats) bool { return s.Accepted == 3 })
	require.NoError(t, sys.HandleInput("rec STOP"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "5 6\n", string(data))

	require.NoError(t, sys.HandleInput("time on"))
	assert.True(t, acq.Config().Session.TimeMode)
	assert.ErrorIs(t, sys.HandleInput("time maybe"), ErrInvalidConfiguration)

	require.NoError(t, sys.HandleInput("status"))
	assert.Contains(t, out.String(), "State: running")
	assert.Contains(t, out.String(), "Fields: 2")

	require.NoError(t, sys.HandleInput("help"))
	assert.Error(t, sys.HandleInput("launch"))
	assert.Contains(t, out.String(), `Error: unknown command "launch"`)

	require.NoError(t, sys.HandleInput("stop"))
	assert.Equal(t, StateIdle, acq.State())
	require.NoError(t, sys.HandleInput(""))
}

func TestDAQSystem_RestartAfterStop(t *testing.T) {
	first, second := newChanPort(), newChanPort()
	sys, out := newTestSystem(t, first, second)
	require.NoError(t, sys.Start(context.Background()))
	require.NoError(t, sys.HandleInput("stop"))
	require.NoError(t, sys.HandleInput("start"))
	assert.Equal(t, StateRunning, sys.Acquisition().State())

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "[RUNNING]") == 2
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, out.String(), "[STOPPED]")
}

func TestDAQSystem_ReportsNoData(t *testing.T) {
	cfg := testConfig()
	cfg.Serial.DataTimeout = 30 * time.Millisecond
	sys, err := NewDAQSystem(cfg, testLogger(), WithOpener(func(*Config) (SerialPort, error) {
		return &idlePort{}, nil
	}))
	require.NoError(t, err)
	out := &syncBuffer{}
	sys.SetOutput(out)
	defer sys.Stop()

	require.NoError(t, sys.Start(context.Background()))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "No serial data received.")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, out.String(), "[DISCONNECTED]")
}

func TestDAQSystem_Registry(t *testing.T) {
	sys, _ := newTestSystem(t)
	families, err := sys.Registry().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["daq_window_width"])
	assert.True(t, names["go_goroutines"])
}
