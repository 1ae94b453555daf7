package daq

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeReplay(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replay.tab")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readAll(t *testing.T, r io.Reader) (string, error) {
	t.Helper()
	var out []byte
	buf := make([]byte, 4)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			return string(out), err
		}
	}
}

func TestReplayPort_ReadsLinesThenEnds(t *testing.T) {
	// 最后一行没有换行符也会补上
	port, err := OpenReplay(writeReplay(t, "1 2\r\n3 4\n5 6"), 0)
	require.NoError(t, err)
	defer port.Close()

	data, err := readAll(t, port)
	assert.Equal(t, "1 2\r\n3 4\n5 6\n", data)
	assert.ErrorIs(t, err, ErrEndOfReplay)

	n, err := port.Write([]byte("ignored"))
	assert.Equal(t, 7, n)
	assert.NoError(t, err)
}

func TestReplayPort_Paced(t *testing.T) {
	port, err := OpenReplay(writeReplay(t, "1\n2\n3\n"), 20*time.Millisecond)
	require.NoError(t, err)
	defer port.Close()

	start := time.Now()
	_, err = readAll(t, port)
	assert.ErrorIs(t, err, ErrEndOfReplay)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestReplayPort_CloseUnblocks(t *testing.T) {
	port, err := OpenReplay(writeReplay(t, "1\n2\n"), time.Hour)
	require.NoError(t, err)

	buf := make([]byte, 16)
	_, err = port.Read(buf)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := port.Read(buf)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, port.Close())
	require.NoError(t, port.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, os.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Close")
	}
}

func TestOpenReplay_Missing(t *testing.T) {
	_, err := OpenReplay(filepath.Join(t.TempDir(), "nope.tab"), 0)
	assert.ErrorIs(t, err, ErrDeviceIO)
}
