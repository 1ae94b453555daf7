package daq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func values(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

func fill(w *SampleWindow, from, to int) {
	for i := from; i <= to; i++ {
		w.Push(Sample{Seq: uint64(i), X: float64(i), Value: float64(i)})
	}
}

func TestNewSampleWindow_InvalidCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		w, err := NewSampleWindow(c)
		assert.Nil(t, w)
		assert.True(t, errors.Is(err, ErrInvalidConfiguration))
	}
}

func TestSampleWindow_KeepsMostRecent(t *testing.T) {
	w, err := NewSampleWindow(3)
	require.NoError(t, err)

	fill(w, 1, 2)
	assert.Equal(t, []float64{1, 2}, values(w.Snapshot()))

	// 写入 capacity+k 个后只剩最后 capacity 个，按到达顺序
	fill(w, 3, 7)
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, []float64{5, 6, 7}, values(w.Snapshot()))
}

func TestSampleWindow_SnapshotIsCopy(t *testing.T) {
	w, _ := NewSampleWindow(2)
	fill(w, 1, 2)
	snap := w.Snapshot()
	snap[0].Value = 100
	fill(w, 3, 3)
	assert.Equal(t, []float64{2, 3}, values(w.Snapshot()))
	assert.Equal(t, float64(100), snap[0].Value)
}

func TestSampleWindow_Resize(t *testing.T) {
	w, _ := NewSampleWindow(5)
	fill(w, 1, 7)

	// 相同宽度不变
	require.NoError(t, w.Resize(5))
	assert.Equal(t, []float64{3, 4, 5, 6, 7}, values(w.Snapshot()))

	// 缩小立即丢弃最旧的
	require.NoError(t, w.Resize(2))
	assert.Equal(t, 2, w.Cap())
	assert.Equal(t, []float64{6, 7}, values(w.Snapshot()))

	// 放大不会找回
	require.NoError(t, w.Resize(4))
	assert.Equal(t, []float64{6, 7}, values(w.Snapshot()))
	fill(w, 8, 10)
	assert.Equal(t, []float64{7, 8, 9, 10}, values(w.Snapshot()))

	err := w.Resize(0)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
	assert.Equal(t, 4, w.Cap())
	assert.Equal(t, []float64{7, 8, 9, 10}, values(w.Snapshot()))
}
