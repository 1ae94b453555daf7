package daq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// 生成正弦波辅助函数
func generateSineWave(freq float64, n int, sampleRate float64, offset float64) []float64 {
	data := make([]float64, n)
	for i := 0; i < n; i++ {
		t := float64(i) / sampleRate
		data[i] = offset + math.Sin(2*math.Pi*freq*t)
	}
	return data
}

func TestSpectrumAnalyzer_Peak(t *testing.T) {
	const (
		sampleRate = 100.0
		n          = 500
	)
	sa := NewSpectrumAnalyzer()

	// 带直流偏置的 10Hz 正弦，分辨率 0.2Hz
	spec := sa.Analyze(1, generateSineWave(10, n, sampleRate, 512), sampleRate)
	assert.Equal(t, 1, spec.Signal)
	assert.Len(t, spec.Freqs, n/2+1)
	assert.InDelta(t, 10.0, spec.PeakFreq, 0.2)
	// 汉宁窗相干增益 0.5
	assert.InDelta(t, 0.5, spec.PeakMag, 0.05)
}

func TestSpectrumAnalyzer_ShortInput(t *testing.T) {
	spec := NewSpectrumAnalyzer().Analyze(0, []float64{1}, 0)
	assert.Equal(t, 1.0, spec.SampleRate)
	assert.Empty(t, spec.Freqs)
	assert.Zero(t, spec.PeakFreq)
}

func TestEstimateSampleRate(t *testing.T) {
	// 毫秒时间戳，间隔 10ms，中间丢了一行
	xs := []float64{0, 10, 20, 30, 50, 60, 70}
	assert.InDelta(t, 100.0, EstimateSampleRate(xs, 0.001), 1e-9)

	assert.Zero(t, EstimateSampleRate([]float64{1}, 1))
	assert.Zero(t, EstimateSampleRate([]float64{5, 5, 5}, 1))
}
