package daq

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// Spectrum 单个信号窗口的幅度谱
type Spectrum struct {
	Signal     int       `json:"signal"`
	SampleRate float64   `json:"sample_rate"` // 采样率，序号模式下为 1 (每行一个采样)
	Freqs      []float64 `json:"freqs"`
	Mags       []float64 `json:"mags"`
	PeakFreq   float64   `json:"peak_freq"`
	PeakMag    float64   `json:"peak_mag"`
}

// SpectrumAnalyzer 对窗口快照做频谱分析
type SpectrumAnalyzer struct {
	// 分析前去掉直流分量，否则 0Hz 会淹没其它频率
	RemoveDC bool
}

func NewSpectrumAnalyzer() *SpectrumAnalyzer {
	return &SpectrumAnalyzer{RemoveDC: true}
}

// Analyze 计算幅度谱，sampleRate <= 0 时按每个采样间隔为 1 处理
func (sa *SpectrumAnalyzer) Analyze(signal int, values []float64, sampleRate float64) Spectrum {
	if sampleRate <= 0 {
		sampleRate = 1
	}
	out := Spectrum{Signal: signal, SampleRate: sampleRate}
	n := len(values)
	if n < 2 {
		return out
	}

	input := make([]float64, n)
	copy(input, values)
	if sa.RemoveDC {
		mean := 0.0
		for _, v := range input {
			mean += v
		}
		mean /= float64(n)
		for i := range input {
			input[i] -= mean
		}
	}

	// 1. 加汉宁窗
	window.Apply(input, window.Hann)

	// 2. FFT
	spectrum := fft.FFTReal(input)

	// 3. 单边幅度谱
	bins := n/2 + 1
	binWidth := sampleRate / float64(n)
	out.Freqs = make([]float64, bins)
	out.Mags = make([]float64, bins)
	for i := 0; i < bins; i++ {
		out.Freqs[i] = float64(i) * binWidth
		out.Mags[i] = cmplx.Abs(spectrum[i]) * 2 / float64(n)
		// 跳过直流
		if i > 0 && out.Mags[i] > out.PeakMag {
			out.PeakMag = out.Mags[i]
			out.PeakFreq = out.Freqs[i]
		}
	}
	return out
}

// EstimateSampleRate 由时间模式下的 x 值估算采样率
// 用相邻差值的中位数，抗丢行和抖动；scale 把 x 换算成秒 (毫秒时为 0.001)
func EstimateSampleRate(xs []float64, scale float64) float64 {
	if len(xs) < 2 || scale == 0 {
		return 0
	}
	diffs := make([]float64, 0, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		d := (xs[i] - xs[i-1]) * scale
		if d > 0 && !math.IsInf(d, 0) && !math.IsNaN(d) {
			diffs = append(diffs, d)
		}
	}
	if len(diffs) == 0 {
		return 0
	}
	sort.Float64s(diffs)
	median := diffs[len(diffs)/2]
	if len(diffs)%2 == 0 {
		median = (diffs[len(diffs)/2-1] + diffs[len(diffs)/2]) / 2
	}
	return 1 / median
}
