package Display

import (
	"errors"
	"io"
	"math"
	"strings"

	"daq"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// 坐标轴文字颜色
const textColour = "707070"

// ErrNotEnoughData 没有任何信号至少有两个采样时无法画图
var ErrNotEnoughData = errors.New("not enough samples to plot")

// ChartStyle 绘图参数，来自 Config.Display
type ChartStyle struct {
	Width            int
	Height           int
	CurveColour      string
	BackgroundColour string
	XScale           float64 // 时间模式下 x 的缩放
}

// StyleFromConfig 从配置中取绘图参数
func StyleFromConfig(cfg *daq.Config) ChartStyle {
	return ChartStyle{
		Width:            cfg.Display.Width,
		Height:           cfg.Display.Height,
		CurveColour:      cfg.Display.CurveColour,
		BackgroundColour: cfg.Display.BackgroundColour,
		XScale:           cfg.Display.XScale,
	}
}

// 第一个信号使用配置的曲线颜色，其余依次取这里的颜色
var palette = []string{"ff7f0e", "1f77b4", "d62728", "9467bd", "e377c2", "17becf", "bcbd22"}

func hexColour(s string) drawing.Color {
	return drawing.ColorFromHex(strings.TrimPrefix(s, "#"))
}

// RenderPNG 把所有信号窗口画在一张图上
func RenderPNG(w io.Writer, update daq.DisplayUpdate, style ChartStyle) error {
	scale := 1.0
	xName := "Samples (index)"
	if update.TimeMode {
		if style.XScale != 0 {
			scale = style.XScale
		}
		xName = "Time"
	}

	var series []chart.Series
	xMin, xMax := math.Inf(1), math.Inf(-1)
	yMin, yMax := math.Inf(1), math.Inf(-1)

	for i, sig := range update.Signals {
		if len(sig.X) < 2 {
			continue
		}
		xs := make([]float64, len(sig.X))
		for j, x := range sig.X {
			xs[j] = x * scale
			xMin = math.Min(xMin, xs[j])
			xMax = math.Max(xMax, xs[j])
		}
		for _, y := range sig.Y {
			if math.IsNaN(y) || math.IsInf(y, 0) {
				continue
			}
			yMin = math.Min(yMin, y)
			yMax = math.Max(yMax, y)
		}

		colour := style.CurveColour
		if i > 0 {
			colour = palette[(i-1)%len(palette)]
		}
		series = append(series, chart.ContinuousSeries{
			Name:    sig.Label,
			XValues: xs,
			YValues: sig.Y,
			Style: chart.Style{
				StrokeColor: hexColour(colour),
				StrokeWidth: 1.25,
			},
		})
	}
	if len(series) == 0 || math.IsInf(yMin, 0) {
		return ErrNotEnoughData
	}

	// go-chart 不接受零跨度的坐标范围
	if xMax == xMin {
		xMin, xMax = xMin-1, xMax+1
	}
	if yMax == yMin {
		yMin, yMax = yMin-1, yMax+1
	}

	axisStyle := chart.Style{FontColor: hexColour(textColour), StrokeColor: hexColour(textColour)}
	graph := chart.Chart{
		Width:      style.Width,
		Height:     style.Height,
		Background: chart.Style{FillColor: hexColour(style.BackgroundColour)},
		Canvas:     chart.Style{FillColor: hexColour(style.BackgroundColour)},
		XAxis: chart.XAxis{
			Name:      xName,
			NameStyle: axisStyle,
			Style:     axisStyle,
			Range:     &chart.ContinuousRange{Min: xMin, Max: xMax},
		},
		YAxis: chart.YAxis{
			Style: axisStyle,
			Range: &chart.ContinuousRange{Min: yMin, Max: yMax},
		},
		Series: series,
	}
	if len(series) > 1 {
		graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	}
	return graph.Render(chart.PNG, w)
}
