package daq

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 行处理结果标签
const (
	resultAccepted = "accepted"
	resultParse    = "parse_error"
	resultMismatch = "schema_mismatch"
	resultOverflow = "overflow"
)

// Metrics 采集相关的 Prometheus 指标
type Metrics struct {
	Lines          *prometheus.CounterVec
	RecordedLines  prometheus.Counter
	DroppedUpdates prometheus.Counter
	Sessions       prometheus.Counter
	Disconnects    *prometheus.CounterVec
	State          prometheus.Gauge
	WindowWidth    prometheus.Gauge
	Signals        prometheus.Gauge
	BytesRead      prometheus.Counter
}

// NewMetrics 创建指标并注册到 reg
// reg 为 nil 时使用独立的 registry，避免多个实例冲突
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Lines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daq",
				Subsystem: "acquisition",
				Name:      "lines_total",
				Help:      "Lines read from the serial stream by result",
			},
			[]string{"result"},
		),
		RecordedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daq",
			Subsystem: "recorder",
			Name:      "lines_total",
			Help:      "Lines handed to the recorder",
		}),
		DroppedUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daq",
			Subsystem: "display",
			Name:      "dropped_updates_total",
			Help:      "Display updates dropped because a subscriber was slow",
		}),
		Sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daq",
			Subsystem: "acquisition",
			Name:      "sessions_total",
			Help:      "Acquisition sessions started",
		}),
		Disconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daq",
				Subsystem: "acquisition",
				Name:      "disconnects_total",
				Help:      "Runs ended by device errors",
			},
			[]string{"op"},
		),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "daq",
			Subsystem: "acquisition",
			Name:      "state",
			Help:      "Acquisition state (0=idle, 1=connected, 2=running, 3=stopped, 4=disconnected)",
		}),
		WindowWidth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "daq",
			Subsystem: "window",
			Name:      "width",
			Help:      "Samples kept per signal",
		}),
		Signals: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "daq",
			Subsystem: "session",
			Name:      "signals",
			Help:      "Signals in the current session",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daq",
			Subsystem: "serial",
			Name:      "bytes_read_total",
			Help:      "Bytes read from the serial device",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.Lines, m.RecordedLines, m.DroppedUpdates, m.Sessions, m.Disconnects,
		m.State, m.WindowWidth, m.Signals, m.BytesRead,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
