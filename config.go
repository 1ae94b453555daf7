package daq

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 单片机常用且所有平台都支持的波特率
var BaudRates = []int{9600, 19200, 38400, 57600, 115200}

const (
	DefaultBaudRate    = 115200
	DefaultWindowWidth = 500
)

// RecordPolicy 决定哪些行写入记录文件
type RecordPolicy string

const (
	RecordAccepted RecordPolicy = "accepted" // 只记录解码成功且符合 schema 的行
	RecordAll      RecordPolicy = "all"      // 包括解析失败和字段数不符的行
)

// Config 集中管理采集的所有可调参数
// 在 Connect 时拷贝一份作为会话配置，运行中只有窗口宽度可以热更新
type Config struct {
	// --- 串口 ---
	Serial struct {
		Port             string        `yaml:"port"`               // 设备路径，例如 /dev/ttyACM0
		BaudRate         int           `yaml:"baud_rate"`          // 必须是 BaudRates 之一
		ReadTimeout      time.Duration `yaml:"read_timeout"`       // 单次读取超时，决定 Stop 的最长等待时间
		DataTimeout      time.Duration `yaml:"data_timeout"`       // 开始后多久没有任何数据视为连接失败，0 表示不检查
		DiscardFirstLine bool          `yaml:"discard_first_line"` // 丢弃接入后的第一行 (通常残缺)
		MaxLineLength    int           `yaml:"max_line_length"`    // 超过此长度仍无换行符的行被丢弃 (波特率错误的典型表现)
		ReplayFile       string        `yaml:"replay_file"`        // 设置后从记录文件回放，不打开串口
		ReplayInterval   time.Duration `yaml:"replay_interval"`    // 回放时每行间隔
	} `yaml:"serial"`

	// --- 会话 ---
	Session struct {
		WindowWidth int  `yaml:"window_width"` // 每个信号保留的采样数
		TimeMode    bool `yaml:"time_mode"`    // 第一个字段作为 x 轴，下次会话生效
	} `yaml:"session"`

	// --- 记录 ---
	Recording struct {
		Directory string       `yaml:"directory"`
		Policy    RecordPolicy `yaml:"policy"`
		QueueSize int          `yaml:"queue_size"` // 写入队列长度，满了丢行而不是阻塞采集
	} `yaml:"recording"`

	// --- 显示 ---
	Display struct {
		ListenAddr       string        `yaml:"listen_addr"` // 为空则不启动 HTTP 服务
		RefreshInterval  time.Duration `yaml:"refresh_interval"`
		CurveColour      string        `yaml:"curve_colour"`
		BackgroundColour string        `yaml:"background_colour"`
		Width            int           `yaml:"width"`
		Height           int           `yaml:"height"`
		XScale           float64       `yaml:"x_scale"` // 时间模式下 x 的缩放，单片机发毫秒时设 0.001
	} `yaml:"display"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Serial.BaudRate = DefaultBaudRate
	cfg.Serial.ReadTimeout = 100 * time.Millisecond
	cfg.Serial.DataTimeout = 3 * time.Second
	cfg.Serial.DiscardFirstLine = true
	cfg.Serial.MaxLineLength = 1024
	cfg.Serial.ReplayInterval = 10 * time.Millisecond

	cfg.Session.WindowWidth = DefaultWindowWidth
	cfg.Session.TimeMode = false

	cfg.Recording.Directory = defaultRecordingDir()
	cfg.Recording.Policy = RecordAccepted
	cfg.Recording.QueueSize = 1024

	cfg.Display.RefreshInterval = 100 * time.Millisecond
	cfg.Display.CurveColour = "#7fff00"
	cfg.Display.BackgroundColour = "#000000"
	cfg.Display.Width = 1024
	cfg.Display.Height = 600
	cfg.Display.XScale = 1.0

	return cfg
}

func defaultRecordingDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// LoadConfig 读取 YAML 配置，未出现的字段保持默认值
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Clone 返回独立副本，会话持有副本，不受之后的修改影响
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// Validate 检查配置，返回 *InvalidConfigurationError
func (c *Config) Validate() error {
	if err := ValidateBaudRate(c.Serial.BaudRate); err != nil {
		return err
	}
	if c.Serial.ReadTimeout <= 0 {
		return invalidConfig("serial.read_timeout", c.Serial.ReadTimeout, "must be positive")
	}
	if c.Serial.DataTimeout < 0 {
		return invalidConfig("serial.data_timeout", c.Serial.DataTimeout, "must not be negative")
	}
	if c.Serial.MaxLineLength < 0 {
		return invalidConfig("serial.max_line_length", c.Serial.MaxLineLength, "must not be negative")
	}
	if c.Serial.ReplayInterval < 0 {
		return invalidConfig("serial.replay_interval", c.Serial.ReplayInterval, "must not be negative")
	}
	if c.Session.WindowWidth <= 0 {
		return invalidConfig("session.window_width", c.Session.WindowWidth, "must be a positive integer")
	}
	switch c.Recording.Policy {
	case RecordAccepted, RecordAll:
	default:
		return invalidConfig("recording.policy", c.Recording.Policy, "must be accepted or all")
	}
	if c.Recording.QueueSize <= 0 {
		return invalidConfig("recording.queue_size", c.Recording.QueueSize, "must be positive")
	}
	if c.Display.RefreshInterval <= 0 {
		return invalidConfig("display.refresh_interval", c.Display.RefreshInterval, "must be positive")
	}
	if c.Display.XScale == 0 {
		return invalidConfig("display.x_scale", c.Display.XScale, "must not be zero")
	}
	for _, colour := range []string{c.Display.CurveColour, c.Display.BackgroundColour} {
		if !isHexColour(colour) {
			return invalidConfig("display.colour", colour, "must be #rrggbb")
		}
	}
	return nil
}

// ValidateBaudRate 只接受 BaudRates 中的值
func ValidateBaudRate(baud int) error {
	for _, b := range BaudRates {
		if b == baud {
			return nil
		}
	}
	return invalidConfig("serial.baud_rate", baud, "unsupported baud rate")
}

func isHexColour(s string) bool {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}
