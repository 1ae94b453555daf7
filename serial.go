package daq

import (
	"errors"
	"io"
	"os"

	"github.com/tarm/serial"
)

// SerialPort 定义串口操作接口，方便测试 Mock
type SerialPort interface {
	io.ReadWriteCloser
}

// Opener 打开一个数据源，返回的端口由调用方负责关闭
type Opener func(cfg *Config) (SerialPort, error)

// OpenSerial 用 tarm/serial 打开真实串口
// ReadTimeout 让阻塞读取定期返回，Stop 才能及时生效
func OpenSerial(cfg *Config) (SerialPort, error) {
	if cfg.Serial.Port == "" {
		return nil, invalidConfig("serial.port", "", "no port selected")
	}
	if err := ValidateBaudRate(cfg.Serial.BaudRate); err != nil {
		return nil, err
	}
	s, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Serial.Port,
		Baud:        cfg.Serial.BaudRate,
		ReadTimeout: cfg.Serial.ReadTimeout,
	})
	if err != nil {
		return nil, &DeviceIOError{Port: cfg.Serial.Port, Op: "open", Err: err}
	}
	return s, nil
}

// DefaultOpener 设置了回放文件时回放，否则打开串口
func DefaultOpener(cfg *Config) (SerialPort, error) {
	if cfg.Serial.ReplayFile != "" {
		return OpenReplay(cfg.Serial.ReplayFile, cfg.Serial.ReplayInterval)
	}
	return OpenSerial(cfg)
}

// devicePresent 检查设备节点是否还在
// tarm/serial 在 posix 上把读超时报告为 io.EOF，拔掉设备时也可能只是 EOF，
// 所以空闲时要主动确认设备还在
func devicePresent(port string) bool {
	if port == "" {
		return true
	}
	_, err := os.Stat(port)
	return !errors.Is(err, os.ErrNotExist)
}

// classifyReadError 区分超时和真正的设备错误
// timeout=true 表示可以继续读
func classifyReadError(err error) (timeout bool, cause error) {
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if errors.Is(err, ErrEndOfReplay) {
		return false, err
	}
	if isDeviceGone(err) {
		return false, errors.Join(ErrDeviceRemoved, err)
	}
	return false, err
}
