package daq

import (
	"errors"
	"fmt"
)

// 错误分类，配合 errors.Is 使用
var (
	ErrParse                = errors.New("parse error")
	ErrSchemaMismatch       = errors.New("schema mismatch")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrDeviceIO             = errors.New("device i/o error")

	// 生命周期
	ErrNotConnected   = errors.New("not connected")
	ErrAlreadyRunning = errors.New("acquisition already running")
	ErrNotRunning     = errors.New("acquisition not running")
	ErrBusy           = errors.New("connection already open")

	// 运行结束原因
	ErrNoData        = errors.New("no serial data received")
	ErrDeviceRemoved = errors.New("device removed")
	ErrEndOfReplay   = errors.New("end of replay file")
)

// ParseError 行无法解码 (空行或存在非数字字段)
type ParseError struct {
	Line   string
	Token  string // 出错的字段，空行时为空
	Reason string
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("parse %q: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("parse %q: token %q: %s", e.Line, e.Token, e.Reason)
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// SchemaMismatchError 字段数与本次会话已建立的 schema 不一致
type SchemaMismatchError struct {
	Expected int
	Got      int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: expected %d fields, got %d", e.Expected, e.Got)
}

func (e *SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }

// InvalidConfigurationError 配置被拒绝，原配置保持不变
type InvalidConfigurationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidConfigurationError) Is(target error) bool { return target == ErrInvalidConfiguration }

// DeviceIOError 串口读写失败，结束当前运行
type DeviceIOError struct {
	Port string
	Op   string // open, read, wait
	Err  error
}

func (e *DeviceIOError) Error() string {
	return fmt.Sprintf("device %s: %s: %v", e.Port, e.Op, e.Err)
}

func (e *DeviceIOError) Unwrap() error { return e.Err }

func (e *DeviceIOError) Is(target error) bool { return target == ErrDeviceIO }

func invalidConfig(field string, value any, reason string) error {
	return &InvalidConfigurationError{Field: field, Value: value, Reason: reason}
}
