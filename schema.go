package daq

import "sync"

// SessionSchema 会话内固定的行格式，由第一条有效行确定
type SessionSchema struct {
	FieldCount int  `json:"field_count"`
	TimeMode   bool `json:"time_mode"` // 第 0 个字段为共享的 x 轴
}

// SignalCount 实际绘制的信号数量
func (s SessionSchema) SignalCount() int {
	if s.TimeMode {
		if s.FieldCount <= 1 {
			return 0
		}
		return s.FieldCount - 1
	}
	return s.FieldCount
}

// SignalSchema 负责一次性建立 schema，之后只做校验，从不重新推断
type SignalSchema struct {
	mu       sync.RWMutex
	timeMode bool
	schema   *SessionSchema
}

// NewSignalSchema timeMode 在构造时固定，会话中途修改设置不会影响这里
func NewSignalSchema(timeMode bool) *SignalSchema {
	return &SignalSchema{timeMode: timeMode}
}

// Observe 第一次调用建立 schema 并返回 established=true；
// 之后字段数不一致返回 *SchemaMismatchError
func (s *SignalSchema) Observe(fields []float64) (established bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schema == nil {
		s.schema = &SessionSchema{FieldCount: len(fields), TimeMode: s.timeMode}
		return true, nil
	}
	if len(fields) != s.schema.FieldCount {
		return false, &SchemaMismatchError{Expected: s.schema.FieldCount, Got: len(fields)}
	}
	return false, nil
}

// Schema 返回已建立的 schema，尚未建立时 ok=false
func (s *SignalSchema) Schema() (schema SessionSchema, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.schema == nil {
		return SessionSchema{TimeMode: s.timeMode}, false
	}
	return *s.schema, true
}

func (s *SignalSchema) TimeMode() bool {
	return s.timeMode
}
