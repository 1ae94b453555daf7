package daq

import (
	"bytes"
	"strconv"
	"strings"
)

// DecodeLine 将一行文本 (不含换行符) 按空白切分并解析为浮点数
// 空行或任一字段非数字时返回 *ParseError，该行直接丢弃
func DecodeLine(line string) ([]float64, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return nil, &ParseError{Line: line, Reason: "empty line"}
	}

	fields := make([]float64, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, &ParseError{Line: line, Token: tok, Reason: "not a number"}
		}
		fields[i] = v
	}
	return fields, nil
}

// LineAssembler 把串口字节流拼装成完整的行
// 不是并发安全的，只在采集 goroutine 内使用
type LineAssembler struct {
	maxLen    int
	skipFirst bool

	buf       []byte
	overflow  bool // 当前行已超长，丢弃到下一个换行符
	seenFirst bool

	// 统计
	Overflows int
}

// NewLineAssembler maxLen <= 0 表示不限制行长
func NewLineAssembler(maxLen int, discardFirst bool) *LineAssembler {
	return &LineAssembler{
		maxLen:    maxLen,
		skipFirst: discardFirst,
	}
}

// Feed 处理一块数据，每凑齐一行调用一次 emit (已去掉 \r\n)
func (a *LineAssembler) Feed(chunk []byte, emit func(line string)) {
	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, '\n')
		if idx < 0 {
			a.appendPartial(chunk)
			return
		}

		a.appendPartial(chunk[:idx])
		chunk = chunk[idx+1:]

		if a.overflow {
			// 超长行整行丢弃
			a.overflow = false
			a.buf = a.buf[:0]
			a.seenFirst = true
			continue
		}

		line := strings.TrimSuffix(string(a.buf), "\r")
		a.buf = a.buf[:0]

		if !a.seenFirst {
			a.seenFirst = true
			if a.skipFirst {
				// 中途接入时第一行通常是残缺的
				continue
			}
		}
		emit(line)
	}
}

// Pending 返回尚未凑成整行的字节数
func (a *LineAssembler) Pending() int {
	return len(a.buf)
}

// Reset 丢弃半行数据，下一行重新按"第一行"处理
func (a *LineAssembler) Reset() {
	a.buf = a.buf[:0]
	a.overflow = false
	a.seenFirst = false
}

func (a *LineAssembler) appendPartial(p []byte) {
	if a.overflow {
		return
	}
	if a.maxLen > 0 && len(a.buf)+len(p) > a.maxLen {
		a.overflow = true
		a.Overflows++
		a.buf = a.buf[:0]
		return
	}
	a.buf = append(a.buf, p...)
}
