package daq

// Demultiplexer 按字段位置把一行数据分配到各个信号
type Demultiplexer struct {
	schema SessionSchema
}

func NewDemultiplexer(schema SessionSchema) *Demultiplexer {
	return &Demultiplexer{schema: schema}
}

func (d *Demultiplexer) SignalCount() int {
	return d.schema.SignalCount()
}

// Route 生成一行对应的采样批次，批次内所有采样共享同一个 Seq 和 X
// 字段数与 schema 不符时返回 *SchemaMismatchError，不做部分分配
func (d *Demultiplexer) Route(fields []float64, seq uint64) ([]Sample, error) {
	if len(fields) != d.schema.FieldCount {
		return nil, &SchemaMismatchError{Expected: d.schema.FieldCount, Got: len(fields)}
	}

	if !d.schema.TimeMode {
		batch := make([]Sample, len(fields))
		x := float64(seq)
		for i, v := range fields {
			batch[i] = Sample{Signal: i, Seq: seq, X: x, Value: v}
		}
		return batch, nil
	}

	// 时间模式: 字段 0 是 x，不作为信号绘制
	n := d.schema.SignalCount()
	batch := make([]Sample, n)
	x := fields[0]
	for i := 0; i < n; i++ {
		batch[i] = Sample{Signal: i, Seq: seq, X: x, Value: fields[i+1]}
	}
	return batch, nil
}
