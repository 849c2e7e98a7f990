package telemetry

import (
	"sort"
	"time"
)

// Aggregator 按指标名与 key 汇总观测值，仅由消费协程访问
type Aggregator struct {
	batches map[string]*MetricBatch
}

// NewAggregator 创建聚合器
func NewAggregator() *Aggregator {
	return &Aggregator{batches: make(map[string]*MetricBatch)}
}

// Add 累加一条观测
func (a *Aggregator) Add(o Observation) {
	b, ok := a.batches[o.Metric]
	if !ok {
		b = &MetricBatch{Name: o.Metric, Start: o.At, Finish: o.At, Values: make(map[string]int64)}
		a.batches[o.Metric] = b
	}
	if o.At.Before(b.Start) {
		b.Start = o.At
	}
	if o.At.After(b.Finish) {
		b.Finish = o.At
	}
	b.Values[o.Key] += o.Value
}

// Len 当前聚合中的指标数
func (a *Aggregator) Len() int { return len(a.batches) }

// Flush 取出全部聚合结果并清空，按指标名排序
func (a *Aggregator) Flush(now time.Time) []MetricBatch {
	if len(a.batches) == 0 {
		return nil
	}
	out := make([]MetricBatch, 0, len(a.batches))
	for _, b := range a.batches {
		if b.Finish.Before(now) {
			b.Finish = now
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	a.batches = make(map[string]*MetricBatch)
	return out
}
