// Package telemetry 实现攻击事件与指标观测的上报管道
package telemetry

import (
	"context"
	"time"
)

// AttackEvent 一次规则命中产生的攻击记录
type AttackEvent struct {
	ID             string            `json:"id"`
	RuleName       string            `json:"rule_name"`
	RulespackID    string            `json:"rulespack_id"`
	RequestID      string            `json:"request_id,omitempty"`
	ClientIP       string            `json:"client_ip"`
	Method         string            `json:"method,omitempty"`
	Path           string            `json:"path,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Time           time.Time         `json:"time"`
	DetectedAt     time.Time         `json:"detected_at"`
	Test           bool              `json:"test"`
	Block          bool              `json:"block"`
	Infos          map[string]any    `json:"infos,omitempty"`
	Payload        map[string]any    `json:"payload,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	WhitelistMatch string            `json:"whitelist_match,omitempty"`
}

// Observation 指标观测值
type Observation struct {
	Metric string
	At     time.Time
	Key    string
	Value  int64
}

// Signal 控制信号
type Signal int

const (
	// SignalFlush 要求消费端尽快聚合并上报指标
	SignalFlush Signal = iota + 1
)

// MetricBatch 一个指标在一个周期内按 key 聚合的结果
type MetricBatch struct {
	Name   string           `json:"name"`
	Start  time.Time        `json:"start"`
	Finish time.Time        `json:"finish"`
	Values map[string]int64 `json:"values"`
}

// Sink 采集端传输接口，序列化格式由实现决定
type Sink interface {
	SendAttacks(ctx context.Context, attacks []AttackEvent) error
	SendMetrics(ctx context.Context, metrics []MetricBatch) error
}
