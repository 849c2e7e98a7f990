// Package redis 通过 Redis 列表把上报内容交给远端采集服务
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hookguard/internal/telemetry"

	"github.com/redis/go-redis/v9"
	"github.com/tidwall/sjson"
)

// 信封类型
const (
	KindAttack = "attack"
	KindMetric = "metric"
)

// Options 采集端配置
type Options struct {
	// Key 列表键前缀，实际键为 <Key>:attacks 与 <Key>:metrics
	Key string
	// Agent 写入信封的探针名
	Agent string
	// MaxLen 列表最大长度，超出时丢弃最旧的元素，0 表示不限
	MaxLen int64
}

// Sink 每条事件包装为一个 JSON 信封追加到 Redis 列表
type Sink struct {
	client redis.UniversalClient
	opts   Options
	now    func() time.Time
}

// NewSink 创建 Redis 采集端
func NewSink(client redis.UniversalClient, opts Options) *Sink {
	if opts.Key == "" {
		opts.Key = "hookguard"
	}
	return &Sink{client: client, opts: opts, now: time.Now}
}

// AttacksKey 攻击事件列表键
func (s *Sink) AttacksKey() string { return s.opts.Key + ":attacks" }

// MetricsKey 指标列表键
func (s *Sink) MetricsKey() string { return s.opts.Key + ":metrics" }

func (s *Sink) SendAttacks(ctx context.Context, attacks []telemetry.AttackEvent) error {
	items := make([]any, 0, len(attacks))
	for _, a := range attacks {
		env, err := s.envelope(KindAttack, a)
		if err != nil {
			return err
		}
		items = append(items, env)
	}
	return s.push(ctx, s.AttacksKey(), items)
}

func (s *Sink) SendMetrics(ctx context.Context, metrics []telemetry.MetricBatch) error {
	items := make([]any, 0, len(metrics))
	for _, m := range metrics {
		env, err := s.envelope(KindMetric, m)
		if err != nil {
			return err
		}
		items = append(items, env)
	}
	return s.push(ctx, s.MetricsKey(), items)
}

// Close 关闭 Redis 连接
func (s *Sink) Close() error {
	return s.client.Close()
}

func (s *Sink) push(ctx context.Context, key string, items []any) error {
	if len(items) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, items...)
		if s.opts.MaxLen > 0 {
			p.LTrim(ctx, key, -s.opts.MaxLen, -1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis rpush %s: %w", key, err)
	}
	return nil
}

// envelope 生成 {"kind","agent","sent_at","data"} 信封
func (s *Sink) envelope(kind string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", kind, err)
	}
	return Envelope(kind, s.opts.Agent, s.now(), data)
}

// Envelope 用已序列化的载荷组装信封
func Envelope(kind, agent string, sentAt time.Time, data []byte) ([]byte, error) {
	if !json.Valid(data) {
		return nil, errors.New("envelope payload is not valid json")
	}
	env, err := sjson.SetBytes([]byte(`{}`), "kind", kind)
	if err == nil && agent != "" {
		env, err = sjson.SetBytes(env, "agent", agent)
	}
	if err == nil {
		env, err = sjson.SetBytes(env, "sent_at", sentAt.UnixMilli())
	}
	if err == nil {
		env, err = sjson.SetRawBytes(env, "data", data)
	}
	return env, err
}
