package telemetry

import (
	"context"

	"hookguard/internal/logger"

	"golang.org/x/sync/errgroup"
)

// MultiSink 并发分发到多个采集端，任一失败即返回错误
type MultiSink []Sink

func (m MultiSink) SendAttacks(ctx context.Context, attacks []AttackEvent) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range m {
		g.Go(func() error { return s.SendAttacks(ctx, attacks) })
	}
	return g.Wait()
}

func (m MultiSink) SendMetrics(ctx context.Context, metrics []MetricBatch) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range m {
		g.Go(func() error { return s.SendMetrics(ctx, metrics) })
	}
	return g.Wait()
}

// LogSink 将上报内容写入日志，未配置远端采集时使用
type LogSink struct {
	log logger.Logger
}

// NewLogSink 创建日志采集端
func NewLogSink(l logger.Logger) *LogSink {
	if l == nil {
		l = logger.NewNop()
	}
	return &LogSink{log: l}
}

func (s *LogSink) SendAttacks(_ context.Context, attacks []AttackEvent) error {
	for _, a := range attacks {
		s.log.Info("检测到攻击",
			"rule", a.RuleName,
			"rulespack", a.RulespackID,
			"clientIP", a.ClientIP,
			"path", a.Path,
			"block", a.Block,
			"test", a.Test,
			"whitelist", a.WhitelistMatch,
		)
	}
	return nil
}

func (s *LogSink) SendMetrics(_ context.Context, metrics []MetricBatch) error {
	for _, m := range metrics {
		s.log.Info("指标汇总", "metric", m.Name, "keys", len(m.Values), "values", m.Values)
	}
	return nil
}
