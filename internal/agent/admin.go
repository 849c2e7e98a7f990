package agent

import (
	"context"

	"hookguard/internal/callback"
	"hookguard/internal/httpapi"
	"hookguard/internal/storage/model"
	"hookguard/internal/storage/repo"
	"hookguard/pkg/errx"
)

var _ httpapi.Service = (*Agent)(nil)

// RuleStats 已加载规则及其采样计数
func (a *Agent) RuleStats() []httpapi.RuleStat {
	out := make([]httpapi.RuleStat, 0, len(a.callbacks))
	for _, cb := range a.callbacks {
		rule := cb.Rule()
		st := httpapi.RuleStat{
			Name:        rule.Name,
			RulespackID: rule.RulespackID,
			Hookpoint:   cb.HookPoint().String(),
			Block:       rule.Block,
			Test:        rule.Test,
		}
		if rule.CallCountInterval > 0 {
			st.CallCounts = make(map[string]int64)
			for _, l := range []callback.Lifecycle{callback.Pre, callback.Post, callback.Failing} {
				if callback.Of(cb, l) != nil {
					st.CallCounts[string(l)] = cb.CallCount(l)
				}
			}
		}
		out = append(out, st)
	}
	return out
}

// PipelineStats 队列与上报统计
func (a *Agent) PipelineStats() httpapi.PipelineStat {
	return httpapi.PipelineStat{Queues: a.pipeline.Stats(), Reporter: a.reporter.Stats()}
}

// QueryAttacks 查询本地事件库，未启用时返回 ErrUnsupported
func (a *Agent) QueryAttacks(ctx context.Context, q repo.AttackQuery) ([]*model.AttackRecord, int64, error) {
	if a.store == nil {
		return nil, 0, errx.ErrUnsupported
	}
	return a.store.Attacks.Query(ctx, q)
}

// MetricTotals 按 key 汇总本地指标
func (a *Agent) MetricTotals(ctx context.Context, name string) (map[string]int64, error) {
	if a.store == nil {
		return nil, errx.ErrUnsupported
	}
	return a.store.Metrics.Totals(ctx, name)
}
