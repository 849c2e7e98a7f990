package repo_test

import (
	"context"
	"testing"
	"time"

	"hookguard/internal/storage/db"
	"hookguard/internal/storage/model"
	"hookguard/internal/storage/repo"
	"hookguard/internal/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSink(t *testing.T) *repo.Sink {
	t.Helper()
	gdb, err := db.New(db.Options{FullPath: ":memory:", Prefix: "test_"})
	require.NoError(t, err, "创建内存数据库失败")
	require.NoError(t, db.Migrate(gdb, model.All()...), "迁移失败")
	t.Cleanup(func() { _ = db.Close(gdb) })
	return repo.NewSink(gdb)
}

func TestSink_AttacksRoundTrip(t *testing.T) {
	s := setupSink(t)
	ctx := context.Background()
	now := time.Now()

	events := []telemetry.AttackEvent{
		{ID: "e1", RuleName: "sqli", RulespackID: "p1", ClientIP: "1.1.1.1", Block: true, Time: now.Add(-time.Minute), Infos: map[string]any{"q": "union"}},
		{ID: "e2", RuleName: "xss", RulespackID: "p1", ClientIP: "2.2.2.2", Time: now},
		{ID: "e3", RuleName: "sqli", RulespackID: "p2", ClientIP: "1.1.1.1", WhitelistMatch: "^/health", Time: now.Add(-10 * 24 * time.Hour)},
	}
	require.NoError(t, s.SendAttacks(ctx, events))

	list, total, err := s.Attacks.Query(ctx, repo.AttackQuery{RuleName: "sqli"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, list, 2)
	assert.Equal(t, "e1", list[0].EventID, "按时间倒序")
	assert.JSONEq(t, `{"q":"union"}`, list[0].InfosJSON)

	blocked, total, err := s.Attacks.Query(ctx, repo.AttackQuery{OnlyBlocked: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "e1", blocked[0].EventID)

	paged, total, err := s.Attacks.Query(ctx, repo.AttackQuery{Page: repo.Page{Page: 2, Limit: 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, paged, 1)

	removed, err := s.Attacks.Cleanup(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	n, err := s.Attacks.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSink_MetricsTotals(t *testing.T) {
	s := setupSink(t)
	ctx := context.Background()
	now := time.Now()

	batch := telemetry.MetricBatch{Name: "rule.call_count", Start: now, Finish: now, Values: map[string]int64{"p:sqli:pre": 3, "p:xss:pre": 5}}
	require.NoError(t, s.SendMetrics(ctx, []telemetry.MetricBatch{batch}))
	require.NoError(t, s.SendMetrics(ctx, []telemetry.MetricBatch{batch}))
	require.NoError(t, s.SendMetrics(ctx, nil))

	totals, err := s.Metrics.Totals(ctx, "rule.call_count")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"p:sqli:pre": 6, "p:xss:pre": 10}, totals)

	none, err := s.Metrics.Totals(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}
