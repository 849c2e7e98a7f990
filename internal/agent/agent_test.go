package agent_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hookguard/internal/agent"
	"hookguard/internal/config"
	"hookguard/internal/framework/webapp"
	"hookguard/internal/loader"
	"hookguard/internal/storage/repo"
	"hookguard/internal/telemetry"
	"hookguard/internal/testutil"
	"hookguard/pkg/errx"
	"hookguard/pkg/rulespec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pack = `{
  "rulespack_id": "demo-pack",
  "version": "1",
  "rules": [
    {
      "name": "sqli-union",
      "hookpoint": {"klass": "demo.db::Store", "method": "Query"},
      "block": true,
      "data": {"infos": {"category": "sqli"}},
      "conditions": {"pre": {"%include": ["#.args[0]", "union"]}}
    },
    {
      "name": "query-volume",
      "hookpoint": {"klass": "demo.db::Store", "method": "Query"},
      "callbacks": {"post": "noop"},
      "call_count_interval": 2
    },
    {
      "name": "broken",
      "hookpoint": {"klass": "demo.db::Missing", "method": "Run"},
      "callbacks": {"pre": "noop"}
    }
  ]
}`

type memorySink struct {
	mu      sync.Mutex
	attacks []telemetry.AttackEvent
	metrics []telemetry.MetricBatch
}

func (m *memorySink) SendAttacks(_ context.Context, a []telemetry.AttackEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attacks = append(m.attacks, a...)
	return nil
}

func (m *memorySink) SendMetrics(_ context.Context, b []telemetry.MetricBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, b...)
	return nil
}

func newLoader() *loader.Loader {
	sf := loader.NewStaticFinder()
	sf.Register(webapp.ModuleName, webapp.Module)
	sf.Register("demo.db", func() *loader.Module {
		m := loader.NewModule("demo.db")
		m.SetAttr("Store", loader.NewClass("Store", map[string]loader.Func{
			"Query": func(_ context.Context, args ...any) (any, error) {
				return "rows for " + args[1].(string), nil
			},
		}))
		return m
	})
	return loader.New(sf)
}

func TestAgent_EndToEnd(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Sqlite.Db = ":memory:"
	cfg.Telemetry.FlushInterval = time.Hour
	log := testutil.NewRecordingLogger()
	mem := &memorySink{}
	l := newLoader()

	a, err := agent.New(cfg, log, l, agent.WithSink(mem))
	require.NoError(t, err)

	parsed, err := rulespec.Parse([]byte(pack))
	require.NoError(t, err)
	require.NoError(t, a.LoadRulespack(parsed))
	require.Len(t, a.Callbacks(), 3)

	a.Start(context.Background())

	app, err := webapp.New(l)
	require.NoError(t, err)
	app.Route("GET", "/search", func(ctx context.Context, req *webapp.Request) (*webapp.Response, error) {
		m, err := l.Import("demo.db")
		if err != nil {
			return nil, err
		}
		store, _ := m.Class("Store")
		rows, err := store.Call(ctx, "Query", store, req.Query["q"])
		if err != nil {
			return nil, err
		}
		return webapp.Text(http.StatusOK, rows.(string)), nil
	})

	ok := app.Handle(context.Background(), &webapp.Request{Method: "GET", Path: "/search", RemoteAddr: "9.9.9.9:1000", Query: map[string]string{"q": "books"}})
	assert.Equal(t, http.StatusOK, ok.Status)
	assert.Equal(t, "rows for books", ok.Body)

	blocked := app.Handle(context.Background(), &webapp.Request{Method: "GET", Path: "/search", RemoteAddr: "9.9.9.9:1000", Query: map[string]string{"q": "1 union select pw"}})
	assert.Equal(t, http.StatusForbidden, blocked.Status)

	_, _ = l.Import("demo.db")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))

	mem.mu.Lock()
	defer mem.mu.Unlock()
	require.Len(t, mem.attacks, 1)
	ev := mem.attacks[0]
	assert.Equal(t, "sqli-union", ev.RuleName)
	assert.Equal(t, "demo-pack", ev.RulespackID)
	assert.Equal(t, "9.9.9.9", ev.ClientIP)
	assert.Equal(t, "/search", ev.Path)
	assert.True(t, ev.Block)
	assert.Equal(t, "sqli", ev.Infos["category"])

	// post 只在未被拦截的那次调用上执行，不足一个采样周期
	assert.Empty(t, mem.metrics)

	broken := 0
	for _, e := range log.Entries() {
		if e.Level == "error" && strings.Contains(e.Msg, "Missing") {
			broken++
		}
	}
	assert.Equal(t, 1, broken, "缺失的类只影响对应挂钩点")
}

func TestAgent_LoadRulespackFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	content := `{"rulespack_id":"p","rules":[
		{"name":"ok","hookpoint":{"klass":"demo.db::Store","method":"Query"}},
		{"name":"no-hookpoint"}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	log := testutil.NewRecordingLogger()
	a, err := agent.New(config.NewConfig(), log, newLoader())
	require.NoError(t, err)
	require.NoError(t, a.LoadRulespackFile(path))
	require.Len(t, a.Callbacks(), 1)
	assert.Equal(t, "p", a.Callbacks()[0].Rule().RulespackID)
	assert.GreaterOrEqual(t, log.Count("warn"), 1)

	assert.Error(t, a.LoadRulespackFile(filepath.Join(dir, "missing.json")))
	require.NoError(t, a.Stop(context.Background()))
}

func TestAgent_AdminService(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Sqlite.Db = ":memory:"
	cfg.Telemetry.FlushInterval = 20 * time.Millisecond
	l := newLoader()

	a, err := agent.New(cfg, testutil.NewRecordingLogger(), l)
	require.NoError(t, err)
	parsed, err := rulespec.Parse([]byte(pack))
	require.NoError(t, err)
	_ = a.LoadRulespack(parsed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)

	app, err := webapp.New(l)
	require.NoError(t, err)
	app.Route("GET", "/q", func(ctx context.Context, req *webapp.Request) (*webapp.Response, error) {
		m, _ := l.Import("demo.db")
		store, _ := m.Class("Store")
		rows, err := store.Call(ctx, "Query", store, req.Query["q"])
		if err != nil {
			return nil, err
		}
		return webapp.Text(http.StatusOK, rows.(string)), nil
	})
	res := app.Handle(ctx, &webapp.Request{Method: "GET", Path: "/q", RemoteAddr: "1.2.3.4:5", Query: map[string]string{"q": "x union y"}})
	require.Equal(t, http.StatusForbidden, res.Status)

	require.Eventually(t, func() bool {
		_, total, err := a.QueryAttacks(ctx, repo.AttackQuery{RuleName: "sqli-union"})
		return err == nil && total == 1
	}, 2*time.Second, 20*time.Millisecond)

	stats := a.RuleStats()
	require.Len(t, stats, 3)
	assert.Equal(t, "demo.db#Store.Query", stats[0].Hookpoint)
	assert.True(t, stats[0].Block)
	assert.Nil(t, stats[0].CallCounts)
	assert.Contains(t, stats[1].CallCounts, "post")

	ps := a.PipelineStats()
	require.Len(t, ps.Queues, 3)
	assert.Equal(t, int64(1), ps.Queues[0].Pushed)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx))
}

func TestAgent_AdminServiceWithoutStore(t *testing.T) {
	a, err := agent.New(config.NewConfig(), testutil.NewRecordingLogger(), newLoader())
	require.NoError(t, err)
	_, _, err = a.QueryAttacks(context.Background(), repo.AttackQuery{})
	assert.ErrorIs(t, err, errx.ErrUnsupported)
	_, err = a.MetricTotals(context.Background(), "x")
	assert.ErrorIs(t, err, errx.ErrUnsupported)
	require.NoError(t, a.Stop(context.Background()))
}
