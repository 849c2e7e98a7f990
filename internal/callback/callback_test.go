package callback_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"hookguard/internal/callback"
	"hookguard/internal/reqctx"
	"hookguard/internal/telemetry"
	"hookguard/internal/testutil"
	"hookguard/internal/whitelist"
	"hookguard/pkg/errx"
	"hookguard/pkg/rulespec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeline() *telemetry.Pipeline {
	return telemetry.NewPipeline(telemetry.Options{AttackQueueSize: 100, ObservationQueueSize: 100, ControlQueueSize: 10}, nil)
}

func baseRule() rulespec.Rule {
	return rulespec.Rule{
		Name:        "sqli",
		RulespackID: "pack-1",
		Hookpoint:   rulespec.Hookpoint{Klass: "db.conn::Conn", Method: "Query"},
	}
}

// counting 返回计数的方法体工厂
func counting(n *int, res *callback.Result) callback.BodyFactory {
	return func(*callback.RuleCallback) callback.LifecycleFunc {
		return func(context.Context, []any) (*callback.Result, error) {
			*n++
			return res, nil
		}
	}
}

func requestCtx(path string) context.Context {
	return reqctx.With(context.Background(), reqctx.NewRecord(reqctx.Info{
		Method:     "GET",
		Path:       path,
		RemoteAddr: "10.0.0.8:5123",
		Headers:    map[string]string{"User-Agent": "curl"},
	}))
}

func TestShouldBlock_TruthTable(t *testing.T) {
	cases := []struct {
		block, test, want bool
	}{
		{true, false, true},
		{true, true, false},
		{false, false, false},
		{false, true, false},
	}
	for _, tc := range cases {
		r := baseRule()
		r.Block, r.Test = tc.block, tc.test
		c, err := callback.New(r, callback.Deps{}, nil)
		require.NoError(t, err)
		assert.Equal(t, tc.want, c.ShouldBlock(), "block=%v test=%v", tc.block, tc.test)
	}
}

func TestSampling_SevenCallsIntervalThree(t *testing.T) {
	p := newPipeline()
	r := baseRule()
	r.CallCountInterval = 3

	var ran int
	c, err := callback.New(r, callback.Deps{Pipeline: p}, map[callback.Lifecycle]callback.BodyFactory{
		callback.Pre: counting(&ran, nil),
	})
	require.NoError(t, err)

	pre := c.OnPre()
	require.NotNil(t, pre)
	for i := 0; i < 7; i++ {
		res, err := pre(context.Background(), []any{"inst"})
		require.NoError(t, err)
		assert.Nil(t, res)
	}

	obs := p.Observations.Drain()
	require.Len(t, obs, 2)
	for _, o := range obs {
		assert.Equal(t, callback.MetricCallCount, o.Metric)
		assert.Equal(t, int64(3), o.Value)
		assert.Equal(t, "pack-1:sqli:pre", o.Key)
	}
	assert.Equal(t, int64(1), c.CallCount(callback.Pre))
	assert.Equal(t, 7, ran, "采样不能阻断方法体")
}

func TestSampling_FloorAndMod(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		for _, m := range []int{0, 1, 4, 10, 11} {
			p := newPipeline()
			r := baseRule()
			r.CallCountInterval = n
			var ran int
			c, err := callback.New(r, callback.Deps{Pipeline: p}, map[callback.Lifecycle]callback.BodyFactory{
				callback.Post: counting(&ran, nil),
			})
			require.NoError(t, err)
			for i := 0; i < m; i++ {
				_, _ = c.OnPost()(context.Background(), []any{"inst", i})
			}
			assert.Len(t, p.Observations.Drain(), m/n, "N=%d M=%d", n, m)
			assert.Equal(t, int64(m%n), c.CallCount(callback.Post), "N=%d M=%d", n, m)
		}
	}
}

func TestSampling_CountsGatedCalls(t *testing.T) {
	p := newPipeline()
	r := baseRule()
	r.CallCountInterval = 2
	r.Conditions = map[rulespec.Lifecycle]json.RawMessage{callback.Pre: json.RawMessage(`false`)}

	var ran int
	c, err := callback.New(r, callback.Deps{Pipeline: p}, map[callback.Lifecycle]callback.BodyFactory{
		callback.Pre: counting(&ran, nil),
	})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, _ = c.OnPre()(context.Background(), []any{"inst"})
	}
	assert.Equal(t, 0, ran)
	assert.Len(t, p.Observations.Drain(), 2, "采样统计的是阶段调用次数而非方法体执行次数")
}

func TestCondition_AlwaysFalseNeverRunsBody(t *testing.T) {
	r := baseRule()
	r.Conditions = map[rulespec.Lifecycle]json.RawMessage{callback.Pre: json.RawMessage(`{"%equals": [1, 2]}`)}

	var ran int
	c, err := callback.New(r, callback.Deps{}, map[callback.Lifecycle]callback.BodyFactory{
		callback.Pre: counting(&ran, callback.Override("x")),
	})
	require.NoError(t, err)

	var outer int
	wrapped := func(ctx context.Context, args []any) (*callback.Result, error) {
		outer++
		return c.OnPre()(ctx, args)
	}
	for i := 0; i < 5; i++ {
		res, err := wrapped(context.Background(), []any{"inst", "arg"})
		require.NoError(t, err)
		assert.Nil(t, res)
	}
	assert.Equal(t, 5, outer)
	assert.Equal(t, 0, ran)
}

func TestCondition_PostReturnValue(t *testing.T) {
	r := baseRule()
	r.Conditions = map[rulespec.Lifecycle]json.RawMessage{callback.Post: json.RawMessage("\"rv == `42`\"")}

	var (
		ran      int
		received [][]any
	)
	c, err := callback.New(r, callback.Deps{}, map[callback.Lifecycle]callback.BodyFactory{
		callback.Post: func(*callback.RuleCallback) callback.LifecycleFunc {
			return func(_ context.Context, args []any) (*callback.Result, error) {
				ran++
				received = append(received, args)
				return callback.Override("seen"), nil
			}
		},
	})
	require.NoError(t, err)

	var results []*callback.Result
	for _, rv := range []int{41, 42, 43} {
		res, err := c.OnPost()(context.Background(), []any{"inst", rv, "q"})
		require.NoError(t, err)
		results = append(results, res)
	}

	assert.Equal(t, 1, ran)
	assert.Nil(t, results[0])
	require.NotNil(t, results[1])
	assert.Equal(t, "seen", results[1].Value)
	assert.Nil(t, results[2])
	require.Len(t, received, 1)
	assert.Equal(t, []any{"inst", 42, "q"}, received[0], "方法体收到未改动的原始参数")
}

func TestCondition_EvaluationErrorIsFalse(t *testing.T) {
	log := testutil.NewRecordingLogger()
	r := baseRule()
	r.Conditions = map[rulespec.Lifecycle]json.RawMessage{callback.Post: json.RawMessage(`"abs(rv)"`)}

	var ran int
	c, err := callback.New(r, callback.Deps{Logger: log}, map[callback.Lifecycle]callback.BodyFactory{
		callback.Post: counting(&ran, nil),
	})
	require.NoError(t, err)

	res, err := c.OnPost()(context.Background(), []any{"inst", "not-a-number"})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 0, ran)
	assert.Equal(t, 1, log.Count("warn"))
}

func TestCondition_RequestAndData(t *testing.T) {
	r := baseRule()
	r.Data = map[string]any{"verb": "GET"}
	r.Conditions = map[rulespec.Lifecycle]json.RawMessage{
		callback.Pre: json.RawMessage(`{"%and": [{"%equals": ["#.request.method", "#.data.verb"]}, {"%include": ["#.args[0]", "union"]}]}`),
	}

	var ran int
	c, err := callback.New(r, callback.Deps{}, map[callback.Lifecycle]callback.BodyFactory{
		callback.Pre: counting(&ran, nil),
	})
	require.NoError(t, err)

	ctx := requestCtx("/search")
	_, _ = c.OnPre()(ctx, []any{"inst", "select 1 union select 2"})
	_, _ = c.OnPre()(ctx, []any{"inst", "select 1"})
	_, _ = c.OnPre()(context.Background(), []any{"inst", "select 1 union select 2"})
	assert.Equal(t, 1, ran)
}

func TestRecordAttack_NoContext(t *testing.T) {
	log := testutil.NewRecordingLogger()
	p := newPipeline()
	c, err := callback.New(baseRule(), callback.Deps{Pipeline: p, Logger: log}, nil)
	require.NoError(t, err)

	assert.Nil(t, c.RecordAttack(context.Background(), map[string]any{"k": "v"}))
	assert.Equal(t, 0, p.Attacks.Len())
	assert.Equal(t, 1, log.Count("warn"))
}

func TestRecordAttack_Event(t *testing.T) {
	p := newPipeline()
	r := baseRule()
	r.Block = true
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c, err := callback.New(r, callback.Deps{Pipeline: p, Now: func() time.Time { return fixed }}, nil)
	require.NoError(t, err)

	ctx := requestCtx("/api/users")
	rec := reqctx.From(ctx)
	rec.AddPayload("sql", "select 1")
	rec.AddTag("source", "test")

	returned := c.RecordAttack(ctx, map[string]any{"reason": "union"})
	evs := p.Attacks.Drain()
	require.Len(t, evs, 1)
	ev := evs[0]
	require.NotNil(t, returned)
	assert.Equal(t, ev.ID, returned.ID)
	assert.Equal(t, "sqli", ev.RuleName)
	assert.Equal(t, "pack-1", ev.RulespackID)
	assert.Equal(t, "10.0.0.8", ev.ClientIP)
	assert.Equal(t, rec.ID, ev.RequestID)
	assert.Equal(t, rec.StartedAt, ev.Time, "事件时间取请求开始时间")
	assert.Equal(t, fixed, ev.DetectedAt)
	assert.True(t, ev.Block)
	assert.False(t, ev.Test)
	assert.Equal(t, "union", ev.Infos["reason"])
	assert.Equal(t, "select 1", ev.Payload["sql"])
	assert.Equal(t, "test", ev.Tags["source"])
	assert.Empty(t, ev.WhitelistMatch)
}

func TestRecordAttack_Whitelist(t *testing.T) {
	p := newPipeline()
	r := baseRule()
	r.Block = true
	r.Whitelist = []string{`^/internal/`}
	c, err := callback.New(r, callback.Deps{Pipeline: p, Whitelist: whitelist.New([]string{`^/health$`})}, nil)
	require.NoError(t, err)

	c.RecordAttack(requestCtx("/health"), nil)
	c.RecordAttack(requestCtx("/internal/metrics"), nil)
	c.RecordAttack(requestCtx("/login"), nil)

	evs := p.Attacks.Drain()
	require.Len(t, evs, 3, "白名单命中也不能丢弃事件")
	assert.False(t, evs[0].Block)
	assert.Equal(t, `^/health$`, evs[0].WhitelistMatch)
	assert.False(t, evs[1].Block)
	assert.Equal(t, `^/internal/`, evs[1].WhitelistMatch)
	assert.True(t, evs[2].Block)
	assert.Empty(t, evs[2].WhitelistMatch)
}

func TestRecordObservation_FlushSignal(t *testing.T) {
	p := telemetry.NewPipeline(telemetry.Options{AttackQueueSize: 1, ObservationQueueSize: 4, ControlQueueSize: 1}, nil)
	c, err := callback.New(baseRule(), callback.Deps{Pipeline: p}, nil)
	require.NoError(t, err)

	at := time.Unix(100, 0)
	c.RecordObservationAt("m", "k", 5, at)
	c.RecordObservation("m", "k", 5)

	assert.Equal(t, 1, p.Control.Len())
	obs := p.Observations.Drain()
	require.Len(t, obs, 2)
	assert.Equal(t, at, obs[0].At)
	assert.Equal(t, int64(5), obs[1].Value)
}

func TestNewFromRule_AttackBlocks(t *testing.T) {
	p := newPipeline()
	r := baseRule()
	r.Block = true
	r.Data = map[string]any{"infos": map[string]any{"category": "sqli"}}
	r.Conditions = map[rulespec.Lifecycle]json.RawMessage{callback.Pre: json.RawMessage(`{"%include": ["#.args[0]", "' or 1=1"]}`)}

	c, err := callback.NewFromRule(r, callback.Deps{Pipeline: p})
	require.NoError(t, err)
	require.NotNil(t, c.OnPre())
	assert.Nil(t, c.OnPost())

	ctx := requestCtx("/login")
	res, err := c.OnPre()(ctx, []any{"conn", "select * from u where name='' or 1=1"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, callback.StatusRaise, res.Status)
	assert.True(t, errors.Is(res.Err, errx.ErrBlocked))

	evs := p.Attacks.Drain()
	require.Len(t, evs, 1)
	assert.Equal(t, "sqli", evs[0].Infos["category"])

	res, err = c.OnPre()(ctx, []any{"conn", "select 1"})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestNewFromRule_WhitelistedPathNotBlocked(t *testing.T) {
	p := newPipeline()
	r := baseRule()
	r.Block = true
	r.Callbacks = map[rulespec.Lifecycle]string{callback.Pre: callback.BodyAttack}

	c, err := callback.NewFromRule(r, callback.Deps{Pipeline: p, Whitelist: whitelist.New([]string{`^/health$`})})
	require.NoError(t, err)
	require.True(t, c.ShouldBlock())

	res, err := c.OnPre()(requestCtx("/health"), []any{"conn"})
	require.NoError(t, err)
	assert.Nil(t, res, "白名单路径只记录不拦截")

	res, err = c.OnPre()(requestCtx("/login"), []any{"conn"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, errors.Is(res.Err, errx.ErrBlocked))

	evs := p.Attacks.Drain()
	require.Len(t, evs, 2)
	assert.False(t, evs[0].Block)
	assert.Equal(t, `^/health$`, evs[0].WhitelistMatch)
	assert.True(t, evs[1].Block)
}

func TestNewFromRule_TestModeDoesNotBlock(t *testing.T) {
	p := newPipeline()
	r := baseRule()
	r.Block, r.Test = true, true
	r.Callbacks = map[rulespec.Lifecycle]string{callback.Pre: callback.BodyAttack}

	c, err := callback.NewFromRule(r, callback.Deps{Pipeline: p})
	require.NoError(t, err)
	res, err := c.OnPre()(requestCtx("/"), []any{"conn"})
	require.NoError(t, err)
	assert.Nil(t, res)
	evs := p.Attacks.Drain()
	require.Len(t, evs, 1)
	assert.True(t, evs[0].Test)
}

func TestNewFromRule_Errors(t *testing.T) {
	r := baseRule()
	r.Callbacks = map[rulespec.Lifecycle]string{callback.Pre: "missing"}
	_, err := callback.NewFromRule(r, callback.Deps{})
	assert.True(t, errx.Is(err, errx.CodeInvalidRule))

	r = baseRule()
	r.Conditions = map[rulespec.Lifecycle]json.RawMessage{callback.Pre: json.RawMessage(`"foo["`)}
	_, err = callback.NewFromRule(r, callback.Deps{})
	assert.True(t, errx.Is(err, errx.CodeInvalidRule))
}

func TestObserveBody(t *testing.T) {
	p := newPipeline()
	r := baseRule()
	r.Data = map[string]any{"metric": "sql.queries", "value": float64(2)}
	r.Callbacks = map[rulespec.Lifecycle]string{callback.Post: callback.BodyObserve}

	c, err := callback.NewFromRule(r, callback.Deps{Pipeline: p})
	require.NoError(t, err)
	_, _ = c.OnPost()(context.Background(), []any{"conn", nil})

	obs := p.Observations.Drain()
	require.Len(t, obs, 1)
	assert.Equal(t, "sql.queries", obs[0].Metric)
	assert.Equal(t, "pack-1:sqli", obs[0].Key)
	assert.Equal(t, int64(2), obs[0].Value)
}

func TestRegisterBody(t *testing.T) {
	called := false
	callback.RegisterBody("test-custom", func(c *callback.RuleCallback) callback.LifecycleFunc {
		return func(context.Context, []any) (*callback.Result, error) {
			called = c.Rule().Name == "sqli"
			return nil, nil
		}
	})
	r := baseRule()
	r.Callbacks = map[rulespec.Lifecycle]string{callback.Failing: "test-custom"}
	c, err := callback.NewFromRule(r, callback.Deps{})
	require.NoError(t, err)
	_, _ = c.OnFailing()(context.Background(), []any{"conn", errors.New("boom")})
	assert.True(t, called)
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "db.conn#Conn.Query", callback.KeyOf(baseRule().Hookpoint).String())
	assert.Equal(t, "os#Exec", callback.Key{Module: "os", Method: "Exec"}.String())
}
