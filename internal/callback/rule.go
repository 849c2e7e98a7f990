package callback

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"hookguard/internal/condition"
	"hookguard/internal/logger"
	"hookguard/internal/reqctx"
	"hookguard/internal/telemetry"
	"hookguard/internal/whitelist"
	"hookguard/pkg/errx"
	"hookguard/pkg/rulespec"

	"github.com/google/uuid"
)

// MetricCallCount 调用次数采样指标名
const MetricCallCount = "rule.call_count"

// Deps 规则回调依赖的进程级组件，由启动流程注入
type Deps struct {
	Pipeline  *telemetry.Pipeline
	Whitelist *whitelist.Matcher
	Logger    logger.Logger
	Now       func() time.Time
}

// BodyFactory 根据规则回调生成某个阶段的方法体
type BodyFactory func(c *RuleCallback) LifecycleFunc

// RuleCallback 携带规则元数据的回调：条件过滤、调用采样、拦截判定与上报
type RuleCallback struct {
	*Base

	rule       rulespec.Rule
	pipeline   *telemetry.Pipeline
	whitelist  *whitelist.Matcher
	log        logger.Logger
	now        func() time.Time
	conditions map[Lifecycle]condition.Evaluator
	counts     map[Lifecycle]*atomic.Int64
}

// New 创建规则回调
// 对定义了条件的阶段先套条件过滤，call_count_interval > 0 时再在外层套调用采样
func New(rule rulespec.Rule, deps Deps, bodies map[Lifecycle]BodyFactory) (*RuleCallback, error) {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	c := &RuleCallback{
		Base:       NewBase(KeyOf(rule.Hookpoint)),
		rule:       rule,
		pipeline:   deps.Pipeline,
		whitelist:  deps.Whitelist.With(rule.Whitelist),
		log:        deps.Logger,
		now:        deps.Now,
		conditions: make(map[Lifecycle]condition.Evaluator, len(rule.Conditions)),
		counts:     make(map[Lifecycle]*atomic.Int64, len(rulespec.Lifecycles)),
	}
	for _, l := range rulespec.Lifecycles {
		c.counts[l] = new(atomic.Int64)
	}

	for l, raw := range rule.Conditions {
		if !l.Valid() {
			return nil, errx.Newf(errx.CodeInvalidRule, "rule %s: unknown lifecycle %q", rule.Name, l)
		}
		ev, err := condition.Compile(raw)
		if err != nil {
			return nil, errx.Wrap(errx.CodeInvalidRule, err, fmt.Sprintf("rule %s: %s condition", rule.Name, l))
		}
		c.conditions[l] = ev
	}

	for _, l := range rulespec.Lifecycles {
		factory, ok := bodies[l]
		if !ok || factory == nil {
			continue
		}
		fn := factory(c)
		if fn == nil {
			continue
		}
		if ev, ok := c.conditions[l]; ok {
			fn = c.gate(l, ev, fn)
		}
		if rule.CallCountInterval > 0 {
			fn = c.sample(l, fn)
		}
		c.SetLifecycle(l, fn)
	}
	return c, nil
}

// Rule 返回规则定义
func (c *RuleCallback) Rule() rulespec.Rule { return c.rule }

// Priority 同一挂钩点上的执行顺序，数值小的先执行
func (c *RuleCallback) Priority() int { return c.rule.Priority }

// ShouldBlock 仅在 block 且非测试模式时拦截
func (c *RuleCallback) ShouldBlock() bool {
	return c.rule.Block && !c.rule.Test
}

// CallCount 返回某阶段当前的采样计数
func (c *RuleCallback) CallCount(l Lifecycle) int64 {
	if n, ok := c.counts[l]; ok {
		return n.Load()
	}
	return 0
}

// gate 条件过滤：条件为假或求值失败时不执行方法体，方法体收到未改动的原始参数
func (c *RuleCallback) gate(l Lifecycle, ev condition.Evaluator, body LifecycleFunc) LifecycleFunc {
	return func(ctx context.Context, args []any) (*Result, error) {
		if !c.check(ctx, l, ev, args) {
			return nil, nil
		}
		return body(ctx, args)
	}
}

// check 组装绑定上下文并求值，异常按未命中处理
func (c *RuleCallback) check(ctx context.Context, l Lifecycle, ev condition.Evaluator, args []any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("条件求值异常，按未命中处理", "rule", c.rule.Name, "lifecycle", string(l), "panic", fmt.Sprint(r))
			ok = false
		}
	}()

	rest := args
	var inst, rv any
	if len(rest) > 0 {
		inst, rest = rest[0], rest[1:]
	}
	if l != Pre && len(rest) > 0 {
		rv, rest = rest[0], rest[1:]
	}

	b := condition.Bindings{
		condition.KeyInst:   inst,
		condition.KeyArgs:   append([]any{}, rest...),
		condition.KeyData:   c.rule.Data,
		condition.KeyRV:     rv,
		condition.KeyLocals: condition.Locals(ctx),
	}
	if r := reqctx.From(ctx); r != nil {
		b[condition.KeyRequest] = r.Bindings()
	}

	v, err := ev.Evaluate(b)
	if err != nil {
		err = errx.Wrap(errx.CodeConditionEvaluation, err, "evaluate condition")
		c.log.Warn("条件求值失败，按未命中处理", "rule", c.rule.Name, "lifecycle", string(l), "error", err.Error())
		return false
	}
	return condition.Truthy(v)
}

// sample 调用次数采样：每 interval 次调用上报一次观测值，之后总是继续执行
func (c *RuleCallback) sample(l Lifecycle, next LifecycleFunc) LifecycleFunc {
	interval := int64(c.rule.CallCountInterval)
	counter := c.counts[l]
	key := c.countKey(l)
	return func(ctx context.Context, args []any) (*Result, error) {
		// 并发下计数允许漂移
		if n := counter.Add(1); n >= interval && counter.CompareAndSwap(n, 0) {
			c.RecordObservation(MetricCallCount, key, interval)
		}
		return next(ctx, args)
	}
}

func (c *RuleCallback) countKey(l Lifecycle) string {
	return c.rule.RulespackID + ":" + c.rule.Name + ":" + string(l)
}

// RecordAttack 在当前请求上下文中记录一次攻击并返回入队的事件，没有上下文时只告警并返回 nil
// 事件时间取请求开始时间，DetectedAt 为命中时间
func (c *RuleCallback) RecordAttack(ctx context.Context, infos map[string]any) *telemetry.AttackEvent {
	r := reqctx.From(ctx)
	if r == nil {
		c.log.Warn("当前没有请求上下文，忽略攻击记录", "rule", c.rule.Name, "rulespack", c.rule.RulespackID)
		return nil
	}

	ev := telemetry.AttackEvent{
		ID:          uuid.NewString(),
		RuleName:    c.rule.Name,
		RulespackID: c.rule.RulespackID,
		RequestID:   r.ID,
		ClientIP:    r.ClientIP,
		Method:      r.Method,
		Path:        r.Path,
		Headers:     r.Headers,
		Time:        r.StartedAt,
		DetectedAt:  c.now(),
		Test:        c.rule.Test,
		Block:       c.rule.Block,
		Infos:       infos,
		Payload:     r.Payload(),
		Tags:        r.Tags(),
	}
	if pattern, ok := c.whitelist.Match(r.Path); ok {
		ev.Block = false
		ev.WhitelistMatch = pattern
	}

	if c.pipeline != nil {
		c.pipeline.PushAttack(ev)
	}
	return &ev
}

// RecordObservation 记录观测值，时间为当前时间
func (c *RuleCallback) RecordObservation(metric, key string, value int64) {
	c.RecordObservationAt(metric, key, value, c.now())
}

// RecordObservationAt 记录指定时间的观测值
func (c *RuleCallback) RecordObservationAt(metric, key string, value int64, at time.Time) {
	if c.pipeline == nil {
		return
	}
	c.pipeline.PushObservation(telemetry.Observation{Metric: metric, At: at, Key: key, Value: value})
}
