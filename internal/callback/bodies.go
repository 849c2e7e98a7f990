package callback

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"hookguard/internal/condition"
	"hookguard/pkg/errx"
	"hookguard/pkg/rulespec"
)

// 内置方法体名称，规则的 callbacks 字段引用这些名称
const (
	BodyAttack  = "attack"
	BodyObserve = "observe"
	BodyNoop    = "noop"
)

var (
	bodiesMu sync.RWMutex
	bodies   = map[string]BodyFactory{
		BodyAttack:  attackBody,
		BodyObserve: observeBody,
		BodyNoop:    noopBody,
	}
)

// RegisterBody 注册自定义方法体，同名覆盖
func RegisterBody(name string, f BodyFactory) {
	bodiesMu.Lock()
	defer bodiesMu.Unlock()
	bodies[name] = f
}

// Body 按名称查找方法体
func Body(name string) (BodyFactory, bool) {
	bodiesMu.RLock()
	defer bodiesMu.RUnlock()
	f, ok := bodies[name]
	return f, ok
}

// NewFromRule 按规则 callbacks 字段选择方法体并创建规则回调
// 未声明 callbacks 时，在每个有条件的阶段上挂 attack，没有条件则挂在 pre
func NewFromRule(rule rulespec.Rule, deps Deps) (*RuleCallback, error) {
	names := rule.Callbacks
	if len(names) == 0 {
		names = make(map[Lifecycle]string, 1)
		for l := range rule.Conditions {
			names[l] = BodyAttack
		}
		if len(names) == 0 {
			names[Pre] = BodyAttack
		}
	}

	factories := make(map[Lifecycle]BodyFactory, len(names))
	for l, name := range names {
		if !l.Valid() {
			return nil, errx.Newf(errx.CodeInvalidRule, "rule %s: unknown lifecycle %q", rule.Name, l)
		}
		f, ok := Body(name)
		if !ok {
			return nil, errx.Newf(errx.CodeInvalidRule, "rule %s: unknown callback %q", rule.Name, name)
		}
		factories[l] = f
	}
	return New(rule, deps, factories)
}

// attackBody 记录攻击，规则要求拦截且路径未命中白名单时中断原调用
func attackBody(c *RuleCallback) LifecycleFunc {
	return func(ctx context.Context, args []any) (*Result, error) {
		infos := make(map[string]any)
		if m, ok := c.rule.Data["infos"].(map[string]any); ok {
			maps.Copy(infos, m)
		}
		if len(args) > 1 {
			infos["args"] = condition.Normalize(args[1:])
		}
		ev := c.RecordAttack(ctx, infos)
		if ev != nil && ev.WhitelistMatch != "" {
			return nil, nil
		}
		if c.ShouldBlock() {
			return Raise(fmt.Errorf("rule %s: %w", c.rule.Name, errx.ErrBlocked)), nil
		}
		return nil, nil
	}
}

// observeBody 按规则 data 中的 metric/key/value 记录观测值
func observeBody(c *RuleCallback) LifecycleFunc {
	metric, _ := c.rule.Data["metric"].(string)
	if metric == "" {
		metric = "rule.observe"
	}
	key, _ := c.rule.Data["key"].(string)
	if key == "" {
		key = c.rule.RulespackID + ":" + c.rule.Name
	}
	value := int64(1)
	switch v := c.rule.Data["value"].(type) {
	case float64:
		value = int64(v)
	case int:
		value = int64(v)
	case int64:
		value = v
	}
	return func(context.Context, []any) (*Result, error) {
		c.RecordObservation(metric, key, value)
		return nil, nil
	}
}

func noopBody(*RuleCallback) LifecycleFunc {
	return func(context.Context, []any) (*Result, error) { return nil, nil }
}
