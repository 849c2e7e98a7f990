// Package rulespec 定义规则包的描述格式
package rulespec

import (
	"encoding/json"
	"strings"
)

// Lifecycle 生命周期阶段
type Lifecycle string

const (
	LifecyclePre     Lifecycle = "pre"     // 原调用之前
	LifecyclePost    Lifecycle = "post"    // 原调用成功返回之后
	LifecycleFailing Lifecycle = "failing" // 原调用返回错误之后
)

// Lifecycles 按执行顺序排列的全部阶段
var Lifecycles = []Lifecycle{LifecyclePre, LifecyclePost, LifecycleFailing}

// Valid 判断阶段名是否合法
func (l Lifecycle) Valid() bool {
	switch l {
	case LifecyclePre, LifecyclePost, LifecycleFailing:
		return true
	}
	return false
}

// 挂钩策略
const (
	StrategyImport = "import" // 通用方法替换
)

// Rulespack 一组一起下发的规则
type Rulespack struct {
	ID      string `json:"rulespack_id"`
	Version string `json:"version,omitempty"`
	Rules   []Rule `json:"rules"`
}

// Hookpoint 挂钩点描述，Klass 形如 "module::Class"，无类名时为模块级函数
type Hookpoint struct {
	Klass    string `json:"klass"`
	Method   string `json:"method"`
	Strategy string `json:"strategy,omitempty"`
}

// Module 模块名
func (h Hookpoint) Module() string {
	mod, _, _ := strings.Cut(h.Klass, "::")
	return mod
}

// Class 类名，可能为空
func (h Hookpoint) Class() string {
	_, cls, _ := strings.Cut(h.Klass, "::")
	return cls
}

// StrategyName 策略名，缺省为 import
func (h Hookpoint) StrategyName() string {
	if h.Strategy == "" {
		return StrategyImport
	}
	return h.Strategy
}

// Rule 规则定义，构造后不可变
type Rule struct {
	Name              string                        `json:"name"`
	RulespackID       string                        `json:"rulespack_id"`
	Hookpoint         Hookpoint                     `json:"hookpoint"`
	Priority          int                           `json:"priority,omitempty"`
	Block             bool                          `json:"block"`
	Test              bool                          `json:"test"`
	Data              map[string]any                `json:"data,omitempty"`
	Conditions        map[Lifecycle]json.RawMessage `json:"conditions,omitempty"`
	Callbacks         map[Lifecycle]string          `json:"callbacks,omitempty"`
	CallCountInterval int                           `json:"call_count_interval,omitempty"`
	Whitelist         []string                      `json:"whitelist,omitempty"`
}
