// Package callback 定义挂钩点上的生命周期回调以及基于规则的回调实现
package callback

import (
	"context"
	"fmt"

	"hookguard/pkg/rulespec"
)

// Lifecycle 生命周期阶段
type Lifecycle = rulespec.Lifecycle

const (
	Pre     = rulespec.LifecyclePre
	Post    = rulespec.LifecyclePost
	Failing = rulespec.LifecycleFailing
)

// Key 挂钩点：模块、可选类名与方法名，每个挂钩点只安装一个策略
type Key struct {
	Module string
	Class  string
	Method string
}

func (k Key) String() string {
	if k.Class == "" {
		return fmt.Sprintf("%s#%s", k.Module, k.Method)
	}
	return fmt.Sprintf("%s#%s.%s", k.Module, k.Class, k.Method)
}

// KeyOf 由规则挂钩点描述生成 Key
func KeyOf(h rulespec.Hookpoint) Key {
	return Key{Module: h.Module(), Class: h.Class(), Method: h.Method}
}

// Status 生命周期处理结果
type Status int

const (
	StatusNone       Status = iota
	StatusRaise             // 中断调用并返回 Err
	StatusOverride          // 跳过或替换原调用结果，返回 Value
	StatusModifyArgs        // 以 Args 替换原调用参数，仅 pre 有效
)

func (s Status) String() string {
	switch s {
	case StatusRaise:
		return "raise"
	case StatusOverride:
		return "override"
	case StatusModifyArgs:
		return "modify_args"
	default:
		return "none"
	}
}

// Result 生命周期方法的返回，nil 表示不干预
type Result struct {
	Status Status
	Value  any
	Args   []any
	Err    error
}

func Raise(err error) *Result { return &Result{Status: StatusRaise, Err: err} }
func Override(v any) *Result { return &Result{Status: StatusOverride, Value: v} }
func ModifyArgs(args ...any) *Result { return &Result{Status: StatusModifyArgs, Args: args} }

// LifecycleFunc 生命周期方法
// args 约定：args[0] 为被挂钩的实例；post/failing 时 args[1] 为返回值或错误；其余为原调用参数
type LifecycleFunc func(ctx context.Context, args []any) (*Result, error)

// Callback 挂钩点上的回调单元，未定义的阶段返回 nil
type Callback interface {
	HookPoint() Key
	OnPre() LifecycleFunc
	OnPost() LifecycleFunc
	OnFailing() LifecycleFunc
}

// Of 按阶段取回调方法
func Of(cb Callback, l Lifecycle) LifecycleFunc {
	switch l {
	case Pre:
		return cb.OnPre()
	case Post:
		return cb.OnPost()
	case Failing:
		return cb.OnFailing()
	}
	return nil
}

// Base Callback 的基础实现
type Base struct {
	key Key
	fns map[Lifecycle]LifecycleFunc
}

// NewBase 创建基础回调
func NewBase(key Key) *Base {
	return &Base{key: key, fns: make(map[Lifecycle]LifecycleFunc, 3)}
}

// SetLifecycle 设置某个阶段的方法，仅在安装前调用
func (b *Base) SetLifecycle(l Lifecycle, fn LifecycleFunc) {
	if fn == nil {
		delete(b.fns, l)
		return
	}
	b.fns[l] = fn
}

func (b *Base) HookPoint() Key { return b.key }
func (b *Base) OnPre() LifecycleFunc { return b.fns[Pre] }
func (b *Base) OnPost() LifecycleFunc { return b.fns[Post] }
func (b *Base) OnFailing() LifecycleFunc { return b.fns[Failing] }
