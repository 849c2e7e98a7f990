// Package loader 模拟宿主程序的模块解析机制，并提供模块加载观察者
package loader

import (
	"context"
	"fmt"
	"sync"
)

// Func 可被插桩的调用单元，约定 args[0] 为接收者实例
type Func func(ctx context.Context, args ...any) (any, error)

// Class 命名的方法表，调用方始终通过 Call 间接调用，插桩时只需替换表项
type Class struct {
	Name    string
	mu      sync.RWMutex
	methods map[string]Func
}

// NewClass 创建方法表
func NewClass(name string, methods map[string]Func) *Class {
	c := &Class{Name: name, methods: make(map[string]Func, len(methods))}
	for k, v := range methods {
		c.methods[k] = v
	}
	return c
}

// Method 获取方法
func (c *Class) Method(name string) (Func, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.methods[name]
	return fn, ok && fn != nil
}

// SetMethod 替换方法
func (c *Class) SetMethod(name string, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods[name] = fn
}

// Call 通过方法表调用
func (c *Class) Call(ctx context.Context, name string, args ...any) (any, error) {
	fn, ok := c.Method(name)
	if !ok {
		return nil, fmt.Errorf("%s has no method %q", c.Name, name)
	}
	return fn(ctx, args...)
}

// Module 已解析的模块
type Module struct {
	Name  string
	mu    sync.RWMutex
	attrs map[string]any
}

// NewModule 创建模块
func NewModule(name string) *Module {
	return &Module{Name: name, attrs: make(map[string]any)}
}

// Attr 获取模块属性
func (m *Module) Attr(name string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.attrs[name]
	return v, ok
}

// SetAttr 设置模块属性
func (m *Module) SetAttr(name string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attrs[name] = v
}

// Class 获取类型为 *Class 的属性
func (m *Module) Class(name string) (*Class, bool) {
	v, ok := m.Attr(name)
	if !ok {
		return nil, false
	}
	c, ok := v.(*Class)
	return c, ok
}
