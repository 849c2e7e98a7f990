// Package condition 实现规则条件的编译与求值
package condition

import (
	"encoding/json"
	"fmt"
	"reflect"

	"hookguard/pkg/errx"

	"github.com/tidwall/gjson"
)

// 绑定上下文中的键名
const (
	KeyInst    = "inst"
	KeyArgs    = "args"
	KeyRequest = "request"
	KeyData    = "data"
	KeyRV      = "rv"
	KeyLocals  = "locals"
)

// Bindings 每次调用构造的绑定上下文，不做持久化
type Bindings map[string]any

// Evaluator 条件求值器，返回值按真值规则解释，nil 视为未命中
type Evaluator interface {
	Evaluate(b Bindings) (any, error)
}

// EvaluatorFunc 函数形式的求值器
type EvaluatorFunc func(b Bindings) (any, error)

func (f EvaluatorFunc) Evaluate(b Bindings) (any, error) { return f(b) }

// Const 常量求值器
type Const bool

func (c Const) Evaluate(Bindings) (any, error) { return bool(c), nil }

// Compile 编译规则中的条件定义
// 字符串为 JMESPath 表达式，对象为运算符树，布尔值为常量
func Compile(raw json.RawMessage) (Evaluator, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errx.New(errx.CodeInvalidRule, "condition is not valid json")
	}
	res := gjson.ParseBytes(raw)
	switch {
	case res.IsObject():
		return compileTree(res)
	case res.Type == gjson.String:
		return NewJMESPath(res.String())
	case res.Type == gjson.True || res.Type == gjson.False:
		return Const(res.Bool()), nil
	default:
		return nil, errx.Newf(errx.CodeInvalidRule, "unsupported condition type %s", res.Type)
	}
}

// Truthy 真值判断：nil、false、数值 0、空字符串与空集合均为假
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case error:
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	}
	return true
}

// Normalize 将绑定值转换为 JSON 值形态（数值统一为 float64），便于表达式比较
func Normalize(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return x
	case error:
		return x.Error()
	case Bindings:
		return normalizeMap(x)
	case map[string]any:
		return normalizeMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Sprint(v)
	}
	return out
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Normalize(v)
	}
	return out
}
