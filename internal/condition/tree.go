package condition

import (
	"fmt"
	"reflect"
	"strings"

	"hookguard/internal/regexutil"
	"hookguard/pkg/errx"

	"github.com/tidwall/gjson"
)

// accessorPrefix 以此开头的字符串操作数表示绑定访问器，其余部分为 JMESPath 表达式
const accessorPrefix = "#."

// node 编译后的树节点，在归一化后的绑定上求值
type node func(env map[string]any) (any, error)

// Tree 运算符树求值器，例如 {"%and": [{"%equals": ["#.rv", 42]}, "#.request.path"]}
type Tree struct {
	root node
}

// Evaluate 执行运算符树
func (t *Tree) Evaluate(b Bindings) (any, error) {
	return t.root(normalizeMap(b))
}

type operator struct {
	minArgs int
	maxArgs int // -1 表示不限
	apply   func(args []node, env map[string]any) (any, error)
}

var operators map[string]operator

func init() {
	operators = map[string]operator{
		"%and":              {1, -1, opAnd},
		"%or":               {1, -1, opOr},
		"%not":              {1, 1, opNot},
		"%equals":           {2, 2, opEquals},
		"%not_equals":       {2, 2, opNotEquals},
		"%gt":               {2, 2, compare(func(a, b float64) bool { return a > b })},
		"%gte":              {2, 2, compare(func(a, b float64) bool { return a >= b })},
		"%lt":               {2, 2, compare(func(a, b float64) bool { return a < b })},
		"%lte":              {2, 2, compare(func(a, b float64) bool { return a <= b })},
		"%include":          {2, 2, opInclude},
		"%hash_val_include": {2, 3, opHashValInclude},
		"%matches":          {2, 2, opMatches},
		"%is_empty":         {1, 1, opIsEmpty},
	}
}

func compileTree(res gjson.Result) (*Tree, error) {
	root, err := compileNode(res)
	if err != nil {
		return nil, err
	}
	return &Tree{root: root}, nil
}

func compileNode(res gjson.Result) (node, error) {
	switch {
	case res.IsObject():
		return compileOperator(res)
	case res.Type == gjson.String && strings.HasPrefix(res.Str, accessorPrefix):
		acc, err := NewJMESPath(strings.TrimPrefix(res.Str, accessorPrefix))
		if err != nil {
			return nil, err
		}
		return func(env map[string]any) (any, error) { return acc.search(env) }, nil
	default:
		v := res.Value()
		return func(map[string]any) (any, error) { return v, nil }, nil
	}
}

func compileOperator(res gjson.Result) (node, error) {
	var (
		name  string
		count int
		args  gjson.Result
	)
	res.ForEach(func(k, v gjson.Result) bool {
		name, args = k.String(), v
		count++
		return true
	})
	if count != 1 {
		return nil, errx.Newf(errx.CodeInvalidRule, "operator node must have exactly one key, got %d", count)
	}

	op, ok := operators[name]
	if !ok {
		return nil, errx.Newf(errx.CodeInvalidRule, "unknown operator %s", name)
	}

	var operands []gjson.Result
	if args.IsArray() {
		operands = args.Array()
	} else {
		operands = []gjson.Result{args}
	}
	if len(operands) < op.minArgs || (op.maxArgs >= 0 && len(operands) > op.maxArgs) {
		return nil, errx.Newf(errx.CodeInvalidRule, "operator %s got %d operands", name, len(operands))
	}

	children := make([]node, 0, len(operands))
	for _, o := range operands {
		child, err := compileNode(o)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	apply := op.apply
	return func(env map[string]any) (any, error) { return apply(children, env) }, nil
}

func evalAll(args []node, env map[string]any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		v, err := a(env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// opAnd 短路求值
func opAnd(args []node, env map[string]any) (any, error) {
	for _, a := range args {
		v, err := a(env)
		if err != nil {
			return nil, err
		}
		if !Truthy(v) {
			return false, nil
		}
	}
	return true, nil
}

func opOr(args []node, env map[string]any) (any, error) {
	for _, a := range args {
		v, err := a(env)
		if err != nil {
			return nil, err
		}
		if Truthy(v) {
			return true, nil
		}
	}
	return false, nil
}

func opNot(args []node, env map[string]any) (any, error) {
	v, err := args[0](env)
	if err != nil {
		return nil, err
	}
	return !Truthy(v), nil
}

func opEquals(args []node, env map[string]any) (any, error) {
	vals, err := evalAll(args, env)
	if err != nil {
		return nil, err
	}
	return equal(vals[0], vals[1]), nil
}

func opNotEquals(args []node, env map[string]any) (any, error) {
	vals, err := evalAll(args, env)
	if err != nil {
		return nil, err
	}
	return !equal(vals[0], vals[1]), nil
}

func compare(cmp func(a, b float64) bool) func(args []node, env map[string]any) (any, error) {
	return func(args []node, env map[string]any) (any, error) {
		vals, err := evalAll(args, env)
		if err != nil {
			return nil, err
		}
		a, okA := vals[0].(float64)
		b, okB := vals[1].(float64)
		if !okA || !okB {
			return false, nil
		}
		return cmp(a, b), nil
	}
}

// opInclude 字符串包含子串，或数组包含元素
func opInclude(args []node, env map[string]any) (any, error) {
	vals, err := evalAll(args, env)
	if err != nil {
		return nil, err
	}
	switch haystack := vals[0].(type) {
	case string:
		needle, ok := vals[1].(string)
		return ok && strings.Contains(haystack, needle), nil
	case []any:
		for _, e := range haystack {
			if equal(e, vals[1]) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		key, ok := vals[1].(string)
		if !ok {
			return false, nil
		}
		_, found := haystack[key]
		return found, nil
	}
	return false, nil
}

// opHashValInclude 结构中任一长度不小于下限的字符串值出现在目标字符串中
// 操作数：目标字符串、结构、可选的最小长度
func opHashValInclude(args []node, env map[string]any) (any, error) {
	vals, err := evalAll(args, env)
	if err != nil {
		return nil, err
	}
	target, ok := vals[0].(string)
	if !ok || target == "" {
		return false, nil
	}
	minLen := 1
	if len(vals) == 3 {
		if n, ok := vals[2].(float64); ok && n > 0 {
			minLen = int(n)
		}
	}
	found := false
	walkStrings(vals[1], func(s string) bool {
		if len(s) >= minLen && strings.Contains(target, s) {
			found = true
			return false
		}
		return true
	})
	return found, nil
}

func walkStrings(v any, visit func(string) bool) bool {
	switch x := v.(type) {
	case string:
		return visit(x)
	case []any:
		for _, e := range x {
			if !walkStrings(e, visit) {
				return false
			}
		}
	case map[string]any:
		for _, e := range x {
			if !walkStrings(e, visit) {
				return false
			}
		}
	}
	return true
}

// opMatches 操作数：正则、目标字符串
func opMatches(args []node, env map[string]any) (any, error) {
	vals, err := evalAll(args, env)
	if err != nil {
		return nil, err
	}
	pattern, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("%%matches pattern must be a string, got %T", vals[0])
	}
	s, ok := vals[1].(string)
	if !ok {
		return false, nil
	}
	return regexutil.Default.Match(pattern, s), nil
}

func opIsEmpty(args []node, env map[string]any) (any, error) {
	v, err := args[0](env)
	if err != nil {
		return nil, err
	}
	return !Truthy(v), nil
}

func equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
