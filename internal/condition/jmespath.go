package condition

import (
	"hookguard/pkg/errx"

	jmespath "github.com/jmespath-community/go-jmespath"
)

// JMESPath 基于 JMESPath 表达式的求值器，例如 "rv == `42`"
type JMESPath struct {
	expr   string
	search func(data any) (any, error)
}

// NewJMESPath 预编译表达式
func NewJMESPath(expr string) (*JMESPath, error) {
	compiled, err := jmespath.Compile(expr)
	if err != nil {
		return nil, errx.Wrap(errx.CodeInvalidRule, err, "invalid jmespath expression "+expr)
	}
	return &JMESPath{expr: expr, search: compiled.Search}, nil
}

// Evaluate 在归一化后的绑定上下文上求值
func (j *JMESPath) Evaluate(b Bindings) (any, error) {
	return j.search(normalizeMap(b))
}

func (j *JMESPath) String() string { return j.expr }
