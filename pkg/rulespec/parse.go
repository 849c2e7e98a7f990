package rulespec

import (
	"encoding/json"
	"errors"
	"fmt"

	"hookguard/pkg/errx"

	"github.com/tidwall/gjson"
)

// requiredFields 规则必须出现的字段
var requiredFields = []string{"name", "hookpoint.klass", "hookpoint.method"}

// Parse 解析规则包
// 结构性错误的规则被跳过，返回值中包含其余合法规则以及汇总错误
func Parse(data []byte) (*Rulespack, error) {
	if !gjson.ValidBytes(data) {
		return nil, errx.New(errx.CodeInvalidRule, "rulespack is not valid json")
	}
	doc := gjson.ParseBytes(data)
	if !doc.Get("rules").IsArray() {
		return nil, errx.New(errx.CodeInvalidRule, "rulespack has no rules array")
	}

	pack := &Rulespack{
		ID:      doc.Get("rulespack_id").String(),
		Version: doc.Get("version").String(),
	}

	var errs []error
	for i, raw := range doc.Get("rules").Array() {
		rule, err := parseRule(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule #%d: %w", i, err))
			continue
		}
		if rule.RulespackID == "" {
			rule.RulespackID = pack.ID
		}
		pack.Rules = append(pack.Rules, *rule)
	}
	return pack, errors.Join(errs...)
}

func parseRule(raw gjson.Result) (*Rule, error) {
	for _, field := range requiredFields {
		v := raw.Get(field)
		if !v.Exists() || v.String() == "" {
			return nil, errx.Newf(errx.CodeInvalidRule, "missing field %s", field)
		}
	}

	var rule Rule
	if err := json.Unmarshal([]byte(raw.Raw), &rule); err != nil {
		return nil, errx.Wrap(errx.CodeInvalidRule, err, "decode rule "+raw.Get("name").String())
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return &rule, nil
}

// Validate 校验字段取值
func (r *Rule) Validate() error {
	for l := range r.Conditions {
		if !l.Valid() {
			return errx.Newf(errx.CodeInvalidRule, "rule %s: unknown lifecycle %q in conditions", r.Name, l)
		}
	}
	for l := range r.Callbacks {
		if !l.Valid() {
			return errx.Newf(errx.CodeInvalidRule, "rule %s: unknown lifecycle %q in callbacks", r.Name, l)
		}
	}
	if r.CallCountInterval < 0 {
		return errx.Newf(errx.CodeInvalidRule, "rule %s: negative call_count_interval", r.Name)
	}
	if r.Hookpoint.Module() == "" {
		return errx.Newf(errx.CodeInvalidRule, "rule %s: hookpoint klass has no module", r.Name)
	}
	return nil
}
