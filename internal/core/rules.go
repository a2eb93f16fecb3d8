package core

// rules.go defines template validation rules as a closed set of variants.
//
// A rule is stored as JSON (or YAML) with a "type" discriminator:
//
//	{"type": "range", "min": 0, "max": 100}
//	{"type": "regex", "pattern": "^[A-Z]"}
//	{"type": "enum", "values": ["Yes", "No"]}
//	{"type": "custom", "expression": "float(value) == float(int(value))", "message": "must be whole"}
//
// Unknown types fail decoding so a bad template is caught when it is loaded
// rather than silently skipped at upload time.

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
	"gopkg.in/yaml.v3"
)

// Severity decides whether a failing rule invalidates the row.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// RuleKind is the discriminator stored with each rule.
type RuleKind string

const (
	KindRange  RuleKind = "range"
	KindRegex  RuleKind = "regex"
	KindEnum   RuleKind = "enum"
	KindCustom RuleKind = "custom"
)

// Rule is implemented only by RangeRule, RegexRule, EnumRule and CustomRule.
type Rule interface {
	Kind() RuleKind
	severity() Severity
	message() string
}

// RuleBase carries the fields every rule shares.
type RuleBase struct {
	Message  string   `json:"message,omitempty" yaml:"message,omitempty"`
	Severity Severity `json:"severity,omitempty" yaml:"severity,omitempty"`
}

func (b RuleBase) severity() Severity {
	if b.Severity == SeverityWarning {
		return SeverityWarning
	}
	return SeverityError
}

func (b RuleBase) message() string { return b.Message }

// RangeRule bounds a numeric value. Either bound may be omitted.
type RangeRule struct {
	RuleBase `yaml:",inline"`
	Min      *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

func (RangeRule) Kind() RuleKind { return KindRange }

// RegexRule requires the text form of the value to match Pattern.
type RegexRule struct {
	RuleBase `yaml:",inline"`
	Pattern  string `json:"pattern" yaml:"pattern"`

	re *regexp.Regexp
}

func (RegexRule) Kind() RuleKind { return KindRegex }

// EnumRule restricts the value to a fixed list, compared case-insensitively
// unless CaseSensitive is set.
type EnumRule struct {
	RuleBase      `yaml:",inline"`
	Values        []string `json:"values" yaml:"values"`
	CaseSensitive bool     `json:"caseSensitive,omitempty" yaml:"caseSensitive,omitempty"`
}

func (EnumRule) Kind() RuleKind { return KindEnum }

// CustomRule is a tengo expression that must evaluate to true. The
// expression sees "value" (the field being checked, or undefined for row
// level rules), "field" and "row" (a map of the mapped record).
type CustomRule struct {
	RuleBase   `yaml:",inline"`
	Expression string `json:"expression" yaml:"expression"`

	prog *customProgram
}

func (CustomRule) Kind() RuleKind { return KindCustom }

// Rules is an ordered rule list with discriminated JSON and YAML forms.
type Rules []Rule

type ruleHeader struct {
	Type RuleKind `json:"type" yaml:"type"`
}

func (rs *Rules) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}

	out := make(Rules, 0, len(raws))
	for i, raw := range raws {
		var h ruleHeader
		if err := json.Unmarshal(raw, &h); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		rule, err := decodeRule(h.Type, func(v any) error { return json.Unmarshal(raw, v) })
		if err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		out = append(out, rule)
	}
	*rs = out
	return nil
}

func (rs *Rules) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: rules must be a list", node.Line)
	}

	out := make(Rules, 0, len(node.Content))
	for i, item := range node.Content {
		var h ruleHeader
		if err := item.Decode(&h); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		rule, err := decodeRule(h.Type, item.Decode)
		if err != nil {
			return fmt.Errorf("rule %d (line %d): %w", i, item.Line, err)
		}
		out = append(out, rule)
	}
	*rs = out
	return nil
}

func (rs Rules) MarshalJSON() ([]byte, error) {
	items := make([]map[string]any, 0, len(rs))
	for _, r := range rs {
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		m["type"] = r.Kind()
		items = append(items, m)
	}
	return json.Marshal(items)
}

// decodeRule builds the variant named by kind using decode to fill it.
func decodeRule(kind RuleKind, decode func(any) error) (Rule, error) {
	switch kind {
	case KindRange:
		var r RangeRule
		if err := decode(&r); err != nil {
			return nil, err
		}
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			return nil, fmt.Errorf("range min %v exceeds max %v", *r.Min, *r.Max)
		}
		return r, nil

	case KindRegex:
		var r RegexRule
		if err := decode(&r); err != nil {
			return nil, err
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("regex pattern: %w", err)
		}
		r.re = re
		return r, nil

	case KindEnum:
		var r EnumRule
		if err := decode(&r); err != nil {
			return nil, err
		}
		if len(r.Values) == 0 {
			return nil, fmt.Errorf("enum rule has no values")
		}
		return r, nil

	case KindCustom:
		var r CustomRule
		if err := decode(&r); err != nil {
			return nil, err
		}
		if strings.TrimSpace(r.Expression) == "" {
			return nil, fmt.Errorf("custom rule has no expression")
		}
		r.prog = &customProgram{expr: r.Expression}
		if err := r.prog.compile(); err != nil {
			return nil, fmt.Errorf("custom expression: %w", err)
		}
		return r, nil

	case "":
		return nil, fmt.Errorf("rule type is required")
	default:
		return nil, fmt.Errorf("unknown rule type %q", kind)
	}
}

// Violation is a failed rule for one field.
type Violation struct {
	Field    string
	Message  string
	Severity Severity
}

// RuleInput is what a rule sees for one field of one record.
type RuleInput struct {
	Field string
	Value any // nil when the field is empty
	Row   map[string]any
}

// rowField is the field name given to row level (custom) rules.
const rowField = "row"

// EvaluateRule checks a single rule. Empty values pass every field rule;
// requiredness is handled by the schema.
func EvaluateRule(ctx context.Context, rule Rule, in RuleInput) (*Violation, error) {
	var (
		ok          bool
		defaultText string
		err         error
	)

	switch r := rule.(type) {
	case RangeRule:
		if in.Value == nil {
			return nil, nil
		}
		f, isNum := toFloat(in.Value)
		switch {
		case !isNum:
			ok, defaultText = false, fmt.Sprintf("%s must be a number", in.Field)
		default:
			ok = (r.Min == nil || f >= *r.Min) && (r.Max == nil || f <= *r.Max)
			defaultText = rangeText(in.Field, r.Min, r.Max, f)
		}

	case RegexRule:
		if in.Value == nil {
			return nil, nil
		}
		s := toText(in.Value)
		ok = r.re.MatchString(s)
		defaultText = fmt.Sprintf("%s %q does not match pattern %s", in.Field, s, r.Pattern)

	case EnumRule:
		if in.Value == nil {
			return nil, nil
		}
		s := toText(in.Value)
		ok = inEnum(s, r.Values, r.CaseSensitive)
		defaultText = fmt.Sprintf("%s %q must be one of: %s", in.Field, s, strings.Join(r.Values, ", "))

	case CustomRule:
		if in.Value == nil && in.Field != rowField {
			return nil, nil
		}
		ok, err = r.prog.eval(ctx, in)
		if err != nil {
			return nil, err
		}
		defaultText = fmt.Sprintf("%s failed custom rule: %s", in.Field, r.Expression)

	default:
		return nil, fmt.Errorf("unsupported rule %T", rule)
	}

	if ok {
		return nil, nil
	}
	msg := rule.message()
	if msg == "" {
		msg = defaultText
	} else if in.Field != "" && in.Field != rowField {
		msg = in.Field + ": " + msg
	}
	return &Violation{Field: in.Field, Message: msg, Severity: rule.severity()}, nil
}

func rangeText(field string, min, max *float64, got float64) string {
	g := strconv.FormatFloat(got, 'f', -1, 64)
	switch {
	case min != nil && max != nil:
		return fmt.Sprintf("%s %s must be between %v and %v", field, g, *min, *max)
	case min != nil:
		return fmt.Sprintf("%s %s must be at least %v", field, g, *min)
	default:
		return fmt.Sprintf("%s %s must be at most %v", field, g, *max)
	}
}

func inEnum(s string, values []string, caseSensitive bool) bool {
	s = strings.TrimSpace(s)
	for _, v := range values {
		if caseSensitive && v == s {
			return true
		}
		if !caseSensitive && strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toText(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case time.Time:
		return s.Format("2006-01-02")
	default:
		return fmt.Sprint(v)
	}
}

// customProgram compiles a tengo expression once and runs clones of it.
type customProgram struct {
	expr string

	once     sync.Once
	compiled *tengo.Compiled
	err      error
}

const customResultVar = "__result"

// customTimeout bounds a single expression run.
var customTimeout = 250 * time.Millisecond

func (p *customProgram) compile() error {
	p.once.Do(func() {
		script := tengo.NewScript([]byte(customResultVar + " := (" + p.expr + ")"))
		script.SetImports(stdlib.GetModuleMap("text", "math", "times"))
		_ = script.Add("value", nil)
		_ = script.Add("field", "")
		_ = script.Add("row", map[string]interface{}{})
		p.compiled, p.err = script.Compile()
	})
	return p.err
}

func (p *customProgram) eval(ctx context.Context, in RuleInput) (bool, error) {
	if err := p.compile(); err != nil {
		return false, err
	}

	c := p.compiled.Clone()
	if err := c.Set("value", tengoValue(in.Value)); err != nil {
		return false, fmt.Errorf("custom rule: %w", err)
	}
	if err := c.Set("field", in.Field); err != nil {
		return false, fmt.Errorf("custom rule: %w", err)
	}
	row := make(map[string]interface{}, len(in.Row))
	for k, v := range in.Row {
		row[k] = tengoValue(v)
	}
	if err := c.Set("row", row); err != nil {
		return false, fmt.Errorf("custom rule: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, customTimeout)
	defer cancel()
	if err := c.RunContext(runCtx); err != nil {
		return false, fmt.Errorf("custom rule %q: %w", p.expr, err)
	}

	result := c.Get(customResultVar)
	if result.ValueType() != "bool" {
		return false, fmt.Errorf("custom rule %q returned %s, want bool", p.expr, result.ValueType())
	}
	return result.Bool(), nil
}

// tengoValue converts record values into types tengo.FromInterface accepts.
func tengoValue(v any) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case *int:
		if t == nil {
			return nil
		}
		return int64(*t)
	case *float64:
		if t == nil {
			return nil
		}
		return *t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case time.Time:
		return t
	case map[string]string:
		m := make(map[string]interface{}, len(t))
		for k, s := range t {
			m[k] = s
		}
		return m
	default:
		return v
	}
}
