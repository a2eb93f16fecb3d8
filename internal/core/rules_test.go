package core

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func decodeRules(t *testing.T, js string) Rules {
	t.Helper()
	var rs Rules
	if err := json.Unmarshal([]byte(js), &rs); err != nil {
		t.Fatalf("unmarshal rules: %v", err)
	}
	return rs
}

func TestRules_UnmarshalJSON(t *testing.T) {
	rs := decodeRules(t, `[
		{"type": "range", "min": 0, "max": 100},
		{"type": "regex", "pattern": "^[A-Z]{2}$"},
		{"type": "enum", "values": ["Yes", "No"], "severity": "warning"},
		{"type": "custom", "expression": "value > 0"}
	]`)

	want := []RuleKind{KindRange, KindRegex, KindEnum, KindCustom}
	if len(rs) != len(want) {
		t.Fatalf("len(rules) = %d, want %d", len(rs), len(want))
	}
	for i, k := range want {
		if rs[i].Kind() != k {
			t.Errorf("rules[%d].Kind() = %q, want %q", i, rs[i].Kind(), k)
		}
	}
	if rs[2].severity() != SeverityWarning {
		t.Errorf("enum severity = %q, want warning", rs[2].severity())
	}
	if rs[0].severity() != SeverityError {
		t.Errorf("default severity = %q, want error", rs[0].severity())
	}
}

func TestRules_UnmarshalJSON_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		js      string
		wantErr string
	}{
		{"unknown type", `[{"type": "between"}]`, `unknown rule type "between"`},
		{"missing type", `[{"min": 1}]`, "rule type is required"},
		{"inverted range", `[{"type": "range", "min": 5, "max": 1}]`, "exceeds max"},
		{"bad regex", `[{"type": "regex", "pattern": "("}]`, "regex pattern"},
		{"empty enum", `[{"type": "enum", "values": []}]`, "no values"},
		{"empty expression", `[{"type": "custom", "expression": " "}]`, "no expression"},
		{"bad expression", `[{"type": "custom", "expression": "value >"}]`, "custom expression"},
		{"not a list", `{"type": "range"}`, "cannot unmarshal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rs Rules
			err := json.Unmarshal([]byte(tt.js), &rs)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Unmarshal error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestRules_UnmarshalYAML(t *testing.T) {
	var v struct {
		Value Rules `yaml:"value"`
	}
	doc := `
value:
  - type: range
    min: 0
    message: must not be negative
  - type: enum
    values: [a, b]
    caseSensitive: true
`
	if err := yaml.Unmarshal([]byte(doc), &v); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	if len(v.Value) != 2 {
		t.Fatalf("len(rules) = %d, want 2", len(v.Value))
	}
	r, ok := v.Value[0].(RangeRule)
	if !ok || r.Min == nil || *r.Min != 0 || r.Message != "must not be negative" {
		t.Errorf("rules[0] = %#v", v.Value[0])
	}
	if e, ok := v.Value[1].(EnumRule); !ok || !e.CaseSensitive {
		t.Errorf("rules[1] = %#v", v.Value[1])
	}

	if err := yaml.Unmarshal([]byte("value:\n  - type: nope\n"), &v); err == nil {
		t.Error("yaml.Unmarshal with unknown type succeeded")
	}
}

func TestRules_MarshalJSONRoundTrip(t *testing.T) {
	rs := decodeRules(t, `[{"type": "range", "max": 10, "message": "too big"}, {"type": "regex", "pattern": "^x"}]`)
	raw, err := json.Marshal(rs)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	again := decodeRules(t, string(raw))
	if len(again) != 2 || again[0].Kind() != KindRange || again[1].Kind() != KindRegex {
		t.Errorf("round trip = %s", raw)
	}
	if again[0].message() != "too big" {
		t.Errorf("message = %q, want too big", again[0].message())
	}
}

func TestEvaluateRule(t *testing.T) {
	rs := decodeRules(t, `[
		{"type": "range", "min": 0, "max": 100},
		{"type": "range", "min": 0, "message": "must not be negative"},
		{"type": "regex", "pattern": "^[A-Z]{2}$"},
		{"type": "enum", "values": ["Yes", "No"]},
		{"type": "enum", "values": ["Yes"], "caseSensitive": true},
		{"type": "custom", "expression": "value % 2 == 0", "message": "must be even"},
		{"type": "custom", "expression": "row.stateName == \"Alabama\" || row.value < 10"},
		{"type": "custom", "expression": "float(value) == float(int(value))", "message": "must be whole"}
	]`)
	rangeRule, minRule, regexRule, enumRule, strictEnum, evenRule, rowRule, wholeRule := rs[0], rs[1], rs[2], rs[3], rs[4], rs[5], rs[6], rs[7]

	tests := []struct {
		name    string
		rule    Rule
		in      RuleInput
		wantMsg string // empty means pass
	}{
		{"range pass", rangeRule, RuleInput{Field: "value", Value: 50.0}, ""},
		{"range fail", rangeRule, RuleInput{Field: "value", Value: 150.0}, "value 150 must be between 0 and 100"},
		{"range on text", rangeRule, RuleInput{Field: "value", Value: "abc"}, "value must be a number"},
		{"range numeric text", rangeRule, RuleInput{Field: "value", Value: "42"}, ""},
		{"range empty passes", rangeRule, RuleInput{Field: "value"}, ""},
		{"custom message", minRule, RuleInput{Field: "value", Value: -1.0}, "value: must not be negative"},
		{"regex pass", regexRule, RuleInput{Field: "code", Value: "AL"}, ""},
		{"regex fail", regexRule, RuleInput{Field: "code", Value: "Ala"}, `code "Ala" does not match pattern ^[A-Z]{2}$`},
		{"enum folded", enumRule, RuleInput{Field: "flag", Value: " yes "}, ""},
		{"enum fail", enumRule, RuleInput{Field: "flag", Value: "maybe"}, `flag "maybe" must be one of: Yes, No`},
		{"enum case sensitive", strictEnum, RuleInput{Field: "flag", Value: "yes"}, `flag "yes" must be one of: Yes`},
		{"custom pass", evenRule, RuleInput{Field: "year", Value: 2024}, ""},
		{"custom fail", evenRule, RuleInput{Field: "year", Value: 2023}, "year: must be even"},
		{"custom skips empty field", evenRule, RuleInput{Field: "year"}, ""},
		{"whole float", wholeRule, RuleInput{Field: "value", Value: 5.0}, ""},
		{"whole int", wholeRule, RuleInput{Field: "year", Value: 2023}, ""},
		{"fractional float", wholeRule, RuleInput{Field: "value", Value: 5.5}, "value: must be whole"},
		{"row rule pass", rowRule, RuleInput{Field: rowField, Row: map[string]any{"stateName": "Alabama", "value": 99.0}}, ""},
		{"row rule fail", rowRule, RuleInput{Field: rowField, Row: map[string]any{"stateName": "Alaska", "value": 99.0}}, `row failed custom rule: row.stateName == "Alabama" || row.value < 10`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := EvaluateRule(context.Background(), tt.rule, tt.in)
			if err != nil {
				t.Fatalf("EvaluateRule: %v", err)
			}
			if tt.wantMsg == "" {
				if v != nil {
					t.Errorf("violation = %+v, want pass", v)
				}
				return
			}
			if v == nil {
				t.Fatalf("EvaluateRule passed, want %q", tt.wantMsg)
			}
			if v.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", v.Message, tt.wantMsg)
			}
			if v.Field != tt.in.Field {
				t.Errorf("Field = %q, want %q", v.Field, tt.in.Field)
			}
		})
	}
}

func TestEvaluateRule_CustomNonBool(t *testing.T) {
	rs := decodeRules(t, `[{"type": "custom", "expression": "value + 1"}]`)
	_, err := EvaluateRule(context.Background(), rs[0], RuleInput{Field: "value", Value: 1.0})
	if err == nil || !strings.Contains(err.Error(), "want bool") {
		t.Errorf("EvaluateRule error = %v, want non-bool error", err)
	}
}
